// Package callauth decides whether a calling extension may reach a dialed
// destination. Tenants are isolated: internal calls only succeed between
// endpoints of the same tenant, while any tenant may dial a valid external
// number. Store failures fail closed.
package callauth

import (
	"context"
	"log/slog"

	"github.com/flowpbx/tenantpbx/internal/phone"
)

// Classification is the category assigned to a call destination.
type Classification string

const (
	Internal Classification = "INTERNAL"
	External Classification = "EXTERNAL"
	Mismatch Classification = "MISMATCH"
	Invalid  Classification = "INVALID"
	Unknown  Classification = "UNKNOWN"
	Error    Classification = "ERROR"
)

// Decision is the outcome of one authorization.
type Decision struct {
	Allowed        bool
	Classification Classification
}

// TenantDirectory resolves which tenant owns an internal endpoint.
type TenantDirectory interface {
	TenantOf(ctx context.Context, endpointID string) (tenantID string, found bool, err error)
}

// Service implements the call authorization decision procedure.
type Service struct {
	directory  TenantDirectory
	isExternal func(string) bool
	logger     *slog.Logger
}

// NewService creates a Service backed by the given tenant directory.
func NewService(directory TenantDirectory, logger *slog.Logger) *Service {
	return &Service{
		directory:  directory,
		isExternal: phone.IsValidExternal,
		logger:     logger.With("component", "callauth"),
	}
}

// Authorize classifies a call from one extension to a destination. The
// first matching rule wins:
//
//   - destination is a known endpoint: allowed as INTERNAL when both sides
//     share a tenant, MISMATCH when they do not, UNKNOWN when the caller is
//     not a known endpoint;
//   - otherwise EXTERNAL when the destination is a valid phone number, else
//     INVALID.
//
// A directory failure yields a denied ERROR decision; Authorize never
// returns an error.
func (s *Service) Authorize(ctx context.Context, from, to string) Decision {
	toTenant, toFound, err := s.directory.TenantOf(ctx, to)
	if err != nil {
		return s.storeFailure(from, to, err)
	}

	if toFound {
		fromTenant, fromFound, err := s.directory.TenantOf(ctx, from)
		if err != nil {
			return s.storeFailure(from, to, err)
		}
		if !fromFound {
			return Decision{Allowed: false, Classification: Unknown}
		}
		if fromTenant == toTenant {
			return Decision{Allowed: true, Classification: Internal}
		}
		s.logger.Info("cross-tenant call denied",
			"from", from,
			"from_tenant", fromTenant,
			"to", to,
			"to_tenant", toTenant,
		)
		return Decision{Allowed: false, Classification: Mismatch}
	}

	if s.isExternal(to) {
		return Decision{Allowed: true, Classification: External}
	}
	return Decision{Allowed: false, Classification: Invalid}
}

func (s *Service) storeFailure(from, to string, err error) Decision {
	s.logger.Error("tenant directory lookup failed, denying call",
		"from", from,
		"to", to,
		"error", err,
	)
	return Decision{Allowed: false, Classification: Error}
}
