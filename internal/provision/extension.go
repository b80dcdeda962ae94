package provision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flowpbx/tenantpbx/internal/database"
	"github.com/flowpbx/tenantpbx/internal/database/models"
	"github.com/flowpbx/tenantpbx/internal/metrics"
)

// ExtensionRequest carries the inputs for a new extension. Username is
// also the extension id dialed by other endpoints of the tenant.
type ExtensionRequest struct {
	TenantID string
	Username string
	Password string
}

func (r ExtensionRequest) normalize() ExtensionRequest {
	return ExtensionRequest{
		TenantID: strings.TrimSpace(r.TenantID),
		Username: strings.TrimSpace(r.Username),
		Password: r.Password,
	}
}

func (r ExtensionRequest) validate() error {
	return collect(
		validateTenantID("tenant_id", r.TenantID),
		validateUsername("username", r.Username),
		validatePassword("password", r.Password),
	)
}

// ExtensionProvisioner creates PJSIP realtime extensions.
type ExtensionProvisioner struct {
	db        *database.DB
	tenants   database.TenantRepository
	endpoints database.EndpointRepository
	metrics   *metrics.Recorder
	logger    *slog.Logger
}

// NewExtensionProvisioner creates an ExtensionProvisioner.
func NewExtensionProvisioner(db *database.DB, rec *metrics.Recorder, logger *slog.Logger) *ExtensionProvisioner {
	return &ExtensionProvisioner{
		db:        db,
		tenants:   database.NewTenantRepository(db),
		endpoints: database.NewEndpointRepository(db),
		metrics:   rec,
		logger:    logger.With("component", "provision"),
	}
}

// newEndpoint returns the realtime rows for an extension with the fixed
// codec and NAT settings every tenant extension uses.
func newEndpoint(req ExtensionRequest) (models.Auth, models.AOR, models.Endpoint) {
	auth := models.Auth{
		ID:       req.Username,
		AuthType: "userpass",
		Username: req.Username,
		Password: req.Password,
	}
	aor := models.AOR{
		ID:             req.Username,
		MaxContacts:    1,
		RemoveExisting: "yes",
	}
	ep := models.Endpoint{
		ID:              req.Username,
		Transport:       "transport-udp",
		AORs:            req.Username,
		Auth:            req.Username,
		Context:         "outbound-" + req.TenantID,
		Disallow:        "all",
		Allow:           "alaw,ulaw",
		DirectMedia:     "no",
		ForceRport:      "no",
		RewriteContact:  "no",
		ICESupport:      "yes",
		MediaEncryption: "no",
		TenantID:        req.TenantID,
	}
	return auth, aor, ep
}

// CreateExtension inserts the auth, AOR and endpoint rows for an extension
// in one transaction. It returns ErrValidation, ErrTenantNotFound,
// ErrDuplicateExtension or a *StorageError.
func (p *ExtensionProvisioner) CreateExtension(ctx context.Context, req ExtensionRequest) (_ *models.Endpoint, err error) {
	defer func() { p.metrics.Provisioning(metrics.OpCreateExtension, outcomeOf(err)) }()

	req = req.normalize()
	if err := req.validate(); err != nil {
		return nil, err
	}

	auth, aor, ep := newEndpoint(req)

	tx, err := p.db.NewTx(ctx)
	if err != nil {
		return nil, storageErr("beginning transaction", err)
	}
	defer tx.Rollback()

	exists, err := tx.TenantExists(ctx, req.TenantID)
	if err != nil {
		return nil, storageErr("checking tenant", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, req.TenantID)
	}

	if err := tx.InsertAuth(ctx, &auth); err != nil {
		return nil, p.insertErr(err, req)
	}
	if err := tx.InsertAOR(ctx, &aor); err != nil {
		return nil, p.insertErr(err, req)
	}
	if err := tx.InsertEndpoint(ctx, &ep); err != nil {
		return nil, p.insertErr(err, req)
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("committing extension", err)
	}

	p.logger.Info("extension provisioned",
		"tenant_id", req.TenantID,
		"extension", ep.ID,
		"context", ep.Context,
	)
	return &ep, nil
}

// insertErr classifies a failed realtime insert.
func (p *ExtensionProvisioner) insertErr(err error, req ExtensionRequest) error {
	switch {
	case database.IsUniqueViolation(err):
		return fmt.Errorf("%w: %s", ErrDuplicateExtension, req.Username)
	case database.IsForeignKeyViolation(err):
		// The tenant was deleted after the existence check.
		return fmt.Errorf("%w: %s", ErrTenantNotFound, req.TenantID)
	default:
		return storageErr("inserting extension", err)
	}
}

// ListExtensions returns a tenant's endpoints, or ErrTenantNotFound.
func (p *ExtensionProvisioner) ListExtensions(ctx context.Context, tenantID string) ([]models.Endpoint, error) {
	t, err := p.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, storageErr("getting tenant", err)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	eps, err := p.endpoints.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, storageErr("listing extensions", err)
	}
	return eps, nil
}
