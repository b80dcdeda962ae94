package database

import (
	"context"

	"github.com/flowpbx/tenantpbx/internal/database/models"
)

// TenantRepository reads tenants. Tenants are only ever created inside a
// provisioning transaction (see Tx.InsertTenant).
type TenantRepository interface {
	GetByID(ctx context.Context, id string) (*models.Tenant, error)
	List(ctx context.Context) ([]models.Tenant, error)
	Count(ctx context.Context) (int64, error)
}

// EndpointRepository reads realtime PJSIP endpoints. It is also the tenant
// directory consulted on every call authorization.
type EndpointRepository interface {
	// TenantOf returns the tenant owning the endpoint. found is false when
	// no such endpoint exists; err is only set on store failures.
	TenantOf(ctx context.Context, endpointID string) (tenantID string, found bool, err error)
	ListByTenant(ctx context.Context, tenantID string) ([]models.Endpoint, error)
	Count(ctx context.Context) (int64, error)
}
