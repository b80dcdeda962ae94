package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flowpbx/tenantpbx/internal/database/models"
)

// tenantRepo implements TenantRepository.
type tenantRepo struct {
	db *DB
}

// NewTenantRepository creates a new TenantRepository.
func NewTenantRepository(db *DB) TenantRepository {
	return &tenantRepo{db: db}
}

// GetByID returns a tenant by its slug, or nil if it does not exist.
func (r *tenantRepo) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	var t models.Tenant
	err := r.db.QueryRowContext(ctx,
		rebind(r.db.driver, `SELECT id, inbound_did, outbound_trunk FROM tenants WHERE id = ?`), id,
	).Scan(&t.ID, &t.InboundDID, &t.OutboundTrunk)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning tenant: %w", err)
	}
	return &t, nil
}

// List returns all tenants ordered by id.
func (r *tenantRepo) List(ctx context.Context) ([]models.Tenant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, inbound_did, outbound_trunk FROM tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying tenants: %w", err)
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.InboundDID, &t.OutboundTrunk); err != nil {
			return nil, fmt.Errorf("scanning tenant row: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// Count returns the number of tenants.
func (r *tenantRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tenants`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting tenants: %w", err)
	}
	return n, nil
}
