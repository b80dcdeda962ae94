package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flowpbx/tenantpbx/internal/database/models"
)

// endpointRepo implements EndpointRepository.
type endpointRepo struct {
	db *DB
}

// NewEndpointRepository creates a new EndpointRepository.
func NewEndpointRepository(db *DB) EndpointRepository {
	return &endpointRepo{db: db}
}

// TenantOf looks up the owning tenant of an endpoint. The query borrows one
// pooled connection and returns it before TenantOf returns.
func (r *endpointRepo) TenantOf(ctx context.Context, endpointID string) (string, bool, error) {
	var tenantID string
	err := r.db.QueryRowContext(ctx,
		rebind(r.db.driver, `SELECT tenantid FROM ps_endpoints WHERE id = ?`), endpointID,
	).Scan(&tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up endpoint tenant: %w", err)
	}
	return tenantID, true, nil
}

// ListByTenant returns all endpoints owned by a tenant ordered by id.
func (r *endpointRepo) ListByTenant(ctx context.Context, tenantID string) ([]models.Endpoint, error) {
	rows, err := r.db.QueryContext(ctx,
		rebind(r.db.driver,
			`SELECT id, COALESCE(transport, ''), COALESCE(aors, ''), COALESCE(auth, ''),
			 COALESCE(context, ''), COALESCE(disallow, ''), COALESCE(allow, ''),
			 COALESCE(direct_media, ''), COALESCE(force_rport, ''), COALESCE(rewrite_contact, ''),
			 COALESCE(ice_support, ''), COALESCE(media_encryption, ''), tenantid
			 FROM ps_endpoints WHERE tenantid = ? ORDER BY id`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying endpoints: %w", err)
	}
	defer rows.Close()

	var eps []models.Endpoint
	for rows.Next() {
		var e models.Endpoint
		if err := rows.Scan(&e.ID, &e.Transport, &e.AORs, &e.Auth, &e.Context,
			&e.Disallow, &e.Allow, &e.DirectMedia, &e.ForceRport, &e.RewriteContact,
			&e.ICESupport, &e.MediaEncryption, &e.TenantID); err != nil {
			return nil, fmt.Errorf("scanning endpoint row: %w", err)
		}
		eps = append(eps, e)
	}
	return eps, rows.Err()
}

// Count returns the number of endpoints across all tenants.
func (r *endpointRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ps_endpoints`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting endpoints: %w", err)
	}
	return n, nil
}
