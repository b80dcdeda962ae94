package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flowpbx/tenantpbx/internal/database/models"
)

// Tx is a provisioning transaction. It pins one pooled connection until
// Commit or Rollback; callers must defer Rollback immediately after NewTx so
// the connection is released on every exit path.
type Tx struct {
	*sql.Tx
	driver string
}

// NewTx begins a provisioning transaction.
func (db *DB) NewTx(ctx context.Context) (*Tx, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &Tx{Tx: tx, driver: db.driver}, nil
}

// Rollback aborts the transaction. Rolling back an already committed or
// rolled back transaction is a no-op.
func (tx *Tx) Rollback() error {
	if err := tx.Tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}

// InsertTenant inserts a tenant row. A duplicate id surfaces as an error
// for which IsUniqueViolation reports true.
func (tx *Tx) InsertTenant(ctx context.Context, t *models.Tenant) error {
	_, err := tx.ExecContext(ctx,
		rebind(tx.driver, `INSERT INTO tenants (id, inbound_did, outbound_trunk) VALUES (?, ?, ?)`),
		t.ID, t.InboundDID, t.OutboundTrunk,
	)
	if err != nil {
		return fmt.Errorf("inserting tenant: %w", err)
	}
	return nil
}

// TenantExists reports whether a tenant row is visible to the transaction.
func (tx *Tx) TenantExists(ctx context.Context, id string) (bool, error) {
	var got string
	err := tx.QueryRowContext(ctx,
		rebind(tx.driver, `SELECT id FROM tenants WHERE id = ?`), id,
	).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking tenant: %w", err)
	}
	return true, nil
}

// InsertAuth inserts a ps_auths credential row.
func (tx *Tx) InsertAuth(ctx context.Context, a *models.Auth) error {
	_, err := tx.ExecContext(ctx,
		rebind(tx.driver, `INSERT INTO ps_auths (id, auth_type, username, password) VALUES (?, ?, ?, ?)`),
		a.ID, a.AuthType, a.Username, a.Password,
	)
	if err != nil {
		return fmt.Errorf("inserting auth: %w", err)
	}
	return nil
}

// InsertAOR inserts a ps_aors address-of-record row.
func (tx *Tx) InsertAOR(ctx context.Context, a *models.AOR) error {
	_, err := tx.ExecContext(ctx,
		rebind(tx.driver, `INSERT INTO ps_aors (id, max_contacts, remove_existing) VALUES (?, ?, ?)`),
		a.ID, a.MaxContacts, a.RemoveExisting,
	)
	if err != nil {
		return fmt.Errorf("inserting aor: %w", err)
	}
	return nil
}

// InsertEndpoint inserts a ps_endpoints row.
func (tx *Tx) InsertEndpoint(ctx context.Context, e *models.Endpoint) error {
	_, err := tx.ExecContext(ctx,
		rebind(tx.driver,
			`INSERT INTO ps_endpoints (id, transport, aors, auth, context, disallow, allow,
			 direct_media, force_rport, rewrite_contact, ice_support, media_encryption, tenantid)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.Transport, e.AORs, e.Auth, e.Context, e.Disallow, e.Allow,
		e.DirectMedia, e.ForceRport, e.RewriteContact, e.ICESupport, e.MediaEncryption, e.TenantID,
	)
	if err != nil {
		return fmt.Errorf("inserting endpoint: %w", err)
	}
	return nil
}
