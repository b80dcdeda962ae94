package callauth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowpbx/tenantpbx/internal/database"
	"github.com/flowpbx/tenantpbx/internal/database/models"
)

// mockDirectory implements TenantDirectory over an in-memory map and can be
// told to fail lookups for specific endpoint ids.
type mockDirectory struct {
	owners  map[string]string
	failOn  map[string]error
	lookups []string
}

func (m *mockDirectory) TenantOf(_ context.Context, id string) (string, bool, error) {
	m.lookups = append(m.lookups, id)
	if err, ok := m.failOn[id]; ok {
		return "", false, err
	}
	tenant, ok := m.owners[id]
	return tenant, ok, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDirectory() *mockDirectory {
	return &mockDirectory{
		owners: map[string]string{
			"100": "acme",
			"200": "acme",
			"300": "other",
		},
		failOn: map[string]error{},
	}
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name string
		from string
		to   string
		want Decision
	}{
		{"same tenant", "100", "200", Decision{true, Internal}},
		{"different tenant", "100", "300", Decision{false, Mismatch}},
		{"unknown caller to known endpoint", "999", "200", Decision{false, Unknown}},
		{"external number", "100", "+16502530000", Decision{true, External}},
		{"external number without plus", "300", "16502530000", Decision{true, External}},
		{"garbage destination", "100", "notanumber", Decision{false, Invalid}},
		{"unknown caller to external", "999", "+16502530000", Decision{true, External}},
		{"unknown short destination", "100", "555", Decision{false, Invalid}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(newDirectory(), discardLogger())
			assert.Equal(t, tt.want, svc.Authorize(context.Background(), tt.from, tt.to))
		})
	}
}

func TestAuthorizeChecksDestinationFirst(t *testing.T) {
	dir := newDirectory()
	svc := NewService(dir, discardLogger())

	svc.Authorize(context.Background(), "100", "+16502530000")
	assert.Equal(t, []string{"+16502530000"}, dir.lookups, "caller must not be looked up for external destinations")

	dir.lookups = nil
	svc.Authorize(context.Background(), "100", "200")
	assert.Equal(t, []string{"200", "100"}, dir.lookups)
}

func TestAuthorizeFailsClosed(t *testing.T) {
	storeErr := errors.New("connection refused")

	t.Run("destination lookup fails", func(t *testing.T) {
		dir := newDirectory()
		dir.failOn["200"] = storeErr
		svc := NewService(dir, discardLogger())
		assert.Equal(t, Decision{false, Error}, svc.Authorize(context.Background(), "100", "200"))
	})

	t.Run("caller lookup fails", func(t *testing.T) {
		dir := newDirectory()
		dir.failOn["100"] = storeErr
		svc := NewService(dir, discardLogger())
		assert.Equal(t, Decision{false, Error}, svc.Authorize(context.Background(), "100", "200"))
	})

	t.Run("external number is not reached on failure", func(t *testing.T) {
		dir := newDirectory()
		dir.failOn["+16502530000"] = storeErr
		svc := NewService(dir, discardLogger())
		assert.Equal(t, Decision{false, Error}, svc.Authorize(context.Background(), "100", "+16502530000"))
	})
}

func TestAuthorizeAgainstStore(t *testing.T) {
	db, err := database.Open(database.Options{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "tenantpbx.db"),
	})
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	tx, err := db.NewTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertTenant(ctx, &models.Tenant{ID: "acme", InboundDID: "5551000", OutboundTrunk: "acme-trunk"}))
	require.NoError(t, tx.InsertTenant(ctx, &models.Tenant{ID: "other", InboundDID: "5552000", OutboundTrunk: "other-trunk"}))
	for id, tenant := range map[string]string{"100": "acme", "200": "acme", "300": "other"} {
		require.NoError(t, tx.InsertEndpoint(ctx, &models.Endpoint{ID: id, TenantID: tenant}))
	}
	require.NoError(t, tx.Commit())

	svc := NewService(database.NewEndpointRepository(db), discardLogger())

	assert.Equal(t, Decision{true, Internal}, svc.Authorize(ctx, "100", "200"))
	assert.Equal(t, Decision{false, Mismatch}, svc.Authorize(ctx, "100", "300"))
	assert.Equal(t, Decision{true, External}, svc.Authorize(ctx, "100", "+16502530000"))
	assert.Equal(t, Decision{false, Invalid}, svc.Authorize(ctx, "100", "notanumber"))
	assert.Equal(t, Decision{false, Unknown}, svc.Authorize(ctx, "400", "200"))

	db.Close()
	assert.Equal(t, Decision{false, Error}, svc.Authorize(ctx, "100", "200"))
}
