package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowpbx/tenantpbx/internal/api/middleware"
	"github.com/flowpbx/tenantpbx/internal/callauth"
	"github.com/flowpbx/tenantpbx/internal/database"
	"github.com/flowpbx/tenantpbx/internal/database/models"
	"github.com/flowpbx/tenantpbx/internal/provision"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stack wires the real provisioning services over a temp sqlite database.
type stack struct {
	srv     *Server
	dir     string
	reloads int
}

func newStack(t *testing.T, secret []byte) *stack {
	t.Helper()
	db, err := database.Open(database.Options{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "tenantpbx.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := &stack{dir: t.TempDir()}
	wf := provision.NewWorkflow(db, provision.Options{
		Dir:    st.dir,
		AGIURL: "agi://localhost:4573",
		Reloader: provision.ReloadFunc(func(context.Context) error {
			st.reloads++
			return nil
		}),
		ReloadTimeout: time.Second,
	}, discardLogger())

	st.srv = NewServer(Options{
		Tenants:     wf,
		Extensions:  provision.NewExtensionProvisioner(db, nil, discardLogger()),
		Authorizer:  callauth.NewService(database.NewEndpointRepository(db), discardLogger()),
		DB:          db,
		AdminSecret: secret,
	}, discardLogger())
	t.Cleanup(st.srv.Close)
	return st
}

func (st *stack) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rr := httptest.NewRecorder()
	st.srv.ServeHTTP(rr, req)
	return rr
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env struct {
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Empty(t, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env.Error
}

func TestHealth(t *testing.T) {
	st := newStack(t, nil)
	rr := st.do(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestHealthDatabaseDown(t *testing.T) {
	srv := NewServer(Options{DB: pingerFunc(func(context.Context) error {
		return errors.New("connection refused")
	})}, discardLogger())
	defer srv.Close()

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestProvisioningFlow(t *testing.T) {
	st := newStack(t, nil)

	rr := st.do(t, http.MethodPost, "/api/v1/tenants",
		`{"id":"acme","inbound_number":"5551000","trunk":"acme-trunk"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created createTenantResponse
	decodeData(t, rr, &created)
	assert.Equal(t, "acme", created.Tenant.ID)
	assert.Equal(t, "extensions_acme.conf", created.Tenant.ContextFile)
	assert.Equal(t, filepath.Join(st.dir, "extensions_acme.conf"), created.FilePath)
	assert.Empty(t, created.ReloadWarning)
	assert.Equal(t, 1, st.reloads)

	for _, user := range []string{"1001", "1002"} {
		rr = st.do(t, http.MethodPost, "/api/v1/tenants/acme/extensions",
			`{"username":"`+user+`","password":"s3cret"}`)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}

	rr = st.do(t, http.MethodGet, "/api/v1/tenants/acme/extensions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Items []extensionResponse `json:"items"`
		Total int                 `json:"total"`
	}
	decodeData(t, rr, &list)
	require.Equal(t, 2, list.Total)
	assert.Equal(t, extensionResponse{
		ID:         "1001",
		Context:    "outbound-acme",
		Allow:      "alaw,ulaw",
		ICESupport: "yes",
	}, list.Items[0])
	assert.NotContains(t, rr.Body.String(), "s3cret")

	rr = st.do(t, http.MethodPost, "/api/v1/authorize", `{"from":"1001","to":"1002"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var d authorizeResponse
	decodeData(t, rr, &d)
	assert.Equal(t, authorizeResponse{Allowed: true, Classification: "INTERNAL"}, d)

	rr = st.do(t, http.MethodGet, "/api/v1/tenants/acme/dialplan", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "[outbound-acme]")

	rr = st.do(t, http.MethodGet, "/api/v1/tenants/acme", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got tenantResponse
	decodeData(t, rr, &got)
	assert.Equal(t, "5551000", got.InboundDID)
	assert.Equal(t, "acme-trunk", got.OutboundTrunk)
}

func TestCreateTenantLegacyFieldNames(t *testing.T) {
	st := newStack(t, nil)
	rr := st.do(t, http.MethodPost, "/api/v1/tenants",
		`{"name":"globex","inbound_did":"+442070313000","outbound_trunk":"globex-out"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created createTenantResponse
	decodeData(t, rr, &created)
	assert.Equal(t, "globex", created.Tenant.ID)
	assert.Equal(t, "+442070313000", created.Tenant.InboundDID)
}

func TestCreateTenantErrors(t *testing.T) {
	st := newStack(t, nil)
	body := `{"id":"acme","inbound_number":"5551000","trunk":"acme-trunk"}`
	require.Equal(t, http.StatusCreated, st.do(t, http.MethodPost, "/api/v1/tenants", body).Code)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"duplicate", body, http.StatusConflict},
		{"missing fields", `{"id":"beta"}`, http.StatusBadRequest},
		{"invalid id", `{"id":"../etc","inbound_number":"1","trunk":"t"}`, http.StatusBadRequest},
		{"unknown field", `{"id":"x","color":"red"}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := st.do(t, http.MethodPost, "/api/v1/tenants", tt.body)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			assert.NotEmpty(t, decodeError(t, rr))
		})
	}
}

func TestExtensionErrors(t *testing.T) {
	st := newStack(t, nil)
	require.Equal(t, http.StatusCreated, st.do(t, http.MethodPost, "/api/v1/tenants",
		`{"id":"acme","inbound_number":"5551000","trunk":"acme-trunk"}`).Code)
	require.Equal(t, http.StatusCreated, st.do(t, http.MethodPost, "/api/v1/tenants/acme/extensions",
		`{"username":"1001","password":"pw"}`).Code)

	rr := st.do(t, http.MethodPost, "/api/v1/tenants/ghost/extensions", `{"username":"2001","password":"pw"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = st.do(t, http.MethodPost, "/api/v1/tenants/acme/extensions", `{"username":"1001","password":"pw"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = st.do(t, http.MethodPost, "/api/v1/tenants/acme/extensions", `{"username":"1003"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = st.do(t, http.MethodGet, "/api/v1/tenants/ghost/extensions", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = st.do(t, http.MethodGet, "/api/v1/tenants/ghost", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListTenantsPagination(t *testing.T) {
	st := newStack(t, nil)
	for _, id := range []string{"a1", "b2", "c3"} {
		rr := st.do(t, http.MethodPost, "/api/v1/tenants",
			`{"id":"`+id+`","inbound_number":"5551000","trunk":"t"}`)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}

	rr := st.do(t, http.MethodGet, "/api/v1/tenants?limit=2&offset=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Items []tenantResponse `json:"items"`
		Total int              `json:"total"`
	}
	decodeData(t, rr, &list)
	assert.Equal(t, 3, list.Total)
	require.Len(t, list.Items, 2)
	assert.Equal(t, "b2", list.Items[0].ID)

	rr = st.do(t, http.MethodGet, "/api/v1/tenants?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAuthorizeRequiresBothNumbers(t *testing.T) {
	st := newStack(t, nil)
	rr := st.do(t, http.MethodPost, "/api/v1/authorize", `{"from":"1001","to":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminAuth(t *testing.T) {
	secret := []byte(strings.Repeat("s", 32))
	st := newStack(t, secret)

	rr := st.do(t, http.MethodGet, "/api/v1/tenants", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = st.do(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rr.Code, "health stays public")

	token, _, err := middleware.GenerateAdminToken(secret, "ops", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/tenants", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	st.srv.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestReloadEndpoint(t *testing.T) {
	fake := &fakeTenants{reloadErr: errors.New("asterisk not running")}
	srv := NewServer(Options{Tenants: fake}, discardLogger())
	defer srv.Close()

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/reload", nil))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, decodeError(t, rr), "asterisk not running")

	fake.reloadErr = nil
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/reload", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, fake.reloads)
}

func TestCreateTenantReloadWarning(t *testing.T) {
	fake := &fakeTenants{result: &provision.TenantResult{
		Tenant:        models.Tenant{ID: "acme", InboundDID: "5551000", OutboundTrunk: "t"},
		FilePath:      "/tmp/extensions_acme.conf",
		ReloadWarning: errors.New("reload timed out"),
	}}
	srv := NewServer(Options{Tenants: fake}, discardLogger())
	defer srv.Close()

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/tenants",
		strings.NewReader(`{"id":"acme","inbound_number":"5551000","trunk":"t"}`)))
	require.Equal(t, http.StatusCreated, rr.Code)

	var created createTenantResponse
	decodeData(t, rr, &created)
	assert.Equal(t, "reload timed out", created.ReloadWarning)
}

func TestStorageErrorHidesDetail(t *testing.T) {
	fake := &fakeTenants{listErr: &provision.StorageError{Op: "listing tenants", Err: errors.New("disk I/O error")}}
	srv := NewServer(Options{Tenants: fake}, discardLogger())
	defer srv.Close()

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/tenants", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal error", decodeError(t, rr))
}

func TestMetricsMounted(t *testing.T) {
	srv := NewServer(Options{
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("tenantpbx_tenants 0\n"))
		}),
		AdminSecret: []byte(strings.Repeat("s", 32)),
	}, discardLogger())
	defer srv.Close()

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "tenantpbx_tenants")
}

func TestNotFoundUsesEnvelope(t *testing.T) {
	srv := NewServer(Options{}, discardLogger())
	defer srv.Close()

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not found", decodeError(t, rr))
}

type pingerFunc func(context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error { return f(ctx) }

type fakeTenants struct {
	result    *provision.TenantResult
	listErr   error
	reloadErr error
	reloads   int
}

func (f *fakeTenants) CreateTenant(context.Context, provision.TenantRequest) (*provision.TenantResult, error) {
	return f.result, nil
}

func (f *fakeTenants) ListTenants(context.Context) ([]models.Tenant, error) {
	return nil, f.listErr
}

func (f *fakeTenants) GetTenant(_ context.Context, id string) (*models.Tenant, error) {
	return nil, provision.ErrTenantNotFound
}

func (f *fakeTenants) PreviewDialplan(context.Context, string) ([]byte, error) {
	return nil, provision.ErrTenantNotFound
}

func (f *fakeTenants) Reload(context.Context) error {
	f.reloads++
	return f.reloadErr
}
