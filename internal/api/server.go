// Package api implements the administrative HTTP surface: tenant and
// extension provisioning, dialplan preview, manual reload and the call
// authorization probe.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/flowpbx/tenantpbx/internal/api/middleware"
	"github.com/flowpbx/tenantpbx/internal/callauth"
	"github.com/flowpbx/tenantpbx/internal/database/models"
	"github.com/flowpbx/tenantpbx/internal/provision"
)

// TenantService provisions and looks up tenants.
type TenantService interface {
	CreateTenant(ctx context.Context, req provision.TenantRequest) (*provision.TenantResult, error)
	ListTenants(ctx context.Context) ([]models.Tenant, error)
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	PreviewDialplan(ctx context.Context, id string) ([]byte, error)
	Reload(ctx context.Context) error
}

// ExtensionService provisions and lists a tenant's extensions.
type ExtensionService interface {
	CreateExtension(ctx context.Context, req provision.ExtensionRequest) (*models.Endpoint, error)
	ListExtensions(ctx context.Context, tenantID string) ([]models.Endpoint, error)
}

// Authorizer runs the call authorization decision.
type Authorizer interface {
	Authorize(ctx context.Context, from, to string) callauth.Decision
}

// Pinger reports backing store reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options holds the dependencies of the HTTP server.
type Options struct {
	Tenants    TenantService
	Extensions ExtensionService
	Authorizer Authorizer
	DB         Pinger
	// Metrics, when set, is mounted at /metrics outside of admin auth.
	Metrics http.Handler
	// AdminSecret enables JWT bearer auth on the admin routes. Empty
	// disables it.
	AdminSecret []byte
	RateLimit   middleware.RateLimitConfig
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router     *chi.Mux
	tenants    TenantService
	extensions ExtensionService
	authorizer Authorizer
	db         Pinger
	metrics    http.Handler
	secret     []byte
	limiter    *middleware.IPRateLimiter
	logger     *slog.Logger
}

// NewServer creates the HTTP handler with all routes mounted. Call Close to
// stop the rate limiter's background cleanup.
func NewServer(opts Options, logger *slog.Logger) *Server {
	rl := opts.RateLimit
	if rl.Rate == 0 {
		rl = middleware.DefaultRateLimitConfig()
	}

	s := &Server{
		router:     chi.NewRouter(),
		tenants:    opts.Tenants,
		extensions: opts.Extensions,
		authorizer: opts.Authorizer,
		db:         opts.DB,
		metrics:    opts.Metrics,
		secret:     opts.AdminSecret,
		logger:     logger.With("component", "api"),
	}
	s.limiter = middleware.NewIPRateLimiter(rl, s.logger)

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases background resources.
func (s *Server) Close() {
	s.limiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(s.logger))
	r.Use(middleware.Recoverer(s.logger))
	r.Use(middleware.APIHeaders)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.limiter))

		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if len(s.secret) > 0 {
				r.Use(middleware.RequireAdminAuth(s.secret, s.logger))
			}

			r.Route("/tenants", func(r chi.Router) {
				r.Get("/", s.handleListTenants)
				r.Post("/", s.handleCreateTenant)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetTenant)
					r.Get("/dialplan", s.handlePreviewDialplan)
					r.Get("/extensions", s.handleListExtensions)
					r.Post("/extensions", s.handleCreateExtension)
				})
			})

			r.Post("/authorize", s.handleAuthorize)
			r.Post("/reload", s.handleReload)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.logger.Info("api routes mounted", "admin_auth", len(s.secret) > 0)
}

// handleHealth pings the backing store. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			s.logger.Error("health: database unreachable", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
