package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/flowpbx/tenantpbx/internal/database/models"
	"github.com/flowpbx/tenantpbx/internal/provision"
)

type extensionRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// extensionResponse never includes credentials.
type extensionResponse struct {
	ID         string `json:"id"`
	Context    string `json:"context"`
	Allow      string `json:"allow"`
	ICESupport string `json:"ice_support"`
}

func toExtensionResponse(e *models.Endpoint) extensionResponse {
	return extensionResponse{
		ID:         e.ID,
		Context:    e.Context,
		Allow:      e.Allow,
		ICESupport: e.ICESupport,
	}
}

// handleListExtensions returns a tenant's extensions with pagination.
func (s *Server) handleListExtensions(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	eps, err := s.extensions.ListExtensions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeProvisionError(w, s.logger, "list extensions", err)
		return
	}

	all := make([]extensionResponse, len(eps))
	for i := range eps {
		all[i] = toExtensionResponse(&eps[i])
	}
	writeJSON(w, http.StatusOK, page(all, pg))
}

// handleCreateExtension provisions an extension for the tenant in the path.
func (s *Server) handleCreateExtension(w http.ResponseWriter, r *http.Request) {
	var req extensionRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	ep, err := s.extensions.CreateExtension(r.Context(), provision.ExtensionRequest{
		TenantID: chi.URLParam(r, "id"),
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		writeProvisionError(w, s.logger, "create extension", err)
		return
	}
	writeJSON(w, http.StatusCreated, toExtensionResponse(ep))
}

type authorizeRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type authorizeResponse struct {
	Allowed        bool   `json:"allowed"`
	Classification string `json:"classification"`
}

// handleAuthorize runs the same decision the AGI path does, without a
// call. Blank inputs are a client error rather than a denial.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if strings.TrimSpace(req.From) == "" || strings.TrimSpace(req.To) == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	d := s.authorizer.Authorize(r.Context(), strings.TrimSpace(req.From), strings.TrimSpace(req.To))
	writeJSON(w, http.StatusOK, authorizeResponse{
		Allowed:        d.Allowed,
		Classification: string(d.Classification),
	})
}
