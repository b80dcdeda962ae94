package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flowpbx/tenantpbx/internal/database/models"
	"github.com/flowpbx/tenantpbx/internal/dialplan"
	"github.com/flowpbx/tenantpbx/internal/provision"
)

// tenantRequest is the JSON body for creating a tenant. The name,
// inbound_did and outbound_trunk keys are accepted as aliases so older
// provisioning scripts keep working.
type tenantRequest struct {
	ID            string `json:"id"`
	InboundNumber string `json:"inbound_number"`
	Trunk         string `json:"trunk"`

	Name          string `json:"name"`
	InboundDID    string `json:"inbound_did"`
	OutboundTrunk string `json:"outbound_trunk"`
}

func (r tenantRequest) toProvision() provision.TenantRequest {
	req := provision.TenantRequest{ID: r.ID, InboundNumber: r.InboundNumber, Trunk: r.Trunk}
	if req.ID == "" {
		req.ID = r.Name
	}
	if req.InboundNumber == "" {
		req.InboundNumber = r.InboundDID
	}
	if req.Trunk == "" {
		req.Trunk = r.OutboundTrunk
	}
	return req
}

// tenantResponse is the JSON representation of a tenant.
type tenantResponse struct {
	ID            string `json:"id"`
	InboundDID    string `json:"inbound_did"`
	OutboundTrunk string `json:"outbound_trunk"`
	ContextFile   string `json:"context_file"`
}

func toTenantResponse(t *models.Tenant) tenantResponse {
	return tenantResponse{
		ID:            t.ID,
		InboundDID:    t.InboundDID,
		OutboundTrunk: t.OutboundTrunk,
		ContextFile:   dialplan.FileName(t.ID),
	}
}

type createTenantResponse struct {
	Tenant        tenantResponse `json:"tenant"`
	FilePath      string         `json:"file_path"`
	ReloadWarning string         `json:"reload_warning,omitempty"`
}

// handleListTenants returns tenants with pagination.
func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	tenants, err := s.tenants.ListTenants(r.Context())
	if err != nil {
		writeProvisionError(w, s.logger, "list tenants", err)
		return
	}

	all := make([]tenantResponse, len(tenants))
	for i := range tenants {
		all[i] = toTenantResponse(&tenants[i])
	}
	writeJSON(w, http.StatusOK, page(all, pg))
}

// handleCreateTenant provisions a tenant. A failed reload still answers 201
// with reload_warning set; the tenant is persisted either way.
func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req tenantRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	res, err := s.tenants.CreateTenant(r.Context(), req.toProvision())
	if err != nil {
		writeProvisionError(w, s.logger, "create tenant", err)
		return
	}

	resp := createTenantResponse{
		Tenant:   toTenantResponse(&res.Tenant),
		FilePath: res.FilePath,
	}
	if res.ReloadWarning != nil {
		resp.ReloadWarning = res.ReloadWarning.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleGetTenant returns a single tenant by id.
func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := s.tenants.GetTenant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeProvisionError(w, s.logger, "get tenant", err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(t))
}

// handlePreviewDialplan renders a tenant's dialplan as plain text.
func (s *Server) handlePreviewDialplan(w http.ResponseWriter, r *http.Request) {
	body, err := s.tenants.PreviewDialplan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeProvisionError(w, s.logger, "preview dialplan", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Debug("preview dialplan: write failed", "error", err)
	}
}

// handleReload asks the routing engine to reload its dialplan.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.tenants.Reload(r.Context()); err != nil {
		s.logger.Error("manual reload failed", "error", err)
		writeError(w, http.StatusBadGateway, "reload failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
