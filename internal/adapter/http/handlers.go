package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mystra-io/tenantd/internal/domain/tenant"
	"github.com/mystra-io/tenantd/internal/service"
)

// Handlers bundles the services the HTTP layer dispatches to.
type Handlers struct {
	Tenants *service.TenantService
}

func NewHandlers(tenants *service.TenantService) *Handlers {
	return &Handlers{Tenants: tenants}
}

type listTenantsResponse struct {
	OK      bool     `json:"ok"`
	Tenants []string `json:"tenants"`
	Count   int      `json:"count"`
}

// ListTenants handles GET /admin/tenant.
func (h *Handlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.Tenants.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, listTenantsResponse{OK: true, Tenants: tenants, Count: len(tenants)})
}

type createTenantResponse struct {
	OK              bool                `json:"ok"`
	SiteName        string              `json:"site_name"`
	Port            int                 `json:"port"`
	FrontendCreated bool                `json:"frontend_created"`
	FrontendRef     string              `json:"frontend_ref,omitempty"`
	Credentials     *tenant.Credentials `json:"credentials"`
	Warning         string              `json:"warning,omitempty"`
}

// CreateTenant handles POST /admin/tenant.
func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[tenant.CreateRequest](w, r)
	if !ok {
		return
	}
	req.SiteName = strings.TrimSpace(req.SiteName)

	res, err := h.Tenants.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createTenantResponse{
		OK:              true,
		SiteName:        res.SiteName,
		Port:            res.Port,
		FrontendCreated: res.FrontendCreated,
		FrontendRef:     res.FrontendRef,
		Credentials:     res.Credentials,
		Warning:         res.Warning,
	})
}

type deleteTenantResponse struct {
	OK              bool   `json:"ok"`
	SiteName        string `json:"site_name"`
	Message         string `json:"message"`
	FrontendRemoved bool   `json:"frontend_removed"`
}

// DeleteTenant handles DELETE /admin/tenant/{site_name}. The no_backup and
// remove_frontend query flags default to true; only an explicit "false"
// disables them.
func (h *Handlers) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	siteName := chi.URLParam(r, "site_name")
	if siteName == "" {
		writeError(w, http.StatusBadRequest, "site_name required")
		return
	}

	opts := tenant.DeleteOptions{
		NoBackup:       boolFlag(r, "no_backup"),
		RemoveFrontend: boolFlag(r, "remove_frontend"),
	}

	res, err := h.Tenants.Delete(r.Context(), siteName, opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteTenantResponse{
		OK:              true,
		SiteName:        res.SiteName,
		Message:         res.Message,
		FrontendRemoved: res.FrontendRemoved,
	})
}

// boolFlag reads a default-true query flag.
func boolFlag(r *http.Request, name string) bool {
	return !strings.EqualFold(r.URL.Query().Get(name), "false")
}
