package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. The health
// endpoints are registered here too so the route table lives in one place;
// the auth middleware exempts them.
func MountRoutes(r chi.Router, h *Handlers, ready func(r *http.Request) error) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "tenantd"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		if ready != nil {
			if err := ready(req); err != nil {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/admin/tenant", func(r chi.Router) {
		r.Get("/", h.ListTenants)
		r.Post("/", h.CreateTenant)
		r.Delete("/{site_name}", h.DeleteTenant)
	})
}
