package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/orgdash/dashboard-worker/internal/domain/user"
	"github.com/orgdash/dashboard-worker/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router.
// Authentication is applied by the caller; admin routes additionally
// require the admin role.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	r.Get("/health/ready", h.Ready)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/dashboard", h.GetDashboard)
		r.Get("/projects", h.ListProjects)
		r.Get("/employers", h.ListEmployers)
		r.Get("/patches/{id}/projects", h.ListPatchProjects)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(user.RoleAdmin))
			r.Get("/refresh", h.ListRefreshActions)
			r.Post("/refresh/{name}", h.TriggerRefresh)
			r.Get("/cache", h.CacheStats)
		})
	})
}
