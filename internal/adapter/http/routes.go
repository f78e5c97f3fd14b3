package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drawbridge-sh/drawbridge/internal/adapter/ws"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, hub *ws.Hub) {
	r.Get("/health", h.Health)
	r.Get("/ws", hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Tenants
		r.Post("/tenants", h.CreateTenant)
		r.Get("/tenants/{id}", h.GetTenant)
		r.Post("/tenants/{id}/pause", h.SetTenantPause)

		// Actions
		r.Post("/actions", h.CreateAction)
		r.Get("/actions", h.ListActions)
		r.Get("/actions/{id}", h.GetAction)
		r.Post("/actions/{id}/execute", h.ExecuteAction)

		// Authorization requests
		r.Get("/approvals", h.ListApprovals)
		r.Get("/approvals/{id}", h.GetApproval)
		r.Post("/approvals/{id}/decision", h.DecideApproval)
		r.Post("/approvals/{id}/escalate", h.EscalateApproval)

		// Circuit breakers
		r.Get("/breakers/{service}", h.BreakerStatus)

		// Idempotency admin
		r.Delete("/idempotency/{key}", h.InvalidateIdempotencyKey)
	})
}
