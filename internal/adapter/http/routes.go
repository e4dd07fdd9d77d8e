package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Contexts
		r.Get("/contexts", h.ListContexts)
		r.Post("/contexts", h.CreateContext)
		r.Get("/contexts/{id}", h.GetContext)
		r.Delete("/contexts/{id}", h.DeleteContext)

		// Turn control
		r.Post("/contexts/{id}/input", h.SendInput)
		r.Post("/contexts/{id}/cancel", h.CancelTurn)
		r.Post("/contexts/{id}/approvals", h.ResolveApproval)

		// Content retrieval (pull side of the sync protocol)
		r.Post("/contexts/{id}/messages/batch", h.BatchMessages)
		r.Get("/contexts/{id}/messages/{message_id}/fragments", h.Fragments)
		r.Get("/contexts/{id}/history", h.History)

		// Branches
		r.Post("/contexts/{id}/branches", h.CreateBranch)
		r.Post("/contexts/{id}/branches/switch", h.SwitchBranch)
	})
}
