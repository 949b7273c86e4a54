package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates the router: the admin surface under /_tether plus a
// catch-all that hands every other request to the caching worker.
func NewRouter(h *Handler, events http.Handler, metrics http.Handler, worker http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Route("/_tether", func(r chi.Router) {
		// Public routes (no auth required)
		r.Get("/healthz", h.Health)
		r.Get("/metrics", metrics.ServeHTTP)
		r.Get("/events", events.ServeHTTP)

		// Protected routes (auth required when an API key is configured)
		r.Group(func(r chi.Router) {
			if h.apiKey != "" {
				r.Use(AuthMiddleware(h.apiKey))
			}
			r.Get("/diagnostics", h.Diagnostics)
			r.Post("/queue/{recordType}", h.Enqueue)
			r.Post("/sync", h.TriggerSync)
			r.Post("/push", h.Push)
			r.Post("/sync-event", h.SyncEvent)
			r.Get("/update", h.UpdateStatus)
			r.Post("/update/activate", h.ActivateUpdate)
			r.Post("/install/prompt", h.PromptInstall)
			r.Post("/install/dismiss", h.DismissInstall)
		})
	})

	// Everything else belongs to the app origin and goes through the worker.
	r.Handle("/*", worker)

	return r
}
