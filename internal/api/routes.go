package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured. The
// surface is loopback-only; the UI process is the only caller.
func NewRouter(h *Handler, reporter PanicReporter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware(reporter))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/status", h.Status)
		r.Get("/live", h.Live)

		r.Post("/actions", h.DispatchAction)

		r.Get("/queue", h.ListQueue)
		r.Delete("/queue", h.ClearQueue)
		r.Post("/queue/drain", h.DrainQueue)
	})

	return r
}
