package api

import "github.com/go-chi/chi/v5"

// SetupRoutes registers the API routes.
func SetupRoutes(router chi.Router, handlers *Handlers) {
	router.Get("/", handlers.Root)

	router.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.Health)
		r.Post("/upload", handlers.Upload)
		r.Get("/profile/{id}", handlers.Profile)
		r.Post("/query", handlers.Query)
		r.Delete("/session/{id}", handlers.DeleteSession)
		r.Get("/session/{id}/history", handlers.History)
	})
}
