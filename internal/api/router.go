package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/registry", s.handleRegistry)
		r.Get("/groups/{group}/silver", s.handleSilver)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, CodeNoRoute, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, CodeMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
	})

	return r
}
