package provisioning

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Service) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/local-wifi", s.handleLocalWiFi)
	r.Post("/provision", s.handleProvision)
	r.Get("/status", s.handleStatus)
	r.Get("/events", s.handleEvents)

	return r
}
