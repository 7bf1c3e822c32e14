package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// NewRouter assembles the public HTTP surface. Everything except the
// health check sits behind JWT auth so handlers can scope reads to the
// authenticated owner.
func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(app.Logger))
	r.Use(middleware.CORS(app.Config.AllowedOrigins))

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(app.Config.JWTSecret))
		r.Use(middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute))

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Post("/", app.JobsCreate)
			r.Get("/{id}", app.JobsGet)
		})

		r.Route("/v1/batches", func(r chi.Router) {
			r.Post("/", app.BatchesCreate)
			r.Get("/{id}", app.BatchesGet)
			r.Post("/{id}/stop", app.BatchesStop)
			r.Get("/{id}/artifact", app.BatchesArtifact)
		})

		r.Get("/v1/ws", app.Hub.ServeHTTP)
	})

	return r
}
