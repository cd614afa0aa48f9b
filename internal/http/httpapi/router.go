package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// Options carries the cross-cutting settings the router needs beyond the
// handler set itself.
type Options struct {
	JWTSecret       string
	RateLimitPerMin int
	AllowedOrigins  []string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)
	if opts.RateLimitPerMin > 0 {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
	}

	// Health
	r.Get("/v1/healthz", app.Health)

	// Anonymous preview and artifact delivery.
	r.Post("/v1/preview", app.PreviewCreate)
	r.Get("/v1/artifacts", app.ArtifactServe)

	// Payment provider callback.
	r.Post("/v1/payments/webhook", app.PaymentsWebhook)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/{id}", app.JobStatus)

		// Download carries optional auth: previews are anonymous, paid jobs
		// are checked against the ledger inside the service.
		r.With(middleware.AuthOptional(opts.JWTSecret)).Get("/{id}/download", app.JobDownload)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthJWT(opts.JWTSecret))
			r.Post("/", app.JobsCreate)
		})
	})

	return r
}
