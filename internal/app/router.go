// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fieldops/surveypipe/internal/adapter/httpserver"
	"github.com/fieldops/surveypipe/internal/adapter/observability"
	"github.com/fieldops/surveypipe/internal/config"
)

// corsOrigins returns cfg's configured CORS origins, defaulting to "*" when
// unset.
func corsOrigins(cfg config.Config) []string {
	if len(cfg.CORSAllowOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowOrigins
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server, tokens *httpserver.PrincipalTokenManager) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(cfg.RequestTimeout))
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(cfg),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	// Telephony vendors call this directly; it is not behind principal auth.
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Get("/cati/webhook", srv.CATIWebhookHandler())
		wr.Post("/cati/webhook", srv.CATIWebhookHandler())
	})

	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Use(httpserver.RequirePrincipal(tokens))

		wr.Post("/sessions/{surveyId}/start", srv.StartSessionHandler())
		wr.Get("/sessions/{sessionId}", srv.GetSessionHandler())
		wr.Put("/sessions/{sessionId}/responses", srv.UpdateResponseHandler())
		wr.Put("/sessions/{sessionId}/navigate", srv.NavigateHandler())
		wr.Put("/sessions/{sessionId}/reach", srv.ReachHandler())
		wr.Put("/sessions/{sessionId}/pause", srv.PauseHandler())
		wr.Put("/sessions/{sessionId}/resume", srv.ResumeHandler())
		wr.Put("/sessions/{sessionId}/abandon", srv.AbandonHandler())
		wr.Post("/sessions/{sessionId}/complete", srv.CompleteHandler())

		wr.Post("/audio/upload", srv.AudioUploadHandler())
		wr.Get("/responses/{id}/audio-signed-url", srv.AudioSignedURLHandler())

		wr.Get("/reviews/next", srv.NextReviewHandler())
		wr.Post("/reviews/{responseId}/release", srv.ReleaseReviewHandler())
		wr.Post("/reviews/submit", srv.SubmitVerificationHandler())
	})

	return httpserver.SecurityHeaders(r)
}
