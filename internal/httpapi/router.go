// Package httpapi assembles the gateway's HTTP surface: middleware chain,
// routes, and handlers, the way the donor's router.NewRouter wires chi.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/gatewaydev/dispatchcore/internal/breaker"
	"github.com/gatewaydev/dispatchcore/internal/classify"
	"github.com/gatewaydev/dispatchcore/internal/config"
	"github.com/gatewaydev/dispatchcore/internal/dispatch"
	"github.com/gatewaydev/dispatchcore/internal/ledger"
	"github.com/gatewaydev/dispatchcore/internal/session"
)

// Deps bundles every collaborator the HTTP surface needs.
type Deps struct {
	Config     *config.Config
	Logger     zerolog.Logger
	Dispatcher *dispatch.Dispatcher
	Classifier *classify.Classifier
	Pool       *classify.Pool
	Sessions   *session.Store
	Ledger     ledger.Reader
	Breaker    *breaker.Breaker
	Targets    []string // tracked breaker target names, for /health
	Metrics    *Metrics
}

// NewRouter builds the fully assembled chi router: CORS, security headers,
// request-id, panic recovery, request logging, body-size limit, bearer
// auth, rate limiting, and per-route timeout wrap every authenticated
// route, following the donor router's middleware ordering.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(corsMiddleware([]string{"*"}))
	r.Use(securityHeaders)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(d.Logger))
	r.Use(maxBodySize(d.Config.MaxBodyBytes))

	r.Get("/health", NewHealthHandler(d.Breaker, d.Targets).ServeHTTP)
	if d.Metrics != nil {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	}

	limiter := newRateLimiter(600)
	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(d.Config.APIKeyHeader, d.Config.APIKey))
		r.Use(limiter.handler)
		r.Use(perRouteTimeout(d.Config.RequestTimeout))

		r.Post("/chat", NewChatHandler(d.Dispatcher, d.Sessions, d.Metrics, d.Logger).ServeHTTP)
		r.Post("/route", NewRouteHandler(d.Classifier, d.Pool).ServeHTTP)
		r.Get("/quotas/status", NewQuotaHandler(d.Ledger, d.Config, d.Logger).ServeHTTP)
	})

	return r
}
