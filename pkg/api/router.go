// Package api exposes the node's management REST API: health probes and
// the service inventory.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/supernifty/cloudman/internal/logger"
	"github.com/supernifty/cloudman/pkg/api/handlers"
	"github.com/supernifty/cloudman/pkg/service"
)

// NewRouter creates the chi router with all middleware and routes.
//
// Routes:
//   - GET /health - liveness probe
//   - GET /health/ready - readiness probe (all services Running)
//   - GET /services - service inventory
//   - GET /services/{name} - one service's detail
//   - POST /services/{name}/retry - re-enter the lifecycle from Error
func NewRouter(registry *service.Registry, requestTimeout time.Duration) http.Handler {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	healthHandler := handlers.NewHealthHandler(registry)
	servicesHandler := handlers.NewServicesHandler(registry)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Route("/services", func(r chi.Router) {
		r.Get("/", servicesHandler.List)
		r.Get("/{name}", servicesHandler.Get)
		r.Post("/{name}/retry", servicesHandler.Retry)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs request start at DEBUG and completion at INFO.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
