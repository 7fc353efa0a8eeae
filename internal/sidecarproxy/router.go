package sidecarproxy

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the sidecar's HTTP surface: unauthenticated /healthz and
// /metrics, and a fallback route running the full enforcement pipeline for
// every other path and method.
func NewRouter(s *State) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthzHandler(s))
	r.Get("/metrics", s.Metrics.Handler())

	fallback := AuthMiddleware(s)(Handler(s))
	fallback = TimeoutMiddleware(s)(fallback)

	r.NotFound(fallback.ServeHTTP)
	r.MethodNotAllowed(fallback.ServeHTTP)
	r.Handle("/*", fallback)

	return r
}

// healthzHandler is a liveness check only: it always returns HTTP 200, with
// a body reflecting whether the cache store is reachable.
func healthzHandler(s *State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		redisOK := s.Store.Ping(ctx) == nil
		status := "ok"
		if !redisOK {
			status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  status,
			"redis":   redisOK,
			"service": "infrapass-sidecar",
		})
	}
}
