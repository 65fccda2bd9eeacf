// SPDX-License-Identifier: MIT

package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ManuGH/rbxjoin/internal/health"
	xglog "github.com/ManuGH/rbxjoin/internal/log"
)

// OpsConfig wires the ops endpoints.
type OpsConfig struct {
	Health *health.Manager
	// Status returns a JSON-serialisable snapshot of the session.
	Status func() any
	// RequestLimit per client IP per minute; zero means 120.
	RequestLimit int
}

// NewOpsHandler builds the ops router: /healthz, /readyz, /metrics and /status.
func NewOpsHandler(cfg OpsConfig) http.Handler {
	limit := cfg.RequestLimit
	if limit <= 0 {
		limit = 120
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(httprate.Limit(
		limit,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Minute.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
		}),
	))

	r.Get("/healthz", cfg.Health.ServeHealth)
	r.Get("/readyz", cfg.Health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/status", statusHandler(cfg.Status))

	return otelhttp.NewHandler(r, "rbxjoin-ops",
		otelhttp.WithFilter(func(req *http.Request) bool {
			switch req.URL.Path {
			case "/healthz", "/readyz", "/metrics":
				return false
			}
			return true
		}),
	)
}

func statusHandler(status func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if status == nil {
			http.Error(w, "status not available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if err := json.NewEncoder(w).Encode(status()); err != nil {
			logger := xglog.WithComponentFromContext(r.Context(), "ops")
			logger.Error().Err(err).Msg("failed to encode status")
		}
	}
}
