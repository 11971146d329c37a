package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Sternrassler/bgg-sync/pkg/logging"
	"github.com/Sternrassler/bgg-sync/pkg/metrics"
	"github.com/Sternrassler/bgg-sync/pkg/ratelimit"
)

// healthResponse is the body of /health.
type healthResponse struct {
	Status        string     `json:"status"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	Throttles     int64      `json:"throttles"`
}

func healthHandler(tracker *ratelimit.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := tracker.GetState(r.Context())
		if err != nil {
			http.Error(w, "rate limit state unavailable: "+err.Error(), http.StatusServiceUnavailable)
			return
		}

		resp := healthResponse{Status: "ok", Throttles: state.Throttles}
		if state.InCooldown(time.Now()) {
			resp.Status = "cooling_down"
			until := state.CooldownUntil
			resp.CooldownUntil = &until
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func newMux(tracker *ratelimit.Tracker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", healthHandler(tracker))
	return mux
}

// startMetricsServer serves /metrics and /health on addr until the returned
// stop function is called. An empty addr starts nothing.
func startMetricsServer(addr string, tracker *ratelimit.Tracker) (stop func()) {
	if addr == "" {
		return func() {}
	}

	logger := logging.NewLogger(logging.ComponentCLI)
	server := &http.Server{
		Addr:              addr,
		Handler:           newMux(tracker),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("Metrics server shutdown")
		}
	}
}
