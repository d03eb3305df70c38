// SPDX-License-Identifier: MIT

// Package api exposes the read-only observability surface of a running
// session: liveness, a status snapshot, and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wenhaoz/ykwatch/internal/engine"
	xklog "github.com/wenhaoz/ykwatch/internal/log"
)

// StatusSource yields the current session snapshot.
type StatusSource interface {
	Status() engine.Status
}

// Server serves the observability endpoints. It never mutates session state.
type Server struct {
	addr    string
	version string
	source  StatusSource
}

// NewServer builds a server listening on addr, reading snapshots from source.
func NewServer(addr, version string, source StatusSource) *Server {
	return &Server{addr: addr, version: version, source: source}
}

// Handler builds the route tree. Split out for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(rateLimit())

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// rateLimit bounds the observability surface per client IP. The endpoints are
// cheap, so the limit only guards against runaway scrapers.
func rateLimit() func(http.Handler) http.Handler {
	window := time.Minute
	return httprate.Limit(
		600,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
		}),
	)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": s.version,
	}); err != nil {
		logger := xklog.WithComponent("api")
		logger.Error().Err(err).
			Str("event", "healthz.encode_failed").
			Msg("failed to encode health response")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source.Status()); err != nil {
		logger := xklog.WithComponent("api")
		logger.Error().Err(err).
			Str("event", "status.encode_failed").
			Msg("failed to encode status snapshot")
	}
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	logger := xklog.WithComponent("api")

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().
			Str("event", "listen.start").
			Str("addr", s.addr).
			Msg("observability listener started")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("observability listener: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("observability shutdown: %w", err)
		}
		logger.Info().
			Str("event", "listen.stop").
			Msg("observability listener stopped")
		return nil
	}
}
