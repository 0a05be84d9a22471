// Package opsserver exposes a small operator-facing HTTP surface —
// Prometheus scrape target and a liveness probe, nothing else — so this
// stays an ops endpoint, not the dashboard/web-UI surface that's
// explicitly out of scope for the engine itself.
package opsserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nugget/waymark/internal/buildinfo"
)

// Server serves /metrics and /healthz on its own listener, independent
// of anything actors do on the bus.
type Server struct {
	addr   string
	srv    *http.Server
	logger zerolog.Logger
}

// New builds a Server bound to addr (e.g. ":9090"). It does not start
// listening until Run is called.
func New(addr string, logger zerolog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok, uptime " + buildinfo.Uptime().String() + "\n"))
	})

	return &Server{
		addr:   addr,
		logger: logger.With().Str("component", "opsserver").Logger(),
		srv:    &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second},
	}
}

// Run serves until ctx is canceled, then shuts down gracefully. It's
// meant to be handed straight to runtime.Controller.CreateTask.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("opsserver listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
