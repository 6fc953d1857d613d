// Package httpserver exposes the process's Prometheus metrics and
// health status over HTTP. Adapted from the teacher's
// internal/infrastructure/server.HealthServer: same /metrics
// (promhttp.Handler) plus a health endpoint backed by an
// IHealthMonitor-shaped collaborator, trimmed to what SPEC_FULL's
// ambient stack actually needs — dcabot has no unrealized-PnL/position
// gauges to fold into the health payload the way the teacher's
// market-making engine does, so handleHealth reports component status
// only.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dcabot/internal/core"
	"dcabot/internal/health"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves /metrics (Prometheus) and /healthz (component status)
// on one port. It implements supervisor.Runner: Run blocks until ctx
// is canceled, then shuts the listener down gracefully.
type Server struct {
	addr   string
	logger core.Logger
	health *health.Manager
	srv    *http.Server
}

// New builds a Server listening on the given port (9090 binds ":9090"). hm may be nil,
// in which case /healthz always reports ok.
func New(port int, logger core.Logger, hm *health.Manager) *Server {
	return &Server{
		addr:   fmt.Sprintf(":%d", port),
		logger: logger.WithFields("component", "httpserver"),
		health: hm,
	}
}

// Run implements supervisor.Runner.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)

	s.srv = &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting metrics/health server", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status": "ok",
		"time":   time.Now(),
	}
	statusCode := http.StatusOK
	if s.health != nil {
		body["components"] = s.health.Status()
		if !s.health.IsHealthy() {
			body["status"] = "unhealthy"
			statusCode = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
