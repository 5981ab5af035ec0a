package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server provides HTTP endpoints for Prometheus metrics and health checks.
type Server struct {
	addr   string
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a new metrics server exposing the given gatherer
// (typically the per-run registry the run's Collector registered into).
// A nil gatherer falls back to the default global registry.
func NewServer(addr string, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Health check endpoint
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/healthz", healthHandler)

	// Ready check (same as health for now)
	mux.HandleFunc("/ready", healthHandler)
	mux.HandleFunc("/readyz", healthHandler)

	return &Server{
		addr:   addr,
		logger: logger,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
	}
}

// healthHandler handles health check requests.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// Start starts the metrics server in a goroutine.
// Returns immediately. Use Shutdown to stop. An empty listen address
// disables the server entirely.
func (s *Server) Start() error {
	if s.addr == "" {
		s.logger.Debug("metrics_server_disabled")
		return nil
	}
	s.logger.Info("metrics_server_starting", "addr", s.addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics_server_error", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.addr == "" {
		return nil
	}
	s.logger.Debug("metrics_server_shutting_down")
	return s.server.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.addr
}
