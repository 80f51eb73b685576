package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/falak/mailrelay/internal/ipfilter"
)

// Server serves Prometheus metrics over HTTP
type Server struct {
	httpServer *http.Server
	addr       string
	path       string
	logger     *slog.Logger
}

// NewServer creates a metrics HTTP server. allowedIPs restricts the metrics path;
// the health path stays open for load balancers.
func NewServer(m *Metrics, addr, path string, allowedIPs []string, logger *slog.Logger) *Server {
	if addr == "" {
		addr = ":9090"
	}
	if path == "" {
		path = "/metrics"
	}

	filter := ipfilter.New(allowedIPs, logger)
	if filter.Enabled() {
		logger.Info("metrics IP filtering enabled", "allowed_networks", filter.Count())
	}

	mux := http.NewServeMux()
	mux.Handle(path, filter.Middleware(promhttp.HandlerFor(
		m.Registry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		addr:   addr,
		path:   path,
		logger: logger,
	}
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts the metrics HTTP server
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting metrics server", "addr", s.addr, "path", s.path)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve accepts connections on l
func (s *Server) Serve(l net.Listener) error {
	err := s.httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}
