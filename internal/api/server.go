package api

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/falak/mailrelay/internal/apikey"
	"github.com/falak/mailrelay/internal/config"
	"github.com/falak/mailrelay/internal/ipfilter"
	"github.com/falak/mailrelay/internal/metrics"
	"github.com/falak/mailrelay/internal/ratelimit"
	"github.com/falak/mailrelay/internal/relay"
	"github.com/falak/mailrelay/internal/session"
	"github.com/falak/mailrelay/internal/storage"
)

// Deps holds the services the API server is built on.
// Limiter and Metrics are optional.
type Deps struct {
	Relay    *relay.Service
	Keys     *apikey.Service
	Logs     storage.LogStore
	Sessions *session.Manager
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Metrics
	Version  string

	// TLSConfig enables HTTPS on the API listener
	TLSConfig *tls.Config
}

// Server is the HTTP API server
type Server struct {
	router      *chi.Mux
	httpServer  *http.Server
	relay       *relay.Service
	keys        *apikey.Service
	logs        storage.LogStore
	sessions    *session.Manager
	limiter     *ratelimit.Limiter
	metrics     *metrics.Metrics
	adminFilter *ipfilter.Filter
	config      *config.APIConfig
	tlsConfig   *tls.Config
	cookieName  string
	secure      bool
	version     string
	logger      *slog.Logger
	startTime   time.Time
	now         func() time.Time
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	apiCfg := cfg.API
	if apiCfg.MaxBodyBytes <= 0 {
		apiCfg.MaxBodyBytes = 1 << 20
	}

	s := &Server{
		router:      chi.NewRouter(),
		relay:       deps.Relay,
		keys:        deps.Keys,
		logs:        deps.Logs,
		sessions:    deps.Sessions,
		limiter:     deps.Limiter,
		metrics:     deps.Metrics,
		adminFilter: ipfilter.New(cfg.API.AdminAllowedIPs, logger),
		config:      &apiCfg,
		tlsConfig:   deps.TLSConfig,
		cookieName:  cfg.Auth.CookieName,
		secure:      cfg.HasTLS(),
		version:     deps.Version,
		logger:      logger,
		startTime:   time.Now(),
		now:         time.Now,
	}

	if s.cookieName == "" {
		s.cookieName = "falak_admin_session"
	}
	if s.adminFilter.Enabled() {
		logger.Info("admin IP filtering enabled", "allowed_networks", s.adminFilter.Count())
	}

	s.setupRoutes()
	s.httpServer = s.newHTTPServer()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	if s.metrics != nil {
		s.router.Use(metrics.HTTPMiddleware(s.metrics))
	}

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// Relay routes (API key required for sending)
	for _, path := range []string{"/relay/send", "/api/send-mail"} {
		s.router.Get(path, s.handleSendUsage)
		s.router.With(s.apiKeyMiddleware).Post(path, s.handleSend)
	}

	// Admin login, reachable only from allowed networks
	s.router.Group(func(r chi.Router) {
		r.Use(s.adminFilter.Middleware)

		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)
		r.Get("/auth/check", s.handleCheck)
		r.Post("/api/auth", s.handleAuthAction)
	})

	// Admin routes (session required)
	s.router.Group(func(r chi.Router) {
		r.Use(s.adminFilter.Middleware)
		r.Use(s.sessionMiddleware)

		r.Get("/relay/status", s.handleStatus)

		r.Route("/admin/api-keys", func(r chi.Router) {
			r.Get("/", s.handleKeysList)
			r.Post("/", s.handleKeysCreate)
			r.Put("/{id}", s.handleKeysRename)
			r.Delete("/{id}", s.handleKeysDelete)
			r.Post("/{id}/toggle", s.handleKeysToggle)
			r.Post("/{id}/rotate", s.handleKeysRotate)
		})

		r.Get("/admin/logs", s.handleLogsList)
		r.Delete("/admin/logs/{id}", s.handleLogsDelete)
	})
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) newHTTPServer() *http.Server {
	return &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		TLSConfig:      s.tlsConfig,
	}
}

// ListenAndServe starts the HTTP server, with TLS when a TLS config is set
func (s *Server) ListenAndServe() error {
	var err error
	if s.tlsConfig != nil {
		s.logger.Info("starting HTTPS API server", "addr", s.config.ListenAddr)
		// Certificates come from TLSConfig
		err = s.httpServer.ListenAndServeTLS("", "")
	} else {
		s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
		err = s.httpServer.ListenAndServe()
	}

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve accepts plain HTTP connections on l
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("starting HTTP API server", "addr", l.Addr().String())
	if err := s.httpServer.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	return s.httpServer.Shutdown(ctx)
}
