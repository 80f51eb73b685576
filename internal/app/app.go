// Package app wires the relay components together and runs them.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/falak/mailrelay/internal/api"
	"github.com/falak/mailrelay/internal/apikey"
	"github.com/falak/mailrelay/internal/config"
	"github.com/falak/mailrelay/internal/metrics"
	"github.com/falak/mailrelay/internal/provider"
	"github.com/falak/mailrelay/internal/ratelimit"
	"github.com/falak/mailrelay/internal/relay"
	"github.com/falak/mailrelay/internal/session"
	"github.com/falak/mailrelay/internal/storage"
	"github.com/falak/mailrelay/internal/storage/boltstore"
	"github.com/falak/mailrelay/internal/storage/sqlitestore"
	relayTLS "github.com/falak/mailrelay/internal/tls"
)

// shutdownTimeout bounds graceful shutdown
const shutdownTimeout = 30 * time.Second

// App is the main application
type App struct {
	config        *config.Config
	store         storage.Store
	apiServer     *api.Server
	limiter       *ratelimit.Limiter
	cleaner       *storage.Cleaner
	metricsServer *metrics.Server
	collector     *metrics.Collector
	acmeManager   *relayTLS.ACMEManager
	acmeServer    *http.Server
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config, version string) (*App, error) {
	logger := SetupLogger(cfg.Logging)

	store, err := OpenStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	a, err := build(cfg, store, version, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, store storage.Store, version string, logger *slog.Logger) (*App, error) {
	a := &App{
		config: cfg,
		store:  store,
		logger: logger,
	}

	// Providers and the orchestrator
	primary, secondary, err := provider.Pair(&cfg.Providers, logger.With("component", "provider"))
	if err != nil {
		return nil, fmt.Errorf("failed to create providers: %w", err)
	}
	tracker := ratelimit.NewTracker(cfg.Providers.Backoff)
	relaySvc := relay.NewService(primary, secondary, tracker, store, relay.Config{
		Timeout: cfg.Providers.Timeout,
		Defaults: provider.Defaults{
			From:       cfg.Providers.DefaultFrom,
			SenderName: cfg.Providers.DefaultSenderName,
		},
	}, logger.With("component", "relay"))

	keys := apikey.NewService(store, apikey.NewHasher(cfg.Auth.APIKeySecret), logger.With("component", "apikey"))

	sessions := session.NewManager(session.Config{
		Secret:      cfg.Auth.SessionSecret,
		TTL:         cfg.Auth.SessionTTL,
		SiteKey:     cfg.Auth.SiteKey,
		SiteKeyHash: cfg.Auth.SiteKeyHash,
	})
	if !sessions.Configured() {
		logger.Warn("no admin site key configured, admin login is disabled")
	}

	// Per key quotas
	if cfg.RateLimit.Enabled {
		a.limiter, err = ratelimit.NewLimiter(context.Background(), store, limiterConfig(cfg.RateLimit), logger.With("component", "ratelimit"))
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		logger.Info("API key quotas enabled")
	}

	// Log retention
	a.cleaner = storage.NewCleaner(store, storage.CleanerConfig{
		MaxAge:   cfg.Storage.Retention.MaxAge,
		Interval: cfg.Storage.Retention.CleanupInterval,
	}, logger.With("component", "cleaner"))

	// Metrics
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metrics.SetGlobal(m)

		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path,
			cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
		a.collector = metrics.NewCollector(m, tracker, store, metrics.CollectorConfig{
			Providers:   []string{primary.Name(), secondary.Name()},
			StoragePath: cfg.Storage.Path,
			Interval:    cfg.Metrics.FlushInterval,
		}, logger.With("component", "metrics_collector"))
	}

	tlsConfig, err := a.setupTLS()
	if err != nil {
		if a.limiter != nil {
			a.limiter.Stop()
		}
		return nil, err
	}

	a.apiServer = api.NewServer(cfg, api.Deps{
		Relay:     relaySvc,
		Keys:      keys,
		Logs:      store,
		Sessions:  sessions,
		Limiter:   a.limiter,
		Metrics:   m,
		Version:   version,
		TLSConfig: tlsConfig,
	}, logger.With("component", "api"))

	logger.Info("providers configured",
		"primary", primary.Name(),
		"secondary", secondary.Name(),
		"backoff", tracker.Backoff(),
	)

	return a, nil
}

// setupTLS loads the API certificate or prepares ACME
func (a *App) setupTLS() (*tls.Config, error) {
	tlsCfg := a.config.API.TLS

	if tlsCfg.ACME.Enabled {
		a.acmeManager = relayTLS.NewACMEManager(tlsCfg.ACME.Email, tlsCfg.ACME.Domains, tlsCfg.ACME.CacheDir)
		for _, cert := range a.acmeManager.CachedCertificates(context.Background(), time.Now()) {
			a.logger.Info("cached certificate", "domain", cert.Domain, "days_left", cert.DaysLeft)
		}
		a.logger.Info("ACME (Let's Encrypt) enabled", "domains", tlsCfg.ACME.Domains)
		return a.acmeManager.TLSConfig(), nil
	}

	if tlsCfg.CertFile == "" {
		return nil, nil
	}

	cfg, err := relayTLS.LoadCertificate(tlsCfg.CertFile, tlsCfg.KeyFile)
	if err != nil {
		return nil, err
	}

	if info, err := relayTLS.ReadCertificateInfo(tlsCfg.CertFile, time.Now()); err == nil {
		if info.ExpiresSoon(14) {
			a.logger.Warn("TLS certificate expires soon", "domain", info.Domain, "days_left", info.DaysLeft)
		} else {
			a.logger.Info("TLS enabled with manual certificate", "domain", info.Domain, "days_left", info.DaysLeft)
		}
	}

	return cfg, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting mailrelay",
		"name", a.config.Server.Name,
		"api_addr", a.config.API.ListenAddr,
		"storage", a.config.Storage.Driver,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Background workers
	a.cleaner.Start(ctx)
	if a.collector != nil {
		a.collector.Start(ctx)
	}

	// Channel to collect errors
	errCh := make(chan error, 3)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// HTTP-01 challenges; everything else is redirected to HTTPS
	if a.acmeManager != nil {
		a.acmeServer = &http.Server{
			Addr:              a.config.API.TLS.ACME.HTTPAddr,
			Handler:           a.acmeManager.HTTPHandler(relayTLS.RedirectHandler()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("starting ACME HTTP challenge server", "addr", a.acmeServer.Addr)
			if err := a.acmeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Warn("ACME HTTP server error", "error", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	if err := a.Shutdown(context.Background()); err != nil {
		return err
	}
	return runErr
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	// Stop accepting requests first; in-flight sends finish within the window
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.acmeServer != nil {
		if err := a.acmeServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("acme server shutdown error", "error", err)
		}
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}
	if a.collector != nil {
		a.collector.Stop()
	}

	a.cleaner.Stop()

	// Stop rate limiter (persists counters)
	if a.limiter != nil {
		if err := a.limiter.Stop(); err != nil {
			a.logger.Error("rate limiter stop error", "error", err)
		}
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// Handler returns the API handler
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// OpenStore opens the configured storage backend
func OpenStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlitestore.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return s, nil
	case "bolt", "":
		s, err := boltstore.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open bolt storage: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

func limiterConfig(cfg config.RateLimitConfig) *ratelimit.Config {
	rlConfig := &ratelimit.Config{
		APIKeys:       make(map[string]*ratelimit.LimitConfig),
		FlushInterval: cfg.FlushInterval,
	}
	if cfg.DefaultAPIKey != nil {
		rlConfig.DefaultAPIKey = &ratelimit.LimitConfig{
			MessagesPerHour: cfg.DefaultAPIKey.MessagesPerHour,
			MessagesPerDay:  cfg.DefaultAPIKey.MessagesPerDay,
		}
	}
	for id, v := range cfg.APIKeys {
		if v == nil {
			continue
		}
		rlConfig.APIKeys[id] = &ratelimit.LimitConfig{
			MessagesPerHour: v.MessagesPerHour,
			MessagesPerDay:  v.MessagesPerDay,
		}
	}
	return rlConfig
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
