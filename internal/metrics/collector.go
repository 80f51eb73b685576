package metrics

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/falak/mailrelay/internal/storage"
)

// BackoffSource reports whether a provider is in backoff
type BackoffSource interface {
	IsLimited(provider string) bool
}

// CollectorConfig contains collector settings
type CollectorConfig struct {
	Providers   []string      // Providers whose backoff state is exported
	StoragePath string        // Database file to size, empty for none
	Interval    time.Duration // Gauge refresh interval (default: 10s)
}

// Collector periodically refreshes gauges that are read from other components
type Collector struct {
	metrics   *Metrics
	backoff   BackoffSource
	keys      storage.KeyStore
	cfg       CollectorConfig
	logger    *slog.Logger
	startTime time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a new gauge collector
func NewCollector(m *Metrics, backoff BackoffSource, keys storage.KeyStore, cfg CollectorConfig, logger *slog.Logger) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Collector{
		metrics:   m,
		backoff:   backoff,
		keys:      keys,
		cfg:       cfg,
		logger:    logger,
		startTime: time.Now(),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the collector background loop
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	c.Collect(ctx)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect refreshes all gauges once
func (c *Collector) Collect(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.cfg.StoragePath != "" {
		if info, err := os.Stat(c.cfg.StoragePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.backoff != nil {
		for _, p := range c.cfg.Providers {
			v := 0.0
			if c.backoff.IsLimited(p) {
				v = 1
			}
			c.metrics.ProviderLimited.WithLabelValues(p).Set(v)
		}
	}

	if c.keys != nil {
		keys, err := c.keys.ListKeys(ctx, true)
		if err != nil {
			c.logger.Warn("failed to count active API keys", "error", err)
			return
		}
		c.metrics.APIKeysActive.Set(float64(len(keys)))
	}
}
