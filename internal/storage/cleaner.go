package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CleanerConfig contains log retention settings
type CleanerConfig struct {
	MaxAge   time.Duration // 0 disables cleanup
	Interval time.Duration
}

// Cleaner periodically deletes logs older than MaxAge
type Cleaner struct {
	store  LogStore
	cfg    CleanerConfig
	logger *slog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewCleaner creates a new cleaner service
func NewCleaner(store LogStore, cfg CleanerConfig, logger *slog.Logger) *Cleaner {
	return &Cleaner{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Enabled reports whether the cleaner has anything to do
func (c *Cleaner) Enabled() bool {
	return c.cfg.MaxAge > 0 && c.cfg.Interval > 0
}

// Start starts the cleanup goroutine
func (c *Cleaner) Start(ctx context.Context) {
	if !c.Enabled() {
		return
	}

	c.wg.Add(1)
	go c.loop(ctx)

	c.logger.Info("log cleaner started", "max_age", c.cfg.MaxAge, "interval", c.cfg.Interval)
}

// Stop stops the cleaner and waits for the goroutine to finish
func (c *Cleaner) Stop() {
	close(c.done)
	c.wg.Wait()
}

func (c *Cleaner) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on start
	c.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce deletes expired logs and returns how many were removed
func (c *Cleaner) RunOnce(ctx context.Context) int {
	cutoff := c.now().Add(-c.cfg.MaxAge)
	deleted, err := c.store.DeleteLogsBefore(ctx, cutoff)
	if err != nil {
		c.logger.Error("failed to cleanup logs", "error", err)
		return 0
	}

	if deleted > 0 {
		c.logger.Info("cleaned up logs", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted
}
