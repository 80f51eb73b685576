package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/falak/mailrelay/internal/storage"
)

// Level represents the level of rate limiting
type Level string

const (
	LevelAPIKey Level = "api_key"
)

// Config contains quota configuration
type Config struct {
	// Default limits for API keys without specific config
	DefaultAPIKey *LimitConfig

	// Per key limits, keyed by API key ID
	APIKeys map[string]*LimitConfig

	// Persistence settings
	FlushInterval time.Duration
}

// LimitConfig contains rate limit values
type LimitConfig struct {
	MessagesPerHour int `json:"messages_per_hour"`
	MessagesPerDay  int `json:"messages_per_day"`
}

// Limiter enforces hourly and daily send quotas per API key.
// Counters live in memory and are flushed to the store periodically.
type Limiter struct {
	store    storage.CounterStore
	config   *Config
	logger   *slog.Logger
	now      func() time.Time
	counters map[string]*storage.QuotaCounter // key -> counter
	mu       sync.RWMutex
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewLimiter creates a new limiter and loads persisted counters
func NewLimiter(ctx context.Context, store storage.CounterStore, cfg *Config, logger *slog.Logger) (*Limiter, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	l := &Limiter{
		store:    store,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
		counters: make(map[string]*storage.QuotaCounter),
		stopCh:   make(chan struct{}),
	}

	// Load persisted counters
	counters, err := store.LoadCounters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}
	for k, c := range counters {
		l.counters[k] = c
	}

	// Start background persistence
	l.wg.Add(1)
	go l.persistLoop()

	return l, nil
}

// Request contains information about the rate limit request
type Request struct {
	APIKeyID string
}

// Result contains the rate limit check result
type Result struct {
	Allowed    bool
	DeniedBy   Level
	DeniedKey  string
	RetryAfter time.Duration
}

// Stats contains rate limit statistics
type Stats struct {
	Level       Level     `json:"level"`
	Key         string    `json:"key"`
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourlyLimit int       `json:"hourly_limit"`
	DailyLimit  int       `json:"daily_limit"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Allow checks if the send is allowed and increments counters
func (l *Limiter) Allow(ctx context.Context, req *Request) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := &Result{
		Allowed: true,
	}

	now := l.now()
	check, ok := l.getCheck(req)
	if !ok {
		return result, nil
	}

	counter := l.getOrCreateCounter(check.key, now)

	// Reset counters if time window has passed
	resetExpiredCounters(counter, now)

	if denied := deny(check, counter, now); denied != nil {
		return denied, nil
	}

	counter.HourlyCount++
	counter.DailyCount++

	return result, nil
}

// Check checks if the send would be allowed without incrementing counters
func (l *Limiter) Check(ctx context.Context, req *Request) (*Result, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now()
	check, ok := l.getCheck(req)
	if !ok {
		return &Result{Allowed: true}, nil
	}

	counter, exists := l.counters[check.key]
	if !exists {
		return &Result{Allowed: true}, nil
	}

	// Work on a copy so expired windows are not reset under a read lock
	c := *counter
	resetExpiredCounters(&c, now)

	if denied := deny(check, &c, now); denied != nil {
		return denied, nil
	}
	return &Result{Allowed: true}, nil
}

// GetStats returns current quota usage for an API key
func (l *Limiter) GetStats(ctx context.Context, apiKeyID string) (*Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := &Stats{
		Level: LevelAPIKey,
		Key:   apiKeyID,
	}
	if limit := l.limitFor(apiKeyID); limit != nil {
		stats.HourlyLimit = limit.MessagesPerHour
		stats.DailyLimit = limit.MessagesPerDay
	}

	counter, exists := l.counters[makeKey(LevelAPIKey, apiKeyID)]
	if !exists {
		return stats, nil
	}

	now := l.now()
	stats.HourlyCount = counter.HourlyCount
	stats.DailyCount = counter.DailyCount
	stats.HourStart = counter.HourStart
	stats.DayStart = counter.DayStart

	// Reset if expired
	if now.Sub(counter.HourStart) >= time.Hour {
		stats.HourlyCount = 0
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		stats.DailyCount = 0
	}

	return stats, nil
}

// Forget drops the counters of a deleted API key
func (l *Limiter) Forget(apiKeyID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counters, makeKey(LevelAPIKey, apiKeyID))
}

// Stop stops the limiter and persists counters
func (l *Limiter) Stop() error {
	close(l.stopCh)
	l.wg.Wait()
	return l.persistCounters(context.Background())
}

type limitCheck struct {
	level Level
	key   string
	limit *LimitConfig
}

func (l *Limiter) limitFor(apiKeyID string) *LimitConfig {
	if limit, ok := l.config.APIKeys[apiKeyID]; ok {
		return limit
	}
	return l.config.DefaultAPIKey
}

func (l *Limiter) getCheck(req *Request) (limitCheck, bool) {
	if req == nil || req.APIKeyID == "" {
		return limitCheck{}, false
	}

	limit := l.limitFor(req.APIKeyID)
	if limit == nil {
		return limitCheck{}, false
	}

	return limitCheck{
		level: LevelAPIKey,
		key:   makeKey(LevelAPIKey, req.APIKeyID),
		limit: limit,
	}, true
}

func deny(check limitCheck, counter *storage.QuotaCounter, now time.Time) *Result {
	// Check hourly limit
	if check.limit.MessagesPerHour > 0 && counter.HourlyCount >= check.limit.MessagesPerHour {
		return &Result{
			DeniedBy:   check.level,
			DeniedKey:  check.key,
			RetryAfter: counter.HourStart.Add(time.Hour).Sub(now),
		}
	}

	// Check daily limit
	if check.limit.MessagesPerDay > 0 && counter.DailyCount >= check.limit.MessagesPerDay {
		return &Result{
			DeniedBy:   check.level,
			DeniedKey:  check.key,
			RetryAfter: counter.DayStart.Add(24 * time.Hour).Sub(now),
		}
	}

	return nil
}

func (l *Limiter) getOrCreateCounter(key string, now time.Time) *storage.QuotaCounter {
	counter, exists := l.counters[key]
	if !exists {
		counter = &storage.QuotaCounter{
			HourStart: now,
			DayStart:  now,
		}
		l.counters[key] = counter
	}
	return counter
}

func resetExpiredCounters(counter *storage.QuotaCounter, now time.Time) {
	if now.Sub(counter.HourStart) >= time.Hour {
		counter.HourlyCount = 0
		counter.HourStart = now
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		counter.DailyCount = 0
		counter.DayStart = now
	}
}

func (l *Limiter) persistCounters(ctx context.Context) error {
	l.mu.RLock()
	snapshot := make(map[string]*storage.QuotaCounter, len(l.counters))
	for k, c := range l.counters {
		copied := *c
		snapshot[k] = &copied
	}
	l.mu.RUnlock()

	return l.store.SaveCounters(ctx, snapshot)
}

func (l *Limiter) persistLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			if err := l.persistCounters(context.Background()); err != nil {
				l.logger.Warn("failed to persist quota counters", "error", err)
			}
		}
	}
}

func makeKey(level Level, key string) string {
	return string(level) + ":" + key
}
