package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/falak/mailrelay/internal/storage/boltstore"
)

func setupTestStore(t *testing.T) *boltstore.Store {
	t.Helper()

	store, err := boltstore.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLimiter(t *testing.T, store *boltstore.Store, cfg *Config) *Limiter {
	t.Helper()

	limiter, err := NewLimiter(context.Background(), store, cfg, discardLogger())
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	return limiter
}

func TestNewLimiterDefaultConfig(t *testing.T) {
	limiter := newTestLimiter(t, setupTestStore(t), nil)
	defer limiter.Stop()

	if limiter.config.FlushInterval != 10*time.Second {
		t.Errorf("expected default FlushInterval=10s, got %v", limiter.config.FlushInterval)
	}

	// No limits configured means everything is allowed
	result, err := limiter.Allow(context.Background(), &Request{APIKeyID: "k1"})
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !result.Allowed {
		t.Error("request should be allowed without limits")
	}
}

func TestAllowAPIKeyLimit(t *testing.T) {
	cfg := &Config{
		DefaultAPIKey: &LimitConfig{MessagesPerHour: 2},
		FlushInterval: time.Hour, // Don't flush during test
	}
	limiter := newTestLimiter(t, setupTestStore(t), cfg)
	defer limiter.Stop()

	ctx := context.Background()
	req := &Request{APIKeyID: "key-123"}

	for i := 0; i < 2; i++ {
		result, _ := limiter.Allow(ctx, req)
		if !result.Allowed {
			t.Errorf("API key request %d should be allowed", i+1)
		}
	}

	result, _ := limiter.Allow(ctx, req)
	if result.Allowed {
		t.Error("API key request 3 should be denied")
	}
	if result.DeniedBy != LevelAPIKey {
		t.Errorf("expected DeniedBy=api_key, got %s", result.DeniedBy)
	}
	if result.RetryAfter <= 0 {
		t.Error("expected positive RetryAfter")
	}

	// Another key has its own counter
	result, _ = limiter.Allow(ctx, &Request{APIKeyID: "key-456"})
	if !result.Allowed {
		t.Error("other key request 1 should be allowed")
	}
}

func TestAllowPerKeyOverride(t *testing.T) {
	cfg := &Config{
		DefaultAPIKey: &LimitConfig{MessagesPerHour: 1},
		APIKeys: map[string]*LimitConfig{
			"vip": {MessagesPerHour: 3},
		},
		FlushInterval: time.Hour,
	}
	limiter := newTestLimiter(t, setupTestStore(t), cfg)
	defer limiter.Stop()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		result, _ := limiter.Allow(ctx, &Request{APIKeyID: "vip"})
		if !result.Allowed {
			t.Errorf("vip request %d should be allowed", i+1)
		}
	}

	limiter.Allow(ctx, &Request{APIKeyID: "basic"})
	result, _ := limiter.Allow(ctx, &Request{APIKeyID: "basic"})
	if result.Allowed {
		t.Error("basic request 2 should be denied")
	}
}

func TestAllowDailyLimit(t *testing.T) {
	cfg := &Config{
		DefaultAPIKey: &LimitConfig{
			MessagesPerHour: 100, // High hourly limit
			MessagesPerDay:  3,   // Low daily limit
		},
		FlushInterval: time.Hour,
	}
	limiter := newTestLimiter(t, setupTestStore(t), cfg)
	defer limiter.Stop()

	ctx := context.Background()
	req := &Request{APIKeyID: "k1"}

	for i := 0; i < 3; i++ {
		result, _ := limiter.Allow(ctx, req)
		if !result.Allowed {
			t.Errorf("request %d should be allowed", i+1)
		}
	}

	// Should hit daily limit
	result, _ := limiter.Allow(ctx, req)
	if result.Allowed {
		t.Error("request 4 should be denied by daily limit")
	}
	if result.RetryAfter <= time.Hour {
		t.Errorf("daily RetryAfter = %v, want more than an hour", result.RetryAfter)
	}
}

func TestHourlyWindowResets(t *testing.T) {
	cfg := &Config{
		DefaultAPIKey: &LimitConfig{MessagesPerHour: 1},
		FlushInterval: time.Hour,
	}
	limiter := newTestLimiter(t, setupTestStore(t), cfg)
	defer limiter.Stop()

	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	req := &Request{APIKeyID: "k1"}

	limiter.Allow(ctx, req)
	if result, _ := limiter.Allow(ctx, req); result.Allowed {
		t.Fatal("second request in the same hour should be denied")
	}

	now = now.Add(time.Hour)
	if result, _ := limiter.Allow(ctx, req); !result.Allowed {
		t.Error("request after the hour window should be allowed")
	}
}

func TestCheck(t *testing.T) {
	cfg := &Config{
		DefaultAPIKey: &LimitConfig{MessagesPerHour: 2},
		FlushInterval: time.Hour,
	}
	limiter := newTestLimiter(t, setupTestStore(t), cfg)
	defer limiter.Stop()

	ctx := context.Background()
	req := &Request{APIKeyID: "k1"}

	// Check should not increment counters
	for i := 0; i < 5; i++ {
		result, err := limiter.Check(ctx, req)
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !result.Allowed {
			t.Errorf("Check %d should return allowed (doesn't increment)", i+1)
		}
	}

	limiter.Allow(ctx, req)
	limiter.Allow(ctx, req)

	result, _ := limiter.Check(ctx, req)
	if result.Allowed {
		t.Error("Check should report denied once the quota is used")
	}
}

func TestGetStats(t *testing.T) {
	cfg := &Config{
		DefaultAPIKey: &LimitConfig{MessagesPerHour: 100, MessagesPerDay: 500},
		FlushInterval: time.Hour,
	}
	limiter := newTestLimiter(t, setupTestStore(t), cfg)
	defer limiter.Stop()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		limiter.Allow(ctx, &Request{APIKeyID: "k1"})
	}

	stats, err := limiter.GetStats(ctx, "k1")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.HourlyCount != 3 {
		t.Errorf("expected HourlyCount=3, got %d", stats.HourlyCount)
	}
	if stats.DailyCount != 3 {
		t.Errorf("expected DailyCount=3, got %d", stats.DailyCount)
	}
	if stats.HourlyLimit != 100 || stats.DailyLimit != 500 {
		t.Errorf("limits = %d/%d, want 100/500", stats.HourlyLimit, stats.DailyLimit)
	}

	empty, err := limiter.GetStats(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if empty.HourlyCount != 0 {
		t.Errorf("expected HourlyCount=0, got %d", empty.HourlyCount)
	}
}

func TestForget(t *testing.T) {
	cfg := &Config{
		DefaultAPIKey: &LimitConfig{MessagesPerHour: 1},
		FlushInterval: time.Hour,
	}
	limiter := newTestLimiter(t, setupTestStore(t), cfg)
	defer limiter.Stop()

	ctx := context.Background()
	req := &Request{APIKeyID: "k1"}
	limiter.Allow(ctx, req)
	limiter.Forget("k1")

	if result, _ := limiter.Allow(ctx, req); !result.Allowed {
		t.Error("request after Forget should be allowed")
	}
}

func TestPersistence(t *testing.T) {
	store := setupTestStore(t)
	cfg := &Config{
		DefaultAPIKey: &LimitConfig{MessagesPerHour: 10},
		FlushInterval: time.Hour,
	}

	limiter := newTestLimiter(t, store, cfg)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		limiter.Allow(ctx, &Request{APIKeyID: "k1"})
	}

	// Stop flushes counters
	if err := limiter.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	limiter2 := newTestLimiter(t, store, cfg)
	defer limiter2.Stop()

	stats, err := limiter2.GetStats(ctx, "k1")
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.HourlyCount != 5 {
		t.Errorf("expected persisted HourlyCount=5, got %d", stats.HourlyCount)
	}
}
