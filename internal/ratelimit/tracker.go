package ratelimit

import (
	"sync"
	"time"
)

// DefaultBackoff is how long a provider is skipped after a rate limit
const DefaultBackoff = 60 * time.Second

// ProviderStatus is the backoff state of one provider
type ProviderStatus struct {
	IsLimited    bool      `json:"isLimited"`
	BackoffUntil time.Time `json:"-"`
}

// Tracker remembers which providers are cooling down after a rate limit.
// State lives for the life of the process only.
type Tracker struct {
	backoff time.Duration
	now     func() time.Time

	mu    sync.Mutex
	until map[string]time.Time
}

// NewTracker creates a tracker. A zero backoff uses DefaultBackoff.
func NewTracker(backoff time.Duration) *Tracker {
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &Tracker{
		backoff: backoff,
		now:     time.Now,
		until:   make(map[string]time.Time),
	}
}

// SetClock replaces the time source
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Backoff returns the configured backoff window
func (t *Tracker) Backoff() time.Duration {
	return t.backoff
}

// IsLimited reports whether the provider is inside its backoff window
func (t *Tracker) IsLimited(provider string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Before(t.until[provider])
}

// MarkLimited starts or extends the backoff window and returns its end
func (t *Tracker) MarkLimited(provider string) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	until := t.now().Add(t.backoff)
	t.until[provider] = until
	return until
}

// Status returns the backoff state of a provider
func (t *Tracker) Status(provider string) ProviderStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	until := t.until[provider]
	return ProviderStatus{
		IsLimited:    t.now().Before(until),
		BackoffUntil: until,
	}
}

// Snapshot returns the status of each named provider
func (t *Tracker) Snapshot(providers ...string) map[string]ProviderStatus {
	result := make(map[string]ProviderStatus, len(providers))
	for _, p := range providers {
		result[p] = t.Status(p)
	}
	return result
}
