package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a log entry or API key does not exist
var ErrNotFound = errors.New("not found")

// LogStatus represents the outcome of a relay request
type LogStatus string

const (
	StatusSuccess  LogStatus = "success"
	StatusFallback LogStatus = "fallback"
	StatusFailed   LogStatus = "failed"
)

// EmailLog records the outcome of one relay request
type EmailLog struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Recipient    string    `json:"recipient"`
	Subject      string    `json:"subject"`
	Sender       string    `json:"sender"`
	Status       LogStatus `json:"status"`
	Provider     string    `json:"provider"`
	APIKeyID     string    `json:"apiKeyId,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// APIKey is a stored relay API key. The plaintext secret is never stored.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"keyPrefix"`
	IsActive   bool       `json:"isActive"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsed   *time.Time `json:"lastUsed,omitempty"`
	UsageCount int64      `json:"usageCount"`
}

// QuotaCounter tracks per API key send counters
type QuotaCounter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// LogFilter represents filter options for listing logs
type LogFilter struct {
	Since  time.Time // zero = no lower bound
	Status LogStatus // empty = any status
	Limit  int       // 0 = no limit
	Offset int
}

// Matches reports whether the log passes the filter bounds
func (f LogFilter) Matches(l *EmailLog) bool {
	if !f.Since.IsZero() && l.Timestamp.Before(f.Since) {
		return false
	}
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	return true
}

// LogStore persists email logs. Lists are ordered newest first.
type LogStore interface {
	AddLog(ctx context.Context, log *EmailLog) error
	ListLogs(ctx context.Context, filter LogFilter) ([]*EmailLog, error)
	CountLogs(ctx context.Context, filter LogFilter) (int, error)
	DeleteLog(ctx context.Context, id string) error
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// KeyStore persists API keys
type KeyStore interface {
	CreateKey(ctx context.Context, key *APIKey) error
	GetKey(ctx context.Context, id string) (*APIKey, error)
	GetKeyByHash(ctx context.Context, hash string) (*APIKey, error)
	ListKeys(ctx context.Context, activeOnly bool) ([]*APIKey, error)
	// UpdateKey applies fn to the stored key atomically. Hash changes are reindexed.
	UpdateKey(ctx context.Context, id string, fn func(k *APIKey) error) (*APIKey, error)
	// TouchKey increments the usage counter and sets lastUsed.
	TouchKey(ctx context.Context, id string, at time.Time) error
	DeleteKey(ctx context.Context, id string) error
}

// CounterStore persists quota counters between restarts
type CounterStore interface {
	LoadCounters(ctx context.Context) (map[string]*QuotaCounter, error)
	SaveCounters(ctx context.Context, counters map[string]*QuotaCounter) error
}

// Store is implemented by every storage backend
type Store interface {
	LogStore
	KeyStore
	CounterStore
	Close() error
}
