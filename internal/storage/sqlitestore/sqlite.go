// Package sqlitestore implements storage.Store on top of SQLite.
package sqlitestore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/falak/mailrelay/internal/storage"
)

// Store implements storage.Store using SQLite
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens the database at path and applies migrations.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		// Ensure directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		migrationEmailLogs,
		migrationAPIKeys,
		migrationQuotaCounters,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const migrationEmailLogs = `
CREATE TABLE IF NOT EXISTS email_logs (
    id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    recipient TEXT NOT NULL,
    subject TEXT NOT NULL,
    sender TEXT NOT NULL,
    status TEXT NOT NULL,
    provider TEXT NOT NULL,
    api_key_id TEXT,
    error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_email_logs_timestamp ON email_logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_email_logs_status ON email_logs(status, timestamp);
`

const migrationAPIKeys = `
CREATE TABLE IF NOT EXISTS api_keys (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    key_hash TEXT UNIQUE NOT NULL,
    key_prefix TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    last_used INTEGER,
    usage_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_api_keys_active ON api_keys(is_active);
`

const migrationQuotaCounters = `
CREATE TABLE IF NOT EXISTS quota_counters (
    key TEXT PRIMARY KEY,
    hourly_count INTEGER NOT NULL,
    daily_count INTEGER NOT NULL,
    hour_start INTEGER NOT NULL,
    day_start INTEGER NOT NULL
);
`

// Timestamps are stored as Unix nanoseconds so range queries compare numerically

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
