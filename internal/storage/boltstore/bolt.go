// Package boltstore implements storage.Store on top of BoltDB.
package boltstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/falak/mailrelay/internal/storage"
)

var (
	bucketLogs         = []byte("email_logs")
	bucketLogsByTime   = []byte("email_logs_by_time")
	bucketLogsByStatus = []byte("email_logs_by_status")
	bucketKeys         = []byte("api_keys")
	bucketKeysByHash   = []byte("api_keys_by_hash")
	bucketCounters     = []byte("quota_counters")
)

// indexTimeFormat is fixed width so index keys sort chronologically
const indexTimeFormat = "2006-01-02T15:04:05.000000000Z"

// Store implements storage.Store using BoltDB
type Store struct {
	db *bolt.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens or creates a BoltDB file
func Open(path string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketLogs, bucketLogsByTime, bucketLogsByStatus, bucketKeys, bucketKeysByHash, bucketCounters} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// makeIndexKey creates a sortable key from timestamp and ID
func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(indexTimeFormat) + ":" + id)
}

// makeStatusKey prefixes an index key with the log status
func makeStatusKey(status storage.LogStatus, t time.Time, id string) []byte {
	return append([]byte(string(status)+"|"), makeIndexKey(t, id)...)
}

// parseTimestampFromKey extracts timestamp from index key
func parseTimestampFromKey(key []byte) time.Time {
	s := string(key)
	if i := strings.IndexByte(s, '|'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) < len(indexTimeFormat) {
		return time.Time{}
	}
	ts, _ := time.Parse(indexTimeFormat, s[:len(indexTimeFormat)])
	return ts
}
