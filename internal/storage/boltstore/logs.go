package boltstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/falak/mailrelay/internal/storage"
)

// AddLog stores a log entry and its indexes
func (s *Store) AddLog(ctx context.Context, l *storage.EmailLog) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("failed to marshal log: %w", err)
		}
		if err := tx.Bucket(bucketLogs).Put([]byte(l.ID), data); err != nil {
			return fmt.Errorf("failed to store log: %w", err)
		}

		if err := tx.Bucket(bucketLogsByTime).Put(makeIndexKey(l.Timestamp, l.ID), []byte(l.ID)); err != nil {
			return fmt.Errorf("failed to add to time index: %w", err)
		}
		if err := tx.Bucket(bucketLogsByStatus).Put(makeStatusKey(l.Status, l.Timestamp, l.ID), []byte(l.ID)); err != nil {
			return fmt.Errorf("failed to add to status index: %w", err)
		}

		return nil
	})
}

// ListLogs returns logs newest first
func (s *Store) ListLogs(ctx context.Context, filter storage.LogFilter) ([]*storage.EmailLog, error) {
	logs := []*storage.EmailLog{}

	err := s.db.View(func(tx *bolt.Tx) error {
		skipped := 0
		return s.scan(tx, filter, func(l *storage.EmailLog) bool {
			if skipped < filter.Offset {
				skipped++
				return true
			}
			logs = append(logs, l)
			return filter.Limit <= 0 || len(logs) < filter.Limit
		})
	})

	return logs, err
}

// CountLogs counts logs matching the filter, ignoring Limit and Offset
func (s *Store) CountLogs(ctx context.Context, filter storage.LogFilter) (int, error) {
	count := 0

	err := s.db.View(func(tx *bolt.Tx) error {
		if filter.Since.IsZero() && filter.Status == "" {
			count = tx.Bucket(bucketLogs).Stats().KeyN
			return nil
		}
		return s.scan(tx, filter, func(*storage.EmailLog) bool {
			count++
			return true
		})
	})

	return count, err
}

// scan walks an index newest first and calls fn for each matching log until fn returns false
func (s *Store) scan(tx *bolt.Tx, filter storage.LogFilter, fn func(*storage.EmailLog) bool) error {
	logBucket := tx.Bucket(bucketLogs)

	var (
		c      *bolt.Cursor
		prefix []byte
	)
	if filter.Status != "" {
		c = tx.Bucket(bucketLogsByStatus).Cursor()
		prefix = []byte(string(filter.Status) + "|")
	} else {
		c = tx.Bucket(bucketLogsByTime).Cursor()
	}

	k, v := lastWithPrefix(c, prefix)
	for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
		if !filter.Since.IsZero() && parseTimestampFromKey(k).Before(filter.Since) {
			break // All remaining are older
		}

		data := logBucket.Get(v)
		if data == nil {
			continue
		}

		var l storage.EmailLog
		if err := json.Unmarshal(data, &l); err != nil {
			continue
		}

		if !fn(&l) {
			return nil
		}
	}

	return nil
}

// lastWithPrefix positions the cursor on the last key carrying prefix
func lastWithPrefix(c *bolt.Cursor, prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return c.Last()
	}

	// Seek to the first key past the prefix range and step back
	end := append(bytes.Clone(prefix[:len(prefix)-1]), prefix[len(prefix)-1]+1)
	k, _ := c.Seek(end)
	if k == nil {
		return c.Last()
	}
	return c.Prev()
}

// DeleteLog removes a log entry and its indexes
func (s *Store) DeleteLog(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		logBucket := tx.Bucket(bucketLogs)

		data := logBucket.Get([]byte(id))
		if data == nil {
			return storage.ErrNotFound
		}

		var l storage.EmailLog
		if err := json.Unmarshal(data, &l); err == nil {
			tx.Bucket(bucketLogsByTime).Delete(makeIndexKey(l.Timestamp, l.ID))
			tx.Bucket(bucketLogsByStatus).Delete(makeStatusKey(l.Status, l.Timestamp, l.ID))
		}

		return logBucket.Delete([]byte(id))
	})
}

// DeleteLogsBefore removes logs with a timestamp before cutoff
func (s *Store) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		logBucket := tx.Bucket(bucketLogs)
		c := tx.Bucket(bucketLogsByTime).Cursor()

		var toDelete []*storage.EmailLog
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if !parseTimestampFromKey(k).Before(cutoff) {
				break // All remaining are newer
			}

			l := &storage.EmailLog{ID: string(v), Timestamp: parseTimestampFromKey(k)}
			if data := logBucket.Get(v); data != nil {
				json.Unmarshal(data, l)
			}
			toDelete = append(toDelete, l)
		}

		for _, l := range toDelete {
			if err := tx.Bucket(bucketLogsByTime).Delete(makeIndexKey(l.Timestamp, l.ID)); err != nil {
				return err
			}
			if l.Status != "" {
				if err := tx.Bucket(bucketLogsByStatus).Delete(makeStatusKey(l.Status, l.Timestamp, l.ID)); err != nil {
					return err
				}
			}
			if err := logBucket.Delete([]byte(l.ID)); err != nil {
				return err
			}
			deleted++
		}

		return nil
	})

	return deleted, err
}
