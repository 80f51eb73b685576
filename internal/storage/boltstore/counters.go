package boltstore

import (
	"context"
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"github.com/falak/mailrelay/internal/storage"
)

// LoadCounters returns all persisted quota counters
func (s *Store) LoadCounters(ctx context.Context) (map[string]*storage.QuotaCounter, error) {
	counters := make(map[string]*storage.QuotaCounter)

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCounters).ForEach(func(k, v []byte) error {
			var counter storage.QuotaCounter
			if err := json.Unmarshal(v, &counter); err != nil {
				return nil // Skip invalid entries
			}
			counters[string(k)] = &counter
			return nil
		})
	})

	return counters, err
}

// SaveCounters writes quota counters
func (s *Store) SaveCounters(ctx context.Context, counters map[string]*storage.QuotaCounter) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketCounters)

		for key, counter := range counters {
			data, err := json.Marshal(counter)
			if err != nil {
				continue
			}
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}
