package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/falak/mailrelay/internal/storage"
)

// CreateKey stores a new API key
func (s *Store) CreateKey(ctx context.Context, k *storage.APIKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		keyBucket := tx.Bucket(bucketKeys)
		hashBucket := tx.Bucket(bucketKeysByHash)

		if keyBucket.Get([]byte(k.ID)) != nil {
			return fmt.Errorf("API key %s already exists", k.ID)
		}
		if hashBucket.Get([]byte(k.KeyHash)) != nil {
			return fmt.Errorf("API key hash collision")
		}

		return putKey(tx, k)
	})
}

// GetKey returns an API key by ID
func (s *Store) GetKey(ctx context.Context, id string) (*storage.APIKey, error) {
	var k *storage.APIKey

	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		k, err = getKey(tx, id)
		return err
	})

	return k, err
}

// GetKeyByHash returns an API key by its hash
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*storage.APIKey, error) {
	var k *storage.APIKey

	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketKeysByHash).Get([]byte(hash))
		if id == nil {
			return storage.ErrNotFound
		}
		var err error
		k, err = getKey(tx, string(id))
		return err
	})

	return k, err
}

// ListKeys returns API keys, newest first
func (s *Store) ListKeys(ctx context.Context, activeOnly bool) ([]*storage.APIKey, error) {
	keys := []*storage.APIKey{}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKeys).ForEach(func(_, v []byte) error {
			var k storage.APIKey
			if err := json.Unmarshal(v, &k); err != nil {
				return nil // Skip invalid entries
			}
			if activeOnly && !k.IsActive {
				return nil
			}
			keys = append(keys, &k)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})

	return keys, nil
}

// UpdateKey applies fn to the stored key and reindexes a changed hash
func (s *Store) UpdateKey(ctx context.Context, id string, fn func(k *storage.APIKey) error) (*storage.APIKey, error) {
	var updated *storage.APIKey

	err := s.db.Update(func(tx *bolt.Tx) error {
		k, err := getKey(tx, id)
		if err != nil {
			return err
		}

		oldHash := k.KeyHash
		if err := fn(k); err != nil {
			return err
		}
		k.ID = id

		if k.KeyHash != oldHash {
			hashBucket := tx.Bucket(bucketKeysByHash)
			if hashBucket.Get([]byte(k.KeyHash)) != nil {
				return fmt.Errorf("API key hash collision")
			}
			if err := hashBucket.Delete([]byte(oldHash)); err != nil {
				return fmt.Errorf("failed to remove old hash: %w", err)
			}
		}

		if err := putKey(tx, k); err != nil {
			return err
		}
		updated = k
		return nil
	})

	return updated, err
}

// TouchKey increments the usage counter and sets lastUsed
func (s *Store) TouchKey(ctx context.Context, id string, at time.Time) error {
	_, err := s.UpdateKey(ctx, id, func(k *storage.APIKey) error {
		k.UsageCount++
		k.LastUsed = &at
		return nil
	})
	return err
}

// DeleteKey permanently deletes an API key
func (s *Store) DeleteKey(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		k, err := getKey(tx, id)
		if err != nil {
			return err
		}

		if err := tx.Bucket(bucketKeysByHash).Delete([]byte(k.KeyHash)); err != nil {
			return err
		}
		return tx.Bucket(bucketKeys).Delete([]byte(id))
	})
}

// keyRecord is the stored form of an API key; the hash is not part of the public JSON
type keyRecord struct {
	storage.APIKey
	KeyHash string `json:"key_hash"`
}

func getKey(tx *bolt.Tx, id string) (*storage.APIKey, error) {
	data := tx.Bucket(bucketKeys).Get([]byte(id))
	if data == nil {
		return nil, storage.ErrNotFound
	}

	var rec keyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal API key: %w", err)
	}

	k := rec.APIKey
	k.KeyHash = rec.KeyHash
	return &k, nil
}

func putKey(tx *bolt.Tx, k *storage.APIKey) error {
	data, err := json.Marshal(keyRecord{APIKey: *k, KeyHash: k.KeyHash})
	if err != nil {
		return fmt.Errorf("failed to marshal API key: %w", err)
	}

	if err := tx.Bucket(bucketKeys).Put([]byte(k.ID), data); err != nil {
		return fmt.Errorf("failed to store API key: %w", err)
	}
	if err := tx.Bucket(bucketKeysByHash).Put([]byte(k.KeyHash), []byte(k.ID)); err != nil {
		return fmt.Errorf("failed to index API key: %w", err)
	}
	return nil
}
