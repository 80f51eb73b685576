package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/falak/mailrelay/internal/storage"
)

const keyColumns = `id, name, key_hash, key_prefix, is_active, created_at, last_used, usage_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*storage.APIKey, error) {
	var (
		k        storage.APIKey
		created  int64
		lastUsed sql.NullInt64
	)
	if err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.IsActive, &created, &lastUsed, &k.UsageCount); err != nil {
		return nil, err
	}

	k.CreatedAt = fromNanos(created)
	if lastUsed.Valid {
		t := fromNanos(lastUsed.Int64)
		k.LastUsed = &t
	}
	return &k, nil
}

// CreateKey inserts a new API key
func (s *Store) CreateKey(ctx context.Context, k *storage.APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (`+keyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.Name, k.KeyHash, k.KeyPrefix, k.IsActive, toNanos(k.CreatedAt), lastUsedValue(k.LastUsed), k.UsageCount,
	)
	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}
	return nil
}

// GetKey returns an API key by ID
func (s *Store) GetKey(ctx context.Context, id string) (*storage.APIKey, error) {
	return s.getKey(ctx, s.db, id)
}

// GetKeyByHash returns an API key by its hash (for authentication)
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*storage.APIKey, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+keyColumns+" FROM api_keys WHERE key_hash = ?", hash)
	k, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return k, err
}

// ListKeys returns API keys, newest first
func (s *Store) ListKeys(ctx context.Context, activeOnly bool) ([]*storage.APIKey, error) {
	query := "SELECT " + keyColumns + " FROM api_keys"
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	defer rows.Close()

	keys := []*storage.APIKey{}
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	return keys, rows.Err()
}

// UpdateKey applies fn to the stored key inside a transaction
func (s *Store) UpdateKey(ctx context.Context, id string, fn func(k *storage.APIKey) error) (*storage.APIKey, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	k, err := s.getKey(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := fn(k); err != nil {
		return nil, err
	}
	k.ID = id

	_, err = tx.ExecContext(ctx, `
		UPDATE api_keys
		SET name = ?, key_hash = ?, key_prefix = ?, is_active = ?, last_used = ?, usage_count = ?
		WHERE id = ?`,
		k.Name, k.KeyHash, k.KeyPrefix, k.IsActive, lastUsedValue(k.LastUsed), k.UsageCount, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update API key: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return k, nil
}

// TouchKey increments the usage counter and sets lastUsed
func (s *Store) TouchKey(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET usage_count = usage_count + 1, last_used = ? WHERE id = ?",
		toNanos(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to record API key usage: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteKey permanently deletes an API key
func (s *Store) DeleteKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM api_keys WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getKey(ctx context.Context, q queryRower, id string) (*storage.APIKey, error) {
	k, err := scanKey(q.QueryRowContext(ctx, "SELECT "+keyColumns+" FROM api_keys WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return k, err
}

func lastUsedValue(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}
