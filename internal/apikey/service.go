package apikey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/falak/mailrelay/internal/storage"
)

var (
	// ErrUnauthorized covers every reason a presented key is rejected
	ErrUnauthorized = errors.New("invalid or missing API key")

	// ErrNameRequired is returned when creating or renaming with an empty name
	ErrNameRequired = errors.New("name is required")
)

// CreateResult is returned when a key is created or rotated.
// Key holds the plaintext, which is shown only once.
type CreateResult struct {
	storage.APIKey
	Key string `json:"key"`
}

// Service manages the API key lifecycle
type Service struct {
	store  storage.KeyStore
	hasher *Hasher
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new API key service
func NewService(store storage.KeyStore, hasher *Hasher, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		hasher: hasher,
		logger: logger,
		now:    time.Now,
	}
}

// Create issues a new active key
func (s *Service) Create(ctx context.Context, name string) (*CreateResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}

	key, err := Generate()
	if err != nil {
		return nil, err
	}

	record := &storage.APIKey{
		ID:         uuid.New().String(),
		Name:       name,
		KeyHash:    s.hasher.Hash(key),
		KeyPrefix:  DisplayPrefix(key),
		IsActive:   true,
		CreatedAt:  s.now(),
		UsageCount: 0,
	}

	if err := s.store.CreateKey(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}

	s.logger.Info("API key created", "id", record.ID, "name", record.Name, "prefix", record.KeyPrefix)

	return &CreateResult{APIKey: *record, Key: key}, nil
}

// Rotate replaces the secret of a key. The old secret stops working immediately.
func (s *Service) Rotate(ctx context.Context, id string) (*CreateResult, error) {
	key, err := Generate()
	if err != nil {
		return nil, err
	}

	record, err := s.store.UpdateKey(ctx, id, func(k *storage.APIKey) error {
		k.KeyHash = s.hasher.Hash(key)
		k.KeyPrefix = DisplayPrefix(key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rotate API key: %w", err)
	}

	s.logger.Info("API key rotated", "id", record.ID, "prefix", record.KeyPrefix)

	return &CreateResult{APIKey: *record, Key: key}, nil
}

// Toggle flips the active flag and returns the new value
func (s *Service) Toggle(ctx context.Context, id string) (bool, error) {
	record, err := s.store.UpdateKey(ctx, id, func(k *storage.APIKey) error {
		k.IsActive = !k.IsActive
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to toggle API key: %w", err)
	}

	s.logger.Info("API key toggled", "id", record.ID, "active", record.IsActive)
	return record.IsActive, nil
}

// Rename changes the display name of a key
func (s *Service) Rename(ctx context.Context, id, name string) (*storage.APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}

	record, err := s.store.UpdateKey(ctx, id, func(k *storage.APIKey) error {
		k.Name = name
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rename API key: %w", err)
	}
	return record, nil
}

// Delete permanently removes a key
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteKey(ctx, id); err != nil {
		return fmt.Errorf("failed to delete API key: %w", err)
	}
	s.logger.Info("API key deleted", "id", id)
	return nil
}

// Get returns key metadata
func (s *Service) Get(ctx context.Context, id string) (*storage.APIKey, error) {
	return s.store.GetKey(ctx, id)
}

// List returns key metadata, newest first
func (s *Service) List(ctx context.Context, activeOnly bool) ([]*storage.APIKey, error) {
	return s.store.ListKeys(ctx, activeOnly)
}

// RecordUsage bumps the usage counter. Failures are logged, never returned.
func (s *Service) RecordUsage(ctx context.Context, id string) {
	if err := s.store.TouchKey(ctx, id, s.now()); err != nil {
		s.logger.Warn("failed to record API key usage", "id", id, "error", err)
	}
}

// Authenticate resolves an Authorization header to an active key.
// Rejected keys return ErrUnauthorized; store failures return a wrapped error.
func (s *Service) Authenticate(ctx context.Context, header string) (*storage.APIKey, error) {
	key := ParseHeader(header)
	if key == "" {
		return nil, ErrUnauthorized
	}

	hash := s.hasher.Hash(key)
	record, err := s.store.GetKeyByHash(ctx, hash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}

	if !s.hasher.Verify(key, record.KeyHash) || !record.IsActive {
		return nil, ErrUnauthorized
	}

	return record, nil
}
