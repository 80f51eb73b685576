// Package relay sends email through a primary provider with fallback to a secondary one.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/falak/mailrelay/internal/metrics"
	"github.com/falak/mailrelay/internal/provider"
	"github.com/falak/mailrelay/internal/ratelimit"
	"github.com/falak/mailrelay/internal/storage"
)

// DefaultTimeout bounds a single provider attempt
const DefaultTimeout = 30 * time.Second

// Config contains orchestrator settings
type Config struct {
	Timeout  time.Duration // Per attempt timeout
	Defaults provider.Defaults
}

// Result is the outcome of a send request
type Result struct {
	Success  bool              `json:"success"`
	Message  string            `json:"message"`
	Provider string            `json:"provider,omitempty"`
	LogID    string            `json:"logId"`
	Status   storage.LogStatus `json:"-"`
}

// Service tries the primary provider, then the secondary, and logs the outcome once
type Service struct {
	primary   provider.Provider
	secondary provider.Provider
	tracker   *ratelimit.Tracker
	logs      storage.LogStore
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a send orchestrator
func NewService(primary, secondary provider.Provider, tracker *ratelimit.Tracker, logs storage.LogStore, cfg Config, logger *slog.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Service{
		primary:   primary,
		secondary: secondary,
		tracker:   tracker,
		logs:      logs,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Providers returns the primary and secondary provider
func (s *Service) Providers() []provider.Provider {
	return []provider.Provider{s.primary, s.secondary}
}

// Tracker returns the backoff tracker
func (s *Service) Tracker() *ratelimit.Tracker {
	return s.tracker
}

// Send delivers req and records exactly one log entry. apiKeyID may be empty.
func (s *Service) Send(ctx context.Context, req *Request, apiKeyID string) *Result {
	// A send that has started runs to completion even if the caller disconnects
	ctx = context.WithoutCancel(ctx)

	logID := uuid.New().String()
	timestamp := s.now().UTC()

	msg := (&provider.Message{
		To:         req.To,
		Subject:    req.Subject,
		Text:       req.Body,
		HTML:       req.HTML,
		From:       req.From,
		SenderName: req.SenderName,
		ReplyTo:    req.ReplyTo,
	}).Normalize(s.cfg.Defaults)

	entry := &storage.EmailLog{
		ID:        logID,
		Timestamp: timestamp,
		Recipient: req.To,
		Subject:   req.Subject,
		Sender:    msg.From,
		APIKeyID:  apiKeyID,
	}

	s.logger.Debug("attempting primary provider", "provider", s.primary.Name(), "log_id", logID)
	primaryErr := s.attempt(ctx, s.primary, msg)
	if primaryErr == nil {
		entry.Status = storage.StatusSuccess
		entry.Provider = s.primary.Name()
		s.record(ctx, entry)
		s.logger.Info("email sent", "provider", s.primary.Name(), "log_id", logID)

		return &Result{
			Success:  true,
			Message:  "Email sent successfully via " + s.primary.DisplayName(),
			Provider: s.primary.Name(),
			LogID:    logID,
			Status:   entry.Status,
		}
	}

	s.logger.Info("primary provider failed, falling back",
		"primary", s.primary.Name(),
		"secondary", s.secondary.Name(),
		"log_id", logID,
	)
	secondaryErr := s.attempt(ctx, s.secondary, msg)
	if secondaryErr == nil {
		entry.Status = storage.StatusFallback
		entry.Provider = s.secondary.Name()
		s.record(ctx, entry)
		s.logger.Info("email sent", "provider", s.secondary.Name(), "fallback", true, "log_id", logID)

		return &Result{
			Success:  true,
			Message:  "Email sent successfully via " + s.secondary.DisplayName() + " (fallback)",
			Provider: s.secondary.Name(),
			LogID:    logID,
			Status:   entry.Status,
		}
	}

	errorMessage := fmt.Sprintf("%s: %s; %s: %s",
		s.primary.DisplayName(), primaryErr.Detail,
		s.secondary.DisplayName(), secondaryErr.Detail,
	)

	// Failed sends are attributed to the primary provider
	entry.Status = storage.StatusFailed
	entry.Provider = s.primary.Name()
	entry.ErrorMessage = errorMessage
	s.record(ctx, entry)
	s.logger.Error("all providers failed", "log_id", logID, "error", errorMessage)

	return &Result{
		Success: false,
		Message: "Failed to send email. " + errorMessage,
		LogID:   logID,
		Status:  entry.Status,
	}
}

// attempt sends through p unless it is in backoff. A rate limited failure starts the backoff.
func (s *Service) attempt(ctx context.Context, p provider.Provider, msg *provider.Message) *provider.Failure {
	name := p.Name()

	if s.tracker.IsLimited(name) {
		metrics.ObserveProviderAttempt(name, "skipped", 0)
		s.logger.Debug("skipping provider in backoff", "provider", name)
		return &provider.Failure{
			Kind:   provider.KindRateLimited,
			Detail: p.DisplayName() + " rate limited, in backoff period",
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	start := time.Now()
	failure := p.Send(attemptCtx, msg)
	elapsed := time.Since(start).Seconds()

	if failure == nil {
		metrics.ObserveProviderAttempt(name, "success", elapsed)
		return nil
	}

	metrics.ObserveProviderAttempt(name, failure.Kind.String(), elapsed)
	s.logger.Warn("provider send failed",
		"provider", name,
		"kind", failure.Kind.String(),
		"status", failure.StatusCode,
		"error", failure.Detail,
	)

	if failure.Kind == provider.KindRateLimited {
		until := s.tracker.MarkLimited(name)
		metrics.IncProviderBackoff(name)
		s.logger.Warn("provider rate limited, backing off",
			"provider", name,
			"until", until.Format(time.RFC3339),
		)
	}

	return failure
}

// record writes the log entry; failures do not change the send result
func (s *Service) record(ctx context.Context, entry *storage.EmailLog) {
	metrics.IncEmails(entry.Provider, string(entry.Status))

	if err := s.logs.AddLog(ctx, entry); err != nil {
		s.logger.Error("failed to write email log", "log_id", entry.ID, "error", err)
	}
}
