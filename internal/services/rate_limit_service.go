package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/BradenHooton/gatekeeper/pkg/auth"
)

// RateLimitStore is the persisted record store behind the rate limiter.
// Update must apply fn atomically with respect to other writers of key.
type RateLimitStore interface {
	Get(ctx context.Context, key string) (*models.RateLimitRecord, error)
	Update(ctx context.Context, key string, fn repositories.RateLimitUpdateFunc) error
	Delete(ctx context.Context, key string) error
}

// RateLimitConfig holds configuration for rate limiting behavior
type RateLimitConfig struct {
	MaxAttempts         int           // failures allowed per base window
	Window              time.Duration // base sliding window
	EscalationThreshold int           // failures within EscalationWindow that trigger a lockout
	EscalationWindow    time.Duration // lockout length, measured from the last attempt
}

// DefaultRateLimitConfig returns 5 per 15 minutes escalating to a one hour
// lockout after 10 failures within an hour.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxAttempts:         5,
		Window:              15 * time.Minute,
		EscalationThreshold: 10,
		EscalationWindow:    time.Hour,
	}
}

// RateLimitService throttles failed logins per hashed identifier
type RateLimitService struct {
	store   RateLimitStore
	config  RateLimitConfig
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(store RateLimitStore, config RateLimitConfig, logger *slog.Logger, metrics *Metrics) *RateLimitService {
	return &RateLimitService{
		store:   store,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// IsRateLimited reports whether identifier is currently blocked. Store
// errors fail open so an unavailable store never locks admins out.
func (s *RateLimitService) IsRateLimited(ctx context.Context, identifier string) models.RateLimitStatus {
	key := auth.HashIdentifier(identifier)

	rec, err := s.store.Get(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		return models.RateLimitStatus{}
	}
	if err != nil {
		s.logger.Error("failed to check rate limit", slog.String("key", key), slog.Any("error", err))
		return models.RateLimitStatus{}
	}

	status := s.evaluate(rec, s.now())
	if status.IsLimited {
		s.logger.Warn("identifier rate limited",
			slog.String("key", key),
			slog.String("reason", status.Reason),
			slog.Duration("time_remaining", status.TimeRemaining))
		s.metrics.RateLimitDenied(status.Reason)
	}
	return status
}

func (s *RateLimitService) evaluate(rec *models.RateLimitRecord, now time.Time) models.RateLimitStatus {
	if rec.IsLockedOut {
		remaining := s.config.EscalationWindow - now.Sub(rec.LastAttempt)
		if remaining > 0 {
			return models.RateLimitStatus{
				IsLimited:     true,
				TimeRemaining: remaining,
				Reason:        models.RateLimitReasonLockout,
			}
		}
		// lockout expired; base window rules apply
	}

	elapsed := now.Sub(rec.FirstAttempt)
	if rec.Count >= s.config.MaxAttempts && elapsed < s.config.Window {
		return models.RateLimitStatus{
			IsLimited:     true,
			TimeRemaining: s.config.Window - elapsed,
			Reason:        models.RateLimitReasonWindow,
		}
	}

	return models.RateLimitStatus{}
}

// RecordFailedAttempt counts one failure for identifier and returns the
// stored record. newlyLocked is true when this failure triggered the
// escalation lockout.
func (s *RateLimitService) RecordFailedAttempt(ctx context.Context, identifier string) (rec *models.RateLimitRecord, newlyLocked bool, err error) {
	key := auth.HashIdentifier(identifier)
	now := s.now()

	err = s.store.Update(ctx, key, func(current *models.RateLimitRecord) (*models.RateLimitRecord, error) {
		wasLocked := current != nil && current.IsLockedOut
		next := s.applyFailure(key, current, now)
		rec = next
		newlyLocked = next.IsLockedOut && !wasLocked
		return next, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to record failed attempt: %w", err)
	}

	if newlyLocked {
		s.logger.Warn("identifier locked out",
			slog.String("key", key),
			slog.Int("escalation_count", rec.EscalationCount),
			slog.Duration("lockout", s.config.EscalationWindow))
		s.metrics.Lockout()
	}

	return rec, newlyLocked, nil
}

// applyFailure is the pure read-modify-write step of RecordFailedAttempt
func (s *RateLimitService) applyFailure(key string, current *models.RateLimitRecord, now time.Time) *models.RateLimitRecord {
	if current == nil {
		return &models.RateLimitRecord{
			Key:             key,
			Count:           1,
			FirstAttempt:    now,
			LastAttempt:     now,
			EscalationCount: 1,
			EscalationStart: now,
			IsLockedOut:     s.config.EscalationThreshold <= 1,
		}
	}

	next := *current
	next.Key = key

	// An expired lockout is cleared before the new failure is counted.
	if next.IsLockedOut && now.Sub(next.LastAttempt) >= s.config.EscalationWindow {
		next.IsLockedOut = false
		next.Count = 0
		next.FirstAttempt = now
		next.EscalationCount = 0
		next.EscalationStart = now
	}

	if !next.IsLockedOut && now.Sub(next.EscalationStart) >= s.config.EscalationWindow {
		next.EscalationCount = 0
		next.EscalationStart = now
	}

	if !next.IsLockedOut && now.Sub(next.FirstAttempt) >= s.config.Window {
		next.Count = 1
		next.FirstAttempt = now
	} else {
		next.Count++
	}

	next.EscalationCount++
	next.LastAttempt = now

	if next.EscalationCount >= s.config.EscalationThreshold {
		next.IsLockedOut = true
	}

	return &next
}

// ClearAttempts forgets all failures for identifier
func (s *RateLimitService) ClearAttempts(ctx context.Context, identifier string) error {
	key := auth.HashIdentifier(identifier)
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to clear attempts: %w", err)
	}
	return nil
}

// GetAttemptInfo projects the record for UI feedback. Failures outside an
// elapsed base window no longer count against the remaining attempts.
func (s *RateLimitService) GetAttemptInfo(ctx context.Context, identifier string) (*models.AttemptInfo, error) {
	key := auth.HashIdentifier(identifier)

	rec, err := s.store.Get(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		return &models.AttemptInfo{RemainingAttempts: s.config.MaxAttempts}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts: %w", err)
	}

	now := s.now()
	lockedOut := rec.IsLockedOut && now.Sub(rec.LastAttempt) < s.config.EscalationWindow

	count := rec.Count
	if !lockedOut && now.Sub(rec.FirstAttempt) >= s.config.Window {
		count = 0
	}

	remaining := s.config.MaxAttempts - count
	if remaining < 0 || lockedOut {
		remaining = 0
	}

	first, last := rec.FirstAttempt, rec.LastAttempt
	return &models.AttemptInfo{
		Count:             count,
		RemainingAttempts: remaining,
		FirstAttempt:      &first,
		LastAttempt:       &last,
		IsLockedOut:       lockedOut,
	}, nil
}
