package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
	"github.com/go-playground/validator/v10"
)

// Password reset outcomes reported to metrics
const (
	resetOutcomeIssued      = "issued"
	resetOutcomeRateLimited = "rate_limited"
	resetOutcomeIgnored     = "ignored"
	resetOutcomeFailed      = "failed"
	resetOutcomeCompleted   = "completed"
	resetOutcomeRejected    = "rejected"
)

const maxResetTokenLength = 256

// ResetRateLimiter throttles reset requests per address
type ResetRateLimiter interface {
	IsRateLimited(ctx context.Context, identifier string) models.RateLimitStatus
	RecordFailedAttempt(ctx context.Context, identifier string) (*models.RateLimitRecord, bool, error)
}

// ResetAdminStore looks up and updates admin credentials
type ResetAdminStore interface {
	GetByEmail(ctx context.Context, email string) (*models.Admin, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// ResetTokenStore keeps hashed single-use reset tokens
type ResetTokenStore interface {
	Create(ctx context.Context, adminID, tokenHash string, expiresAt time.Time) error
	Consume(ctx context.Context, tokenHash string, now time.Time) (string, error)
}

// SessionTerminator ends the live session of an identity
type SessionTerminator interface {
	SignOut(ctx context.Context, uid string) error
}

// PasswordResetService issues and redeems password reset links. Requests
// are throttled per address and answer the same way whether or not the
// account exists.
type PasswordResetService struct {
	limiter  ResetRateLimiter
	admins   ResetAdminStore
	tokens   ResetTokenStore
	mailer   ResetMailer
	sessions SessionTerminator
	timing   auth.Delayer
	tokenTTL time.Duration
	validate *validator.Validate
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time

	mail sync.WaitGroup
}

// NewPasswordResetService creates a PasswordResetService. A nil mailer
// stores tokens without delivering them; timing may be nil.
func NewPasswordResetService(
	limiter ResetRateLimiter,
	admins ResetAdminStore,
	tokens ResetTokenStore,
	mailer ResetMailer,
	sessions SessionTerminator,
	timing auth.Delayer,
	tokenTTL time.Duration,
	logger *slog.Logger,
	metrics *Metrics,
) *PasswordResetService {
	return &PasswordResetService{
		limiter:  limiter,
		admins:   admins,
		tokens:   tokens,
		mailer:   mailer,
		sessions: sessions,
		timing:   timing,
		tokenTTL: tokenTTL,
		validate: validator.New(),
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// RequestPasswordReset mails a reset link when email belongs to an active,
// approved admin. Only malformed input is reported; throttling, unknown
// accounts and delivery failures are logged and swallowed.
func (s *PasswordResetService) RequestPasswordReset(ctx context.Context, email string) error {
	start := time.Now()

	email = pkgauth.NormalizeEmail(email)
	if err := s.validate.Var(email, "required,email,max=254"); err != nil {
		return models.NewValidationError(models.CodeInvalidInput, "A valid email address is required", nil)
	}
	defer func() {
		if s.timing != nil {
			s.timing.WaitFrom(ctx, start, false)
		}
	}()

	outcome := s.requestReset(ctx, email)
	s.metrics.PasswordReset(outcome)
	return nil
}

func (s *PasswordResetService) requestReset(ctx context.Context, email string) string {
	identifier := pkgauth.ResetIdentifier(email)
	masked := pkglogger.SanitizedEmail(email)

	if status := s.limiter.IsRateLimited(ctx, identifier); status.IsLimited {
		s.logger.Warn("password reset blocked by rate limiter",
			slog.String("email", masked),
			slog.String("reason", status.Reason))
		return resetOutcomeRateLimited
	}
	if _, _, err := s.limiter.RecordFailedAttempt(ctx, identifier); err != nil {
		s.logger.Error("failed to count password reset request", slog.String("email", masked), slog.Any("error", err))
	}

	admin, err := s.admins.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("password reset requested for unknown account", slog.String("email", masked))
			return resetOutcomeIgnored
		}
		s.logger.Error("failed to look up admin for password reset", slog.String("email", masked), slog.Any("error", err))
		return resetOutcomeFailed
	}
	if admin.Disabled || admin.ApprovalStatus != models.ApprovalApproved {
		s.logger.Info("password reset requested for inactive account",
			slog.String("email", masked),
			slog.String("approval_status", admin.ApprovalStatus))
		return resetOutcomeIgnored
	}

	token, err := newResetToken()
	if err != nil {
		s.logger.Error("failed to generate reset token", slog.Any("error", err))
		return resetOutcomeFailed
	}
	expiresAt := s.now().Add(s.tokenTTL)
	if err := s.tokens.Create(ctx, admin.ID, pkgauth.HashIdentifier(token), expiresAt); err != nil {
		s.logger.Error("failed to store reset token", slog.String("admin_id", admin.ID), slog.Any("error", err))
		return resetOutcomeFailed
	}

	if s.mailer == nil {
		s.logger.Warn("password reset mail is disabled, link not delivered", slog.String("admin_id", admin.ID))
		return resetOutcomeIssued
	}
	s.dispatchMail(admin.ID, admin.Email, token, expiresAt)
	return resetOutcomeIssued
}

// dispatchMail delivers the link outside the request so delivery time
// does not reveal whether the account exists
func (s *PasswordResetService) dispatchMail(adminID, email, token string, expiresAt time.Time) {
	s.mail.Add(1)
	go func() {
		defer s.mail.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.mailer.SendPasswordReset(ctx, email, token, expiresAt); err != nil {
			s.logger.Error("password reset mail failed",
				slog.String("admin_id", adminID),
				slog.Any("error", err))
		}
	}()
}

// Wait blocks until in-flight reset mails have finished
func (s *PasswordResetService) Wait() {
	s.mail.Wait()
}

// ResetPassword redeems token and sets newPassword. The token is consumed
// only once the new password passes the policy. Any live session of the
// admin is ended.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" || len(token) > maxResetTokenLength {
		s.metrics.PasswordReset(resetOutcomeRejected)
		return models.NewValidationError(models.CodeInvalidResetToken, "The reset link is invalid or has expired", nil)
	}
	if err := pkgauth.ValidatePassword(newPassword); err != nil {
		return models.NewValidationError(models.CodeWeakPassword, "The new password does not meet the password policy", nil)
	}

	adminID, err := s.tokens.Consume(ctx, pkgauth.HashIdentifier(token), s.now())
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.metrics.PasswordReset(resetOutcomeRejected)
			return models.NewValidationError(models.CodeInvalidResetToken, "The reset link is invalid or has expired", nil)
		}
		return models.NewSecurityError(models.CodeInternal, models.SeverityHigh, err, nil)
	}

	hash, err := pkgauth.HashPassword(newPassword)
	if err != nil {
		return models.NewSecurityError(models.CodeInternal, models.SeverityHigh, err, nil)
	}
	if err := s.admins.UpdatePassword(ctx, adminID, hash); err != nil {
		return models.NewSecurityError(models.CodeInternal, models.SeverityHigh, fmt.Errorf("update password: %w", err), nil)
	}

	if err := s.sessions.SignOut(ctx, adminID); err != nil {
		s.logger.Error("failed to end session after password reset", slog.String("admin_id", adminID), slog.Any("error", err))
	}

	s.metrics.PasswordReset(resetOutcomeCompleted)
	s.logger.Info("password reset completed", slog.String("admin_id", adminID))
	return nil
}

func newResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
