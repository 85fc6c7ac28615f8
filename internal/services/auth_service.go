package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
	"github.com/go-playground/validator/v10"
)

// Login outcomes reported to metrics
const (
	outcomeSuccess     = "success"
	outcomeRateLimited = "rate_limited"
	outcomeFailed      = "failed"
	outcomeUnapproved  = "unapproved"
)

// LoginRateLimiter is the rate limiter as seen by the login flow
type LoginRateLimiter interface {
	IsRateLimited(ctx context.Context, identifier string) models.RateLimitStatus
	RecordFailedAttempt(ctx context.Context, identifier string) (*models.RateLimitRecord, bool, error)
	ClearAttempts(ctx context.Context, identifier string) error
}

// LoginMonitor is the security monitor as seen by the login flow
type LoginMonitor interface {
	AnalyzeLoginAttempt(ctx context.Context, in models.LoginAnalysis)
	RecordSecurityEvent(ctx context.Context, event *models.SecurityEvent) error
}

// ApprovalLookup returns the authorization status of an identity
type ApprovalLookup interface {
	ApprovalStatus(ctx context.Context, uid string) (string, error)
}

// SessionTokenIssuer mints session tokens for approved identities
type SessionTokenIssuer interface {
	IssueSessionToken(identity *models.Identity) (token string, sessionID string, expiresAt time.Time, err error)
}

// LoginRequest is one login attempt
type LoginRequest struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,max=1024"`
	Client   models.ClientInfo
}

// LoginResult is returned for a successful, approved login
type LoginResult struct {
	Token     string           `json:"token"`
	SessionID string           `json:"session_id"`
	ExpiresAt time.Time        `json:"expires_at"`
	Identity  *models.Identity `json:"-"`
}

// AuthService sequences the login protocol: rate limit check, credential
// verification, approval check, then limiter and monitor updates.
type AuthService struct {
	limiter   LoginRateLimiter
	monitor   LoginMonitor
	idp       IdentityProvider
	approvals ApprovalLookup
	tokens    SessionTokenIssuer
	timing    auth.Delayer
	validate  *validator.Validate
	logger    *slog.Logger
	metrics   *Metrics
}

// NewAuthService creates a new AuthService. timing may be nil.
func NewAuthService(
	limiter LoginRateLimiter,
	monitor LoginMonitor,
	idp IdentityProvider,
	approvals ApprovalLookup,
	tokens SessionTokenIssuer,
	timing auth.Delayer,
	logger *slog.Logger,
	metrics *Metrics,
) *AuthService {
	return &AuthService{
		limiter:   limiter,
		monitor:   monitor,
		idp:       idp,
		approvals: approvals,
		tokens:    tokens,
		timing:    timing,
		validate:  validator.New(),
		logger:    logger,
		metrics:   metrics,
	}
}

func (s *AuthService) delay(ctx context.Context, start time.Time, success bool) {
	if s.timing != nil {
		s.timing.WaitFrom(ctx, start, success)
	}
}

// Login runs one login attempt. Errors are always *models.SecurityError.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	start := time.Now()

	req.Email = pkgauth.NormalizeEmail(req.Email)
	if err := s.validate.Struct(req); err != nil {
		return nil, models.NewValidationError(models.CodeInvalidInput,
			"A valid email address and password are required", nil)
	}

	identifier := pkgauth.EmailIdentifier(req.Email)
	maskedEmail := pkglogger.SanitizedEmail(req.Email)

	if status := s.limiter.IsRateLimited(ctx, identifier); status.IsLimited {
		s.logger.Warn("login blocked by rate limiter",
			slog.String("email", maskedEmail),
			slog.String("reason", status.Reason))

		s.monitor.AnalyzeLoginAttempt(ctx, models.LoginAnalysis{
			Email:         req.Email,
			FailureReason: models.FailureReasonRateLimited,
			Client:        req.Client,
		})
		_ = s.monitor.RecordSecurityEvent(ctx, s.event(req, models.EventRateLimitExceeded, models.SeverityMedium, models.EventDetails{
			"reason":              status.Reason,
			"retry_after_seconds": int(status.TimeRemaining.Seconds()),
		}))
		s.metrics.LoginAttempt(outcomeRateLimited)
		s.delay(ctx, start, false)

		code := models.CodeRateLimited
		if status.Reason == models.RateLimitReasonLockout {
			code = models.CodeLockedOut
		}
		return nil, models.NewRateLimitError(code, status.TimeRemaining, map[string]any{"reason": status.Reason})
	}

	identity, err := s.idp.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		providerCode := ProviderErrorCode(err)
		s.logger.Info("login failed",
			slog.String("email", maskedEmail),
			slog.String("provider_code", providerCode))

		s.recordFailure(ctx, req, identifier)
		s.monitor.AnalyzeLoginAttempt(ctx, models.LoginAnalysis{
			Email:         req.Email,
			FailureReason: failureReasonFor(providerCode),
			Client:        req.Client,
		})
		s.metrics.LoginAttempt(outcomeFailed)
		s.delay(ctx, start, false)
		return nil, mapProviderError(providerCode, err)
	}

	status, err := s.approvals.ApprovalStatus(ctx, identity.UID)
	if err != nil || status != models.ApprovalApproved {
		if err != nil {
			s.logger.Error("failed to verify approval status",
				slog.String("uid", identity.UID),
				slog.Any("error", err))
		}
		if signOutErr := s.idp.SignOut(ctx, identity.UID); signOutErr != nil {
			s.logger.Error("failed to sign out unapproved identity",
				slog.String("uid", identity.UID),
				slog.Any("error", signOutErr))
		}

		s.monitor.AnalyzeLoginAttempt(ctx, models.LoginAnalysis{
			Email:         req.Email,
			UserID:        identity.UID,
			FailureReason: models.FailureReasonNotApproved,
			Client:        req.Client,
		})
		s.metrics.LoginAttempt(outcomeUnapproved)
		s.delay(ctx, start, false)

		if err != nil {
			return nil, models.NewSecurityError(models.CodeInternal, models.SeverityHigh, err, nil)
		}

		_ = s.monitor.RecordSecurityEvent(ctx, s.event(req, models.EventUnauthorizedAccess, models.SeverityMedium, models.EventDetails{
			"admin_id":        identity.UID,
			"approval_status": status,
		}))
		return nil, models.NewAuthenticationError(approvalCode(status), nil, map[string]any{"approval_status": status})
	}

	if err := s.limiter.ClearAttempts(ctx, identifier); err != nil {
		s.logger.Error("failed to clear rate limit", slog.String("email", maskedEmail), slog.Any("error", err))
	}

	s.monitor.AnalyzeLoginAttempt(ctx, models.LoginAnalysis{
		Email:   req.Email,
		Success: true,
		UserID:  identity.UID,
		Client:  req.Client,
	})

	token, sessionID, expiresAt, err := s.tokens.IssueSessionToken(identity)
	if err != nil {
		s.logger.Error("failed to issue session token", slog.String("uid", identity.UID), slog.Any("error", err))
		_ = s.idp.SignOut(ctx, identity.UID)
		return nil, models.NewSecurityError(models.CodeInternal, models.SeverityHigh, err, nil)
	}

	s.metrics.LoginAttempt(outcomeSuccess)
	s.logger.Info("admin logged in", slog.String("uid", identity.UID))
	s.delay(ctx, start, true)

	return &LoginResult{
		Token:     token,
		SessionID: sessionID,
		ExpiresAt: expiresAt,
		Identity:  identity,
	}, nil
}

// Logout signs the identity out, which also stops its session timer
func (s *AuthService) Logout(ctx context.Context, uid string) error {
	if err := s.idp.SignOut(ctx, uid); err != nil {
		return models.NewSecurityError(models.CodeInternal, models.SeverityLow, err, nil)
	}
	return nil
}

// recordFailure counts the failure in the rate limiter and reports the
// transition into escalation lockout.
func (s *AuthService) recordFailure(ctx context.Context, req LoginRequest, identifier string) {
	rec, newlyLocked, err := s.limiter.RecordFailedAttempt(ctx, identifier)
	if err != nil {
		s.logger.Error("failed to record failed attempt",
			slog.String("email", pkglogger.SanitizedEmail(req.Email)),
			slog.Any("error", err))
		return
	}
	if !newlyLocked {
		return
	}

	_ = s.monitor.RecordSecurityEvent(ctx, s.event(req, models.EventAccountLockout, models.SeverityHigh, models.EventDetails{
		"escalation_count": rec.EscalationCount,
		"locked_at":        rec.LastAttempt.UTC().Format(time.RFC3339),
	}))
}

func (s *AuthService) event(req LoginRequest, t models.SecurityEventType, sev models.Severity, details models.EventDetails) *models.SecurityEvent {
	email := req.Email
	event := &models.SecurityEvent{Type: t, Severity: sev, Email: &email, Details: details}
	if req.Client.IPAddress != "" {
		ip := req.Client.IPAddress
		event.IPAddress = &ip
	}
	if req.Client.UserAgent != "" {
		ua := req.Client.UserAgent
		event.UserAgent = &ua
	}
	return event
}

func failureReasonFor(providerCode string) string {
	switch providerCode {
	case ProviderInvalidCredential:
		return models.FailureReasonInvalidCredentials
	case ProviderUserDisabled:
		return models.FailureReasonUserDisabled
	case ProviderTooManyRequests:
		return models.FailureReasonProviderThrottled
	default:
		return models.FailureReasonProviderError
	}
}

// providerRetryAfter is reported when the provider throttles without a hint
const providerRetryAfter = time.Minute

func mapProviderError(providerCode string, cause error) *models.SecurityError {
	switch providerCode {
	case ProviderInvalidCredential:
		return models.NewAuthenticationError(models.CodeInvalidCredentials, cause, nil)
	case ProviderUserDisabled:
		return models.NewAuthenticationError(models.CodeAccountDisabled, cause, nil)
	case ProviderTooManyRequests:
		return models.NewRateLimitError(models.CodeProviderThrottled, providerRetryAfter, nil)
	default:
		return models.NewSecurityError(models.CodeProviderUnavailable, models.SeverityHigh, cause, nil)
	}
}

func approvalCode(status string) string {
	switch status {
	case models.ApprovalPending:
		return models.CodeAccountPending
	case models.ApprovalRejected, models.ApprovalRevoked:
		return models.CodeAccountRejected
	default:
		return models.CodeInvalidCredentials
	}
}
