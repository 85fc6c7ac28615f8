package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Store errors
	ErrConcurrentUpdate = errors.New("concurrent update conflict")

	// Security monitor errors
	ErrInvalidSecurityEvent = errors.New("invalid security event")
)

// ErrorKind is the closed set of security error variants
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindAuthentication ErrorKind = "authentication"
	KindRateLimit      ErrorKind = "rate_limit"
	KindSecurity       ErrorKind = "security"
)

// Error codes surfaced to callers
const (
	CodeInvalidInput        = "invalid_input"
	CodeInvalidCredentials  = "invalid_credentials"
	CodeAccountPending      = "account_pending"
	CodeAccountRejected     = "account_rejected"
	CodeAccountDisabled     = "account_disabled"
	CodeRateLimited         = "rate_limited"
	CodeLockedOut           = "locked_out"
	CodeProviderThrottled   = "provider_throttled"
	CodeProviderUnavailable = "provider_unavailable"
	CodeInvalidResetToken   = "invalid_reset_token"
	CodeWeakPassword        = "weak_password"
	CodeInternal            = "internal_error"
)

// SecurityError is the tagged error variant used across the login control plane.
// Dispatch on Kind, never on the concrete type.
type SecurityError struct {
	Kind        ErrorKind
	Code        string
	Severity    Severity
	UserMessage string
	Context     map[string]any
	Timestamp   time.Time
	RetryAfter  time.Duration // set for KindRateLimit only
	Err         error
}

func (e *SecurityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s/%s: %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, e.UserMessage)
}

func (e *SecurityError) Unwrap() error {
	return e.Err
}

// NewValidationError reports malformed, user-correctable input
func NewValidationError(code, message string, ctx map[string]any) *SecurityError {
	return &SecurityError{
		Kind:        KindValidation,
		Code:        code,
		Severity:    SeverityLow,
		UserMessage: message,
		Context:     ctx,
		Timestamp:   time.Now().UTC(),
	}
}

// NewAuthenticationError reports bad credentials or an unapproved account.
// The user message is always generic so provider codes are never echoed.
func NewAuthenticationError(code string, cause error, ctx map[string]any) *SecurityError {
	return &SecurityError{
		Kind:        KindAuthentication,
		Code:        code,
		Severity:    SeverityMedium,
		UserMessage: "Authentication failed",
		Context:     ctx,
		Timestamp:   time.Now().UTC(),
		Err:         cause,
	}
}

// NewRateLimitError blocks an attempt and carries the retry-after duration
func NewRateLimitError(code string, retryAfter time.Duration, ctx map[string]any) *SecurityError {
	return &SecurityError{
		Kind:        KindRateLimit,
		Code:        code,
		Severity:    SeverityMedium,
		UserMessage: fmt.Sprintf("Too many failed login attempts. Please try again in %s.", humanizeDuration(retryAfter)),
		Context:     ctx,
		Timestamp:   time.Now().UTC(),
		RetryAfter:  retryAfter,
	}
}

// NewSecurityError is the catch-all for anything not otherwise classified
func NewSecurityError(code string, severity Severity, cause error, ctx map[string]any) *SecurityError {
	return &SecurityError{
		Kind:        KindSecurity,
		Code:        code,
		Severity:    severity,
		UserMessage: "An unexpected error occurred",
		Context:     ctx,
		Timestamp:   time.Now().UTC(),
		Err:         cause,
	}
}

// AsSecurityError extracts a *SecurityError from an error chain
func AsSecurityError(err error) (*SecurityError, bool) {
	var se *SecurityError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func humanizeDuration(d time.Duration) string {
	minutes := int((d + time.Minute - 1) / time.Minute)
	switch {
	case minutes <= 1:
		return "1 minute"
	case minutes < 60:
		return fmt.Sprintf("%d minutes", minutes)
	default:
		hours := (minutes + 59) / 60
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
}
