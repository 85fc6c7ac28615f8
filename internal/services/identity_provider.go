package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/pkg/auth"
	"github.com/BradenHooton/gatekeeper/pkg/logger"
	"golang.org/x/time/rate"
)

// Coded identity provider failures
const (
	ProviderInvalidCredential = "invalid-credential"
	ProviderTooManyRequests   = "too-many-requests"
	ProviderUserDisabled      = "user-disabled"
	ProviderNetworkFailure    = "network-failure"
)

// ProviderError is a coded failure returned by an IdentityProvider
type ProviderError struct {
	Code string
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identity provider: %s: %v", e.Code, e.Err)
	}
	return "identity provider: " + e.Code
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ProviderErrorCode extracts the provider code from err, defaulting to
// network-failure for uncoded errors.
func ProviderErrorCode(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ProviderNetworkFailure
}

// IdentityProvider authenticates credentials and publishes sign-in state
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*models.Identity, error)
	SignOut(ctx context.Context, uid string) error
	Subscribe(listener func(models.AuthStateEvent)) func()
}

// AdminStore is the account lookup behind the local identity provider
type AdminStore interface {
	GetByEmail(ctx context.Context, email string) (*models.Admin, error)
	GetByID(ctx context.Context, id string) (*models.Admin, error)
}

// ProviderThrottle bounds sign-in calls per account inside the provider,
// independently of the login rate limiter.
type ProviderThrottle struct {
	Every time.Duration
	Burst int
}

const maxThrottledAccounts = 10000

// LocalIdentityProvider verifies bcrypt password hashes stored in the
// admins table and fans sign-in/sign-out notifications out to subscribers.
type LocalIdentityProvider struct {
	admins   AdminStore
	throttle ProviderThrottle
	logger   *slog.Logger
	now      func() time.Time

	// bcrypt hash compared when the account does not exist, so unknown
	// accounts cost the same as wrong passwords
	dummyHash string

	mu          sync.Mutex
	subscribers map[int]func(models.AuthStateEvent)
	nextSubID   int
	limiters    map[string]*rate.Limiter
}

// NewLocalIdentityProvider creates a provider over admins
func NewLocalIdentityProvider(admins AdminStore, throttle ProviderThrottle, logger *slog.Logger) (*LocalIdentityProvider, error) {
	dummy, err := auth.HashPassword("gatekeeper-placeholder-password")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare provider: %w", err)
	}

	return &LocalIdentityProvider{
		admins:      admins,
		throttle:    throttle,
		logger:      logger,
		now:         time.Now,
		dummyHash:   dummy,
		subscribers: make(map[int]func(models.AuthStateEvent)),
		limiters:    make(map[string]*rate.Limiter),
	}, nil
}

func (p *LocalIdentityProvider) allow(email string) bool {
	if p.throttle.Every <= 0 {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	lim, ok := p.limiters[email]
	if !ok {
		if len(p.limiters) >= maxThrottledAccounts {
			p.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(rate.Every(p.throttle.Every), p.throttle.Burst)
		p.limiters[email] = lim
	}
	return lim.AllowN(p.now(), 1)
}

// SignIn verifies credentials and publishes a signed_in event on success
func (p *LocalIdentityProvider) SignIn(ctx context.Context, email, password string) (*models.Identity, error) {
	email = auth.NormalizeEmail(email)

	if !p.allow(email) {
		return nil, &ProviderError{Code: ProviderTooManyRequests}
	}

	admin, err := p.admins.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			_ = auth.ComparePassword(p.dummyHash, password)
			return nil, &ProviderError{Code: ProviderInvalidCredential}
		}
		return nil, &ProviderError{Code: ProviderNetworkFailure, Err: err}
	}

	if err := auth.ComparePassword(admin.PasswordHash, password); err != nil {
		return nil, &ProviderError{Code: ProviderInvalidCredential}
	}

	if admin.Disabled {
		return nil, &ProviderError{Code: ProviderUserDisabled}
	}

	identity := &models.Identity{UID: admin.ID, Email: admin.Email, Role: admin.Role}
	p.publish(models.AuthStateEvent{
		Type:  models.AuthStateSignedIn,
		UID:   identity.UID,
		Email: identity.Email,
		At:    p.now(),
	})

	p.logger.Info("identity signed in", slog.String("email", logger.SanitizedEmail(identity.Email)))
	return identity, nil
}

// SignOut publishes a signed_out event for uid
func (p *LocalIdentityProvider) SignOut(ctx context.Context, uid string) error {
	p.publish(models.AuthStateEvent{
		Type: models.AuthStateSignedOut,
		UID:  uid,
		At:   p.now(),
	})
	p.logger.Info("identity signed out", slog.String("uid", uid))
	return nil
}

// Subscribe registers listener for auth state events and returns a
// function that removes it. Listeners are called synchronously, after the
// state change and outside the provider's lock, so a session armed on
// sign-in exists before SignIn returns.
func (p *LocalIdentityProvider) Subscribe(listener func(models.AuthStateEvent)) func() {
	p.mu.Lock()
	id := p.nextSubID
	p.nextSubID++
	p.subscribers[id] = listener
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subscribers, id)
			p.mu.Unlock()
		})
	}
}

func (p *LocalIdentityProvider) publish(event models.AuthStateEvent) {
	p.mu.Lock()
	listeners := make([]func(models.AuthStateEvent), 0, len(p.subscribers))
	for _, l := range p.subscribers {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l(event)
	}
}

// ApprovalService answers authorization status for authenticated identities
type ApprovalService struct {
	admins AdminStore
}

// NewApprovalService creates an ApprovalService
func NewApprovalService(admins AdminStore) *ApprovalService {
	return &ApprovalService{admins: admins}
}

// ApprovalStatus returns pending, approved, rejected or revoked for uid
func (s *ApprovalService) ApprovalStatus(ctx context.Context, uid string) (string, error) {
	admin, err := s.admins.GetByID(ctx, uid)
	if err != nil {
		return "", fmt.Errorf("failed to load approval status: %w", err)
	}
	return admin.ApprovalStatus, nil
}
