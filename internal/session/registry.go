package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// ErrNoSession is returned for identities without a live session
var ErrNoSession = errors.New("no active session")

// SignOuter forces an identity out through the identity provider
type SignOuter interface {
	SignOut(ctx context.Context, uid string) error
}

// AuthStateSource publishes sign-in/sign-out notifications
type AuthStateSource interface {
	Subscribe(listener func(models.AuthStateEvent)) func()
}

// Hooks observe session lifecycle transitions. Both may be nil.
type Hooks struct {
	OnWarning func(uid, email string, remaining time.Duration)
	OnTimeout func(uid, email string)
}

type entry struct {
	timer *Timer
	email string
}

// Registry keeps one idle timer per signed-in identity. Timers are armed on
// sign-in, torn down on sign-out, and on expiry the identity is signed out
// through the provider.
type Registry struct {
	clock     Clock
	config    Config
	signOuter SignOuter
	hooks     Hooks
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry
func NewRegistry(clock Clock, config Config, signOuter SignOuter, hooks Hooks, logger *slog.Logger) *Registry {
	return &Registry{
		clock:     clock,
		config:    config,
		signOuter: signOuter,
		hooks:     hooks,
		logger:    logger,
		entries:   make(map[string]*entry),
	}
}

// Attach subscribes the registry to source and returns the unsubscribe func
func (r *Registry) Attach(source AuthStateSource) func() {
	return source.Subscribe(r.HandleAuthState)
}

// HandleAuthState applies one sign-in/sign-out notification
func (r *Registry) HandleAuthState(event models.AuthStateEvent) {
	switch event.Type {
	case models.AuthStateSignedIn:
		r.signedIn(event.UID, event.Email)
	case models.AuthStateSignedOut:
		r.signedOut(event.UID)
	}
}

func (r *Registry) signedIn(uid, email string) {
	e := &entry{email: email}
	e.timer = NewTimer(r.clock, r.config, Callbacks{
		OnWarning: func(remaining time.Duration) { r.warned(uid, e, remaining) },
		OnTimeout: func() { r.expired(uid, e) },
	})

	r.mu.Lock()
	previous := r.entries[uid]
	r.entries[uid] = e
	r.mu.Unlock()

	if previous != nil {
		previous.timer.Stop()
	}
	e.timer.Start()

	r.logger.Debug("session timer armed", slog.String("uid", uid))
}

func (r *Registry) signedOut(uid string) {
	r.mu.Lock()
	e := r.entries[uid]
	delete(r.entries, uid)
	r.mu.Unlock()

	if e != nil {
		e.timer.Stop()
		r.logger.Debug("session timer stopped", slog.String("uid", uid))
	}
}

func (r *Registry) warned(uid string, e *entry, remaining time.Duration) {
	r.logger.Info("session about to expire",
		slog.String("uid", uid),
		slog.Duration("remaining", remaining))

	if r.hooks.OnWarning != nil {
		r.hooks.OnWarning(uid, e.email, remaining)
	}
}

func (r *Registry) expired(uid string, e *entry) {
	r.mu.Lock()
	current := r.entries[uid]
	if current == e {
		delete(r.entries, uid)
	}
	r.mu.Unlock()

	if current != e {
		return
	}

	r.logger.Info("session expired after inactivity", slog.String("uid", uid))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.signOuter.SignOut(ctx, uid); err != nil {
		r.logger.Error("forced sign-out failed", slog.String("uid", uid), slog.Any("error", err))
	}

	if r.hooks.OnTimeout != nil {
		r.hooks.OnTimeout(uid, e.email)
	}
}

func (r *Registry) lookup(uid string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[uid]
	if !ok {
		return nil, ErrNoSession
	}
	return e, nil
}

// Activity feeds one user interaction to uid's timer and reports whether
// it reset the timer.
func (r *Registry) Activity(uid, kind string) (bool, error) {
	e, err := r.lookup(uid)
	if err != nil {
		return false, err
	}
	return e.timer.Activity(kind), nil
}

// Extend restarts uid's timer from now
func (r *Registry) Extend(uid string) (Status, error) {
	e, err := r.lookup(uid)
	if err != nil {
		return Status{}, err
	}
	if !e.timer.Extend() {
		return Status{}, ErrNoSession
	}
	return e.timer.Status(), nil
}

// Status returns uid's timer snapshot
func (r *Registry) Status(uid string) (Status, error) {
	e, err := r.lookup(uid)
	if err != nil {
		return Status{}, err
	}
	return e.timer.Status(), nil
}

// IsActive reports whether uid has a running session
func (r *Registry) IsActive(uid string) bool {
	e, err := r.lookup(uid)
	if err != nil {
		return false
	}
	s := e.timer.Status().State
	return s == StateActive || s == StateWarning
}

// Close stops every timer
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.timer.Stop()
	}
}
