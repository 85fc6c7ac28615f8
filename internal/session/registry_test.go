package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSignOuter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *stubSignOuter) SignOut(ctx context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, uid)
	return s.err
}

type stubSource struct {
	listener func(models.AuthStateEvent)
	removed  bool
}

func (s *stubSource) Subscribe(listener func(models.AuthStateEvent)) func() {
	s.listener = listener
	return func() { s.removed = true }
}

type timeoutRecord struct {
	uid, email string
}

func newTestRegistry(t *testing.T, signOuter SignOuter) (*Registry, *fakeClock, *[]timeoutRecord, *[]string) {
	t.Helper()
	clock := newFakeClock()
	timeouts := &[]timeoutRecord{}
	warnings := &[]string{}
	hooks := Hooks{
		OnWarning: func(uid, email string, remaining time.Duration) { *warnings = append(*warnings, uid) },
		OnTimeout: func(uid, email string) { *timeouts = append(*timeouts, timeoutRecord{uid, email}) },
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(clock, DefaultConfig(), signOuter, hooks, logger), clock, timeouts, warnings
}

func signIn(r *Registry, uid, email string) {
	r.HandleAuthState(models.AuthStateEvent{Type: models.AuthStateSignedIn, UID: uid, Email: email})
}

func TestRegistry_SignInArmsTimer(t *testing.T) {
	r, _, _, _ := newTestRegistry(t, &stubSignOuter{})

	assert.False(t, r.IsActive("u1"))
	signIn(r, "u1", "a@example.com")
	assert.True(t, r.IsActive("u1"))

	status, err := r.Status("u1")
	require.NoError(t, err)
	assert.Equal(t, StateActive, status.State)
	assert.Equal(t, 30*time.Minute, status.Remaining)
}

func TestRegistry_ExpirySignsOut(t *testing.T) {
	signOuter := &stubSignOuter{}
	r, clock, timeouts, warnings := newTestRegistry(t, signOuter)
	signIn(r, "u1", "a@example.com")

	clock.Advance(25 * time.Minute)
	assert.Equal(t, []string{"u1"}, *warnings)
	assert.True(t, r.IsActive("u1"))

	clock.Advance(5 * time.Minute)
	assert.Equal(t, []string{"u1"}, signOuter.calls)
	assert.Equal(t, []timeoutRecord{{"u1", "a@example.com"}}, *timeouts)
	assert.False(t, r.IsActive("u1"))

	_, err := r.Status("u1")
	assert.ErrorIs(t, err, ErrNoSession)

	clock.Advance(time.Hour)
	assert.Len(t, signOuter.calls, 1)
}

func TestRegistry_ExpiryHookRunsWhenSignOutFails(t *testing.T) {
	signOuter := &stubSignOuter{err: errors.New("provider down")}
	r, clock, timeouts, _ := newTestRegistry(t, signOuter)
	signIn(r, "u1", "a@example.com")

	clock.Advance(30 * time.Minute)
	assert.Len(t, *timeouts, 1)
}

func TestRegistry_SignOutStopsTimer(t *testing.T) {
	signOuter := &stubSignOuter{}
	r, clock, timeouts, _ := newTestRegistry(t, signOuter)
	signIn(r, "u1", "a@example.com")

	r.HandleAuthState(models.AuthStateEvent{Type: models.AuthStateSignedOut, UID: "u1"})
	assert.False(t, r.IsActive("u1"))
	assert.Zero(t, clock.live())

	clock.Advance(time.Hour)
	assert.Empty(t, signOuter.calls)
	assert.Empty(t, *timeouts)
}

func TestRegistry_ActivityAndExtend(t *testing.T) {
	r, clock, timeouts, _ := newTestRegistry(t, &stubSignOuter{})
	signIn(r, "u1", "a@example.com")

	clock.Advance(20 * time.Minute)
	reset, err := r.Activity("u1", ActivityKeyDown)
	require.NoError(t, err)
	assert.True(t, reset)

	clock.Advance(20 * time.Minute)
	status, err := r.Extend("u1")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, status.Remaining)

	clock.Advance(29 * time.Minute)
	assert.Empty(t, *timeouts)
}

func TestRegistry_UnknownIdentity(t *testing.T) {
	r, _, _, _ := newTestRegistry(t, &stubSignOuter{})

	_, err := r.Activity("ghost", ActivityKeyDown)
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = r.Extend("ghost")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRegistry_SecondSignInReplacesTimer(t *testing.T) {
	signOuter := &stubSignOuter{}
	r, clock, timeouts, _ := newTestRegistry(t, signOuter)
	signIn(r, "u1", "a@example.com")

	clock.Advance(20 * time.Minute)
	signIn(r, "u1", "a@example.com")
	assert.Equal(t, 2, clock.live())

	clock.Advance(20 * time.Minute)
	assert.Empty(t, *timeouts)
	clock.Advance(10 * time.Minute)
	assert.Len(t, *timeouts, 1)
}

func TestRegistry_AttachAndClose(t *testing.T) {
	r, clock, timeouts, _ := newTestRegistry(t, &stubSignOuter{})
	source := &stubSource{}

	unsubscribe := r.Attach(source)
	require.NotNil(t, source.listener)
	source.listener(models.AuthStateEvent{Type: models.AuthStateSignedIn, UID: "u1"})
	source.listener(models.AuthStateEvent{Type: models.AuthStateSignedIn, UID: "u2"})
	assert.True(t, r.IsActive("u2"))

	r.Close()
	unsubscribe()
	assert.True(t, source.removed)
	assert.False(t, r.IsActive("u1"))
	assert.Zero(t, clock.live())

	clock.Advance(time.Hour)
	assert.Empty(t, *timeouts)
}
