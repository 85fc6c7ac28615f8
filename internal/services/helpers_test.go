package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/google/uuid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ============================================================================
// Rate limit store
// ============================================================================

// memoryRateLimitStore applies updates under one mutex
type memoryRateLimitStore struct {
	mu      sync.Mutex
	records map[string]models.RateLimitRecord
	getErr  error
}

func newMemoryRateLimitStore() *memoryRateLimitStore {
	return &memoryRateLimitStore{records: make(map[string]models.RateLimitRecord)}
}

func (s *memoryRateLimitStore) Get(ctx context.Context, key string) (*models.RateLimitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.records[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &rec, nil
}

func (s *memoryRateLimitStore) Update(ctx context.Context, key string, fn repositories.RateLimitUpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *models.RateLimitRecord
	if rec, ok := s.records[key]; ok {
		current = &rec
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		delete(s.records, key)
		return nil
	}
	s.records[key] = *next
	return nil
}

func (s *memoryRateLimitStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// ============================================================================
// Monitor stores
// ============================================================================

type memoryActivityStore struct {
	mu        sync.Mutex
	items     []*models.LoginActivity
	createErr error
	listErr   error
}

func (s *memoryActivityStore) Create(ctx context.Context, a *models.LoginActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	copied := *a
	s.items = append(s.items, &copied)
	return nil
}

func (s *memoryActivityStore) ListRecent(ctx context.Context, limit int) ([]*models.LoginActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}

	var out []*models.LoginActivity
	for i := len(s.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.items[i])
	}
	return out, nil
}

func (s *memoryActivityStore) ListRecentByEmail(ctx context.Context, email string, limit int) ([]*models.LoginActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}

	var out []*models.LoginActivity
	for i := len(s.items) - 1; i >= 0 && len(out) < limit; i-- {
		if s.items[i].Email == email {
			out = append(out, s.items[i])
		}
	}
	return out, nil
}

func (s *memoryActivityStore) ListRecentSuccesses(ctx context.Context, adminID string, exclude uuid.UUID, limit int) ([]*models.LoginActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.LoginActivity
	for i := len(s.items) - 1; i >= 0 && len(out) < limit; i-- {
		a := s.items[i]
		if a.ID == exclude || a.Failed() || a.AdminID == nil || *a.AdminID != adminID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *memoryActivityStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

type memoryEventStore struct {
	mu        sync.Mutex
	events    []*models.SecurityEvent
	createErr error
}

func (s *memoryEventStore) Create(ctx context.Context, e *models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	copied := *e
	s.events = append(s.events, &copied)
	return nil
}

func (s *memoryEventStore) List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.SecurityEvent
	for _, e := range s.events {
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.MinSeverity != "" && !e.Severity.AtLeast(filter.MinSeverity) {
			continue
		}
		if filter.UnresolvedOnly && e.Resolved {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (s *memoryEventStore) CountsSince(ctx context.Context, since time.Time) ([]models.EventTypeCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type bucket struct {
		t        models.SecurityEventType
		severity models.Severity
		resolved bool
	}
	counts := make(map[bucket]int)
	for _, e := range s.events {
		if e.Timestamp.Before(since) {
			continue
		}
		counts[bucket{e.Type, e.Severity, e.Resolved}]++
	}

	out := make([]models.EventTypeCount, 0, len(counts))
	for b, n := range counts {
		out = append(out, models.EventTypeCount{Type: b.t, Severity: b.severity, Resolved: b.resolved, Count: n})
	}
	return out, nil
}

func (s *memoryEventStore) Resolve(ctx context.Context, id uuid.UUID, resolvedBy string, at time.Time) (*models.SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.events {
		if e.ID == id {
			if !e.Resolved {
				e.Resolved = true
				e.ResolvedAt = &at
				e.ResolvedBy = &resolvedBy
			}
			copied := *e
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *memoryEventStore) ofType(t models.SecurityEventType) []*models.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.SecurityEvent
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type memoryDeviceStore struct {
	mu       sync.Mutex
	profiles map[string]*models.DeviceProfile
	getErr   error
}

func newMemoryDeviceStore() *memoryDeviceStore {
	return &memoryDeviceStore{profiles: make(map[string]*models.DeviceProfile)}
}

func (s *memoryDeviceStore) Get(ctx context.Context, adminID, fingerprint string) (*models.DeviceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	p, ok := s.profiles[adminID+"|"+fingerprint]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *memoryDeviceStore) Upsert(ctx context.Context, adminID, email, fingerprint, location string, at time.Time) (*models.DeviceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := adminID + "|" + fingerprint
	p, ok := s.profiles[key]
	if !ok {
		p = &models.DeviceProfile{
			AdminID:     adminID,
			Email:       email,
			Fingerprint: fingerprint,
			FirstSeen:   at,
			TrustScore:  models.DefaultDeviceTrustScore,
		}
		s.profiles[key] = p
	}
	p.LastSeen = at
	p.LoginCount++
	if location != "" {
		found := false
		for _, l := range p.Locations {
			if l == location {
				found = true
				break
			}
		}
		if !found {
			p.Locations = append(p.Locations, location)
		}
	}
	copied := *p
	return &copied, nil
}

// ============================================================================
// Collaborator stubs
// ============================================================================

type stubIPResolver struct {
	ip    string
	calls int
}

func (s *stubIPResolver) PublicIP(ctx context.Context) string {
	s.calls++
	return s.ip
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []*models.SecurityEvent
	err    error
}

func (a *recordingAlerter) SendSecurityAlert(ctx context.Context, event *models.SecurityEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, event)
	return a.err
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

// mockIdentityProvider is a function-field stub of IdentityProvider
type mockIdentityProvider struct {
	SignInFunc  func(ctx context.Context, email, password string) (*models.Identity, error)
	SignOutFunc func(ctx context.Context, uid string) error

	signInCalls  int
	signOutCalls []string
}

func (m *mockIdentityProvider) SignIn(ctx context.Context, email, password string) (*models.Identity, error) {
	m.signInCalls++
	if m.SignInFunc != nil {
		return m.SignInFunc(ctx, email, password)
	}
	return nil, &ProviderError{Code: ProviderInvalidCredential}
}

func (m *mockIdentityProvider) SignOut(ctx context.Context, uid string) error {
	m.signOutCalls = append(m.signOutCalls, uid)
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx, uid)
	}
	return nil
}

func (m *mockIdentityProvider) Subscribe(listener func(models.AuthStateEvent)) func() {
	return func() {}
}

type mockApprovals struct {
	status string
	err    error
}

func (m *mockApprovals) ApprovalStatus(ctx context.Context, uid string) (string, error) {
	return m.status, m.err
}

type stubTokenIssuer struct {
	err error
}

func (s *stubTokenIssuer) IssueSessionToken(identity *models.Identity) (string, string, time.Time, error) {
	if s.err != nil {
		return "", "", time.Time{}, s.err
	}
	return "token-" + identity.UID, "session-1", time.Date(2026, 1, 1, 17, 0, 0, 0, time.UTC), nil
}

// mockAdminStore is an in-memory AdminStore
type mockAdminStore struct {
	byEmail map[string]*models.Admin
	err     error
}

func (m *mockAdminStore) GetByEmail(ctx context.Context, email string) (*models.Admin, error) {
	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.byEmail[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	return a, nil
}

func (m *mockAdminStore) GetByID(ctx context.Context, id string) (*models.Admin, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, a := range m.byEmail {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *mockAdminStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.err != nil {
		return m.err
	}
	for _, a := range m.byEmail {
		if a.ID == id {
			a.PasswordHash = passwordHash
			return nil
		}
	}
	return models.ErrNotFound
}

// memoryResetTokenStore keeps reset tokens keyed by hash
type memoryResetTokenStore struct {
	mu        sync.Mutex
	tokens    map[string]*models.PasswordResetToken
	createErr error
}

func newMemoryResetTokenStore() *memoryResetTokenStore {
	return &memoryResetTokenStore{tokens: make(map[string]*models.PasswordResetToken)}
}

func (s *memoryResetTokenStore) Create(ctx context.Context, adminID, tokenHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.tokens[tokenHash] = &models.PasswordResetToken{AdminID: adminID, TokenHash: tokenHash, ExpiresAt: expiresAt}
	return nil
}

func (s *memoryResetTokenStore) Consume(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenHash]
	if !ok || t.UsedAt != nil || !t.ExpiresAt.After(now) {
		return "", models.ErrNotFound
	}
	t.UsedAt = &now
	return t.AdminID, nil
}

func (s *memoryResetTokenStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

type sentReset struct {
	email     string
	token     string
	expiresAt time.Time
}

type recordingResetMailer struct {
	mu   sync.Mutex
	sent []sentReset
	err  error
}

func (m *recordingResetMailer) SendPasswordReset(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentReset{email: email, token: token, expiresAt: expiresAt})
	return m.err
}

func (m *recordingResetMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

var errStoreDown = errors.New("store unavailable")
