package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/pkg/auth"
	"github.com/BradenHooton/gatekeeper/pkg/logger"
	"github.com/google/uuid"
)

const maxDetailKeyLength = 64

// Dashboard alert thresholds over the last hour of recent login activity
const (
	surgeFailures      = 10
	bruteForceFailures = 15
	bruteForceEmails   = 5
)

// LoginActivityStore persists the login audit trail
type LoginActivityStore interface {
	Create(ctx context.Context, a *models.LoginActivity) error
	ListRecent(ctx context.Context, limit int) ([]*models.LoginActivity, error)
	ListRecentByEmail(ctx context.Context, email string, limit int) ([]*models.LoginActivity, error)
	ListRecentSuccesses(ctx context.Context, adminID string, exclude uuid.UUID, limit int) ([]*models.LoginActivity, error)
}

// SecurityEventStore persists the security event log
type SecurityEventStore interface {
	Create(ctx context.Context, e *models.SecurityEvent) error
	List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error)
	CountsSince(ctx context.Context, since time.Time) ([]models.EventTypeCount, error)
	Resolve(ctx context.Context, id uuid.UUID, resolvedBy string, at time.Time) (*models.SecurityEvent, error)
}

// DeviceProfileStore persists known devices per admin
type DeviceProfileStore interface {
	Get(ctx context.Context, adminID, fingerprint string) (*models.DeviceProfile, error)
	Upsert(ctx context.Context, adminID, email, fingerprint, location string, at time.Time) (*models.DeviceProfile, error)
}

// MonitorConfig tunes anomaly detection
type MonitorConfig struct {
	RecentActivity     int           // attempts inspected for brute-force patterns
	BruteForceFailures int           // failures among them that raise BRUTE_FORCE
	LocationHistory    int           // prior successful logins compared for LOCATION_CHANGE
	StepTimeout        time.Duration // bound on each analysis step
	AlertMinSeverity   models.Severity
	// RepeatWindow collapses repeated events of a repeatable type for the
	// same email (or IP) into the first one. Zero disables suppression.
	RepeatWindow time.Duration
}

// repeatableEvents fire on every request while their condition persists
var repeatableEvents = map[models.SecurityEventType]bool{
	models.EventRateLimitExceeded: true,
	models.EventBruteForce:        true,
}

// DefaultMonitorConfig returns 3-of-5 brute-force detection, a two login
// location history and a repeat window equal to the limiter window.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		RecentActivity:     5,
		BruteForceFailures: 3,
		LocationHistory:    2,
		StepTimeout:        5 * time.Second,
		AlertMinSeverity:   models.SeverityHigh,
		RepeatWindow:       15 * time.Minute,
	}
}

// SecurityMonitor records login activity, derives anomaly events and keeps
// the security event log. Analysis is telemetry: failures are logged and
// never returned to the login flow.
type SecurityMonitor struct {
	activity LoginActivityStore
	events   SecurityEventStore
	devices  DeviceProfileStore
	ip       IPResolver
	alerter  Alerter
	config   MonitorConfig
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time

	mu        sync.Mutex
	lastSeen  map[string]time.Time
	lastSweep time.Time

	alerts sync.WaitGroup
}

// NewSecurityMonitor creates a SecurityMonitor. ip and alerter may be nil.
func NewSecurityMonitor(
	activity LoginActivityStore,
	events SecurityEventStore,
	devices DeviceProfileStore,
	ip IPResolver,
	alerter Alerter,
	config MonitorConfig,
	logger *slog.Logger,
	metrics *Metrics,
) *SecurityMonitor {
	return &SecurityMonitor{
		activity: activity,
		events:   events,
		devices:  devices,
		ip:       ip,
		alerter:  alerter,
		config:   config,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
}

// step runs one analysis step with its own timeout, logging instead of
// propagating errors and panics.
func (m *SecurityMonitor) step(ctx context.Context, name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.StepTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("security analysis step panicked",
				slog.String("step", name),
				slog.Any("panic", p))
		}
	}()

	if err := fn(ctx); err != nil {
		m.logger.Error("security analysis step failed",
			slog.String("step", name),
			slog.Any("error", err))
	}
}

// AnalyzeLoginAttempt writes the LoginActivity record and then runs the
// brute-force, new-device and location checks and the device upsert. The
// audit write comes first so the attempt is visible to its own checks.
func (m *SecurityMonitor) AnalyzeLoginAttempt(ctx context.Context, in models.LoginAnalysis) {
	now := m.now().UTC()
	email := auth.NormalizeEmail(in.Email)

	ip := logger.SanitizeText(in.Client.IPAddress, 64)
	if ip == "" || ip == UnknownIP {
		ip = UnknownIP
		if m.ip != nil {
			m.step(ctx, "ip_lookup", func(ctx context.Context) error {
				ip = m.ip.PublicIP(ctx)
				return nil
			})
		}
	}

	userAgent := logger.SanitizeText(in.Client.UserAgent, logger.MaxFreeTextLength)
	timezone := logger.SanitizeText(in.Client.Timezone, 64)
	fingerprint := DeviceFingerprint(in.Client.UserAgent, in.Client.AcceptLanguage, in.Client.Platform)

	activity := &models.LoginActivity{
		ID:          uuid.New(),
		Email:       email,
		LoginTime:   now,
		IPAddress:   ip,
		UserAgent:   userAgent,
		Status:      models.LoginStatusSuccess,
		Fingerprint: fingerprint,
		Timezone:    timezone,
	}
	if in.UserID != "" {
		uid := in.UserID
		activity.AdminID = &uid
	}
	if !in.Success {
		activity.Status = models.LoginStatusFailed
		if in.FailureReason != "" {
			reason := in.FailureReason
			activity.FailureReason = &reason
		}
	}

	m.step(ctx, "record_activity", func(ctx context.Context) error {
		return m.activity.Create(ctx, activity)
	})

	base := eventContext{email: email, ip: ip, userAgent: userAgent}

	m.step(ctx, "brute_force", func(ctx context.Context) error {
		return m.checkBruteForce(ctx, base)
	})

	if !in.Success || in.UserID == "" {
		return
	}

	m.step(ctx, "new_device", func(ctx context.Context) error {
		return m.checkNewDevice(ctx, base, in.UserID, fingerprint)
	})

	m.step(ctx, "location_change", func(ctx context.Context) error {
		return m.checkLocationChange(ctx, base, in.UserID, activity.ID, timezone)
	})

	m.step(ctx, "device_profile", func(ctx context.Context) error {
		_, err := m.devices.Upsert(ctx, in.UserID, email, fingerprint, timezone, now)
		return err
	})
}

type eventContext struct {
	email     string
	ip        string
	userAgent string
}

func (m *SecurityMonitor) newEvent(base eventContext, t models.SecurityEventType, s models.Severity, details models.EventDetails) *models.SecurityEvent {
	event := &models.SecurityEvent{
		Type:     t,
		Severity: s,
		Details:  details,
	}
	if base.email != "" {
		email := base.email
		event.Email = &email
	}
	if base.ip != "" {
		ip := base.ip
		event.IPAddress = &ip
	}
	if base.userAgent != "" {
		ua := base.userAgent
		event.UserAgent = &ua
	}
	return event
}

func (m *SecurityMonitor) checkBruteForce(ctx context.Context, base eventContext) error {
	recent, err := m.activity.ListRecentByEmail(ctx, base.email, m.config.RecentActivity)
	if err != nil {
		return fmt.Errorf("load recent activity: %w", err)
	}

	failures := 0
	for _, a := range recent {
		if a.Failed() {
			failures++
		}
	}
	if failures < m.config.BruteForceFailures {
		return nil
	}

	return m.RecordSecurityEvent(ctx, m.newEvent(base, models.EventBruteForce, models.SeverityHigh, models.EventDetails{
		"failure_count":   failures,
		"attempts_window": len(recent),
	}))
}

func (m *SecurityMonitor) checkNewDevice(ctx context.Context, base eventContext, adminID, fingerprint string) error {
	_, err := m.devices.Get(ctx, adminID, fingerprint)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("load device profile: %w", err)
	}

	return m.RecordSecurityEvent(ctx, m.newEvent(base, models.EventNewDevice, models.SeverityMedium, models.EventDetails{
		"admin_id":    adminID,
		"fingerprint": fingerprint,
	}))
}

func (m *SecurityMonitor) checkLocationChange(ctx context.Context, base eventContext, adminID string, current uuid.UUID, timezone string) error {
	if timezone == "" {
		return nil
	}

	history, err := m.activity.ListRecentSuccesses(ctx, adminID, current, m.config.LocationHistory)
	if err != nil {
		return fmt.Errorf("load login history: %w", err)
	}
	if len(history) < m.config.LocationHistory {
		return nil
	}

	previous := make([]string, 0, len(history))
	for _, a := range history {
		previous = append(previous, a.Timezone)
	}
	if slices.Contains(previous, timezone) {
		return nil
	}

	return m.RecordSecurityEvent(ctx, m.newEvent(base, models.EventLocationChange, models.SeverityMedium, models.EventDetails{
		"admin_id":           adminID,
		"current_timezone":   timezone,
		"previous_timezones": previous,
	}))
}

// RecordSecurityEvent validates, sanitizes and persists event. Invalid
// events are logged and dropped with ErrInvalidSecurityEvent.
func (m *SecurityMonitor) RecordSecurityEvent(ctx context.Context, event *models.SecurityEvent) error {
	if !event.Type.Valid() || !event.Severity.Valid() {
		m.logger.Warn("dropping invalid security event",
			slog.String("type", logger.SanitizeText(string(event.Type), maxDetailKeyLength)),
			slog.String("severity", logger.SanitizeText(string(event.Severity), maxDetailKeyLength)))
		return fmt.Errorf("%w: type %q severity %q", models.ErrInvalidSecurityEvent, event.Type, event.Severity)
	}

	sanitizeEvent(event)
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now().UTC()
	}
	event.Resolved = false
	event.ResolvedAt = nil
	event.ResolvedBy = nil

	key := repeatKey(event)
	if key != "" && !m.claimRepeat(key, event.Timestamp) {
		m.logger.Debug("suppressing repeated security event", slog.String("type", string(event.Type)))
		m.metrics.SecurityEventSuppressed(event.Type)
		return nil
	}

	if err := m.events.Create(ctx, event); err != nil {
		if key != "" {
			m.releaseRepeat(key)
		}
		m.logger.Error("failed to persist security event",
			slog.String("type", string(event.Type)),
			slog.Any("error", err))
		return fmt.Errorf("failed to record security event: %w", err)
	}

	attrs := []any{
		slog.String("event_id", event.ID.String()),
		slog.String("type", string(event.Type)),
		slog.String("severity", string(event.Severity)),
	}
	if event.Email != nil {
		attrs = append(attrs, slog.String("email", logger.SanitizedEmail(*event.Email)))
	}
	m.logger.Warn("security event recorded", attrs...)
	m.metrics.SecurityEvent(event.Type, event.Severity)

	if m.alerter != nil && event.Severity.AtLeast(m.config.AlertMinSeverity) {
		m.dispatchAlert(event)
	}
	return nil
}

func repeatKey(e *models.SecurityEvent) string {
	if !repeatableEvents[e.Type] {
		return ""
	}
	switch {
	case e.Email != nil:
		return string(e.Type) + "|email|" + *e.Email
	case e.IPAddress != nil:
		return string(e.Type) + "|ip|" + *e.IPAddress
	default:
		return ""
	}
}

// claimRepeat reports whether key may be recorded at now and marks it
// seen. Expired keys are swept at most once per window.
func (m *SecurityMonitor) claimRepeat(key string, now time.Time) bool {
	window := m.config.RepeatWindow
	if window <= 0 {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastSweep) >= window {
		for k, seen := range m.lastSeen {
			if now.Sub(seen) >= window {
				delete(m.lastSeen, k)
			}
		}
		m.lastSweep = now
	}

	if seen, ok := m.lastSeen[key]; ok && now.Sub(seen) < window {
		return false
	}
	m.lastSeen[key] = now
	return true
}

func (m *SecurityMonitor) releaseRepeat(key string) {
	m.mu.Lock()
	delete(m.lastSeen, key)
	m.mu.Unlock()
}

// dispatchAlert sends the alert outside the caller's request lifetime
func (m *SecurityMonitor) dispatchAlert(event *models.SecurityEvent) {
	alert := *event
	m.alerts.Add(1)
	go func() {
		defer m.alerts.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := m.alerter.SendSecurityAlert(ctx, &alert); err != nil {
			m.logger.Error("security alert failed",
				slog.String("event_id", alert.ID.String()),
				slog.Any("error", err))
		}
	}()
}

// Wait blocks until in-flight alerts have finished
func (m *SecurityMonitor) Wait() {
	m.alerts.Wait()
}

func sanitizeEvent(e *models.SecurityEvent) {
	sanitizeOptional := func(s *string) *string {
		if s == nil {
			return nil
		}
		v := logger.SanitizeText(*s, logger.MaxFreeTextLength)
		if v == "" {
			return nil
		}
		return &v
	}

	e.Email = sanitizeOptional(e.Email)
	e.IPAddress = sanitizeOptional(e.IPAddress)
	e.UserAgent = sanitizeOptional(e.UserAgent)
	e.Details = sanitizeDetails(e.Details)
}

func sanitizeDetails(details models.EventDetails) models.EventDetails {
	out := make(models.EventDetails, len(details))
	for k, v := range details {
		key := logger.SanitizeText(k, maxDetailKeyLength)
		if key == "" {
			continue
		}
		out[key] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return logger.SanitizeText(val, logger.MaxFreeTextLength)
	case []string:
		cleaned := make([]string, len(val))
		for i, s := range val {
			cleaned[i] = logger.SanitizeText(s, logger.MaxFreeTextLength)
		}
		return cleaned
	case []any:
		cleaned := make([]any, len(val))
		for i, item := range val {
			cleaned[i] = sanitizeValue(item)
		}
		return cleaned
	case map[string]any:
		return map[string]any(sanitizeDetails(val))
	case models.EventDetails:
		return map[string]any(sanitizeDetails(val))
	default:
		return val
	}
}

// GetSecurityMetrics aggregates events of the last windowHours hours
// (24 when windowHours is not positive).
func (m *SecurityMonitor) GetSecurityMetrics(ctx context.Context, windowHours int) (*models.SecurityMetrics, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	since := m.now().Add(-time.Duration(windowHours) * time.Hour)

	counts, err := m.events.CountsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate security events: %w", err)
	}

	metrics := &models.SecurityMetrics{
		WindowHours: windowHours,
		ByType:      make(map[models.SecurityEventType]int),
	}
	for _, c := range counts {
		metrics.Total += c.Count
		metrics.ByType[c.Type] += c.Count
		switch c.Severity {
		case models.SeverityCritical:
			metrics.Critical += c.Count
		case models.SeverityHigh:
			metrics.High += c.Count
		}
		if !c.Resolved {
			metrics.Unresolved += c.Count
		}
	}
	return metrics, nil
}

// ListRecentActivity returns the newest login attempts. limit defaults to
// DefaultActivityLimit and is capped at MaxActivityLimit.
func (m *SecurityMonitor) ListRecentActivity(ctx context.Context, limit int) ([]*models.LoginActivity, error) {
	if limit <= 0 {
		limit = models.DefaultActivityLimit
	}
	limit = min(limit, models.MaxActivityLimit)

	activity, err := m.activity.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list login activity: %w", err)
	}
	return activity, nil
}

// SummarizeActivity counts outcomes and distinct addresses in activity and
// raises dashboard alerts from the failures of the hour before now.
func SummarizeActivity(activity []*models.LoginActivity, now time.Time) models.LoginActivitySummary {
	summary := models.LoginActivitySummary{Total: len(activity), Alerts: []string{}}
	ips := make(map[string]struct{})
	failedEmails := make(map[string]struct{})
	hourAgo := now.Add(-time.Hour)

	for _, a := range activity {
		ips[a.IPAddress] = struct{}{}
		if !a.Failed() {
			summary.Successes++
			continue
		}
		summary.Failures++
		if a.LoginTime.After(hourAgo) {
			summary.FailuresLastHour++
			failedEmails[a.Email] = struct{}{}
		}
	}
	summary.UniqueIPs = len(ips)
	summary.FailedEmailsLastHour = len(failedEmails)

	if summary.FailuresLastHour > surgeFailures {
		summary.Alerts = append(summary.Alerts, models.AlertFailureSurge)
	}
	if summary.FailedEmailsLastHour > bruteForceEmails && summary.FailuresLastHour > bruteForceFailures {
		summary.Alerts = append(summary.Alerts, models.AlertPossibleBruteForce)
	}
	return summary
}

// LoginActivityReport returns the newest login attempts with their summary
func (m *SecurityMonitor) LoginActivityReport(ctx context.Context, limit int) ([]*models.LoginActivity, models.LoginActivitySummary, error) {
	activity, err := m.ListRecentActivity(ctx, limit)
	if err != nil {
		return nil, models.LoginActivitySummary{}, err
	}
	return activity, SummarizeActivity(activity, m.now()), nil
}

// ListEvents returns events matching filter, newest first
func (m *SecurityMonitor) ListEvents(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", models.ErrInvalidSecurityEvent, filter.Type)
	}
	if filter.MinSeverity != "" && !filter.MinSeverity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", models.ErrInvalidSecurityEvent, filter.MinSeverity)
	}

	events, err := m.events.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}
	return events, nil
}

// ResolveEvent marks an event resolved by resolvedBy
func (m *SecurityMonitor) ResolveEvent(ctx context.Context, id uuid.UUID, resolvedBy string) (*models.SecurityEvent, error) {
	by := logger.SanitizeText(resolvedBy, 255)
	event, err := m.events.Resolve(ctx, id, by, m.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve security event: %w", err)
	}

	m.logger.Info("security event resolved",
		slog.String("event_id", id.String()),
		slog.String("resolved_by", logger.SanitizedEmail(by)))
	return event, nil
}
