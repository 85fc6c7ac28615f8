package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type monitorFixture struct {
	monitor  *SecurityMonitor
	activity *memoryActivityStore
	events   *memoryEventStore
	devices  *memoryDeviceStore
	ip       *stubIPResolver
	alerter  *recordingAlerter
	clock    *testClock
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	t.Helper()
	f := &monitorFixture{
		activity: &memoryActivityStore{},
		events:   &memoryEventStore{},
		devices:  newMemoryDeviceStore(),
		ip:       &stubIPResolver{ip: "203.0.113.9"},
		alerter:  &recordingAlerter{},
		clock:    newTestClock(),
	}
	f.monitor = NewSecurityMonitor(f.activity, f.events, f.devices, f.ip, f.alerter,
		DefaultMonitorConfig(), discardLogger(), nil)
	f.monitor.now = f.clock.Now
	return f
}

var officeClient = models.ClientInfo{
	IPAddress:      "198.51.100.7",
	UserAgent:      "Mozilla/5.0 (X11; Linux x86_64)",
	AcceptLanguage: "en-US",
	Platform:       "Linux",
	Timezone:       "Europe/Berlin",
}

func (f *monitorFixture) attempt(success bool, client models.ClientInfo) {
	in := models.LoginAnalysis{Email: "admin@example.com", Success: success, Client: client}
	if success {
		in.UserID = "admin-1"
	} else {
		in.FailureReason = models.FailureReasonInvalidCredentials
	}
	f.monitor.AnalyzeLoginAttempt(context.Background(), in)
	f.clock.Advance(time.Minute)
}

// ============================================================================
// AnalyzeLoginAttempt
// ============================================================================

func TestSecurityMonitor_RecordsActivity(t *testing.T) {
	f := newMonitorFixture(t)
	f.attempt(false, officeClient)

	require.Equal(t, 1, f.activity.len())
	a := f.activity.items[0]
	assert.Equal(t, "admin@example.com", a.Email)
	assert.Equal(t, models.LoginStatusFailed, a.Status)
	require.NotNil(t, a.FailureReason)
	assert.Equal(t, models.FailureReasonInvalidCredentials, *a.FailureReason)
	assert.Equal(t, "198.51.100.7", a.IPAddress)
	assert.Len(t, a.Fingerprint, 32)
	assert.Nil(t, a.AdminID)
	assert.Zero(t, f.ip.calls)
}

func TestSecurityMonitor_FallsBackToIPLookup(t *testing.T) {
	f := newMonitorFixture(t)
	client := officeClient
	client.IPAddress = ""

	f.attempt(false, client)
	assert.Equal(t, 1, f.ip.calls)
	assert.Equal(t, "203.0.113.9", f.activity.items[0].IPAddress)
}

func TestSecurityMonitor_UnknownRemoteAddrUsesIPLookup(t *testing.T) {
	f := newMonitorFixture(t)
	client := officeClient
	client.IPAddress = UnknownIP

	f.attempt(false, client)
	assert.Equal(t, 1, f.ip.calls)
	assert.Equal(t, "203.0.113.9", f.activity.items[0].IPAddress)
}

func TestSecurityMonitor_UnknownIPWithoutResolver(t *testing.T) {
	f := newMonitorFixture(t)
	f.monitor.ip = nil
	client := officeClient
	client.IPAddress = ""

	f.attempt(false, client)
	assert.Equal(t, UnknownIP, f.activity.items[0].IPAddress)
}

func TestSecurityMonitor_BruteForce(t *testing.T) {
	t.Run("three failures in last five emit one event", func(t *testing.T) {
		f := newMonitorFixture(t)
		f.attempt(true, officeClient)
		f.attempt(true, officeClient)
		f.attempt(false, officeClient)
		f.attempt(false, officeClient)

		assert.Empty(t, f.events.ofType(models.EventBruteForce))

		f.attempt(false, officeClient)
		events := f.events.ofType(models.EventBruteForce)
		require.Len(t, events, 1)
		assert.Equal(t, models.SeverityHigh, events[0].Severity)
		assert.Equal(t, 3, events[0].Details["failure_count"])
	})

	t.Run("two failures emit none", func(t *testing.T) {
		f := newMonitorFixture(t)
		f.attempt(true, officeClient)
		f.attempt(true, officeClient)
		f.attempt(true, officeClient)
		f.attempt(false, officeClient)
		f.attempt(false, officeClient)

		assert.Empty(t, f.events.ofType(models.EventBruteForce))
	})

	t.Run("only the five most recent count", func(t *testing.T) {
		f := newMonitorFixture(t)
		f.attempt(false, officeClient)
		f.attempt(false, officeClient)
		f.attempt(true, officeClient)
		f.attempt(true, officeClient)
		f.attempt(true, officeClient)
		f.attempt(true, officeClient)

		// window now holds four successes and one failure
		f.attempt(false, officeClient)
		assert.Empty(t, f.events.ofType(models.EventBruteForce))
	})
}

func TestSecurityMonitor_NewDevice(t *testing.T) {
	f := newMonitorFixture(t)

	f.attempt(true, officeClient)
	events := f.events.ofType(models.EventNewDevice)
	require.Len(t, events, 1)
	assert.Equal(t, models.SeverityMedium, events[0].Severity)
	assert.Equal(t, "admin-1", events[0].Details["admin_id"])

	f.attempt(true, officeClient)
	assert.Len(t, f.events.ofType(models.EventNewDevice), 1)

	profile, err := f.devices.Get(context.Background(), "admin-1",
		DeviceFingerprint(officeClient.UserAgent, officeClient.AcceptLanguage, officeClient.Platform))
	require.NoError(t, err)
	assert.Equal(t, 2, profile.LoginCount)
	assert.Equal(t, []string{"Europe/Berlin"}, profile.Locations)
	assert.Equal(t, models.DefaultDeviceTrustScore, profile.TrustScore)
}

func TestSecurityMonitor_NewDeviceNotCheckedOnFailure(t *testing.T) {
	f := newMonitorFixture(t)
	f.attempt(false, officeClient)

	assert.Empty(t, f.events.ofType(models.EventNewDevice))
	assert.Empty(t, f.devices.profiles)
}

func TestSecurityMonitor_LocationChange(t *testing.T) {
	f := newMonitorFixture(t)

	// insufficient history
	f.attempt(true, officeClient)
	travel := officeClient
	travel.Timezone = "Asia/Tokyo"
	f.attempt(true, travel)
	assert.Empty(t, f.events.ofType(models.EventLocationChange))

	// history Berlin, Tokyo
	f.attempt(true, officeClient)
	assert.Empty(t, f.events.ofType(models.EventLocationChange))

	// history Berlin, Tokyo; current absent from both
	elsewhere := officeClient
	elsewhere.Timezone = "America/Chicago"
	f.attempt(true, elsewhere)

	events := f.events.ofType(models.EventLocationChange)
	require.Len(t, events, 1)
	assert.Equal(t, models.SeverityMedium, events[0].Severity)
	assert.Equal(t, "America/Chicago", events[0].Details["current_timezone"])
	assert.ElementsMatch(t, []string{"Europe/Berlin", "Asia/Tokyo"}, events[0].Details["previous_timezones"])
}

func TestSecurityMonitor_StepFailuresAreIsolated(t *testing.T) {
	f := newMonitorFixture(t)
	f.activity.listErr = errStoreDown
	f.devices.getErr = errStoreDown

	assert.NotPanics(t, func() { f.attempt(true, officeClient) })

	// the audit write happened even though later steps failed
	assert.Equal(t, 1, f.activity.len())
	assert.Empty(t, f.events.ofType(models.EventNewDevice))
	assert.Len(t, f.devices.profiles, 1)
}

func TestSecurityMonitor_AuditWriteFailureDoesNotStopAnalysis(t *testing.T) {
	f := newMonitorFixture(t)
	f.activity.createErr = errStoreDown

	f.attempt(true, officeClient)
	assert.Len(t, f.events.ofType(models.EventNewDevice), 1)
}

type panickingDeviceStore struct{ *memoryDeviceStore }

func (panickingDeviceStore) Get(ctx context.Context, adminID, fingerprint string) (*models.DeviceProfile, error) {
	panic("corrupt profile")
}

func TestSecurityMonitor_StepPanicRecovered(t *testing.T) {
	f := newMonitorFixture(t)
	f.monitor.devices = panickingDeviceStore{newMemoryDeviceStore()}

	assert.NotPanics(t, func() { f.attempt(true, officeClient) })
	assert.Equal(t, 1, f.activity.len())
}

// ============================================================================
// RecordSecurityEvent
// ============================================================================

func TestSecurityMonitor_RecordSecurityEvent_RejectsInvalid(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()

	err := f.monitor.RecordSecurityEvent(ctx, &models.SecurityEvent{Type: "PORT_SCAN", Severity: models.SeverityLow})
	assert.ErrorIs(t, err, models.ErrInvalidSecurityEvent)

	err = f.monitor.RecordSecurityEvent(ctx, &models.SecurityEvent{Type: models.EventNewDevice, Severity: "urgent"})
	assert.ErrorIs(t, err, models.ErrInvalidSecurityEvent)

	assert.Empty(t, f.events.events)
}

func TestSecurityMonitor_RecordSecurityEvent_Sanitizes(t *testing.T) {
	f := newMonitorFixture(t)
	ua := "<script>alert(1)</script>curl/8.0\x00"
	longKey := strings.Repeat("k", 100)

	err := f.monitor.RecordSecurityEvent(context.Background(), &models.SecurityEvent{
		Type:      models.EventSuspiciousActivity,
		Severity:  models.SeverityLow,
		UserAgent: &ua,
		Details: models.EventDetails{
			"note":  "<b>bold</b> " + strings.Repeat("x", 600),
			longKey: 1,
			"list":  []string{"<i>a</i>"},
		},
		Resolved: true,
	})
	require.NoError(t, err)

	require.Len(t, f.events.events, 1)
	e := f.events.events[0]
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, f.clock.Now(), e.Timestamp)
	assert.False(t, e.Resolved)
	require.NotNil(t, e.UserAgent)
	assert.Equal(t, "alert(1)curl/8.0", *e.UserAgent)

	note := e.Details["note"].(string)
	assert.False(t, strings.Contains(note, "<b>"))
	assert.LessOrEqual(t, len(note), 500)
	assert.Equal(t, []string{"a"}, e.Details["list"])
	assert.Contains(t, e.Details, strings.Repeat("k", 64))
	assert.NotContains(t, e.Details, longKey)
}

func TestSecurityMonitor_RecordSecurityEvent_AlertsHighSeverity(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.monitor.RecordSecurityEvent(ctx, &models.SecurityEvent{
		Type: models.EventNewDevice, Severity: models.SeverityMedium,
	}))
	require.NoError(t, f.monitor.RecordSecurityEvent(ctx, &models.SecurityEvent{
		Type: models.EventAccountLockout, Severity: models.SeverityHigh,
	}))
	f.monitor.Wait()

	assert.Equal(t, 1, f.alerter.count())
	assert.Equal(t, models.EventAccountLockout, f.alerter.alerts[0].Type)
}

func TestSecurityMonitor_RecordSecurityEvent_StoreFailure(t *testing.T) {
	f := newMonitorFixture(t)
	f.events.createErr = errStoreDown

	err := f.monitor.RecordSecurityEvent(context.Background(), &models.SecurityEvent{
		Type: models.EventAccountLockout, Severity: models.SeverityCritical,
	})
	assert.ErrorIs(t, err, errStoreDown)
	f.monitor.Wait()
	assert.Zero(t, f.alerter.count())
}

func TestSecurityMonitor_RecordSecurityEvent_CountsMetrics(t *testing.T) {
	f := newMonitorFixture(t)
	reg := prometheus.NewRegistry()
	f.monitor.metrics = NewMetrics(reg)

	require.NoError(t, f.monitor.RecordSecurityEvent(context.Background(), &models.SecurityEvent{
		Type: models.EventNewDevice, Severity: models.SeverityMedium,
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(
		f.monitor.metrics.securityEvents.WithLabelValues(string(models.EventNewDevice), string(models.SeverityMedium))))
}

func TestSecurityMonitor_RecordSecurityEvent_SuppressesRepeats(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	f.monitor.metrics = NewMetrics(reg)

	rateLimited := func(email string) *models.SecurityEvent {
		return &models.SecurityEvent{Type: models.EventRateLimitExceeded, Severity: models.SeverityMedium, Email: &email}
	}

	require.NoError(t, f.monitor.RecordSecurityEvent(ctx, rateLimited("admin@example.com")))
	f.clock.Advance(14 * time.Minute)
	require.NoError(t, f.monitor.RecordSecurityEvent(ctx, rateLimited("admin@example.com")))
	require.NoError(t, f.monitor.RecordSecurityEvent(ctx, rateLimited("other@example.com")))
	assert.Len(t, f.events.ofType(models.EventRateLimitExceeded), 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(
		f.monitor.metrics.suppressedEvents.WithLabelValues(string(models.EventRateLimitExceeded))))

	// the window restarts from the recorded event, not the suppressed one
	f.clock.Advance(time.Minute)
	require.NoError(t, f.monitor.RecordSecurityEvent(ctx, rateLimited("admin@example.com")))
	assert.Len(t, f.events.ofType(models.EventRateLimitExceeded), 3)
}

func TestSecurityMonitor_RecordSecurityEvent_OneOffTypesNotSuppressed(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	email := "admin@example.com"

	for i := 0; i < 3; i++ {
		require.NoError(t, f.monitor.RecordSecurityEvent(ctx, &models.SecurityEvent{
			Type: models.EventAccountLockout, Severity: models.SeverityHigh, Email: &email,
		}))
	}
	assert.Len(t, f.events.ofType(models.EventAccountLockout), 3)
}

func TestSecurityMonitor_RecordSecurityEvent_FailedWriteIsRetried(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	email := "admin@example.com"
	event := func() *models.SecurityEvent {
		return &models.SecurityEvent{Type: models.EventBruteForce, Severity: models.SeverityHigh, Email: &email}
	}

	f.events.createErr = errStoreDown
	assert.ErrorIs(t, f.monitor.RecordSecurityEvent(ctx, event()), errStoreDown)

	f.events.createErr = nil
	require.NoError(t, f.monitor.RecordSecurityEvent(ctx, event()))
	assert.Len(t, f.events.ofType(models.EventBruteForce), 1)
	f.monitor.Wait()
}

func TestSecurityMonitor_RecordSecurityEvent_ZeroRepeatWindowKeepsAll(t *testing.T) {
	f := newMonitorFixture(t)
	f.monitor.config.RepeatWindow = 0
	ctx := context.Background()
	email := "admin@example.com"

	for i := 0; i < 3; i++ {
		require.NoError(t, f.monitor.RecordSecurityEvent(ctx, &models.SecurityEvent{
			Type: models.EventRateLimitExceeded, Severity: models.SeverityMedium, Email: &email,
		}))
	}
	assert.Len(t, f.events.ofType(models.EventRateLimitExceeded), 3)
}

// ============================================================================
// Dashboard queries
// ============================================================================

func TestSecurityMonitor_GetSecurityMetrics(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	f.events.events = []*models.SecurityEvent{
		{ID: uuid.New(), Type: models.EventBruteForce, Severity: models.SeverityHigh, Timestamp: now.Add(-time.Hour)},
		{ID: uuid.New(), Type: models.EventBruteForce, Severity: models.SeverityHigh, Timestamp: now.Add(-2 * time.Hour), Resolved: true},
		{ID: uuid.New(), Type: models.EventAccountLockout, Severity: models.SeverityCritical, Timestamp: now.Add(-3 * time.Hour)},
		{ID: uuid.New(), Type: models.EventNewDevice, Severity: models.SeverityMedium, Timestamp: now.Add(-30 * time.Hour)},
	}

	metrics, err := f.monitor.GetSecurityMetrics(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 24, metrics.WindowHours)
	assert.Equal(t, 3, metrics.Total)
	assert.Equal(t, 1, metrics.Critical)
	assert.Equal(t, 2, metrics.High)
	assert.Equal(t, 2, metrics.Unresolved)
	assert.Equal(t, 2, metrics.ByType[models.EventBruteForce])
	assert.Zero(t, metrics.ByType[models.EventNewDevice])

	metrics, err = f.monitor.GetSecurityMetrics(ctx, 48)
	require.NoError(t, err)
	assert.Equal(t, 4, metrics.Total)
}

func TestSecurityMonitor_ListRecentActivity_ClampsLimit(t *testing.T) {
	f := newMonitorFixture(t)
	for i := 0; i < 120; i++ {
		f.attempt(i%2 == 0, officeClient)
	}

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"default when zero", 0, models.DefaultActivityLimit},
		{"default when negative", -3, models.DefaultActivityLimit},
		{"as requested", 50, 50},
		{"capped", 500, models.MaxActivityLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			activity, err := f.monitor.ListRecentActivity(context.Background(), tt.limit)
			require.NoError(t, err)
			assert.Len(t, activity, tt.want)
		})
	}

	activity, err := f.monitor.ListRecentActivity(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, activity[0].LoginTime.After(activity[1].LoginTime))
}

func TestSecurityMonitor_ListRecentActivity_StoreFailure(t *testing.T) {
	f := newMonitorFixture(t)
	f.activity.listErr = errStoreDown

	_, _, err := f.monitor.LoginActivityReport(context.Background(), 10)
	assert.ErrorIs(t, err, errStoreDown)
}

func activityAt(email, ip string, failed bool, at time.Time) *models.LoginActivity {
	a := &models.LoginActivity{ID: uuid.New(), Email: email, IPAddress: ip, LoginTime: at, Status: models.LoginStatusSuccess}
	if failed {
		a.Status = models.LoginStatusFailed
	}
	return a
}

func TestSummarizeActivity(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	failures := func(n, emails int, at time.Time) []*models.LoginActivity {
		out := make([]*models.LoginActivity, 0, n)
		for i := 0; i < n; i++ {
			email := fmt.Sprintf("user%d@example.com", i%emails)
			out = append(out, activityAt(email, "198.51.100.7", true, at))
		}
		return out
	}

	t.Run("counts outcomes and addresses", func(t *testing.T) {
		activity := []*models.LoginActivity{
			activityAt("a@example.com", "198.51.100.7", false, now.Add(-time.Minute)),
			activityAt("a@example.com", "198.51.100.8", true, now.Add(-2*time.Minute)),
			activityAt("b@example.com", "198.51.100.7", true, now.Add(-2*time.Hour)),
		}

		summary := SummarizeActivity(activity, now)
		assert.Equal(t, 3, summary.Total)
		assert.Equal(t, 1, summary.Successes)
		assert.Equal(t, 2, summary.Failures)
		assert.Equal(t, 2, summary.UniqueIPs)
		assert.Equal(t, 1, summary.FailuresLastHour)
		assert.Empty(t, summary.Alerts)
	})

	t.Run("ten failures in the hour raise nothing", func(t *testing.T) {
		summary := SummarizeActivity(failures(10, 10, now.Add(-10*time.Minute)), now)
		assert.Empty(t, summary.Alerts)
	})

	t.Run("eleven failures in the hour", func(t *testing.T) {
		summary := SummarizeActivity(failures(11, 1, now.Add(-10*time.Minute)), now)
		assert.Equal(t, []string{models.AlertFailureSurge}, summary.Alerts)
	})

	t.Run("older failures do not count", func(t *testing.T) {
		summary := SummarizeActivity(failures(30, 10, now.Add(-61*time.Minute)), now)
		assert.Equal(t, 30, summary.Failures)
		assert.Zero(t, summary.FailuresLastHour)
		assert.Empty(t, summary.Alerts)
	})

	t.Run("many failures across many emails", func(t *testing.T) {
		summary := SummarizeActivity(failures(16, 6, now.Add(-time.Minute)), now)
		assert.Equal(t, 6, summary.FailedEmailsLastHour)
		assert.Equal(t, []string{models.AlertFailureSurge, models.AlertPossibleBruteForce}, summary.Alerts)
	})

	t.Run("many failures against five emails", func(t *testing.T) {
		summary := SummarizeActivity(failures(20, 5, now.Add(-time.Minute)), now)
		assert.Equal(t, []string{models.AlertFailureSurge}, summary.Alerts)
	})

	t.Run("six emails but only fifteen failures", func(t *testing.T) {
		summary := SummarizeActivity(failures(15, 6, now.Add(-time.Minute)), now)
		assert.Equal(t, []string{models.AlertFailureSurge}, summary.Alerts)
	})
}

func TestSecurityMonitor_LoginActivityReport(t *testing.T) {
	f := newMonitorFixture(t)
	f.attempt(true, officeClient)
	f.attempt(false, officeClient)

	activity, summary, err := f.monitor.LoginActivityReport(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, activity, 2)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Failures)
	assert.Equal(t, 1, summary.FailuresLastHour)
}

func TestSecurityMonitor_ListEventsValidatesFilter(t *testing.T) {
	f := newMonitorFixture(t)

	_, err := f.monitor.ListEvents(context.Background(), models.SecurityEventFilter{Type: "NOPE"})
	assert.ErrorIs(t, err, models.ErrInvalidSecurityEvent)

	_, err = f.monitor.ListEvents(context.Background(), models.SecurityEventFilter{MinSeverity: "severe"})
	assert.ErrorIs(t, err, models.ErrInvalidSecurityEvent)
}

func TestSecurityMonitor_ResolveEvent(t *testing.T) {
	f := newMonitorFixture(t)
	ctx := context.Background()
	require.NoError(t, f.monitor.RecordSecurityEvent(ctx, &models.SecurityEvent{
		Type: models.EventNewDevice, Severity: models.SeverityMedium,
	}))
	id := f.events.events[0].ID

	resolved, err := f.monitor.ResolveEvent(ctx, id, "ops@example.com")
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, "ops@example.com", *resolved.ResolvedBy)

	unresolved, err := f.monitor.ListEvents(ctx, models.SecurityEventFilter{UnresolvedOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	_, err = f.monitor.ResolveEvent(ctx, uuid.New(), "ops@example.com")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
