package services

import (
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "gatekeeper"

// Metrics holds the Prometheus collectors of the login control plane.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	loginAttempts    *prometheus.CounterVec
	rateLimitDenials *prometheus.CounterVec
	lockouts         prometheus.Counter
	securityEvents   *prometheus.CounterVec
	suppressedEvents *prometheus.CounterVec
	sessionExpiries  prometheus.Counter
	passwordResets   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts partitioned by outcome.",
		}, []string{"outcome"}),
		rateLimitDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limit_denials_total",
			Help:      "Login attempts rejected by the rate limiter partitioned by reason.",
		}, []string{"reason"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "escalation_lockouts_total",
			Help:      "Identifiers placed into escalation lockout.",
		}),
		securityEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "security_events_total",
			Help:      "Security events recorded partitioned by type and severity.",
		}, []string{"type", "severity"}),
		suppressedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "security_events_suppressed_total",
			Help:      "Repeated security events collapsed into an earlier one partitioned by type.",
		}, []string{"type"}),
		sessionExpiries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_expiries_total",
			Help:      "Sessions ended by the idle timer.",
		}),
		passwordResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "password_resets_total",
			Help:      "Password reset requests and redemptions partitioned by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.loginAttempts, m.rateLimitDenials, m.lockouts, m.securityEvents, m.suppressedEvents,
		m.sessionExpiries, m.passwordResets)
	return m
}

func (m *Metrics) LoginAttempt(outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RateLimitDenied(reason string) {
	if m == nil {
		return
	}
	m.rateLimitDenials.WithLabelValues(reason).Inc()
}

func (m *Metrics) Lockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

func (m *Metrics) SecurityEvent(t models.SecurityEventType, s models.Severity) {
	if m == nil {
		return
	}
	m.securityEvents.WithLabelValues(string(t), string(s)).Inc()
}

func (m *Metrics) SecurityEventSuppressed(t models.SecurityEventType) {
	if m == nil {
		return
	}
	m.suppressedEvents.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) SessionExpired() {
	if m == nil {
		return
	}
	m.sessionExpiries.Inc()
}

func (m *Metrics) PasswordReset(outcome string) {
	if m == nil {
		return
	}
	m.passwordResets.WithLabelValues(outcome).Inc()
}
