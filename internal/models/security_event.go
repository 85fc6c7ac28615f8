package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SecurityEventType is the closed enumeration of monitor event types
type SecurityEventType string

const (
	EventBruteForce         SecurityEventType = "BRUTE_FORCE"
	EventNewDevice          SecurityEventType = "NEW_DEVICE"
	EventLocationChange     SecurityEventType = "LOCATION_CHANGE"
	EventRateLimitExceeded  SecurityEventType = "RATE_LIMIT_EXCEEDED"
	EventAccountLockout     SecurityEventType = "ACCOUNT_LOCKOUT"
	EventUnauthorizedAccess SecurityEventType = "UNAUTHORIZED_ACCESS"
	EventSessionTimeout     SecurityEventType = "SESSION_TIMEOUT"
	EventSuspiciousActivity SecurityEventType = "SUSPICIOUS_ACTIVITY"
)

var validEventTypes = map[SecurityEventType]bool{
	EventBruteForce:         true,
	EventNewDevice:          true,
	EventLocationChange:     true,
	EventRateLimitExceeded:  true,
	EventAccountLockout:     true,
	EventUnauthorizedAccess: true,
	EventSessionTimeout:     true,
	EventSuspiciousActivity: true,
}

// Valid reports whether t belongs to the closed enumeration
func (t SecurityEventType) Valid() bool {
	return validEventTypes[t]
}

// Severity is ordered: low < medium < high < critical
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Valid reports whether s is one of the known severities
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns the position of s in the ordered set (0 if invalid)
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is as severe as other
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// SecurityEvent is an append-only entry in the security event log
type SecurityEvent struct {
	ID         uuid.UUID         `db:"id" json:"id"`
	Type       SecurityEventType `db:"type" json:"type"`
	Severity   Severity          `db:"severity" json:"severity"`
	Email      *string           `db:"email" json:"email,omitempty"`
	IPAddress  *string           `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent  *string           `db:"user_agent" json:"user_agent,omitempty"`
	Details    EventDetails      `db:"details" json:"details"`
	Timestamp  time.Time         `db:"timestamp" json:"timestamp"`
	Resolved   bool              `db:"resolved" json:"resolved"`
	ResolvedAt *time.Time        `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy *string           `db:"resolved_by" json:"resolved_by,omitempty"`
}

// EventDetails holds free-form context for security events
type EventDetails map[string]any

// Scan implements sql.Scanner for JSONB
func (d *EventDetails) Scan(value any) error {
	if value == nil {
		*d = make(EventDetails)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	m := make(map[string]any)
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*d = EventDetails(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (d EventDetails) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(d))
}

// SecurityEventFilter narrows ListEvents queries
type SecurityEventFilter struct {
	Type           SecurityEventType
	MinSeverity    Severity
	UnresolvedOnly bool
	Since          *time.Time
	Limit          int
	Offset         int
}

// SecurityMetrics summarizes the event log over a window for dashboards
type SecurityMetrics struct {
	WindowHours int                       `json:"window_hours"`
	Total       int                       `json:"total"`
	Critical    int                       `json:"critical"`
	High        int                       `json:"high"`
	Unresolved  int                       `json:"unresolved"`
	ByType      map[SecurityEventType]int `json:"by_type"`
}

// EventTypeCount is one row of the per-type aggregation
type EventTypeCount struct {
	Type     SecurityEventType
	Severity Severity
	Resolved bool
	Count    int
}
