package models

import "time"

// RateLimitRecord tracks failed attempts for one hashed identifier
type RateLimitRecord struct {
	Key             string    `db:"key" json:"key"`
	Count           int       `db:"count" json:"count"`
	FirstAttempt    time.Time `db:"first_attempt" json:"first_attempt"`
	LastAttempt     time.Time `db:"last_attempt" json:"last_attempt"`
	EscalationCount int       `db:"escalation_count" json:"escalation_count"`
	EscalationStart time.Time `db:"escalation_start" json:"escalation_start"`
	IsLockedOut     bool      `db:"is_locked_out" json:"is_locked_out"`
}

// Lockout reasons reported by the rate limiter
const (
	RateLimitReasonWindow  = "too_many_attempts"
	RateLimitReasonLockout = "escalated_lockout"
)

// RateLimitStatus is the result of a rate limit check
type RateLimitStatus struct {
	IsLimited     bool
	TimeRemaining time.Duration
	Reason        string
}

// AttemptInfo is a read-only projection of a RateLimitRecord for UI feedback
type AttemptInfo struct {
	Count             int        `json:"count"`
	RemainingAttempts int        `json:"remaining_attempts"`
	FirstAttempt      *time.Time `json:"first_attempt,omitempty"`
	LastAttempt       *time.Time `json:"last_attempt,omitempty"`
	IsLockedOut       bool       `json:"is_locked_out"`
}
