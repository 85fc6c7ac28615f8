package models

import (
	"time"

	"github.com/google/uuid"
)

// Login outcomes
const (
	LoginStatusSuccess = "success"
	LoginStatusFailed  = "failed"
)

// Failure reasons recorded on LoginActivity
const (
	FailureReasonRateLimited        = "rate_limited"
	FailureReasonInvalidCredentials = "invalid_credentials"
	FailureReasonUserDisabled       = "user_disabled"
	FailureReasonProviderThrottled  = "provider_throttled"
	FailureReasonProviderError      = "provider_error"
	FailureReasonNotApproved        = "not_approved"
)

// LoginActivity is one immutable record per login attempt
type LoginActivity struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AdminID       *string   `db:"admin_id" json:"admin_id,omitempty"`
	Email         string    `db:"email" json:"email"`
	LoginTime     time.Time `db:"login_time" json:"login_time"`
	IPAddress     string    `db:"ip_address" json:"ip_address"`
	UserAgent     string    `db:"user_agent" json:"user_agent"`
	Status        string    `db:"status" json:"status"`
	FailureReason *string   `db:"failure_reason" json:"failure_reason,omitempty"`
	Fingerprint   string    `db:"fingerprint" json:"fingerprint"`
	Timezone      string    `db:"timezone" json:"timezone"`
}

// Failed reports whether the attempt was unsuccessful
func (a *LoginActivity) Failed() bool {
	return a.Status == LoginStatusFailed
}

// ClientInfo describes the source of a login attempt
type ClientInfo struct {
	IPAddress      string
	UserAgent      string
	AcceptLanguage string
	Platform       string
	Timezone       string
}

// LoginAnalysis is the input to the security monitor for one attempt
type LoginAnalysis struct {
	Email         string
	Success       bool
	UserID        string
	FailureReason string
	Client        ClientInfo
}

// Bounds on how many login activity records one dashboard query returns
const (
	DefaultActivityLimit = 10
	MaxActivityLimit     = 100
)

// Dashboard alerts derived from recent login activity
const (
	AlertFailureSurge       = "High number of failed logins in last hour"
	AlertPossibleBruteForce = "Possible brute-force attack detected"
)

// LoginActivitySummary aggregates a page of recent login activity
type LoginActivitySummary struct {
	Total                int      `json:"total"`
	Successes            int      `json:"successes"`
	Failures             int      `json:"failures"`
	UniqueIPs            int      `json:"unique_ips"`
	FailuresLastHour     int      `json:"failures_last_hour"`
	FailedEmailsLastHour int      `json:"failed_emails_last_hour"`
	Alerts               []string `json:"alerts"`
}
