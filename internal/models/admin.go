package models

import (
	"time"
)

// Approval states of an admin account
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
	ApprovalRevoked  = "revoked"
)

// Admin is an administrative account of the content panel
type Admin struct {
	ID             string
	Email          string
	PasswordHash   string
	Name           string
	Role           string // "editor", "admin"
	ApprovalStatus string // "pending", "approved", "rejected", "revoked"
	Disabled       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
