package models

import "time"

// PasswordResetToken is a single-use credential mailed to an admin. Only the
// SHA-256 hash of the token is stored.
type PasswordResetToken struct {
	ID        string     `db:"id" json:"id"`
	AdminID   string     `db:"admin_id" json:"admin_id"`
	TokenHash string     `db:"token_hash" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	UsedAt    *time.Time `db:"used_at" json:"used_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}
