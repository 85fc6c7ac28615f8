package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashIdentifier maps a raw identifier (e.g. "email:user@example.com") to a
// deterministic, one-way storage key
func HashIdentifier(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// EmailIdentifier returns the canonical identifier for an email address
func EmailIdentifier(email string) string {
	return "email:" + NormalizeEmail(email)
}

// ResetIdentifier returns the identifier throttling password reset requests
// for an email address, separate from its login identifier
func ResetIdentifier(email string) string {
	return "reset:" + NormalizeEmail(email)
}

// NormalizeEmail lowercases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
