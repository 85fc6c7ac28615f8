package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are carried by session tokens issued after a successful login
type TokenClaims struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Auth state transitions emitted by the identity provider
const (
	AuthStateSignedIn  = "signed_in"
	AuthStateSignedOut = "signed_out"
)

// AuthStateEvent is one sign-in/sign-out notification
type AuthStateEvent struct {
	Type  string
	UID   string
	Email string
	At    time.Time
}

// Identity is the opaque authenticated identity returned by the provider
type Identity struct {
	UID   string
	Email string
	Role  string
}
