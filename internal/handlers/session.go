package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/session"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// SessionManager is the idle session registry as seen by HTTP
type SessionManager interface {
	Activity(uid, kind string) (bool, error)
	Extend(uid string) (session.Status, error)
	Status(uid string) (session.Status, error)
}

// SessionHandler feeds activity signals to the caller's idle timer
type SessionHandler struct {
	sessions SessionManager
	logger   *slog.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(sessions SessionManager, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

// ActivityRequest is one user interaction reported by the admin panel
type ActivityRequest struct {
	Type string `json:"type" validate:"required,max=32"`
}

// SessionStatusResponse describes the caller's idle timer
type SessionStatusResponse struct {
	State            session.State `json:"state"`
	LastReset        time.Time     `json:"last_reset"`
	ExpiresAt        time.Time     `json:"expires_at"`
	RemainingSeconds int           `json:"remaining_seconds"`
	Reset            *bool         `json:"reset,omitempty"`
}

func toStatusResponse(s session.Status) SessionStatusResponse {
	return SessionStatusResponse{
		State:            s.State,
		LastReset:        s.LastReset,
		ExpiresAt:        s.ExpiresAt,
		RemainingSeconds: int(s.Remaining.Seconds()),
	}
}

func (h *SessionHandler) writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNoSession) {
		pkghttp.WriteError(w, http.StatusUnauthorized, "session_expired", "Session expired")
		return
	}
	h.logger.Error("session request failed", slog.Any("error", err))
	pkghttp.WriteInternalError(w, "Internal server error")
}

// Activity resets the idle timer for a qualifying interaction. Other
// interaction types are accepted and ignored.
// @Router /session/activity [post]
func (h *SessionHandler) Activity(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	reset, err := h.sessions.Activity(claims.UserID, req.Type)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	status, err := h.sessions.Status(claims.UserID)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	resp := toStatusResponse(status)
	resp.Reset = &reset
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Extend restarts the idle timer on explicit user request
// @Router /session/extend [post]
func (h *SessionHandler) Extend(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	status, err := h.sessions.Extend(claims.UserID)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toStatusResponse(status))
}

// Status reports the idle timer state
// @Router /session/status [get]
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	status, err := h.sessions.Status(claims.UserID)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toStatusResponse(status))
}
