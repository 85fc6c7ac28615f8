package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// SecurityDashboard is the security monitor's read side
type SecurityDashboard interface {
	GetSecurityMetrics(ctx context.Context, windowHours int) (*models.SecurityMetrics, error)
	ListEvents(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error)
	ResolveEvent(ctx context.Context, id uuid.UUID, resolvedBy string) (*models.SecurityEvent, error)
	LoginActivityReport(ctx context.Context, limit int) ([]*models.LoginActivity, models.LoginActivitySummary, error)
}

// SecurityHandler serves the security dashboard
type SecurityHandler struct {
	monitor SecurityDashboard
	logger  *slog.Logger
}

// NewSecurityHandler creates a new SecurityHandler
func NewSecurityHandler(monitor SecurityDashboard, logger *slog.Logger) *SecurityHandler {
	return &SecurityHandler{monitor: monitor, logger: logger}
}

// EventListQuery holds the parsed query of GET /security/events
type EventListQuery struct {
	Type        string `query:"type" validate:"omitempty,max=32"`
	MinSeverity string `query:"min_severity" validate:"omitempty,oneof=low medium high critical"`
	Limit       int    `query:"limit" validate:"gte=0,lte=500"`
	Offset      int    `query:"offset" validate:"gte=0"`
}

const maxWindowHours = 24 * 90

// dashboardActivityLimit is the page size of the login activity view
const dashboardActivityLimit = 50

// LoginActivityResponse is the body of GET /security/login-activity
type LoginActivityResponse struct {
	Activities []*models.LoginActivity     `json:"activities"`
	Summary    models.LoginActivitySummary `json:"summary"`
}

// Metrics returns aggregated event counts
// @Param window_hours query int false "Aggregation window in hours (default 24)"
// @Router /security/metrics [get]
func (h *SecurityHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	windowHours := 0
	if raw := r.URL.Query().Get("window_hours"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > maxWindowHours {
			pkghttp.WriteBadRequest(w, "window_hours must be between 1 and 2160")
			return
		}
		windowHours = v
	}

	metrics, err := h.monitor.GetSecurityMetrics(r.Context(), windowHours)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, metrics)
}

// ListEvents returns events newest first
// @Router /security/events [get]
func (h *SecurityHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	query := EventListQuery{
		Type:        q.Get("type"),
		MinSeverity: q.Get("min_severity"),
	}
	var err error
	if query.Limit, err = intParam(q.Get("limit")); err != nil {
		pkghttp.WriteBadRequest(w, "limit must be a number")
		return
	}
	if query.Offset, err = intParam(q.Get("offset")); err != nil {
		pkghttp.WriteBadRequest(w, "offset must be a number")
		return
	}
	if err := ValidateRequest(query); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	filter := models.SecurityEventFilter{
		Type:           models.SecurityEventType(query.Type),
		MinSeverity:    models.Severity(query.MinSeverity),
		UnresolvedOnly: q.Get("unresolved") == "true",
		Limit:          query.Limit,
		Offset:         query.Offset,
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			pkghttp.WriteBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = &since
	}

	events, err := h.monitor.ListEvents(r.Context(), filter)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	if events == nil {
		events = []*models.SecurityEvent{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

// LoginActivity returns the newest login attempts with outcome counts and
// dashboard alerts. limit is capped at 100.
// @Param limit query int false "Number of attempts (default 50)"
// @Router /security/login-activity [get]
func (h *SecurityHandler) LoginActivity(w http.ResponseWriter, r *http.Request) {
	limit := dashboardActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			pkghttp.WriteBadRequest(w, "limit must be a positive number")
			return
		}
		limit = v
	}

	activities, summary, err := h.monitor.LoginActivityReport(r.Context(), limit)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}
	if activities == nil {
		activities = []*models.LoginActivity{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, LoginActivityResponse{Activities: activities, Summary: summary})
}

// ResolveEvent marks an event resolved by the caller
// @Router /security/events/{id}/resolve [post]
func (h *SecurityHandler) ResolveEvent(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid event id")
		return
	}

	resolvedBy := claims.Email
	if resolvedBy == "" {
		resolvedBy = claims.UserID
	}

	event, err := h.monitor.ResolveEvent(r.Context(), id, resolvedBy)
	if err != nil {
		writeStoreError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, event)
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
