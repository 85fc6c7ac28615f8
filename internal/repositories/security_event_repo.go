package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	securityEventColumns = `id, type, severity, email, ip_address, user_agent, details, timestamp, resolved, resolved_at, resolved_by`

	defaultEventPageSize = 50
	maxEventPageSize     = 500
)

var orderedSeverities = []models.Severity{
	models.SeverityLow, models.SeverityMedium, models.SeverityHigh, models.SeverityCritical,
}

// SecurityEventRepository persists the append-only security event log
type SecurityEventRepository struct {
	db *database.DB
}

// NewSecurityEventRepository creates a new SecurityEventRepository
func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{db: db}
}

func scanSecurityEventRow(row rowScanner) (*models.SecurityEvent, error) {
	var e models.SecurityEvent
	err := row.Scan(
		&e.ID, &e.Type, &e.Severity, &e.Email, &e.IPAddress, &e.UserAgent,
		&e.Details, &e.Timestamp, &e.Resolved, &e.ResolvedAt, &e.ResolvedBy,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &e, nil
}

func scanSecurityEventRows(rows pgx.Rows) ([]*models.SecurityEvent, error) {
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		e, err := scanSecurityEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}
	return events, nil
}

// Create appends an event. ID and Timestamp are filled in when unset.
func (r *SecurityEventRepository) Create(ctx context.Context, e *models.SecurityEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Details == nil {
		e.Details = models.EventDetails{}
	}

	query := `
		INSERT INTO security_events (id, type, severity, email, ip_address, user_agent, details, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		e.ID, e.Type, e.Severity, e.Email, e.IPAddress, e.UserAgent, e.Details, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create security event: %w", database.MapPostgresError(err))
	}
	return nil
}

// List returns events matching filter, newest first
func (r *SecurityEventRepository) List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.MinSeverity != "" {
		allowed := make([]string, 0, len(orderedSeverities))
		for _, s := range orderedSeverities {
			if s.AtLeast(filter.MinSeverity) {
				allowed = append(allowed, string(s))
			}
		}
		args = append(args, allowed)
		conditions = append(conditions, fmt.Sprintf("severity = ANY($%d)", len(args)))
	}
	if filter.UnresolvedOnly {
		conditions = append(conditions, "resolved = FALSE")
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEventPageSize
	}
	if limit > maxEventPageSize {
		limit = maxEventPageSize
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + securityEventColumns + ` FROM security_events`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	return scanSecurityEventRows(rows)
}

// CountsSince aggregates events newer than since by type, severity and resolution
func (r *SecurityEventRepository) CountsSince(ctx context.Context, since time.Time) ([]models.EventTypeCount, error) {
	query := `
		SELECT type, severity, resolved, COUNT(*)
		FROM security_events
		WHERE timestamp >= $1
		GROUP BY type, severity, resolved
	`
	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate security events: %w", err)
	}
	defer rows.Close()

	counts := make([]models.EventTypeCount, 0)
	for rows.Next() {
		var c models.EventTypeCount
		if err := rows.Scan(&c.Type, &c.Severity, &c.Resolved, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event counts: %w", err)
	}
	return counts, nil
}

// Resolve marks an event resolved. Resolving an already resolved event
// keeps the original resolver.
func (r *SecurityEventRepository) Resolve(ctx context.Context, id uuid.UUID, resolvedBy string, at time.Time) (*models.SecurityEvent, error) {
	query := `
		UPDATE security_events
		SET resolved = TRUE,
			resolved_at = COALESCE(resolved_at, $2),
			resolved_by = COALESCE(resolved_by, $3)
		WHERE id = $1
		RETURNING ` + securityEventColumns

	event, err := scanSecurityEventRow(r.db.Pool.QueryRow(ctx, query, id, at, resolvedBy))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve security event: %w", err)
	}
	return event, nil
}
