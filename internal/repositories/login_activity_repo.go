package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const loginActivityColumns = `id, admin_id::text, email, login_time, ip_address, user_agent, status, failure_reason, fingerprint, timezone`

// LoginActivityRepository handles the append-only login audit trail
type LoginActivityRepository struct {
	db *database.DB
}

// NewLoginActivityRepository creates a new LoginActivityRepository
func NewLoginActivityRepository(db *database.DB) *LoginActivityRepository {
	return &LoginActivityRepository{db: db}
}

func scanLoginActivityRow(row rowScanner) (*models.LoginActivity, error) {
	var a models.LoginActivity
	err := row.Scan(
		&a.ID, &a.AdminID, &a.Email, &a.LoginTime, &a.IPAddress,
		&a.UserAgent, &a.Status, &a.FailureReason, &a.Fingerprint, &a.Timezone,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &a, nil
}

func scanLoginActivityRows(rows pgx.Rows) ([]*models.LoginActivity, error) {
	defer rows.Close()

	activity := make([]*models.LoginActivity, 0)
	for rows.Next() {
		a, err := scanLoginActivityRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan login activity: %w", err)
		}
		activity = append(activity, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating login activity rows: %w", err)
	}
	return activity, nil
}

// Create records one login attempt. ID and LoginTime are filled in when unset.
func (r *LoginActivityRepository) Create(ctx context.Context, a *models.LoginActivity) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.LoginTime.IsZero() {
		a.LoginTime = time.Now().UTC()
	}

	query := `
		INSERT INTO login_activity (id, admin_id, email, login_time, ip_address, user_agent, status, failure_reason, fingerprint, timezone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		a.ID, a.AdminID, a.Email, a.LoginTime, a.IPAddress,
		a.UserAgent, a.Status, a.FailureReason, a.Fingerprint, a.Timezone,
	)
	if err != nil {
		return fmt.Errorf("failed to record login activity: %w", database.MapPostgresError(err))
	}
	return nil
}

// ListRecentByEmail returns the newest attempts for an email, newest first
func (r *LoginActivityRepository) ListRecentByEmail(ctx context.Context, email string, limit int) ([]*models.LoginActivity, error) {
	query := `
		SELECT ` + loginActivityColumns + `
		FROM login_activity
		WHERE email = $1
		ORDER BY login_time DESC
		LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, email, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query login activity: %w", err)
	}
	return scanLoginActivityRows(rows)
}

// ListRecent returns the newest attempts across all identities, newest first
func (r *LoginActivityRepository) ListRecent(ctx context.Context, limit int) ([]*models.LoginActivity, error) {
	query := `
		SELECT ` + loginActivityColumns + `
		FROM login_activity
		ORDER BY login_time DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent login activity: %w", err)
	}
	return scanLoginActivityRows(rows)
}

// ListRecentSuccesses returns the newest successful logins of an admin,
// excluding the attempt identified by exclude.
func (r *LoginActivityRepository) ListRecentSuccesses(ctx context.Context, adminID string, exclude uuid.UUID, limit int) ([]*models.LoginActivity, error) {
	query := `
		SELECT ` + loginActivityColumns + `
		FROM login_activity
		WHERE admin_id = $1 AND status = 'success' AND id <> $2
		ORDER BY login_time DESC
		LIMIT $3
	`
	rows, err := r.db.Pool.Query(ctx, query, adminID, exclude, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query successful logins: %w", err)
	}
	return scanLoginActivityRows(rows)
}

// DeleteOlderThan prunes login activity past the retention period
func (r *LoginActivityRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM login_activity WHERE login_time < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old login activity: %w", err)
	}
	return tag.RowsAffected(), nil
}
