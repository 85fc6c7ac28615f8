package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/jackc/pgx/v5"
)

// PasswordResetRepository stores hashed single-use password reset tokens
type PasswordResetRepository struct {
	db *database.DB
}

// NewPasswordResetRepository creates a new PasswordResetRepository
func NewPasswordResetRepository(db *database.DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

// Create stores a token hash for adminID. Earlier unused tokens of the same
// admin are invalidated so only the newest mail works.
func (r *PasswordResetRepository) Create(ctx context.Context, adminID, tokenHash string, expiresAt time.Time) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`UPDATE password_reset_tokens SET used_at = NOW() WHERE admin_id = $1 AND used_at IS NULL`,
			adminID)
		if err != nil {
			return fmt.Errorf("failed to invalidate reset tokens: %w", database.MapPostgresError(err))
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO password_reset_tokens (admin_id, token_hash, expires_at) VALUES ($1, $2, $3)`,
			adminID, tokenHash, expiresAt)
		if err != nil {
			return fmt.Errorf("failed to create reset token: %w", database.MapPostgresError(err))
		}
		return nil
	})
}

// Consume marks an unused, unexpired token as used and returns its admin
// ID. Unknown, used and expired tokens all return ErrNotFound.
func (r *PasswordResetRepository) Consume(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	query := `
		UPDATE password_reset_tokens
		SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING admin_id::text
	`
	var adminID string
	err := r.db.Pool.QueryRow(ctx, query, tokenHash, now).Scan(&adminID)
	if err != nil {
		err = database.MapPostgresError(err)
		if errors.Is(err, models.ErrNotFound) {
			return "", err
		}
		return "", fmt.Errorf("failed to consume reset token: %w", err)
	}
	return adminID, nil
}

// DeleteExpired prunes tokens that expired before the cutoff
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM password_reset_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired reset tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
