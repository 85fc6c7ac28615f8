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

// RateLimitUpdateFunc receives the current record (nil when absent) and
// returns the record to store. Returning nil deletes the record.
type RateLimitUpdateFunc func(current *models.RateLimitRecord) (*models.RateLimitRecord, error)

const rateLimitColumns = `key, count, first_attempt, last_attempt, escalation_count, escalation_start, is_locked_out`

// RateLimitRepository persists rate limit records in Postgres
type RateLimitRepository struct {
	db *database.DB
}

// NewRateLimitRepository creates a new RateLimitRepository
func NewRateLimitRepository(db *database.DB) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

func scanRateLimitRow(row rowScanner) (*models.RateLimitRecord, error) {
	var rec models.RateLimitRecord
	err := row.Scan(
		&rec.Key, &rec.Count, &rec.FirstAttempt, &rec.LastAttempt,
		&rec.EscalationCount, &rec.EscalationStart, &rec.IsLockedOut,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &rec, nil
}

// Get returns the record for key or models.ErrNotFound
func (r *RateLimitRepository) Get(ctx context.Context, key string) (*models.RateLimitRecord, error) {
	query := `SELECT ` + rateLimitColumns + ` FROM rate_limit_records WHERE key = $1`
	return scanRateLimitRow(r.db.Pool.QueryRow(ctx, query, key))
}

// Update applies fn atomically. Callers for the same key are serialized by a
// transaction-scoped advisory lock, which also covers the insert of a key
// that does not exist yet.
func (r *RateLimitRepository) Update(ctx context.Context, key string, fn RateLimitUpdateFunc) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("failed to lock rate limit key: %w", err)
		}

		query := `SELECT ` + rateLimitColumns + ` FROM rate_limit_records WHERE key = $1 FOR UPDATE`
		current, err := scanRateLimitRow(tx.QueryRow(ctx, query, key))
		if errors.Is(err, models.ErrNotFound) {
			current = nil
		} else if err != nil {
			return fmt.Errorf("failed to load rate limit record: %w", err)
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		if next == nil {
			if current == nil {
				return nil
			}
			if _, err := tx.Exec(ctx, `DELETE FROM rate_limit_records WHERE key = $1`, key); err != nil {
				return fmt.Errorf("failed to delete rate limit record: %w", err)
			}
			return nil
		}

		upsert := `
			INSERT INTO rate_limit_records (` + rateLimitColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (key) DO UPDATE SET
				count = EXCLUDED.count,
				first_attempt = EXCLUDED.first_attempt,
				last_attempt = EXCLUDED.last_attempt,
				escalation_count = EXCLUDED.escalation_count,
				escalation_start = EXCLUDED.escalation_start,
				is_locked_out = EXCLUDED.is_locked_out
		`
		_, err = tx.Exec(ctx, upsert,
			key, next.Count, next.FirstAttempt, next.LastAttempt,
			next.EscalationCount, next.EscalationStart, next.IsLockedOut,
		)
		if err != nil {
			return fmt.Errorf("failed to store rate limit record: %w", database.MapPostgresError(err))
		}
		return nil
	})
}

// Delete removes the record for key; deleting an absent key is not an error
func (r *RateLimitRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM rate_limit_records WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete rate limit record: %w", err)
	}
	return nil
}

// DeleteStale removes records whose last attempt is older than before.
// Callers pass a cutoff beyond both the base and the escalation window.
func (r *RateLimitRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM rate_limit_records WHERE last_attempt < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale rate limit records: %w", err)
	}
	return tag.RowsAffected(), nil
}
