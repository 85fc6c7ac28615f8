package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const adminColumns = `id::text, email, password_hash, name, role, approval_status, disabled, created_at, updated_at`

// AdminRepository reads and writes admin accounts
type AdminRepository struct {
	pool *pgxpool.Pool
}

func NewAdminRepository(db *database.DB) *AdminRepository {
	return &AdminRepository{pool: db.Pool}
}

func scanAdminRow(scanner rowScanner) (*models.Admin, error) {
	var admin models.Admin
	err := scanner.Scan(
		&admin.ID, &admin.Email, &admin.PasswordHash, &admin.Name, &admin.Role,
		&admin.ApprovalStatus, &admin.Disabled, &admin.CreatedAt, &admin.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &admin, nil
}

func (r *AdminRepository) GetByID(ctx context.Context, id string) (*models.Admin, error) {
	query := `SELECT ` + adminColumns + ` FROM admins WHERE id = $1`
	return scanAdminRow(r.pool.QueryRow(ctx, query, id))
}

func (r *AdminRepository) GetByEmail(ctx context.Context, email string) (*models.Admin, error) {
	query := `SELECT ` + adminColumns + ` FROM admins WHERE email = $1`
	return scanAdminRow(r.pool.QueryRow(ctx, query, email))
}

func (r *AdminRepository) Create(ctx context.Context, admin *models.Admin) (*models.Admin, error) {
	query := `
		INSERT INTO admins (email, password_hash, name, role, approval_status, disabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + adminColumns

	created, err := scanAdminRow(r.pool.QueryRow(ctx, query,
		admin.Email, admin.PasswordHash, admin.Name, admin.Role, admin.ApprovalStatus, admin.Disabled,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create admin: %w", err)
	}
	return created, nil
}

// UpdateApprovalStatus changes the approval state of an admin
func (r *AdminRepository) UpdateApprovalStatus(ctx context.Context, id, status string) error {
	query := `UPDATE admins SET approval_status = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update approval status: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdatePassword replaces the password hash of an admin
func (r *AdminRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `UPDATE admins SET password_hash = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
