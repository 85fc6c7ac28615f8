//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/pkg/auth"
)

// TestDB manages the PostgreSQL testcontainer and the migrated database
type TestDB struct {
	Container testcontainers.Container
	DB        *database.DB
}

// SetupTestDatabase starts a PostgreSQL testcontainer, connects through the
// production connection path and applies the embedded migrations.
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("gatekeeper"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := database.NewConnection(&config.DatabaseConfig{
		Host:              host,
		Port:              port.Int(),
		User:              "postgres",
		Password:          "postgres",
		Name:              "gatekeeper",
		SSLMode:           "disable",
		MaxConns:          20,
		MinConns:          1,
		MaxConnLifetime:   5 * time.Minute,
		MaxConnIdleTime:   time.Minute,
		HealthCheckPeriod: time.Minute,
	}, logger)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{Container: container, DB: db}, nil
}

// Teardown closes the pool and stops the container
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.DB != nil {
		db.DB.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"password_reset_tokens",
		"security_events",
		"device_profiles",
		"login_activity",
		"rate_limit_records",
		"admins",
	}

	for _, table := range tables {
		if _, err := db.DB.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}
	return nil
}

// SeedAdmin inserts an admin with a hashed password
func (db *TestDB) SeedAdmin(ctx context.Context, email, password, role, approval string) (*models.Admin, error) {
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO admins (email, password_hash, name, role, approval_status)
		VALUES ($1, $2, 'Test Admin', $3, $4)
		RETURNING id
	`

	admin := &models.Admin{
		Email:          email,
		PasswordHash:   hashedPassword,
		Name:           "Test Admin",
		Role:           role,
		ApprovalStatus: approval,
	}
	if err := db.DB.Pool.QueryRow(ctx, query, email, hashedPassword, role, approval).Scan(&admin.ID); err != nil {
		return nil, fmt.Errorf("failed to insert admin: %w", err)
	}
	return admin, nil
}
