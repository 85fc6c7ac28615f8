package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

const deviceProfileColumns = `admin_id::text, email, fingerprint, first_seen, last_seen, trust_score, login_count, locations`

// DeviceProfileRepository tracks known login sources per admin
type DeviceProfileRepository struct {
	db *database.DB
}

// NewDeviceProfileRepository creates a new DeviceProfileRepository
func NewDeviceProfileRepository(db *database.DB) *DeviceProfileRepository {
	return &DeviceProfileRepository{db: db}
}

func scanDeviceProfileRow(row rowScanner) (*models.DeviceProfile, error) {
	var p models.DeviceProfile
	err := row.Scan(
		&p.AdminID, &p.Email, &p.Fingerprint, &p.FirstSeen,
		&p.LastSeen, &p.TrustScore, &p.LoginCount, &p.Locations,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &p, nil
}

// Get returns the profile for (adminID, fingerprint) or models.ErrNotFound
func (r *DeviceProfileRepository) Get(ctx context.Context, adminID, fingerprint string) (*models.DeviceProfile, error) {
	query := `SELECT ` + deviceProfileColumns + ` FROM device_profiles WHERE admin_id = $1 AND fingerprint = $2`
	return scanDeviceProfileRow(r.db.Pool.QueryRow(ctx, query, adminID, fingerprint))
}

// Upsert creates the profile on first sight or bumps login_count and
// last_seen and unions the location set. The statement is a single
// INSERT ... ON CONFLICT so concurrent logins never lose a count.
func (r *DeviceProfileRepository) Upsert(ctx context.Context, adminID, email, fingerprint, location string, at time.Time) (*models.DeviceProfile, error) {
	query := `
		INSERT INTO device_profiles (admin_id, email, fingerprint, first_seen, last_seen, trust_score, login_count, locations)
		VALUES ($1, $2, $3, $4, $4, $5, 1,
			CASE WHEN $6::text = '' THEN '{}'::text[] ELSE ARRAY[$6::text] END)
		ON CONFLICT (admin_id, fingerprint) DO UPDATE SET
			email = EXCLUDED.email,
			last_seen = EXCLUDED.last_seen,
			login_count = device_profiles.login_count + 1,
			locations = ARRAY(
				SELECT DISTINCT loc FROM unnest(device_profiles.locations || EXCLUDED.locations) AS loc
			)
		RETURNING ` + deviceProfileColumns

	profile, err := scanDeviceProfileRow(r.db.Pool.QueryRow(ctx, query,
		adminID, email, fingerprint, at, models.DefaultDeviceTrustScore, location,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert device profile: %w", err)
	}
	return profile, nil
}
