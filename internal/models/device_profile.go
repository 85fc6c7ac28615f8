package models

import "time"

// Default trust score assigned to a newly seen device
const DefaultDeviceTrustScore = 50

// DeviceProfile tracks a login source per identity
type DeviceProfile struct {
	AdminID     string    `db:"admin_id" json:"admin_id"`
	Email       string    `db:"email" json:"email"`
	Fingerprint string    `db:"fingerprint" json:"fingerprint"`
	FirstSeen   time.Time `db:"first_seen" json:"first_seen"`
	LastSeen    time.Time `db:"last_seen" json:"last_seen"`
	TrustScore  int       `db:"trust_score" json:"trust_score"`
	LoginCount  int       `db:"login_count" json:"login_count"`
	Locations   []string  `db:"locations" json:"locations"`
}
