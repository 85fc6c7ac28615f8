package services

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// DeviceFingerprint derives a stable identifier for a login source from
// client characteristics. It uses the first 32 hex chars of the digest.
func DeviceFingerprint(userAgent, acceptLanguage, platform string) string {
	data := strings.Join([]string{userAgent, acceptLanguage, platform}, "|")
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)[:32]
}
