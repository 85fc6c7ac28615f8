//go:build integration

package integration

import (
	"fmt"
	"time"
)

// TestAdmin generates unique test admin credentials
func TestAdmin(suffix string) (email, password string) {
	email = fmt.Sprintf("admin-%d-%s@example.com", time.Now().UnixNano(), suffix)
	password = "TestPassword123!"
	return
}
