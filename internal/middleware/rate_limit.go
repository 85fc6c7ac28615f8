package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds per-IP request throttling configuration. It sits in
// front of the login endpoint and is independent of the per-account
// failed-login limiter.
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultLoginRateLimit returns 20 login requests per minute per IP
func DefaultLoginRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 20,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteRetryAfter(w, "rate_limit_exceeded", "Too many requests. Please slow down.", time.Minute)
		}),
	)
}
