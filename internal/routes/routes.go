package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/middleware"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports backing store health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies bundles what the router needs
type Dependencies struct {
	AuthHandler     *handlers.AuthHandler
	SessionHandler  *handlers.SessionHandler
	SecurityHandler *handlers.SecurityHandler
	ResetHandler    *handlers.PasswordResetHandler
	TokenManager    *auth.TokenManager
	Sessions        auth.SessionChecker
	Admins          auth.AdminLookup
	LoginRateLimit  middleware.RateLimitConfig
	Health          HealthChecker
	Gatherer        prometheus.Gatherer
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	router.Get("/health", healthHandler(deps.Health))
	if deps.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// Public routes - no authentication required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(deps.LoginRateLimit))
		r.Post("/auth/login", deps.AuthHandler.Login)
		r.Post("/auth/attempts", deps.AuthHandler.AttemptInfo)
		r.Post("/auth/password-reset", deps.ResetHandler.RequestReset)
		r.Post("/auth/password-reset/confirm", deps.ResetHandler.ConfirmReset)
	})

	// Protected routes - live session required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(deps.TokenManager, deps.Sessions))

		r.Post("/auth/logout", deps.AuthHandler.Logout)

		r.Post("/session/activity", deps.SessionHandler.Activity)
		r.Post("/session/extend", deps.SessionHandler.Extend)
		r.Get("/session/status", deps.SessionHandler.Status)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(deps.Admins, "admin"))
			r.Get("/security/metrics", deps.SecurityHandler.Metrics)
			r.Get("/security/events", deps.SecurityHandler.ListEvents)
			r.Get("/security/login-activity", deps.SecurityHandler.LoginActivity)
			r.Post("/security/events/{id}/resolve", deps.SecurityHandler.ResolveEvent)
		})
	})
}

func healthHandler(health HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			if err := health.HealthCheck(ctx); err != nil {
				pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
				return
			}
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
	}
}
