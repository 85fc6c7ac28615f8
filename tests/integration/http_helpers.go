//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	middlewareCustom "github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/BradenHooton/gatekeeper/internal/routes"
	"github.com/BradenHooton/gatekeeper/internal/services"
	"github.com/BradenHooton/gatekeeper/internal/session"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

// TestServer wraps httptest.Server with the complete login stack on a real database
type TestServer struct {
	Server   *httptest.Server
	DB       *database.DB
	Sessions *session.Registry
	Monitor  *services.SecurityMonitor
	Resets   *services.PasswordResetService

	unsubscribe func()
}

// NewTestServer wires repositories, services, handlers and routes the way
// cmd/api does, with short timing delays and no outbound IP lookup.
func NewTestServer(db *database.DB) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	registry := prometheus.NewRegistry()
	metrics := services.NewMetrics(registry)

	adminRepo := repositories.NewAdminRepository(db)
	rateLimiter := services.NewRateLimitService(
		repositories.NewRateLimitRepository(db),
		services.DefaultRateLimitConfig(),
		logger,
		metrics,
	)
	monitor := services.NewSecurityMonitor(
		repositories.NewLoginActivityRepository(db),
		repositories.NewSecurityEventRepository(db),
		repositories.NewDeviceProfileRepository(db),
		nil,
		nil,
		services.DefaultMonitorConfig(),
		logger,
		metrics,
	)

	provider, err := services.NewLocalIdentityProvider(adminRepo, services.ProviderThrottle{
		Every: time.Millisecond,
		Burst: 100,
	}, logger)
	if err != nil {
		panic(err)
	}

	sessions := session.NewRegistry(session.RealClock(), session.Config{
		TimeoutMinutes:   30,
		WarningMinutes:   5,
		ActivityThrottle: 2 * time.Second,
	}, provider, session.Hooks{}, logger)
	unsubscribe := sessions.Attach(provider)

	tokenManager := auth.NewTokenManager("test-secret-32-characters-long-for-testing", time.Hour)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{BaseDelayMs: 10, RandomDelayMs: 5})

	authService := services.NewAuthService(
		rateLimiter,
		monitor,
		provider,
		services.NewApprovalService(adminRepo),
		tokenManager,
		timingDelay,
		logger,
		metrics,
	)

	// no mailer: tokens are stored but not delivered
	resetService := services.NewPasswordResetService(
		rateLimiter,
		adminRepo,
		repositories.NewPasswordResetRepository(db),
		nil,
		provider,
		timingDelay,
		time.Hour,
		logger,
		metrics,
	)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, routes.Dependencies{
		AuthHandler:     handlers.NewAuthHandler(authService, rateLimiter, &pkghttp.IPConfig{}, logger),
		SessionHandler:  handlers.NewSessionHandler(sessions, logger),
		SecurityHandler: handlers.NewSecurityHandler(monitor, logger),
		ResetHandler:    handlers.NewPasswordResetHandler(resetService, logger),
		TokenManager:    tokenManager,
		Sessions:        sessions,
		Admins:          adminRepo,
		LoginRateLimit:  middlewareCustom.RateLimitConfig{RequestsPerMinute: 1000},
		Health:          db,
		Gatherer:        registry,
	})

	return &TestServer{
		Server:      httptest.NewServer(r),
		DB:          db,
		Sessions:    sessions,
		Monitor:     monitor,
		Resets:      resetService,
		unsubscribe: unsubscribe,
	}
}

// Close shuts down the test server and the session timers
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
	ts.unsubscribe()
	ts.Sessions.Close()
	ts.Monitor.Wait()
	ts.Resets.Wait()
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body any, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with a session token
func (ts *TestServer) RequestWithAuth(method, path, token string, body any) (*http.Response, error) {
	return ts.Request(method, path, body, map[string]string{"Authorization": "Bearer " + token})
}

// Login posts credentials and returns the response
func (ts *TestServer) Login(email, password string) (*http.Response, error) {
	return ts.Request(http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, map[string]string{"User-Agent": "integration-test"})
}

// ParseJSONResponse parses JSON response body into target
func ParseJSONResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// GetErrorCode extracts the error code from an error response
func GetErrorCode(resp *http.Response) (string, error) {
	var errResp pkghttp.ErrorResponse
	if err := ParseJSONResponse(resp, &errResp); err != nil {
		return "", err
	}
	return errResp.Error, nil
}
