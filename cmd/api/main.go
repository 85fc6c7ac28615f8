package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/background"
	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	middlewareCustom "github.com/BradenHooton/gatekeeper/internal/middleware"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/BradenHooton/gatekeeper/internal/routes"
	"github.com/BradenHooton/gatekeeper/internal/services"
	"github.com/BradenHooton/gatekeeper/internal/session"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("rate_limit_backend", cfg.RateLimit.Backend))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := db.Migrate(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to migrate database", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	registry.MustRegister(database.NewPoolCollector(db))
	metrics := services.NewMetrics(registry)

	// Initialize repositories
	adminRepo := repositories.NewAdminRepository(db)
	activityRepo := repositories.NewLoginActivityRepository(db)
	deviceRepo := repositories.NewDeviceProfileRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)
	resetRepo := repositories.NewPasswordResetRepository(db)

	rateLimitStore, stalePruner, closeStore, err := newRateLimitStore(cfg, db, logger)
	if err != nil {
		logger.Error("failed to initialize rate limit store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	// Bootstrap first admin if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdmin(ctx, adminRepo, cfg.Auth, logger); err != nil {
		logger.Error("failed to ensure admin account", slog.Any("error", err))
	}
	cancel()

	// Rate limiter
	rateLimiter := services.NewRateLimitService(rateLimitStore, services.RateLimitConfig{
		MaxAttempts:         cfg.RateLimit.MaxAttempts,
		Window:              cfg.RateLimit.Window,
		EscalationThreshold: cfg.RateLimit.EscalationThreshold,
		EscalationWindow:    cfg.RateLimit.EscalationWindow,
	}, logger, metrics)

	// Security monitor
	var sesClient *ses.Client
	if cfg.Alert.Enabled || cfg.Reset.MailEnabled {
		sesClient, err = services.NewSESClient(cfg.Alert.AWSRegion)
		if err != nil {
			logger.Error("failed to initialize SES client", slog.Any("error", err))
			os.Exit(1)
		}
	}

	var alerter services.Alerter
	if cfg.Alert.Enabled {
		alerter = services.NewSESAlertService(sesClient, cfg.Alert.FromAddress, cfg.Alert.Recipients, logger)
	}

	monitorConfig := services.DefaultMonitorConfig()
	monitorConfig.RecentActivity = cfg.Monitor.RecentActivity
	monitorConfig.BruteForceFailures = cfg.Monitor.BruteForceFailures
	monitorConfig.LocationHistory = cfg.Monitor.LocationHistory
	monitorConfig.RepeatWindow = cfg.RateLimit.Window
	monitor := services.NewSecurityMonitor(
		activityRepo,
		eventRepo,
		deviceRepo,
		services.NewHTTPIPLookup(cfg.Monitor.IPLookupURL, cfg.Monitor.IPLookupTimeout, logger),
		alerter,
		monitorConfig,
		logger,
		metrics,
	)

	// Identity provider and session registry
	provider, err := services.NewLocalIdentityProvider(adminRepo, services.ProviderThrottle{
		Every: 6 * time.Second,
		Burst: 10,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize identity provider", slog.Any("error", err))
		os.Exit(1)
	}

	sessions := session.NewRegistry(session.RealClock(), session.Config{
		TimeoutMinutes:   cfg.Session.TimeoutMinutes,
		WarningMinutes:   cfg.Session.WarningMinutes,
		ActivityThrottle: cfg.Session.ActivityThrottle,
	}, provider, session.Hooks{
		OnTimeout: func(uid, email string) {
			metrics.SessionExpired()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = monitor.RecordSecurityEvent(ctx, &models.SecurityEvent{
				Type:     models.EventSessionTimeout,
				Severity: models.SeverityLow,
				Email:    &email,
				Details: models.EventDetails{
					"admin_id":        uid,
					"timeout_minutes": cfg.Session.TimeoutMinutes,
				},
			})
		},
	}, logger)
	unsubscribe := sessions.Attach(provider)

	// Login orchestrator
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.SessionTokenExpiry)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})
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

	// Password reset
	var resetMailer services.ResetMailer
	if cfg.Reset.MailEnabled {
		resetMailer = services.NewSESResetMailer(sesClient, cfg.Reset.FromAddress, cfg.Reset.URL, logger)
	}
	resetService := services.NewPasswordResetService(
		rateLimiter,
		adminRepo,
		resetRepo,
		resetMailer,
		provider,
		timingDelay,
		cfg.Reset.TokenTTL,
		logger,
		metrics,
	)

	// Background cleanup
	cleanupManager := background.NewCleanupManager(stalePruner, activityRepo, background.CleanupConfig{
		Interval:          cfg.Cleanup.Interval,
		RateLimitHorizon:  max(cfg.RateLimit.Window, cfg.RateLimit.EscalationWindow),
		ActivityRetention: cfg.Cleanup.ActivityRetention,
	}, logger).WithResetTokens(resetRepo)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, rateLimiter, ipConfig, logger)
	sessionHandler := handlers.NewSessionHandler(sessions, logger)
	securityHandler := handlers.NewSecurityHandler(monitor, logger)
	resetHandler := handlers.NewPasswordResetHandler(resetService, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.CORSConfig{AllowedOrigins: cfg.Server.AllowedOrigins}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:     authHandler,
		SessionHandler:  sessionHandler,
		SecurityHandler: securityHandler,
		ResetHandler:    resetHandler,
		TokenManager:    tokenManager,
		Sessions:        sessions,
		Admins:          adminRepo,
		LoginRateLimit:  middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.LoginPerMinute},
		Health:          db,
		Gatherer:        registry,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	unsubscribe()
	sessions.Close()
	monitor.Wait()
	resetService.Wait()

	logger.Info("server stopped gracefully")
}

// newRateLimitStore selects the rate limit backend. The returned pruner is
// nil for Redis, whose records expire through their TTL.
func newRateLimitStore(cfg *config.Config, db *database.DB, logger *slog.Logger) (services.RateLimitStore, background.StaleRateLimitPruner, func(), error) {
	if cfg.RateLimit.Backend != "redis" {
		repo := repositories.NewRateLimitRepository(db)
		return repo, repo, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("using redis rate limit store", slog.String("addr", cfg.Redis.Addr))

	ttl := max(cfg.RateLimit.Window, cfg.RateLimit.EscalationWindow)
	repo := repositories.NewRedisRateLimitRepository(client, cfg.Redis.KeyPrefix, ttl)
	return repo, nil, func() { _ = client.Close() }, nil
}

// ensureAdmin creates the first approved admin if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdmin(ctx context.Context, admins *repositories.AdminRepository, cfg config.AuthConfig, logger *slog.Logger) error {
	if cfg.BootstrapAdminEmail == "" || cfg.BootstrapAdminPass == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin bootstrap")
		return nil
	}

	email := pkgauth.NormalizeEmail(cfg.BootstrapAdminEmail)

	_, err := admins.GetByEmail(ctx, email)
	if err == nil {
		logger.Info("admin account already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(cfg.BootstrapAdminPass); err != nil {
		return fmt.Errorf("bootstrap admin password rejected: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(cfg.BootstrapAdminPass)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	_, err = admins.Create(ctx, &models.Admin{
		Email:          email,
		PasswordHash:   hashedPassword,
		Name:           "Admin",
		Role:           "admin",
		ApprovalStatus: models.ApprovalApproved,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	logger.Info("admin account created")
	return nil
}
