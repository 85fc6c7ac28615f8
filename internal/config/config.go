package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Session   SessionConfig
	Monitor   MonitorConfig
	Redis     RedisConfig
	Alert     AlertConfig
	Reset     PasswordResetConfig
	Cleanup   CleanupConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string
	AllowedOrigins []string // dashboard origins allowed by CORS
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	LoginPerMinute int // per-IP HTTP throttle in front of the login endpoint
}

type AuthConfig struct {
	JWTSecret           string
	SessionTokenExpiry  time.Duration
	TimingDelayBaseMs   int
	TimingDelayRandomMs int
	BootstrapAdminEmail string
	BootstrapAdminPass  string
}

// RateLimitConfig configures the failed-login limiter
type RateLimitConfig struct {
	Backend             string // "postgres" or "redis"
	MaxAttempts         int
	Window              time.Duration
	EscalationThreshold int
	EscalationWindow    time.Duration
}

// SessionConfig configures the idle-session timer
type SessionConfig struct {
	TimeoutMinutes   int
	WarningMinutes   int
	ActivityThrottle time.Duration
}

// MonitorConfig configures the security monitor
type MonitorConfig struct {
	IPLookupURL        string
	IPLookupTimeout    time.Duration
	RecentActivity     int // login activity records inspected for brute-force patterns
	BruteForceFailures int
	LocationHistory    int
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// AlertConfig configures e-mail alerts for high severity security events
type AlertConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
	Recipients  []string
}

// PasswordResetConfig configures forgot-password links
type PasswordResetConfig struct {
	MailEnabled bool
	URL         string // page that accepts ?token=
	TokenTTL    time.Duration
	FromAddress string
}

type CleanupConfig struct {
	Interval          time.Duration
	ActivityRetention time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "gatekeeper"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			LoginPerMinute: getEnvAsInt("LOGIN_REQUESTS_PER_MINUTE", 20),
		},
		Auth: AuthConfig{
			JWTSecret:           jwtSecret,
			SessionTokenExpiry:  getEnvAsDuration("SESSION_TOKEN_EXPIRY", 8*time.Hour),
			TimingDelayBaseMs:   getEnvAsInt("TIMING_DELAY_BASE_MS", 200),
			TimingDelayRandomMs: getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
			BootstrapAdminEmail: getEnv("ADMIN_EMAIL", ""),
			BootstrapAdminPass:  getEnv("ADMIN_PASSWORD", ""),
		},
		RateLimit: RateLimitConfig{
			Backend:             strings.ToLower(getEnv("RATE_LIMIT_BACKEND", "postgres")),
			MaxAttempts:         getEnvAsInt("RATE_LIMIT_MAX_ATTEMPTS", 5),
			Window:              getEnvAsDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
			EscalationThreshold: getEnvAsInt("RATE_LIMIT_ESCALATION_THRESHOLD", 10),
			EscalationWindow:    getEnvAsDuration("RATE_LIMIT_ESCALATION_WINDOW", 1*time.Hour),
		},
		Session: SessionConfig{
			TimeoutMinutes:   getEnvAsInt("SESSION_TIMEOUT_MINUTES", 30),
			WarningMinutes:   getEnvAsInt("SESSION_WARNING_MINUTES", 5),
			ActivityThrottle: getEnvAsDuration("SESSION_ACTIVITY_THROTTLE", 2*time.Second),
		},
		Monitor: MonitorConfig{
			IPLookupURL:        getEnv("IP_LOOKUP_URL", "https://api.ipify.org?format=json"),
			IPLookupTimeout:    getEnvAsDuration("IP_LOOKUP_TIMEOUT", 3*time.Second),
			RecentActivity:     getEnvAsInt("MONITOR_RECENT_ACTIVITY", 5),
			BruteForceFailures: getEnvAsInt("MONITOR_BRUTE_FORCE_FAILURES", 3),
			LocationHistory:    getEnvAsInt("MONITOR_LOCATION_HISTORY", 2),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "gatekeeper"),
		},
		Alert: AlertConfig{
			Enabled:     getEnvAsBool("ALERTS_ENABLED", false),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("ALERT_FROM_ADDRESS", ""),
			Recipients:  getEnvAsList("ALERT_RECIPIENTS"),
		},
		Reset: PasswordResetConfig{
			MailEnabled: getEnvAsBool("PASSWORD_RESET_MAIL_ENABLED", false),
			URL:         getEnv("PASSWORD_RESET_URL", ""),
			TokenTTL:    getEnvAsDuration("PASSWORD_RESET_TOKEN_TTL", 1*time.Hour),
			FromAddress: getEnv("PASSWORD_RESET_FROM_ADDRESS", getEnv("ALERT_FROM_ADDRESS", "")),
		},
		Cleanup: CleanupConfig{
			Interval:          getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			ActivityRetention: getEnvAsDuration("LOGIN_ACTIVITY_RETENTION", 90*24*time.Hour),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	rl := c.RateLimit
	if rl.Backend != "postgres" && rl.Backend != "redis" {
		return fmt.Errorf("RATE_LIMIT_BACKEND must be postgres or redis (got %q)", rl.Backend)
	}
	if rl.MaxAttempts <= 0 || rl.EscalationThreshold <= 0 {
		return fmt.Errorf("rate limit attempt thresholds must be positive")
	}
	if rl.Window <= 0 || rl.EscalationWindow <= 0 {
		return fmt.Errorf("rate limit windows must be positive")
	}

	// warning >= timeout is allowed; the session timer floors the warning point
	if c.Session.TimeoutMinutes <= 0 || c.Session.WarningMinutes < 0 {
		return fmt.Errorf("SESSION_TIMEOUT_MINUTES must be positive and SESSION_WARNING_MINUTES non-negative")
	}

	if c.Alert.Enabled && (c.Alert.FromAddress == "" || len(c.Alert.Recipients) == 0) {
		return fmt.Errorf("ALERT_FROM_ADDRESS and ALERT_RECIPIENTS are required when alerts are enabled")
	}

	if c.Reset.TokenTTL <= 0 {
		return fmt.Errorf("PASSWORD_RESET_TOKEN_TTL must be positive")
	}
	if c.Reset.MailEnabled && (c.Reset.URL == "" || c.Reset.FromAddress == "") {
		return fmt.Errorf("PASSWORD_RESET_URL and PASSWORD_RESET_FROM_ADDRESS are required when reset mail is enabled")
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsList splits a comma separated variable, dropping empty entries
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return []string{}
	}
	out := make([]string, 0)
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
