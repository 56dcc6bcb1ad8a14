package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the dispatch daemon.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	NATS       NATSConfig
	JWT        JWTConfig
	Firebase   FirebaseConfig
	Twilio     TwilioConfig
	Stripe     StripeConfig
	Sentry     SentryConfig
	Tracing    TracingConfig
	RateLimit  RateLimitConfig
	Resilience ResilienceConfig
	Shift      ShiftConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string
	Environment  string
	ServiceName  string
	ReadTimeout  int    // seconds
	WriteTimeout int    // seconds
	CORSOrigins  string // comma-separated allowed origins
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// NATSConfig holds the event feed settings. Disabled means lifecycle
// events are not published; nothing else depends on them.
type NATSConfig struct {
	URL     string
	Enabled bool
}

// JWTConfig holds session token settings. KeyFile enables versioned
// signing keys with rotation; Secret remains the legacy fallback.
type JWTConfig struct {
	Secret        string
	Expiration    int // hours
	KeyFile       string
	RotationHours int
	GraceHours    int
}

// FirebaseConfig holds push notification settings. When disabled or the
// credentials path is empty, push degrades to a no-op.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsPath string
	Enabled         bool
}

// TwilioConfig holds SMS settings for the auth bootstrap. Disabled means
// login codes are logged instead of sent.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	Enabled    bool
}

// StripeConfig holds wallet top-up settings. Disabled means add-money
// credits the wallet directly without charging a card.
type StripeConfig struct {
	APIKey  string
	Enabled bool
}

// SentryConfig holds error tracking settings.
type SentryConfig struct {
	DSN     string
	Enabled bool
}

// TracingConfig holds OTLP trace export settings.
type TracingConfig struct {
	Endpoint string
	Enabled  bool
}

// RateLimitConfig holds the fixed-window limiter settings applied to the
// auth bootstrap endpoints.
type RateLimitConfig struct {
	Enabled       bool
	WindowSeconds int
	Limit         int
	RedisPrefix   string
}

// ResilienceConfig groups circuit breaker tuning for external providers.
type ResilienceConfig struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	TimeoutSeconds   int
	IntervalSeconds  int
}

// ShiftConfig holds working-hours defaults. Per-driver overrides on the
// drivers table win over these.
type ShiftConfig struct {
	StartFee          int64 // debited when a new shift starts
	ExtensionFee      int64 // default auto-debit at expiry
	HalfTimeFee12     int64 // add-half price on a 12h limit
	FullTimeFee12     int64 // add-full price on a 12h limit
	CheckpointSeconds int   // remaining-time persistence cadence
}

// Load reads configuration from a .env file (when present) and the
// environment.
func Load(serviceName string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ServiceName:  serviceName,
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 10),
			CORSOrigins:  getEnv("CORS_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "dispatch"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
			Enabled: getEnvAsBool("NATS_ENABLED", false),
		},
		JWT: JWTConfig{
			Secret:        getEnv("JWT_SECRET", "change-me-in-production"),
			Expiration:    getEnvAsInt("JWT_EXPIRATION", 24),
			KeyFile:       getEnv("JWT_KEY_FILE", ""),
			RotationHours: getEnvAsInt("JWT_ROTATION_HOURS", 720),
			GraceHours:    getEnvAsInt("JWT_GRACE_HOURS", 720),
		},
		Firebase: FirebaseConfig{
			ProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
			CredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", ""),
			Enabled:         getEnvAsBool("FIREBASE_ENABLED", false),
		},
		Twilio: TwilioConfig{
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber: getEnv("TWILIO_FROM_NUMBER", ""),
			Enabled:    getEnvAsBool("TWILIO_ENABLED", false),
		},
		Stripe: StripeConfig{
			APIKey:  getEnv("STRIPE_API_KEY", ""),
			Enabled: getEnvAsBool("STRIPE_ENABLED", false),
		},
		Sentry: SentryConfig{
			DSN:     getEnv("SENTRY_DSN", ""),
			Enabled: getEnvAsBool("SENTRY_ENABLED", false),
		},
		Tracing: TracingConfig{
			Endpoint: getEnv("OTLP_ENDPOINT", "localhost:4317"),
			Enabled:  getEnvAsBool("TRACING_ENABLED", false),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getEnvAsBool("RATE_LIMIT_ENABLED", false),
			WindowSeconds: getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			Limit:         getEnvAsInt("RATE_LIMIT_LIMIT", 30),
			RedisPrefix:   getEnv("RATE_LIMIT_REDIS_PREFIX", "rate-limit"),
		},
		Resilience: ResilienceConfig{
			FailureThreshold: uint32(getEnvAsInt("CB_FAILURE_THRESHOLD", 5)),
			SuccessThreshold: uint32(getEnvAsInt("CB_SUCCESS_THRESHOLD", 2)),
			TimeoutSeconds:   getEnvAsInt("CB_TIMEOUT_SECONDS", 30),
			IntervalSeconds:  getEnvAsInt("CB_INTERVAL_SECONDS", 60),
		},
		Shift: ShiftConfig{
			StartFee:          int64(getEnvAsInt("SHIFT_START_FEE", 100)),
			ExtensionFee:      int64(getEnvAsInt("SHIFT_EXTENSION_FEE", 100)),
			HalfTimeFee12:     int64(getEnvAsInt("SHIFT_HALF_TIME_FEE", 50)),
			FullTimeFee12:     int64(getEnvAsInt("SHIFT_FULL_TIME_FEE", 100)),
			CheckpointSeconds: getEnvAsInt("SHIFT_CHECKPOINT_SECONDS", 30),
		},
	}

	if cfg.RateLimit.WindowSeconds <= 0 {
		cfg.RateLimit.WindowSeconds = 60
	}
	if cfg.Resilience.TimeoutSeconds <= 0 {
		cfg.Resilience.TimeoutSeconds = 30
	}
	if cfg.Resilience.IntervalSeconds <= 0 {
		cfg.Resilience.IntervalSeconds = 60
	}

	return cfg, nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// URL returns the PostgreSQL connection URL, used by the migration runner.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// RedisAddr returns the host:port address of the Redis server.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Window returns the rate limit window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	if c.WindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.WindowSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}
