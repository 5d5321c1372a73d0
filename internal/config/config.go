package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Server   ServerConfig
	Worker   WorkerConfig
	Sweeper  SweeperConfig
	AI       AIConfig
	NATS     NATSConfig
	Tracing  TracingConfig
	Log      LogConfig

	// PolicyFile is the prompt policy YAML; empty uses the embedded default.
	PolicyFile string
	// EncryptionKey is a base64 AES-256 key sealing command prompts at rest.
	// Empty stores prompts in the clear.
	EncryptionKey string //nolint:gosec // G117: encryption key config
	// TenantCacheTTL bounds how long a tenant deactivation can go unnoticed.
	TenantCacheTTL time.Duration
	// Dev relaxes production warnings.
	Dev bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// JWTConfig holds JWT authentication settings.
type JWTConfig struct {
	Secret     string //nolint:gosec // G117: JWT signing secret config
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	// RateLimit is the per-tenant request rate; zero disables limiting.
	RateLimit float64
	RateBurst int
}

// WorkerConfig holds command worker settings.
type WorkerConfig struct {
	Name           string
	Concurrency    int
	MaxAttempts    int
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// SweeperConfig holds the stale-command repair settings.
type SweeperConfig struct {
	Interval          time.Duration
	RequeueAfter      time.Duration
	ProcessingTimeout time.Duration
}

// AIConfig points at the model gateway. An empty URL selects the local
// rule-based analyzer.
type AIConfig struct {
	URL     string
	APIKey  string //nolint:gosec // G117: gateway credential config
	Timeout time.Duration
}

// NATSConfig enables the optional status bus when URL is set.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// TracingConfig enables span export when an OTLP endpoint is set. The
// exporter reads the remaining OTEL_EXPORTER_OTLP_* variables itself.
type TracingConfig struct {
	Endpoint    string
	SampleRatio float64
}

// LogConfig controls the global zerolog logger.
type LogConfig struct {
	Level  string
	Format string // "json" or "console"
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only. In production,
// sensitive values (JWT secret, DB password) must be set explicitly.
func Load() (*Config, error) {
	var errs []error
	intVar := func(key string, fallback int) int {
		n, err := getEnvInt(key, fallback)
		errs = append(errs, err)
		return n
	}
	durVar := func(key string, fallback time.Duration) time.Duration {
		d, err := getEnvDuration(key, fallback)
		errs = append(errs, err)
		return d
	}
	boolVar := func(key string, fallback bool) bool {
		b, err := getEnvBool(key, fallback)
		errs = append(errs, err)
		return b
	}
	floatVar := func(key string, fallback float64) float64 {
		f, err := getEnvFloat(key, fallback)
		errs = append(errs, err)
		return f
	}

	hostname, _ := os.Hostname()

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DOMUS_DB_HOST", "localhost"),
			Port:     intVar("DOMUS_DB_PORT", 5432),
			User:     getEnv("DOMUS_DB_USER", "domus"),
			Password: getEnv("DOMUS_DB_PASSWORD", ""),
			DBName:   getEnv("DOMUS_DB_NAME", "domus_dev"),
			SSLMode:  getEnv("DOMUS_DB_SSLMODE", "disable"),
			MaxConns: intVar("DOMUS_DB_MAX_CONNS", 25),
		},
		Redis: RedisConfig{
			Addr:     getEnv("DOMUS_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("DOMUS_REDIS_PASSWORD", ""),
			DB:       intVar("DOMUS_REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:     getEnv("DOMUS_JWT_SECRET", ""),
			AccessTTL:  durVar("DOMUS_JWT_ACCESS_TTL", 15*time.Minute),
			RefreshTTL: durVar("DOMUS_JWT_REFRESH_TTL", 7*24*time.Hour),
		},
		Server: ServerConfig{
			Addr:         getEnv("DOMUS_SERVER_ADDR", ":8080"),
			ReadTimeout:  durVar("DOMUS_SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: durVar("DOMUS_SERVER_WRITE_TIMEOUT", 30*time.Second),
			CORSOrigins:  getEnvList("DOMUS_CORS_ORIGINS", []string{"http://localhost:5173"}),
			RateLimit:    floatVar("DOMUS_RATE_LIMIT", 20),
			RateBurst:    intVar("DOMUS_RATE_BURST", 40),
		},
		Worker: WorkerConfig{
			Name:           getEnv("DOMUS_WORKER_NAME", hostname),
			Concurrency:    intVar("DOMUS_WORKER_CONCURRENCY", 4),
			MaxAttempts:    intVar("DOMUS_WORKER_MAX_ATTEMPTS", 3),
			AttemptTimeout: durVar("DOMUS_WORKER_ATTEMPT_TIMEOUT", 30*time.Second),
			InitialBackoff: durVar("DOMUS_WORKER_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:     durVar("DOMUS_WORKER_MAX_BACKOFF", 10*time.Second),
		},
		Sweeper: SweeperConfig{
			Interval:          durVar("DOMUS_SWEEP_INTERVAL", 30*time.Second),
			RequeueAfter:      durVar("DOMUS_SWEEP_REQUEUE_AFTER", time.Minute),
			ProcessingTimeout: durVar("DOMUS_SWEEP_PROCESSING_TIMEOUT", 5*time.Minute),
		},
		AI: AIConfig{
			URL:     getEnv("DOMUS_AI_URL", ""),
			APIKey:  getEnv("DOMUS_AI_API_KEY", ""),
			Timeout: durVar("DOMUS_AI_TIMEOUT", 20*time.Second),
		},
		NATS: NATSConfig{
			URL:           getEnv("DOMUS_NATS_URL", ""),
			SubjectPrefix: getEnv("DOMUS_NATS_SUBJECT_PREFIX", "domus"),
		},
		Tracing: TracingConfig{
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", getEnv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")),
			SampleRatio: floatVar("DOMUS_TRACE_SAMPLE_RATIO", 1),
		},
		Log: LogConfig{
			Level:  getEnv("DOMUS_LOG_LEVEL", "info"),
			Format: getEnv("DOMUS_LOG_FORMAT", "json"),
		},
		PolicyFile:     getEnv("DOMUS_POLICY_FILE", ""),
		EncryptionKey:  getEnv("DOMUS_ENCRYPTION_KEY", ""),
		TenantCacheTTL: durVar("DOMUS_TENANT_CACHE_TTL", time.Minute),
		Dev:            boolVar("DOMUS_DEV", false),
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// JWT secret is required (no insecure default).
	if c.JWT.Secret == "" {
		return errors.New("DOMUS_JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("DOMUS_JWT_SECRET must be at least 32 characters")
	}

	if c.Database.SSLMode == "disable" && !c.Dev {
		log.Warn().Msg("DOMUS_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}
	if c.EncryptionKey == "" && !c.Dev {
		log.Warn().Msg("DOMUS_ENCRYPTION_KEY is not set; command prompts are stored unencrypted")
	}

	// Bounds checks.
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DOMUS_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("DOMUS_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.JWT.AccessTTL <= 0 {
		return fmt.Errorf("DOMUS_JWT_ACCESS_TTL must be positive, got %s", c.JWT.AccessTTL)
	}
	if c.JWT.RefreshTTL <= 0 {
		return fmt.Errorf("DOMUS_JWT_REFRESH_TTL must be positive, got %s", c.JWT.RefreshTTL)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("DOMUS_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("DOMUS_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("DOMUS_RATE_LIMIT must be >= 0, got %g", c.Server.RateLimit)
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		return fmt.Errorf("DOMUS_RATE_BURST must be >= 1 when rate limiting, got %d", c.Server.RateBurst)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("DOMUS_WORKER_CONCURRENCY must be >= 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("DOMUS_WORKER_MAX_ATTEMPTS must be >= 1, got %d", c.Worker.MaxAttempts)
	}
	if c.Worker.AttemptTimeout <= 0 {
		return fmt.Errorf("DOMUS_WORKER_ATTEMPT_TIMEOUT must be positive, got %s", c.Worker.AttemptTimeout)
	}
	if c.Worker.MaxBackoff < c.Worker.InitialBackoff {
		return fmt.Errorf("DOMUS_WORKER_MAX_BACKOFF (%s) must be >= DOMUS_WORKER_INITIAL_BACKOFF (%s)",
			c.Worker.MaxBackoff, c.Worker.InitialBackoff)
	}
	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("DOMUS_SWEEP_INTERVAL must be positive, got %s", c.Sweeper.Interval)
	}
	if c.Sweeper.ProcessingTimeout <= c.Worker.AttemptTimeout {
		return fmt.Errorf("DOMUS_SWEEP_PROCESSING_TIMEOUT (%s) must exceed DOMUS_WORKER_ATTEMPT_TIMEOUT (%s)",
			c.Sweeper.ProcessingTimeout, c.Worker.AttemptTimeout)
	}
	if c.AI.URL != "" {
		u, err := url.Parse(c.AI.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("DOMUS_AI_URL must be an absolute URL, got %q", c.AI.URL)
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("DOMUS_TRACE_SAMPLE_RATIO must be within [0, 1], got %g", c.Tracing.SampleRatio)
	}
	if c.TenantCacheTTL < 0 {
		return fmt.Errorf("DOMUS_TENANT_CACHE_TTL must be >= 0, got %s", c.TenantCacheTTL)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("DOMUS_LOG_LEVEL: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("DOMUS_LOG_FORMAT must be json or console, got %q", c.Log.Format)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
