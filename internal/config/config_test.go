package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Helper function tests
// ---------------------------------------------------------------------------

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string // nil = don't set; pointer to distinguish "" from unset
		fallback string
		want     string
	}{
		{name: "returns fallback when unset", key: "DOMUS_TEST_GETENV_UNSET", setVal: nil, fallback: "default", want: "default"},
		{name: "returns env value when set", key: "DOMUS_TEST_GETENV_SET", setVal: strPtr("custom"), fallback: "default", want: "custom"},
		{name: "returns fallback when empty string", key: "DOMUS_TEST_GETENV_EMPTY", setVal: strPtr(""), fallback: "default", want: "default"},
		{name: "preserves whitespace", key: "DOMUS_TEST_GETENV_WS", setVal: strPtr("  spaced  "), fallback: "x", want: "  spaced  "},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got := getEnv(tc.key, tc.fallback)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback int
		want     int
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "DOMUS_TEST_INT_UNSET", setVal: nil, fallback: 42, want: 42},
		{name: "parses valid int", key: "DOMUS_TEST_INT_VALID", setVal: strPtr("8080"), fallback: 0, want: 8080},
		{name: "parses negative int", key: "DOMUS_TEST_INT_NEG", setVal: strPtr("-1"), fallback: 0, want: -1},
		{name: "parses zero", key: "DOMUS_TEST_INT_ZERO", setVal: strPtr("0"), fallback: 99, want: 0},
		{name: "returns fallback for empty string", key: "DOMUS_TEST_INT_EMPTY", setVal: strPtr(""), fallback: 25, want: 25},
		{name: "errors on non-numeric", key: "DOMUS_TEST_INT_NAN", setVal: strPtr("abc"), fallback: 0, wantErr: true},
		{name: "errors on float", key: "DOMUS_TEST_INT_FLOAT", setVal: strPtr("3.14"), fallback: 0, wantErr: true},
		{name: "errors on hex", key: "DOMUS_TEST_INT_HEX", setVal: strPtr("0xFF"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvInt(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback bool
		want     bool
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "DOMUS_TEST_BOOL_UNSET", setVal: nil, fallback: false, want: false},
		{name: "fallback true when unset", key: "DOMUS_TEST_BOOL_UNSETTRUE", setVal: nil, fallback: true, want: true},
		{name: "parses true", key: "DOMUS_TEST_BOOL_TRUE", setVal: strPtr("true"), fallback: false, want: true},
		{name: "parses false", key: "DOMUS_TEST_BOOL_FALSE", setVal: strPtr("false"), fallback: true, want: false},
		{name: "parses 1", key: "DOMUS_TEST_BOOL_ONE", setVal: strPtr("1"), fallback: false, want: true},
		{name: "parses 0", key: "DOMUS_TEST_BOOL_ZERO", setVal: strPtr("0"), fallback: true, want: false},
		{name: "parses TRUE uppercase", key: "DOMUS_TEST_BOOL_UPPER", setVal: strPtr("TRUE"), fallback: false, want: true},
		{name: "parses t", key: "DOMUS_TEST_BOOL_T", setVal: strPtr("t"), fallback: false, want: true},
		{name: "errors on invalid", key: "DOMUS_TEST_BOOL_INV", setVal: strPtr("yes"), fallback: false, wantErr: true},
		{name: "errors on numeric non-bool", key: "DOMUS_TEST_BOOL_NUM", setVal: strPtr("2"), fallback: false, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvBool(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback time.Duration
		want     time.Duration
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "DOMUS_TEST_DUR_UNSET", setVal: nil, fallback: 5 * time.Second, want: 5 * time.Second},
		{name: "parses seconds", key: "DOMUS_TEST_DUR_SEC", setVal: strPtr("30s"), fallback: 0, want: 30 * time.Second},
		{name: "parses minutes", key: "DOMUS_TEST_DUR_MIN", setVal: strPtr("15m"), fallback: 0, want: 15 * time.Minute},
		{name: "parses hours", key: "DOMUS_TEST_DUR_HR", setVal: strPtr("2h"), fallback: 0, want: 2 * time.Hour},
		{name: "parses composite", key: "DOMUS_TEST_DUR_COMP", setVal: strPtr("1h30m"), fallback: 0, want: 90 * time.Minute},
		{name: "parses nanosecond", key: "DOMUS_TEST_DUR_NS", setVal: strPtr("1ns"), fallback: 0, want: time.Nanosecond},
		{name: "parses zero", key: "DOMUS_TEST_DUR_ZERO", setVal: strPtr("0s"), fallback: 5 * time.Second, want: 0},
		{name: "errors on invalid", key: "DOMUS_TEST_DUR_INV", setVal: strPtr("notaduration"), fallback: 0, wantErr: true},
		{name: "errors on bare number", key: "DOMUS_TEST_DUR_BARE", setVal: strPtr("30"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvDuration(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvFloat(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback float64
		want     float64
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "DOMUS_TEST_FLOAT_UNSET", setVal: nil, fallback: 2.5, want: 2.5},
		{name: "parses decimal", key: "DOMUS_TEST_FLOAT_DEC", setVal: strPtr("0.5"), fallback: 0, want: 0.5},
		{name: "parses integer", key: "DOMUS_TEST_FLOAT_INT", setVal: strPtr("20"), fallback: 0, want: 20},
		{name: "errors on invalid", key: "DOMUS_TEST_FLOAT_INV", setVal: strPtr("fast"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvFloat(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

// ---------------------------------------------------------------------------
// Load() error cases
// ---------------------------------------------------------------------------

const testSecret = "test-secret-that-is-at-least-32ch"

func TestLoad_MissingJWTSecret(t *testing.T) {
	// All defaults apply; JWT secret is empty => must fail.
	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DOMUS_JWT_SECRET")
}

func TestLoad_ShortJWTSecret(t *testing.T) {
	t.Setenv("DOMUS_JWT_SECRET", "short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")
}

func TestLoad_InvalidEnvVars(t *testing.T) {
	tests := []struct {
		name   string
		envKey string
		envVal string
		errMsg string
	}{
		{name: "DB_PORT not a number", envKey: "DOMUS_DB_PORT", envVal: "abc", errMsg: "DOMUS_DB_PORT"},
		{name: "DB_PORT zero", envKey: "DOMUS_DB_PORT", envVal: "0", errMsg: "DOMUS_DB_PORT"},
		{name: "DB_PORT too high", envKey: "DOMUS_DB_PORT", envVal: "65536", errMsg: "DOMUS_DB_PORT"},
		{name: "DB_MAX_CONNS zero", envKey: "DOMUS_DB_MAX_CONNS", envVal: "0", errMsg: "DOMUS_DB_MAX_CONNS"},
		{name: "JWT_ACCESS_TTL invalid", envKey: "DOMUS_JWT_ACCESS_TTL", envVal: "badval", errMsg: "DOMUS_JWT_ACCESS_TTL"},
		{name: "JWT_REFRESH_TTL zero", envKey: "DOMUS_JWT_REFRESH_TTL", envVal: "0s", errMsg: "DOMUS_JWT_REFRESH_TTL"},
		{name: "SERVER_READ_TIMEOUT zero", envKey: "DOMUS_SERVER_READ_TIMEOUT", envVal: "0s", errMsg: "DOMUS_SERVER_READ_TIMEOUT"},
		{name: "SERVER_WRITE_TIMEOUT invalid", envKey: "DOMUS_SERVER_WRITE_TIMEOUT", envVal: "soon", errMsg: "DOMUS_SERVER_WRITE_TIMEOUT"},
		{name: "REDIS_DB not a number", envKey: "DOMUS_REDIS_DB", envVal: "abc", errMsg: "DOMUS_REDIS_DB"},
		{name: "RATE_LIMIT negative", envKey: "DOMUS_RATE_LIMIT", envVal: "-1", errMsg: "DOMUS_RATE_LIMIT"},
		{name: "RATE_LIMIT not a number", envKey: "DOMUS_RATE_LIMIT", envVal: "lots", errMsg: "DOMUS_RATE_LIMIT"},
		{name: "RATE_BURST zero", envKey: "DOMUS_RATE_BURST", envVal: "0", errMsg: "DOMUS_RATE_BURST"},
		{name: "WORKER_CONCURRENCY zero", envKey: "DOMUS_WORKER_CONCURRENCY", envVal: "0", errMsg: "DOMUS_WORKER_CONCURRENCY"},
		{name: "WORKER_MAX_ATTEMPTS zero", envKey: "DOMUS_WORKER_MAX_ATTEMPTS", envVal: "0", errMsg: "DOMUS_WORKER_MAX_ATTEMPTS"},
		{name: "WORKER_ATTEMPT_TIMEOUT zero", envKey: "DOMUS_WORKER_ATTEMPT_TIMEOUT", envVal: "0s", errMsg: "DOMUS_WORKER_ATTEMPT_TIMEOUT"},
		{name: "WORKER_MAX_BACKOFF below initial", envKey: "DOMUS_WORKER_MAX_BACKOFF", envVal: "1ms", errMsg: "DOMUS_WORKER_MAX_BACKOFF"},
		{name: "SWEEP_INTERVAL zero", envKey: "DOMUS_SWEEP_INTERVAL", envVal: "0s", errMsg: "DOMUS_SWEEP_INTERVAL"},
		{name: "SWEEP_PROCESSING_TIMEOUT too short", envKey: "DOMUS_SWEEP_PROCESSING_TIMEOUT", envVal: "10s", errMsg: "DOMUS_SWEEP_PROCESSING_TIMEOUT"},
		{name: "AI_URL relative", envKey: "DOMUS_AI_URL", envVal: "gateway/v1", errMsg: "DOMUS_AI_URL"},
		{name: "TRACE_SAMPLE_RATIO above one", envKey: "DOMUS_TRACE_SAMPLE_RATIO", envVal: "1.5", errMsg: "DOMUS_TRACE_SAMPLE_RATIO"},
		{name: "TRACE_SAMPLE_RATIO negative", envKey: "DOMUS_TRACE_SAMPLE_RATIO", envVal: "-0.1", errMsg: "DOMUS_TRACE_SAMPLE_RATIO"},
		{name: "TENANT_CACHE_TTL negative", envKey: "DOMUS_TENANT_CACHE_TTL", envVal: "-1s", errMsg: "DOMUS_TENANT_CACHE_TTL"},
		{name: "LOG_LEVEL unknown", envKey: "DOMUS_LOG_LEVEL", envVal: "loud", errMsg: "DOMUS_LOG_LEVEL"},
		{name: "LOG_FORMAT unknown", envKey: "DOMUS_LOG_FORMAT", envVal: "xml", errMsg: "DOMUS_LOG_FORMAT"},
		{name: "DEV not a bool", envKey: "DOMUS_DEV", envVal: "yes", errMsg: "DOMUS_DEV"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// Always set JWT secret so failures are from the var under test.
			t.Setenv("DOMUS_JWT_SECRET", testSecret)
			t.Setenv(tc.envKey, tc.envVal)

			cfg, err := Load()
			require.Error(t, err, "expected error for %s=%q", tc.envKey, tc.envVal)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestLoad_ReportsAllParseErrors(t *testing.T) {
	t.Setenv("DOMUS_JWT_SECRET", testSecret)
	t.Setenv("DOMUS_DB_PORT", "x")
	t.Setenv("DOMUS_REDIS_DB", "y")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DOMUS_DB_PORT")
	assert.Contains(t, err.Error(), "DOMUS_REDIS_DB")
}

// ---------------------------------------------------------------------------
// Load() happy paths
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	// Only the required JWT secret is set; everything else uses defaults.
	t.Setenv("DOMUS_JWT_SECRET", "my-dev-secret-at-least-32-chars!!")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "domus", cfg.Database.User)
	assert.Equal(t, "domus_dev", cfg.Database.DBName)
	assert.Equal(t, 25, cfg.Database.MaxConns)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshTTL)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSOrigins)
	assert.InDelta(t, 20.0, cfg.Server.RateLimit, 1e-9)
	assert.Equal(t, 40, cfg.Server.RateBurst)

	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Worker.AttemptTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Worker.InitialBackoff)
	assert.Equal(t, 10*time.Second, cfg.Worker.MaxBackoff)

	assert.Equal(t, 30*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, time.Minute, cfg.Sweeper.RequeueAfter)
	assert.Equal(t, 5*time.Minute, cfg.Sweeper.ProcessingTimeout)

	assert.Empty(t, cfg.AI.URL)
	assert.Equal(t, 20*time.Second, cfg.AI.Timeout)
	assert.Empty(t, cfg.NATS.URL)
	assert.Equal(t, "domus", cfg.NATS.SubjectPrefix)
	assert.Empty(t, cfg.Tracing.Endpoint)
	assert.InDelta(t, 1.0, cfg.Tracing.SampleRatio, 1e-9)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.PolicyFile)
	assert.Empty(t, cfg.EncryptionKey)
	assert.Equal(t, time.Minute, cfg.TenantCacheTTL)
	assert.False(t, cfg.Dev)
}

func TestLoad_AllCustomValues(t *testing.T) {
	envs := map[string]string{
		"DOMUS_DB_HOST":                  "db.prod.internal",
		"DOMUS_DB_PORT":                  "5433",
		"DOMUS_DB_USER":                  "prod_user",
		"DOMUS_DB_PASSWORD":              "s3cret!",
		"DOMUS_DB_NAME":                  "domus_prod",
		"DOMUS_DB_SSLMODE":               "require",
		"DOMUS_DB_MAX_CONNS":             "50",
		"DOMUS_REDIS_ADDR":               "redis.prod:6380",
		"DOMUS_REDIS_PASSWORD":           "redis-pass",
		"DOMUS_REDIS_DB":                 "3",
		"DOMUS_JWT_SECRET":               "prod-jwt-secret-256-bits-long!!!",
		"DOMUS_JWT_ACCESS_TTL":           "30m",
		"DOMUS_JWT_REFRESH_TTL":          "72h",
		"DOMUS_SERVER_ADDR":              ":9090",
		"DOMUS_CORS_ORIGINS":             "https://app.example.com, https://admin.example.com",
		"DOMUS_RATE_LIMIT":               "0",
		"DOMUS_WORKER_NAME":              "worker-a",
		"DOMUS_WORKER_CONCURRENCY":       "16",
		"DOMUS_WORKER_MAX_ATTEMPTS":      "5",
		"DOMUS_WORKER_ATTEMPT_TIMEOUT":   "10s",
		"DOMUS_WORKER_INITIAL_BACKOFF":   "100ms",
		"DOMUS_WORKER_MAX_BACKOFF":       "2s",
		"DOMUS_SWEEP_INTERVAL":           "1m",
		"DOMUS_SWEEP_REQUEUE_AFTER":      "2m",
		"DOMUS_SWEEP_PROCESSING_TIMEOUT": "10m",
		"DOMUS_AI_URL":                   "https://gateway.internal",
		"DOMUS_AI_API_KEY":               "ai-key",
		"DOMUS_AI_TIMEOUT":               "5s",
		"DOMUS_NATS_URL":                 "nats://nats:4222",
		"DOMUS_NATS_SUBJECT_PREFIX":      "home",
		"OTEL_EXPORTER_OTLP_ENDPOINT":    "http://collector:4317",
		"DOMUS_TRACE_SAMPLE_RATIO":       "0.25",
		"DOMUS_LOG_LEVEL":                "debug",
		"DOMUS_LOG_FORMAT":               "console",
		"DOMUS_POLICY_FILE":              "/etc/domus/policy.yaml",
		"DOMUS_ENCRYPTION_KEY":           "a2V5",
		"DOMUS_TENANT_CACHE_TTL":         "0s",
		"DOMUS_DEV":                      "true",
	}

	for k, v := range envs {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "db.prod.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "s3cret!", cfg.Database.Password)
	assert.Equal(t, 50, cfg.Database.MaxConns)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 72*time.Hour, cfg.JWT.RefreshTTL)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.Server.CORSOrigins)
	assert.Zero(t, cfg.Server.RateLimit)
	assert.Equal(t, WorkerConfig{
		Name:           "worker-a",
		Concurrency:    16,
		MaxAttempts:    5,
		AttemptTimeout: 10 * time.Second,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}, cfg.Worker)
	assert.Equal(t, 10*time.Minute, cfg.Sweeper.ProcessingTimeout)
	assert.Equal(t, AIConfig{URL: "https://gateway.internal", APIKey: "ai-key", Timeout: 5 * time.Second}, cfg.AI)
	assert.Equal(t, NATSConfig{URL: "nats://nats:4222", SubjectPrefix: "home"}, cfg.NATS)
	assert.Equal(t, TracingConfig{Endpoint: "http://collector:4317", SampleRatio: 0.25}, cfg.Tracing)
	assert.Equal(t, LogConfig{Level: "debug", Format: "console"}, cfg.Log)
	assert.Equal(t, "/etc/domus/policy.yaml", cfg.PolicyFile)
	assert.Equal(t, "a2V5", cfg.EncryptionKey)
	assert.Zero(t, cfg.TenantCacheTTL)
	assert.True(t, cfg.Dev)
}

// ---------------------------------------------------------------------------
// DSN
// ---------------------------------------------------------------------------

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Parallel()

	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "domus", SSLMode: "require"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=domus sslmode=require", c.DSN())
}

func strPtr(s string) *string { return &s }
