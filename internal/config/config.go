package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	AdminAPIToken      string
	CORSAllowedOrigins []string
	CurrencyCode       string

	PricingCacheTTL      time.Duration
	QuoteRateLimitWindow time.Duration
	QuoteRateLimitMax    int
	AdminRateLimit       string
	IdempotencyTTL       time.Duration
	LockTTL              time.Duration
	LockRetryBackoff     time.Duration
	SubscriptionLockWait time.Duration
	RulesBreakerOpenFor  time.Duration
	AuditEnabled         bool

	BodyLimitBytes         int64
	SecurityHeadersEnabled bool
	EnableHSTS             bool
	ShutdownTimeout        time.Duration

	Obs Observability
}

// Observability groups logging, metrics and tracing settings.
type Observability struct {
	LogFormat       string
	LogLevel        string
	MetricsEnabled  bool
	MetricsBuckets  string
	TracingEnabled  bool
	TracingExporter string
	OTLPEndpoint    string
	SamplingRatio   float64
	ServiceName     string
	PprofEnabled    bool
	PprofUser       string
	PprofPassword   string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		AdminAPIToken:      strings.TrimSpace(k.String("ADMIN_API_TOKEN")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		CurrencyCode:       strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "MAD")),

		PricingCacheTTL:      parseDuration(k.String("PRICING_CACHE_TTL"), "5m"),
		QuoteRateLimitWindow: parseDuration(k.String("QUOTE_RATE_LIMIT_WINDOW"), "1m"),
		QuoteRateLimitMax:    parseInt(k.String("QUOTE_RATE_LIMIT_MAX"), 120),
		AdminRateLimit:       valueOrDefault(k.String("ADMIN_RATE_LIMIT"), "300-M"),
		IdempotencyTTL:       parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		LockTTL:              parseDuration(k.String("LOCK_TTL"), "30s"),
		LockRetryBackoff:     parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),
		SubscriptionLockWait: parseDuration(k.String("SUBSCRIPTION_LOCK_WAIT"), "2s"),
		RulesBreakerOpenFor:  parseDuration(k.String("RULES_BREAKER_OPEN_FOR"), "30s"),
		AuditEnabled:         parseBoolDefault(k.String("AUDIT_ENABLED"), true),

		BodyLimitBytes:         int64(parseInt(k.String("HTTP_BODY_LIMIT_BYTES"), 1<<20)),
		SecurityHeadersEnabled: parseBoolDefault(k.String("SECURITY_HEADERS_ENABLED"), true),
		EnableHSTS:             parseBool(k.String("SECURITY_HSTS_ENABLED")),
		ShutdownTimeout:        parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),

		Obs: Observability{
			LogFormat:       valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:        valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsEnabled:  parseBoolDefault(k.String("OBS_METRICS_ENABLED"), true),
			MetricsBuckets:  k.String("OBS_METRICS_BUCKETS_MS"),
			TracingEnabled:  parseBool(k.String("OBS_TRACING_ENABLED")),
			TracingExporter: valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:    k.String("OTEL_EXPORTER_OTLP_ENDPOINT"),
			SamplingRatio:   parseFloat(k.String("OBS_TRACING_SAMPLE_RATIO"), 1),
			ServiceName:     valueOrDefault(k.String("OBS_SERVICE_NAME"), "mealkit-api"),
			PprofEnabled:    parseBool(k.String("OBS_PPROF_ENABLED")),
			PprofUser:       k.String("OBS_PPROF_USER"),
			PprofPassword:   k.String("OBS_PPROF_PASSWORD"),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.AdminAPIToken == "" {
		return nil, errors.New("ADMIN_API_TOKEN is required")
	}
	if cfg.QuoteRateLimitMax < 0 {
		return nil, errors.New("QUOTE_RATE_LIMIT_MAX must not be negative")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether the service runs with APP_ENV=production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), "production")
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
