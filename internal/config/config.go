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
	CORSAllowedOrigins []string
	Location           *time.Location

	JWTSecret    string
	JWTIssuer    string
	JWTAudience  string
	AccessCookie string

	MidtransServerKey string
	MidtransBaseURL   string
	PaymentTTL        time.Duration
	VoucherConsumeOn  string
	WebhookReplayTTL  time.Duration
	WebhookMaxBody    int64
	RequestMaxBody    int64
	IdempotencyTTL    time.Duration
	AuditEnabled      bool
	AuditSampleRate   float64

	WhatsAppBaseURL string
	WhatsAppToken   string
	KafkaBrokers    []string
	KafkaTopic      string

	Queue     QueueConfig
	Outbound  OutboundConfig
	Limits    LimitConfig
	Analytics AnalyticsConfig
	Jobs      JobsConfig
	Obs       ObsConfig
}

// QueueConfig tunes the Redis notification queue and its worker.
type QueueConfig struct {
	Prefix            string
	MaxAttempts       int
	Concurrency       int
	VisibilityTimeout time.Duration
	HeartbeatInterval time.Duration
	SoftDeadline      time.Duration
	RetryBase         time.Duration
	RetryJitter       float64
	DedupTTL          time.Duration
	LockTTL           time.Duration
	DeliveredTTL      time.Duration
}

// OutboundConfig applies to calls to the payment gateway and WhatsApp.
type OutboundConfig struct {
	Timeout        time.Duration
	MaxAttempts    int
	BaseBackoff    time.Duration
	Jitter         float64
	BreakerMinReqs int
	BreakerRatio   float64
	BreakerOpenFor time.Duration
}

// LimitConfig configures public endpoint rate limits.
type LimitConfig struct {
	OnlineOrderRate string
	VoucherLimit    int
	VoucherWindow   time.Duration
}

// AnalyticsConfig configures revenue report caching.
type AnalyticsConfig struct {
	CacheTTL     time.Duration
	DefaultRange int
}

// JobsConfig configures the asynq expiry server.
type JobsConfig struct {
	Queue       string
	Concurrency int
	MaxRetry    int
}

// ObsConfig configures logging, metrics, tracing and the debug endpoints.
type ObsConfig struct {
	LogFormat       string
	LogLevel        string
	ServiceName     string
	MetricsEnabled  bool
	MetricsBuckets  string
	TracingEnabled  bool
	TracingExporter string
	OTLPEndpoint    string
	SamplingRatio   float64
	PprofEnabled    bool
	PprofUser       string
	PprofPass       string
	SecurityHeaders bool
	EnableHSTS      bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	loc, err := time.LoadLocation(valueOrDefault(k.String("APP_TIMEZONE"), "Asia/Jakarta"))
	if err != nil {
		return nil, fmt.Errorf("APP_TIMEZONE: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		Location:           loc,

		JWTSecret:    k.String("JWT_SECRET"),
		JWTIssuer:    valueOrDefault(k.String("JWT_ISSUER"), "kopi-pos"),
		JWTAudience:  valueOrDefault(k.String("JWT_AUDIENCE"), "kopi-pos-staff"),
		AccessCookie: valueOrDefault(k.String("ACCESS_COOKIE_NAME"), "kopi_session"),

		MidtransServerKey: k.String("MIDTRANS_SERVER_KEY"),
		MidtransBaseURL:   valueOrDefault(k.String("MIDTRANS_BASE_URL"), "https://app.sandbox.midtrans.com"),
		PaymentTTL:        parseDuration(k.String("ORDER_PAYMENT_TTL"), "15m"),
		VoucherConsumeOn:  valueOrDefault(strings.ToLower(k.String("VOUCHER_CONSUME_ON")), "order"),
		WebhookReplayTTL:  parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		WebhookMaxBody:    parseInt64(k.String("WEBHOOK_MAX_BODY_BYTES"), 64<<10),
		RequestMaxBody:    parseInt64(k.String("REQUEST_MAX_BODY_BYTES"), 1<<20),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		AuditEnabled:      parseBoolDefault(k.String("AUDIT_ENABLED"), true),
		AuditSampleRate:   parseFloat(k.String("AUDIT_SAMPLE_RATE"), 1),

		WhatsAppBaseURL: strings.TrimSpace(k.String("WHATSAPP_BASE_URL")),
		WhatsAppToken:   k.String("WHATSAPP_TOKEN"),
		KafkaBrokers:    splitAndTrim(k.String("KAFKA_BROKERS")),
		KafkaTopic:      valueOrDefault(k.String("KAFKA_TOPIC"), "kopi-pos.order-events"),

		Queue: QueueConfig{
			Prefix:            valueOrDefault(k.String("QUEUE_PREFIX"), "q"),
			MaxAttempts:       parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 5),
			Concurrency:       parseInt(k.String("QUEUE_CONCURRENCY"), 4),
			VisibilityTimeout: parseDuration(k.String("QUEUE_VISIBILITY_TIMEOUT"), "30s"),
			HeartbeatInterval: parseDuration(k.String("QUEUE_HEARTBEAT_INTERVAL"), "10s"),
			SoftDeadline:      parseDuration(k.String("QUEUE_SOFT_DEADLINE"), "20s"),
			RetryBase:         parseDuration(k.String("QUEUE_RETRY_BASE"), "2s"),
			RetryJitter:       parseFloat(k.String("QUEUE_RETRY_JITTER"), 0.2),
			DedupTTL:          parseDuration(k.String("QUEUE_DEDUP_TTL"), "24h"),
			LockTTL:           parseDuration(k.String("NOTIFY_LOCK_TTL"), "30s"),
			DeliveredTTL:      parseDuration(k.String("NOTIFY_DELIVERED_TTL"), "72h"),
		},
		Outbound: OutboundConfig{
			Timeout:        parseDuration(k.String("OUTBOUND_TIMEOUT"), "5s"),
			MaxAttempts:    parseInt(k.String("OUTBOUND_MAX_ATTEMPTS"), 3),
			BaseBackoff:    parseDuration(k.String("OUTBOUND_BACKOFF"), "200ms"),
			Jitter:         parseFloat(k.String("OUTBOUND_JITTER"), 0.2),
			BreakerMinReqs: parseInt(k.String("BREAKER_MIN_REQUESTS"), 10),
			BreakerRatio:   parseFloat(k.String("BREAKER_FAILURE_RATIO"), 0.5),
			BreakerOpenFor: parseDuration(k.String("BREAKER_OPEN_FOR"), "30s"),
		},
		Limits: LimitConfig{
			OnlineOrderRate: valueOrDefault(k.String("ONLINE_ORDER_RATE"), "20-M"),
			VoucherLimit:    parseInt(k.String("VOUCHER_VALIDATE_LIMIT"), 30),
			VoucherWindow:   parseDuration(k.String("VOUCHER_VALIDATE_WINDOW"), "1m"),
		},
		Analytics: AnalyticsConfig{
			CacheTTL:     parseDuration(k.String("ANALYTICS_CACHE_TTL"), "5m"),
			DefaultRange: parseInt(k.String("ANALYTICS_DEFAULT_DAYS"), 30),
		},
		Jobs: JobsConfig{
			Queue:       valueOrDefault(k.String("JOBS_QUEUE"), "orders"),
			Concurrency: parseInt(k.String("JOBS_CONCURRENCY"), 5),
			MaxRetry:    parseInt(k.String("JOBS_MAX_RETRY"), 5),
		},
		Obs: ObsConfig{
			LogFormat:       valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:        valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			ServiceName:     valueOrDefault(k.String("OBS_SERVICE_NAME"), "kopi-pos"),
			MetricsEnabled:  parseBoolDefault(k.String("OBS_METRICS_ENABLED"), true),
			MetricsBuckets:  k.String("OBS_METRICS_BUCKETS"),
			TracingEnabled:  parseBool(k.String("OBS_TRACING_ENABLED")),
			TracingExporter: valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:    k.String("OTEL_EXPORTER_OTLP_ENDPOINT"),
			SamplingRatio:   parseFloat(k.String("OBS_TRACING_SAMPLE_RATIO"), 0.1),
			PprofEnabled:    parseBool(k.String("OBS_PPROF_ENABLED")),
			PprofUser:       k.String("OBS_PPROF_USER"),
			PprofPass:       k.String("OBS_PPROF_PASS"),
			SecurityHeaders: parseBoolDefault(k.String("SECURITY_HEADERS_ENABLED"), true),
			EnableHSTS:      parseBool(k.String("SECURITY_HSTS_ENABLED")),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.VoucherConsumeOn != "order" && cfg.VoucherConsumeOn != "settlement" {
		return nil, fmt.Errorf("VOUCHER_CONSUME_ON must be order or settlement, got %q", cfg.VoucherConsumeOn)
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

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
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
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseInt64(value string, fallback int64) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || f < 0 {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseBoolDefault(value string, fallback bool) bool {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return parseBool(value)
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
