// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, the duel store connection, duel timing windows, realtime
// reconnect policy, rate limiting and observability.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool          `env:"ENABLE_HSTS" envDefault:"false"`
	HSTSMaxAge time.Duration `env:"HSTS_MAX_AGE" envDefault:"4320h"`
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	ServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"duelsvc"`
	SampleRatio float64 `env:"OTEL_TRACES_SAMPLER_ARG" envDefault:"1.0"`
}

// DBConfig selects the duel store backend.
type DBConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite"` // sqlite|postgres
	Path   string `env:"DB_PATH" envDefault:"duels.db"` // sqlite file
	URL    string `env:"DATABASE_URL"`                  // postgres DSN
}

// DuelConfig holds the timing constants of the duel lifecycle. None of them
// are hardcoded in the engine.
type DuelConfig struct {
	VerificationWindow  time.Duration `env:"VERIFICATION_WINDOW" envDefault:"180s"`
	ChallengeTTL        time.Duration `env:"CHALLENGE_TTL" envDefault:"24h"`
	ReminderInterval    time.Duration `env:"REMINDER_INTERVAL" envDefault:"30s"`
	ExpirySweepInterval time.Duration `env:"EXPIRY_SWEEP_INTERVAL" envDefault:"1m"`
	MinConfidence       float64       `env:"MIN_CONFIDENCE" envDefault:"0.8"`
	OracleMaxTries      uint          `env:"ORACLE_MAX_TRIES" envDefault:"3"`
	WriteMaxTries       uint          `env:"WRITE_MAX_TRIES" envDefault:"5"`
}

// NotificationConfig holds queue dedup and retention settings.
type NotificationConfig struct {
	DedupWindow     time.Duration `env:"NOTIFY_DEDUP_WINDOW" envDefault:"5m"`
	CleanupInterval time.Duration `env:"NOTIFY_CLEANUP_INTERVAL" envDefault:"10m"`
	ReadRetention   time.Duration `env:"NOTIFY_READ_RETENTION" envDefault:"168h"`
}

// RealtimeConfig holds the resubscribe backoff policy of realtime sessions.
type RealtimeConfig struct {
	BackoffInitial time.Duration `env:"REALTIME_BACKOFF_INITIAL" envDefault:"500ms"`
	BackoffMax     time.Duration `env:"REALTIME_BACKOFF_MAX" envDefault:"30s"`
	SendBuffer     int           `env:"REALTIME_SEND_BUFFER" envDefault:"64"`
}

// OracleConfig points at the screenshot verification service.
type OracleConfig struct {
	URL     string        `env:"ORACLE_URL"`
	APIKey  string        `env:"ORACLE_API_KEY"`
	Timeout time.Duration `env:"ORACLE_TIMEOUT" envDefault:"10s"`
}

// StorageConfig selects where screenshots are stored. An empty bucket keeps
// them in memory.
type StorageConfig struct {
	Bucket          string `env:"SCREENSHOT_BUCKET"`
	Endpoint        string `env:"SCREENSHOT_ENDPOINT"`
	Region          string `env:"SCREENSHOT_REGION" envDefault:"auto"`
	AccessKeyID     string `env:"SCREENSHOT_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SCREENSHOT_SECRET_ACCESS_KEY"`
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        `env:"PORT" envDefault:"8080"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"10s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"20s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"MAX_HEADER_BYTES" envDefault:"1048576"`
	MaxBodyBytes      int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	MaxUploadBytes    int64         `env:"MAX_UPLOAD_BYTES" envDefault:"8388608"`
	GinMode           string        `env:"GIN_MODE" envDefault:"release"`

	// Logging
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty   bool   `env:"LOG_PRETTY" envDefault:"false"`
	APIBasePath string `env:"API_BASE_PATH" envDefault:"/api/v1"`

	DB            DBConfig
	Duel          DuelConfig
	Notifications NotificationConfig
	Realtime      RealtimeConfig
	Oracle        OracleConfig
	Storage       StorageConfig

	// Rate limiting
	RateRPS   float64 `env:"RATE_RPS" envDefault:"5.0"`
	RateBurst int     `env:"RATE_BURST" envDefault:"10"`

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency-Key validity for POST /duels and submissions
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return cfg, fmt.Errorf("parsing environment: %w", err)
	}
	return finalize(cfg)
}

// LoadFrom is Load over an explicit variable set instead of the process
// environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return cfg, fmt.Errorf("parsing environment: %w", err)
	}
	return finalize(cfg)
}

func finalize(cfg Config) (Config, error) {
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.GinMode = strings.ToLower(cfg.GinMode)
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.APIBasePath = normalizeBasePath(cfg.APIBasePath)
	cfg.CORS.AllowedOrigins = trimList(cfg.CORS.AllowedOrigins)
	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// validate returns the first violated rule.
func validate(cfg Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}

	d, n, rt := cfg.Duel, cfg.Notifications, cfg.Realtime
	rules := []struct {
		broken bool
		msg    string
	}{
		{strings.TrimSpace(cfg.Port) == "", "PORT must not be empty"},
		{cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0, "server timeouts must be positive durations"},
		{cfg.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0"},
		{cfg.MaxBodyBytes <= 0 || cfg.MaxUploadBytes < cfg.MaxBodyBytes, "MAX_UPLOAD_BYTES must be >= MAX_BODY_BYTES > 0"},
		{d.VerificationWindow <= 0 || d.ChallengeTTL <= 0 || d.ReminderInterval <= 0, "duel timing windows must be positive durations"},
		{d.ReminderInterval >= d.VerificationWindow, "REMINDER_INTERVAL must be shorter than VERIFICATION_WINDOW"},
		{d.ExpirySweepInterval <= 0, "EXPIRY_SWEEP_INTERVAL must be > 0"},
		{d.MinConfidence < 0 || d.MinConfidence > 1, "MIN_CONFIDENCE must be between 0 and 1"},
		{d.OracleMaxTries < 1 || d.WriteMaxTries < 1, "ORACLE_MAX_TRIES and WRITE_MAX_TRIES must be >= 1"},
		{n.DedupWindow < 0, "NOTIFY_DEDUP_WINDOW must be >= 0"},
		{n.CleanupInterval <= 0 || n.ReadRetention <= 0, "NOTIFY_CLEANUP_INTERVAL and NOTIFY_READ_RETENTION must be > 0"},
		{rt.BackoffInitial <= 0 || rt.BackoffMax < rt.BackoffInitial, "REALTIME_BACKOFF_MAX must be >= REALTIME_BACKOFF_INITIAL > 0"},
		{rt.SendBuffer < 1, "REALTIME_SEND_BUFFER must be >= 1"},
		{cfg.Oracle.Timeout <= 0, "ORACLE_TIMEOUT must be > 0"},
		{cfg.RateRPS < 0, "RATE_RPS must be >= 0"},
		{cfg.RateBurst < 1, "RATE_BURST must be >= 1"},
		{cfg.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0"},
		{cfg.IdempotencyTTL <= 0, "IDEMPOTENCY_TTL must be > 0"},
		{cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]"},
	}
	for _, r := range rules {
		if r.broken {
			return errors.New(r.msg)
		}
	}
	return nil
}

func trimList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, p := range in {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
