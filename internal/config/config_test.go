package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestMustLoad(t *testing.T) {
	t.Run("valid defaults", func(t *testing.T) {
		if cfg := MustLoad(); cfg.APIBasePath != "/api/v1" {
			t.Fatalf("APIBasePath = %q", cfg.APIBasePath)
		}
	})
	t.Run("invalid level panics", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "verbose")
		defer func() {
			if recover() == nil {
				t.Fatal("no panic")
			}
		}()
		MustLoad()
	})
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	want := DuelConfig{
		VerificationWindow:  3 * time.Minute,
		ChallengeTTL:        24 * time.Hour,
		ReminderInterval:    30 * time.Second,
		ExpirySweepInterval: time.Minute,
		MinConfidence:       0.8,
		OracleMaxTries:      3,
		WriteMaxTries:       5,
	}
	if cfg.Duel != want {
		t.Errorf("Duel = %+v", cfg.Duel)
	}
	if cfg.DB != (DBConfig{Driver: "sqlite", Path: "duels.db"}) {
		t.Errorf("DB = %+v", cfg.DB)
	}
	if cfg.Notifications.DedupWindow != 5*time.Minute || cfg.Notifications.ReadRetention != 7*24*time.Hour {
		t.Errorf("Notifications = %+v", cfg.Notifications)
	}
	if cfg.Realtime != (RealtimeConfig{BackoffInitial: 500 * time.Millisecond, BackoffMax: 30 * time.Second, SendBuffer: 64}) {
		t.Errorf("Realtime = %+v", cfg.Realtime)
	}
	if cfg.CORS.AllowedOrigins != nil || cfg.Security.HSTSMaxAge != 180*24*time.Hour || cfg.GinMode != "release" {
		t.Errorf("web defaults: cors=%v hsts=%v gin=%s", cfg.CORS.AllowedOrigins, cfg.Security.HSTSMaxAge, cfg.GinMode)
	}
	if cfg.MaxUploadBytes != 8<<20 || cfg.MaxBodyBytes != 1<<20 {
		t.Errorf("caps: upload=%d body=%d", cfg.MaxUploadBytes, cfg.MaxBodyBytes)
	}
}

func TestLoad_ReadsAndNormalizesEnvironment(t *testing.T) {
	vars := map[string]string{
		"PORT":                        "9090",
		"READ_TIMEOUT":                "2s",
		"GIN_MODE":                    "Weird",
		"LOG_LEVEL":                   " WARNING ",
		"API_BASE_PATH":               "duels/v2/",
		"DB_DRIVER":                   "Postgres",
		"DATABASE_URL":                "postgres://duels@db/duels",
		"VERIFICATION_WINDOW":         "90s",
		"REMINDER_INTERVAL":           "15s",
		"MIN_CONFIDENCE":              "0.6",
		"NOTIFY_DEDUP_WINDOW":         "0s",
		"ORACLE_URL":                  "https://oracle.internal",
		"SCREENSHOT_BUCKET":           "shots",
		"CORS_ALLOWED_ORIGINS":        " https://app.example , , http://localhost:3000 ",
		"ENABLE_HSTS":                 "true",
		"IDEMPOTENCY_TTL":             "48h",
		"OTEL_ENABLED":                "1",
		"OTEL_EXPORTER_OTLP_INSECURE": "0",
		"OTEL_TRACES_SAMPLER_ARG":     "0.25",
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	checks := []struct {
		name      string
		got, want any
	}{
		{"port", cfg.Port, "9090"},
		{"read timeout", cfg.ReadTimeout, 2 * time.Second},
		{"gin mode", cfg.GinMode, "release"},
		{"log level", cfg.LogLevel, "warn"},
		{"base path", cfg.APIBasePath, "/duels/v2"},
		{"driver", cfg.DB.Driver, "postgres"},
		{"window", cfg.Duel.VerificationWindow, 90 * time.Second},
		{"reminder", cfg.Duel.ReminderInterval, 15 * time.Second},
		{"confidence", cfg.Duel.MinConfidence, 0.6},
		{"dedup", cfg.Notifications.DedupWindow, time.Duration(0)},
		{"oracle", cfg.Oracle.URL, "https://oracle.internal"},
		{"bucket", cfg.Storage.Bucket, "shots"},
		{"hsts", cfg.Security.EnableHSTS, true},
		{"idempotency ttl", cfg.IdempotencyTTL, 48 * time.Hour},
		{"otel", cfg.OTEL.Enabled && !cfg.OTEL.Insecure, true},
		{"sample ratio", cfg.OTEL.SampleRatio, 0.25},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://app.example", "http://localhost:3000"}) {
		t.Errorf("origins = %#v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoad_ParseError(t *testing.T) {
	t.Setenv("RATE_BURST", "nope")
	if _, err := Load(); err == nil || !containsErr(err, "parsing environment") {
		t.Fatalf("expected parse error, got: %v", err)
	}
}

func TestLoadFrom_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		vars map[string]string
		want string
	}{
		{"invalid LOG_LEVEL", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"empty PORT via spaces", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"non-positive timeouts", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"max header bytes <= 0", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"upload cap below body cap", map[string]string{"MAX_UPLOAD_BYTES": "1024"}, "MAX_UPLOAD_BYTES"},
		{"empty DB_PATH", map[string]string{"DB_PATH": "   "}, "DB_PATH must not be empty"},
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres"}, "DATABASE_URL"},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"zero verification window", map[string]string{"VERIFICATION_WINDOW": "0s"}, "duel timing windows"},
		{"reminder not shorter than window", map[string]string{"REMINDER_INTERVAL": "180s"}, "REMINDER_INTERVAL"},
		{"sweep interval", map[string]string{"EXPIRY_SWEEP_INTERVAL": "0s"}, "EXPIRY_SWEEP_INTERVAL"},
		{"confidence out of range", map[string]string{"MIN_CONFIDENCE": "1.5"}, "MIN_CONFIDENCE"},
		{"zero oracle tries", map[string]string{"ORACLE_MAX_TRIES": "0"}, "ORACLE_MAX_TRIES"},
		{"negative dedup window", map[string]string{"NOTIFY_DEDUP_WINDOW": "-1s"}, "NOTIFY_DEDUP_WINDOW"},
		{"cleanup interval", map[string]string{"NOTIFY_CLEANUP_INTERVAL": "0s"}, "NOTIFY_CLEANUP_INTERVAL"},
		{"backoff max below initial", map[string]string{"REALTIME_BACKOFF_INITIAL": "2s", "REALTIME_BACKOFF_MAX": "1s"}, "REALTIME_BACKOFF_MAX"},
		{"send buffer", map[string]string{"REALTIME_SEND_BUFFER": "0"}, "REALTIME_SEND_BUFFER"},
		{"oracle timeout", map[string]string{"ORACLE_TIMEOUT": "0s"}, "ORACLE_TIMEOUT"},
		{"rate rps negative", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"rate burst < 1", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"hsts max age negative", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"idempotency ttl non-positive", map[string]string{"IDEMPOTENCY_TTL": "0s"}, "IDEMPOTENCY_TTL"},
		{"otel sample ratio out of range", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadFrom(tc.vars); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected %s validation error, got: %v", tc.want, err)
			}
		})
	}
}

func TestTrimList(t *testing.T) {
	cases := []struct {
		in, want []string
	}{
		{nil, nil},
		{[]string{" ", ""}, nil},
		{[]string{" a", " ", "b ", "  c  "}, []string{"a", "b", "c"}},
	}
	for _, tc := range cases {
		if got := trimList(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("trimList(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeBasePath(t *testing.T) {
	for in, want := range map[string]string{"": "/", " / ": "/", "v1": "/v1", "/v1/": "/v1", "/api/v1": "/api/v1"} {
		if got := normalizeBasePath(in); got != want {
			t.Errorf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}

// Ensure tests don't leak env to others.
func TestMain(m *testing.M) {
	os.Unsetenv("PORT")
	os.Unsetenv("DB_DRIVER")
	os.Unsetenv("DATABASE_URL")
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
