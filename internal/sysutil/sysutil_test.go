package sysutil

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestSetLogLevel(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })

	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"  DeBuG ", zerolog.DebugLevel},
		{"", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		SetLogLevel(tc.in)
		if got := zerolog.GlobalLevel(); got != tc.want {
			t.Fatalf("SetLogLevel(%q) -> %v; want %v", tc.in, got, tc.want)
		}
	}
}

func TestSetupLogging_TagsLines(t *testing.T) {
	origLevel, origLogger := zerolog.GlobalLevel(), log.Logger
	t.Cleanup(func() { zerolog.SetGlobalLevel(origLevel); log.Logger = origLogger })

	var buf bytes.Buffer
	SetupLogging(&buf, "warn", false, "duelsvc", "v1.0.0")
	log.Info().Msg("dropped")
	log.Warn().Str("duel_id", "d-1").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("want 1 line, got %q", buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("json: %v", err)
	}
	if m["service"] != "duelsvc" || m["version"] != "v1.0.0" || m["duel_id"] != "d-1" || m["time"] == nil {
		t.Fatalf("fields = %v", m)
	}
}

func TestSetupLogging_Pretty(t *testing.T) {
	origLevel, origLogger := zerolog.GlobalLevel(), log.Logger
	t.Cleanup(func() { zerolog.SetGlobalLevel(origLevel); log.Logger = origLogger })

	var buf bytes.Buffer
	SetupLogging(&buf, "info", true, "duelsvc", "dev")
	log.Info().Msg("listening")
	if out := buf.String(); strings.HasPrefix(out, "{") || !strings.Contains(out, "listening") {
		t.Fatalf("pretty output = %q", out)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "test.env")
	if err := os.WriteFile(p, []byte("DUELSVC_TEST_A=from-file\nDUELSVC_TEST_B=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DUELSVC_TEST_B", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("DUELSVC_TEST_A") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), p); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("DUELSVC_TEST_A"); got != "from-file" {
		t.Fatalf("A = %q", got)
	}
	if got := os.Getenv("DUELSVC_TEST_B"); got != "from-env" {
		t.Fatalf("B overridden: %q", got)
	}
}

func TestIsTruthy(t *testing.T) {
	for _, v := range []string{"1", "TRUE", " yes ", "Y", "on"} {
		if !IsTruthy(v) {
			t.Fatalf("IsTruthy(%q) = false", v)
		}
	}
	for _, v := range []string{"", "0", "off", "n", "maybe"} {
		if IsTruthy(v) {
			t.Fatalf("IsTruthy(%q) = true", v)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty("", "  ", "v2", "v3"); got != "v2" {
		t.Fatalf("got %q", got)
	}
	if got := FirstNonEmpty("", " "); got != "" {
		t.Fatalf("got %q", got)
	}
}
