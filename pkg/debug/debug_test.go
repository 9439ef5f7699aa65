package debug

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseCategories(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]bool
	}{
		{"empty", "", map[string]bool{}},
		{"single", "auth", map[string]bool{"auth": true}},
		{"multiple", "auth,nonce", map[string]bool{"auth": true, "nonce": true}},
		{"with spaces", " outbound , exchange ", map[string]bool{"outbound": true, "exchange": true}},
		{"uppercase normalized", "AUTH,Nonce", map[string]bool{"auth": true, "nonce": true}},
		{"empty segments", "auth,,storage", map[string]bool{"auth": true, "storage": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCategories(tt.input)
			if len(got) != len(tt.want) {
				t.Errorf("len(got) = %d, want %d", len(got), len(tt.want))
			}
			for k := range tt.want {
				if !got[k] {
					t.Errorf("category %q missing", k)
				}
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("auth,nonce")
	if !Enabled("auth") || !Enabled("nonce") {
		t.Error("auth and nonce should be enabled")
	}
	if Enabled("outbound") {
		t.Error("outbound should not be enabled")
	}

	categories = parseCategories("all")
	if !Enabled("anything") {
		t.Error("anything should be enabled via 'all'")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"TRACE", LevelTrace},
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestInit_JSONFormat(t *testing.T) {
	origCats, origLogger := categories, slog.Default()
	defer func() {
		categories = origCats
		slog.SetDefault(origLogger)
	}()
	t.Setenv(EnvCategories, "")
	t.Setenv(EnvLevel, "")
	t.Setenv(EnvFormat, "")

	var buf bytes.Buffer
	initTo(&buf, "auth", "DEBUG", "json")

	Log("auth", "verified", "tenant", "client-1")
	Log("outbound", "hidden")

	line := strings.TrimSpace(buf.String())
	if strings.Contains(line, "hidden") {
		t.Errorf("disabled category was logged: %s", line)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, line)
	}
	if rec["msg"] != "verified" || rec["debug"] != "auth" || rec["tenant"] != "client-1" {
		t.Errorf("record = %v", rec)
	}
}

func TestInit_EnvOverridesConfig(t *testing.T) {
	origCats, origLogger := categories, slog.Default()
	defer func() {
		categories = origCats
		slog.SetDefault(origLogger)
	}()
	t.Setenv(EnvCategories, "nonce")
	t.Setenv(EnvLevel, "ERROR")
	t.Setenv(EnvFormat, "")

	var buf bytes.Buffer
	initTo(&buf, "auth", "DEBUG", "")

	if Enabled("auth") || !Enabled("nonce") {
		t.Errorf("categories = %v, want only nonce", Categories())
	}
	slog.Warn("below threshold")
	if buf.Len() != 0 {
		t.Errorf("warn logged at ERROR level: %q", buf.String())
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("short"); got != "[redacted]" {
		t.Errorf("Redact(short) = %q", got)
	}
	if got := Redact("eyJhbGciOiJIUzI1NiJ9"); got != "eyJh...[redacted]" {
		t.Errorf("Redact(long) = %q", got)
	}
}

func TestLog_DisabledCategory(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("")

	// Should not panic or produce output.
	Log("auth", "test message", "key", "value")
	Trace("auth", "trace message", "key", "value")
}
