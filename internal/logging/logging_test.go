package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerTo_WritesJSONWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := WithSessionID(WithComponent(NewLoggerTo(&buf, "info"), "session"), "sess-1")

	logger.Debug("hidden")
	logger.Info("loaded", "segments", 3)

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("log output is not one JSON record: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "loaded" || rec["component"] != "session" || rec["session_id"] != "sess-1" {
		t.Errorf("record = %v", rec)
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken("short"); got != "****" {
		t.Errorf("SanitizeToken(short) = %q", got)
	}
	if got := SanitizeToken("abcdefghijklmnop"); got != "abcd...mnop" {
		t.Errorf("SanitizeToken(long) = %q", got)
	}
}
