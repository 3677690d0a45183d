package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComponentTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	l := Component(newLogger(&buf, "info"), "matcher")
	l.Debug("hidden")
	l.Info("cycle finished", "groups", 2)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected exactly one json record, got %q: %v", buf.String(), err)
	}
	if rec["component"] != "matcher" {
		t.Fatalf("component = %v", rec["component"])
	}
	if rec["groups"] != float64(2) {
		t.Fatalf("groups = %v", rec["groups"])
	}
}
