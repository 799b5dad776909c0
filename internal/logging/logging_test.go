package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestEventContext(t *testing.T) {
	ctx, e := NewEventContext(context.Background())
	AddToEvent(ctx, slog.String("a", "1"), slog.Int("b", 2))

	if got := EventFromContext(ctx); got != e {
		t.Fatal("EventFromContext returned a different event")
	}
	if n := len(e.Attrs()); n != 2 {
		t.Errorf("len(Attrs()) = %d, want 2", n)
	}

	// No event in context is a no-op.
	AddToEvent(context.Background(), slog.String("ignored", "x"))
}

func TestInitWriter(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelWarn)
	t.Cleanup(func() { InitWriter(&bytes.Buffer{}, slog.LevelInfo) })

	Get().Info("hidden")
	Get().Warn("shown", slog.String("k", "v"))

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "shown" || line["service"] != "llmcache" || line["k"] != "v" {
		t.Errorf("unexpected log line: %v", line)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
