package logring

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestTeeHandlerForwardsAndCaptures(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	ring := NewRingBuffer(100)

	logger := slog.New(NewTeeHandler(inner, ring))
	logger.Info("attached", "session", "s1", "role", "client")

	if !strings.Contains(buf.String(), "attached") {
		t.Errorf("inner handler did not receive message, got: %s", buf.String())
	}

	entries := ring.Entries(Query{})
	if len(entries) != 1 {
		t.Fatalf("ring has %d entries, want 1", len(entries))
	}
	if entries[0].Session() != "s1" || entries[0].Attrs["role"] != "client" {
		t.Errorf("attrs = %v", entries[0].Attrs)
	}
}

func TestTeeHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	ring := NewRingBuffer(10)

	logger := slog.New(NewTeeHandler(inner, ring))
	logger.Debug("dropped")
	logger.Error("kept")

	if ring.Len() != 1 {
		t.Errorf("ring captured %d entries, want 1", ring.Len())
	}
}

func TestTeeHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, nil)
	ring := NewRingBuffer(10)

	logger := slog.New(NewTeeHandler(inner, ring)).
		With("session", "s9").
		WithGroup("conn").
		With("id", "01J")
	logger.Info("message", "bytes", 12)

	attrs := ring.Entries(Query{})[0].Attrs
	if attrs["session"] != "s9" {
		t.Errorf("session = %v", attrs["session"])
	}
	if attrs["conn.id"] != "01J" {
		t.Errorf("conn.id = %v, attrs=%v", attrs["conn.id"], attrs)
	}
	if attrs["conn.bytes"] != int64(12) {
		t.Errorf("conn.bytes = %v (%T)", attrs["conn.bytes"], attrs["conn.bytes"])
	}
}

func TestTeeHandlerEmptyGroup(t *testing.T) {
	h := NewTeeHandler(slog.NewTextHandler(&bytes.Buffer{}, nil), NewRingBuffer(1))
	if h.WithGroup("") != slog.Handler(h) {
		t.Error("empty group should return the same handler")
	}
}
