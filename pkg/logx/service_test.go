package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestFormatTelegramLine(t *testing.T) {
	t.Parallel()

	line := []byte(`{"level":"warn","time":"2026-01-18T10:00:00Z","message":"fetch failed","item":"one_piece","comp":"cycle"}` + "\n")
	got := formatTelegramLine(line)
	want := "[WARN] fetch failed\n- comp=cycle\n- item=one_piece"
	if got != want {
		t.Fatalf("formatTelegramLine() = %q, want %q", got, want)
	}
}

func TestFormatTelegramLineNotJSON(t *testing.T) {
	t.Parallel()

	if got := formatTelegramLine([]byte("  plain text \n")); got != "plain text" {
		t.Fatalf("formatTelegramLine() = %q", got)
	}
}

func TestLoggerWithFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Warn("boom", Err(errors.New("bad")), Int("n", 3))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if m["comp"] != "test" || m["message"] != "boom" || m["n"] != float64(3) {
		t.Fatalf("unexpected fields: %v", m)
	}
	if caller, _ := m["caller"].(string); !strings.HasPrefix(caller, "service_test.go:") {
		t.Fatalf("caller = %q", caller)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("nothing happens")
	if Nop().IsZero() {
		t.Fatal("Nop logger should not be zero")
	}
}
