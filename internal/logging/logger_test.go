package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readLines(t *testing.T, dir string) []map[string]any {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	var out []map[string]any
	for i, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestNewLogger(t *testing.T) {
	t.Run("creates log file in directory", func(t *testing.T) {
		dir := t.TempDir()

		logger, err := NewLogger(Options{Dir: dir, Level: LevelDebug})
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		defer func() { _ = logger.Close() }()

		if _, err := os.Stat(filepath.Join(dir, LogFileName)); err != nil {
			t.Errorf("log file was not created: %v", err)
		}
	})

	t.Run("stderr logger has nothing to close", func(t *testing.T) {
		console := false
		logger, err := NewLogger(Options{Level: LevelInfo, Console: &console})
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if logger.closer != nil {
			t.Error("expected no closer for stderr logger")
		}
		if err := logger.Close(); err != nil {
			t.Errorf("Close() = %v", err)
		}
	})
}

func TestLogLevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(Options{Dir: dir, Level: LevelWarn})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message", "key", "value")
	logger.Error("error message", "key", "value")
	_ = logger.Close()

	lines := readLines(t, dir)
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	if lines[0]["level"] != "WARN" || lines[1]["level"] != "ERROR" {
		t.Errorf("levels = %v, %v", lines[0]["level"], lines[1]["level"])
	}
	if lines[0]["key"] != "value" {
		t.Errorf("key = %v, want value", lines[0]["key"])
	}
}

func TestContextPropagation(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(Options{Dir: dir, Level: LevelInfo})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	child := logger.WithTask("TASK-1").WithPhase("loop").WithTurn(2).With("role", "player")
	child.Info("turn started", "extra", "data")
	logger.Info("parent message")
	_ = logger.Close()

	lines := readLines(t, dir)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	entry := lines[0]
	if entry["task_id"] != "TASK-1" {
		t.Errorf("task_id = %v", entry["task_id"])
	}
	if entry["phase"] != "loop" {
		t.Errorf("phase = %v", entry["phase"])
	}
	if entry["turn"] != float64(2) {
		t.Errorf("turn = %v", entry["turn"])
	}
	if entry["role"] != "player" || entry["extra"] != "data" {
		t.Errorf("attrs = %v", entry)
	}

	if _, ok := lines[1]["task_id"]; ok {
		t.Error("parent logger should not inherit child attributes")
	}
}

func TestWithIgnoresNonStringKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithHandler(slog.NewJSONHandler(&buf, nil))

	logger.With(42, "dropped", "kept", true).Info("msg")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["kept"] != true {
		t.Errorf("kept = %v", entry["kept"])
	}
	if len(entry) != 4 {
		t.Errorf("unexpected attributes: %v", entry)
	}
}

func TestWithNoArgsReturnsSameLogger(t *testing.T) {
	logger := NopLogger()
	if logger.With() != logger {
		t.Error("With() without args should return the receiver")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"Warn", LevelWarn},
		{"error", LevelError},
		{"verbose", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidLevels(t *testing.T) {
	levels := ValidLevels()
	if len(levels) != 4 {
		t.Fatalf("ValidLevels() returned %d levels", len(levels))
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.WithTask("x").Error("discarded")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
