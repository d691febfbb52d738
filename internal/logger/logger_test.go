package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) Entry {
	t.Helper()
	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to unmarshal log entry: %v (%s)", err, buf.String())
	}
	return entry
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		Output:    &buf,
		MinLevel:  LevelDebug,
		WithStack: true,
	})

	if logger.output != &buf {
		t.Error("expected output to be set")
	}
	if logger.minLevel != LevelDebug {
		t.Errorf("expected minLevel DEBUG, got %s", logger.minLevel)
	}
	if logger.format != FormatJSON {
		t.Errorf("expected json format by default, got %s", logger.format)
	}
}

func TestLevels(t *testing.T) {
	tests := []struct {
		name  string
		emit  func(l *Logger)
		level Level
	}{
		{"debug", func(l *Logger) { l.Debug("msg") }, LevelDebug},
		{"info", func(l *Logger) { l.Info("msg") }, LevelInfo},
		{"warn", func(l *Logger) { l.Warn("msg") }, LevelWarn},
		{"error", func(l *Logger) { l.Error("msg", errors.New("boom")) }, LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.emit(New(Config{Output: &buf, MinLevel: LevelDebug}))

			entry := decodeEntry(t, &buf)
			if entry.Level != tt.level {
				t.Errorf("expected level %s, got %s", tt.level, entry.Level)
			}
			if entry.Message != "msg" {
				t.Errorf("expected message 'msg', got %s", entry.Message)
			}
		})
	}
}

func TestErrorWithStack(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, MinLevel: LevelError, WithStack: true})

	logger.Error("merge failed", errors.New("exit status 1"))

	entry := decodeEntry(t, &buf)
	if entry.Error != "exit status 1" {
		t.Errorf("expected error text, got %q", entry.Error)
	}
	if len(entry.Stack) == 0 {
		t.Error("expected stack trace to be present")
	}
}

func TestMinLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, MinLevel: LevelWarn})

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() > 0 {
		t.Error("expected no output below WARN")
	}

	logger.Warn("warning message")
	if buf.Len() == 0 {
		t.Error("expected output for WARN")
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})

	logger.WithFields(map[string]interface{}{
		"quality": "720p",
		"stage":   "merge",
	}).WithFields(map[string]interface{}{
		"stage": "upload",
	}).Info("rendition published")

	entry := decodeEntry(t, &buf)
	if entry.Context["quality"] != "720p" {
		t.Errorf("expected quality '720p', got %v", entry.Context["quality"])
	}
	if entry.Context["stage"] != "upload" {
		t.Errorf("expected later field to win, got %v", entry.Context["stage"])
	}
}

func TestContextValues(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})

	ctx := ContextWithRunID(context.Background(), "run-1")
	ctx = ContextWithTitle(ctx, "Solo Leveling")
	ctx = ContextWithRequestID(ctx, "req-9")

	logger.WithFields(map[string]interface{}{"state": "Downloading"}).InfoContext(ctx, "transition")

	entry := decodeEntry(t, &buf)
	if entry.Context["run_id"] != "run-1" {
		t.Errorf("expected run_id, got %v", entry.Context["run_id"])
	}
	if entry.Context["title"] != "Solo Leveling" {
		t.Errorf("expected title, got %v", entry.Context["title"])
	}
	if entry.Context["request_id"] != "req-9" {
		t.Errorf("expected request_id, got %v", entry.Context["request_id"])
	}
	if entry.Context["state"] != "Downloading" {
		t.Errorf("expected state field, got %v", entry.Context["state"])
	}
	if RunIDFromContext(ctx) != "run-1" {
		t.Errorf("expected RunIDFromContext to return run-1")
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Format: FormatText})

	logger.WithFields(map[string]interface{}{
		"b": 2,
		"a": 1,
	}).Error("upload failed", errors.New("429"))

	line := strings.TrimSpace(buf.String())
	if json.Valid([]byte(line)) {
		t.Fatalf("expected text output, got JSON: %s", line)
	}
	if !strings.Contains(line, "ERROR upload failed a=1 b=2") {
		t.Errorf("expected sorted fields in text line, got %s", line)
	}
	if !strings.HasSuffix(line, `error="429"`) {
		t.Errorf("expected error suffix, got %s", line)
	}
}

func TestNewWithLevel(t *testing.T) {
	tests := []struct {
		level         string
		format        string
		expectedLevel Level
		expectFormat  Format
		expectStack   bool
	}{
		{"debug", "json", LevelDebug, FormatJSON, true},
		{"info", "text", LevelInfo, FormatText, false},
		{"warn", "", LevelWarn, FormatJSON, false},
		{"error", "TEXT", LevelError, FormatText, false},
		{"invalid", "yaml", LevelInfo, FormatJSON, false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := NewWithLevel(tt.level, tt.format)
			if logger.minLevel != tt.expectedLevel {
				t.Errorf("expected level %s, got %s", tt.expectedLevel, logger.minLevel)
			}
			if logger.format != tt.expectFormat {
				t.Errorf("expected format %s, got %s", tt.expectFormat, logger.format)
			}
			if logger.withStack != tt.expectStack {
				t.Errorf("expected withStack %v, got %v", tt.expectStack, logger.withStack)
			}
		})
	}
}

func TestInitializeLoggersWithFormat(t *testing.T) {
	t.Cleanup(func() {
		SetAppLogger(nil)
		SetDatabaseLogger(nil)
	})

	InitializeLoggersWithFormat("debug", "warn", "text")

	if AppLogger().minLevel != LevelDebug {
		t.Errorf("expected app logger level DEBUG, got %s", AppLogger().minLevel)
	}
	if DatabaseLogger().minLevel != LevelWarn {
		t.Errorf("expected database logger level WARN, got %s", DatabaseLogger().minLevel)
	}
	if AppLogger().format != FormatText {
		t.Errorf("expected text format, got %s", AppLogger().format)
	}
}

func TestAppLogger_Singleton(t *testing.T) {
	SetAppLogger(nil)
	t.Cleanup(func() { SetAppLogger(nil) })

	if AppLogger() != AppLogger() {
		t.Error("expected AppLogger to return the same instance")
	}
}

func TestSetDatabaseLogger(t *testing.T) {
	custom := NewWithLevel("debug", "json")
	SetDatabaseLogger(custom)
	t.Cleanup(func() { SetDatabaseLogger(nil) })

	if DatabaseLogger() != custom {
		t.Error("expected custom database logger to be set")
	}
}
