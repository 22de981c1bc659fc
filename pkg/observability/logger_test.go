package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/arborhq/arbor/pkg/contextkeys"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	entry := map[string]interface{}{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry: %v", err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		if buf.Len() > 0 {
			t.Error("Debug message should not be logged at Info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")

		entry := decodeEntry(t, &buf)
		if entry["level"] != "INFO" {
			t.Errorf("Expected level INFO, got %v", entry["level"])
		}
		if entry["msg"] != "info message" {
			t.Errorf("Expected message 'info message', got %v", entry["msg"])
		}
	})

	t.Run("warn logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warn("warn message")
		if buf.Len() == 0 {
			t.Error("Warn message should be logged at Info level")
		}
	})

	t.Run("error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Error("error message")
		if buf.Len() == 0 {
			t.Error("Error message should be logged at Info level")
		}
	})
}

func TestLogger_WithField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("key", "value").Info("message")

	entry := decodeEntry(t, &buf)
	if entry["key"] != "value" {
		t.Errorf("Expected field 'key' to be 'value', got %v", entry["key"])
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	fields := map[string]interface{}{
		"key1": "value1",
		"key2": 42,
	}
	logger.WithFields(fields).Info("message")

	entry := decodeEntry(t, &buf)
	if entry["key1"] != "value1" {
		t.Errorf("Expected field 'key1' to be 'value1', got %v", entry["key1"])
	}
	if entry["key2"] != float64(42) {
		t.Errorf("Expected field 'key2' to be 42, got %v", entry["key2"])
	}
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(errors.New("boom")).Error("something went wrong")

	entry := decodeEntry(t, &buf)
	if entry["error"] != "boom" {
		t.Errorf("Expected error field 'boom', got %v", entry["error"])
	}

	t.Run("nil error is a no-op", func(t *testing.T) {
		buf.Reset()
		logger.WithError(nil).Info("fine")

		entry := decodeEntry(t, &buf)
		if _, exists := entry["error"]; exists {
			t.Error("Expected no error field for nil error")
		}
	})
}

func TestLogger_Formatters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("Debugf", func(t *testing.T) {
		buf.Reset()
		debugLogger := NewLogger(DebugLevel, &buf)
		debugLogger.Debugf("test %s %d", "string", 42)

		entry := decodeEntry(t, &buf)
		if entry["msg"] != "test string 42" {
			t.Errorf("Expected formatted message, got %v", entry["msg"])
		}
	})

	t.Run("Infof", func(t *testing.T) {
		buf.Reset()
		logger.Infof("test %d", 123)

		entry := decodeEntry(t, &buf)
		if entry["msg"] != "test 123" {
			t.Errorf("Expected formatted message, got %v", entry["msg"])
		}
	})

	t.Run("Errorf", func(t *testing.T) {
		buf.Reset()
		logger.Errorf("error %v", "test")

		entry := decodeEntry(t, &buf)
		if entry["msg"] != "error test" {
			t.Errorf("Expected formatted message, got %v", entry["msg"])
		}
	})
}

func TestContextHelpers(t *testing.T) {
	t.Run("Logger", func(t *testing.T) {
		ctx := context.Background()
		logger := NewLogger(InfoLevel, nil)
		ctx = WithLogger(ctx, logger)

		if GetLogger(ctx) != logger {
			t.Error("Expected to retrieve logger from context")
		}
	})

	t.Run("FromContext annotates request and actor", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(InfoLevel, &buf)

		ctx := context.Background()
		ctx = WithLogger(ctx, logger)
		ctx = contextkeys.WithRequestID(ctx, "req-123")
		ctx = contextkeys.WithActorID(ctx, "user-456")

		FromContext(ctx).Info("test message")

		entry := decodeEntry(t, &buf)
		if entry["request_id"] != "req-123" {
			t.Errorf("Expected request_id 'req-123', got %v", entry["request_id"])
		}
		if entry["actor_id"] != "user-456" {
			t.Errorf("Expected actor_id 'user-456', got %v", entry["actor_id"])
		}
	})
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("LogLevel.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"error", ErrorLevel},
		{"unknown", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
