package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jmylchreest/streamrelay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &parsed))
	return parsed
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	logger.Info("test message", slog.String("key", "value"))

	parsed := decodeLine(t, &buf)
	assert.Equal(t, "test message", parsed["msg"])
	assert.Equal(t, "value", parsed["key"])
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	logger.Info("test message", slog.String("key", "value"))

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "key=value")
}

func TestNewLogger_UnknownFormatFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "xml"}, &buf)
	logger.Info("hello")

	parsed := decodeLine(t, &buf)
	assert.Equal(t, "hello", parsed["msg"])
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name        string
		configLevel string
		logLevel    slog.Level
		shouldLog   bool
	}{
		{"debug logs at debug level", "debug", slog.LevelDebug, true},
		{"info drops debug", "info", slog.LevelDebug, false},
		{"warn drops info", "warn", slog.LevelInfo, false},
		{"warning alias", "warning", slog.LevelWarn, true},
		{"error logs error", "error", slog.LevelError, true},
		{"unknown defaults to info", "loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(config.LoggingConfig{Level: tt.configLevel, Format: "json"}, &buf)
			logger.Log(context.Background(), tt.logLevel, "message")
			assert.Equal(t, tt.shouldLog, buf.Len() > 0)
		})
	}
}

func TestNewLogger_TimeFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json", TimeFormat: time.DateOnly}, &buf)
	logger.Info("dated")

	parsed := decodeLine(t, &buf)
	ts, ok := parsed["time"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.DateOnly, ts)
	assert.NoError(t, err)
}

func TestAttributeHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger = WithApp(logger, "streamrelay")
	logger = WithComponent(logger, "relay")
	logger = WithSession(logger, "01J0000000000000000000000", "cam1")
	logger = WithRequestID(logger, "req-1")
	logger = WithError(logger, errors.New("boom"))
	logger.Info("tagged")

	parsed := decodeLine(t, &buf)
	assert.Equal(t, "streamrelay", parsed["app"])
	assert.Equal(t, "relay", parsed["component"])
	assert.Equal(t, "cam1", parsed["stream"])
	assert.Equal(t, "01J0000000000000000000000", parsed["session_id"])
	assert.Equal(t, "req-1", parsed["request_id"])
	assert.Equal(t, "boom", parsed["error"])
}

func TestWithError_Nil(t *testing.T) {
	logger := slog.Default()
	assert.Same(t, logger, WithError(logger, nil))
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Same(t, slog.Default(), LoggerFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(ctx))

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx = ContextWithLogger(ctx, logger)
	ctx = ContextWithRequestID(ctx, "abc")

	assert.Same(t, logger, LoggerFromContext(ctx))
	assert.Equal(t, "abc", RequestIDFromContext(ctx))
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)

	var err error
	done := TimedOperation(context.Background(), logger, "sweep", &err)
	err = errors.New("disk full")
	done()

	output := buf.String()
	assert.Contains(t, output, "operation started")
	assert.Contains(t, output, "operation failed")
	assert.Contains(t, output, "disk full")
}

func TestTimedOperation_Success(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)

	TimedOperation(context.Background(), logger, "prune", nil)()
	assert.Contains(t, buf.String(), "operation completed")
}
