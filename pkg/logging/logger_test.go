package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				Level:       "info",
				Format:      "json",
				Output:      "stdout",
				ServiceName: "test-service",
				Version:     "1.0.0",
			},
			wantErr: false,
		},
		{
			name: "invalid log level",
			config: &Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: true,
		},
		{
			name: "invalid format",
			config: &Config{
				Level:  "info",
				Format: "invalid",
				Output: "stdout",
			},
			wantErr: true,
		},
		{
			name:    "nil config uses defaults",
			config:  nil,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, logger)
			}
		})
	}
}

func newBufferedLogger(t *testing.T, level string) (*Logger, *bytes.Buffer) {
	t.Helper()
	logger, err := NewLogger(&Config{
		Level:       level,
		Format:      "json",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "1.0.0",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	return logger, &buf
}

func parseEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_WithContext(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	logger.WithContext(ctx).Info("test message")

	entry := parseEntry(t, buf)
	assert.Equal(t, "test-correlation-id", entry["correlation_id"])
	assert.Equal(t, "test-service", entry["service"])
	assert.Equal(t, "1.0.0", entry["version"])
	assert.Equal(t, "test message", entry["message"])
}

func TestLogger_KeyValueHelpers(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.Info("breaker tripped", "name", "external-api", "failures", 5)

	entry := parseEntry(t, buf)
	assert.Equal(t, "breaker tripped", entry["message"])
	assert.Equal(t, "external-api", entry["name"])
	assert.Equal(t, float64(5), entry["failures"])
}

func TestLogger_KeyValueHelpersOddArguments(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	// A trailing key with no value is dropped, not panicked on
	logger.Warn("odd", "key1", "value1", "dangling")

	entry := parseEntry(t, buf)
	assert.Equal(t, "value1", entry["key1"])
	assert.NotContains(t, entry, "dangling")
}

func TestLogger_WithFields(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.WithFields(logrus.Fields{
		"custom_field": "custom_value",
		"number_field": 42,
	}).Info("test message with fields")

	entry := parseEntry(t, buf)
	assert.Equal(t, "custom_value", entry["custom_field"])
	assert.Equal(t, float64(42), entry["number_field"])
	assert.Equal(t, "test-service", entry["service"])
}

func TestLogger_WithError(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.WithError(assert.AnError).Error("error occurred")

	entry := parseEntry(t, buf)
	assert.Equal(t, assert.AnError.Error(), entry["error"])
	assert.Contains(t, entry["error_type"], "errors.errorString")
}

func TestLogger_LogError(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	ctx := WithCorrelationID(context.Background(), "cid")
	logger.LogError(ctx, assert.AnError, "operation failed", logrus.Fields{
		"component": "store",
	})

	entry := parseEntry(t, buf)
	assert.Equal(t, "operation failed", entry["message"])
	assert.Equal(t, assert.AnError.Error(), entry["error"])
	assert.Equal(t, "store", entry["component"])
	assert.Equal(t, "cid", entry["correlation_id"])
}

func TestLogger_DebugSuppressedAtInfoLevel(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.Debug("hidden", "k", "v")
	assert.Empty(t, buf.Bytes())
}

func TestCorrelationIDFunctions(t *testing.T) {
	id1 := NewCorrelationID()
	id2 := NewCorrelationID()
	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)

	ctx := WithCorrelationID(context.Background(), "test-id")
	assert.Equal(t, "test-id", GetCorrelationID(ctx))
	assert.Empty(t, GetCorrelationID(context.Background()))
}

func TestGlobalLogger(t *testing.T) {
	original := GetLogger()
	defer SetGlobalLogger(original)

	require.NotNil(t, original)

	replacement, err := NewLogger(&Config{Level: "debug", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	SetGlobalLogger(replacement)
	assert.Same(t, replacement, GetLogger())
}

func TestLogger_TextFormat(t *testing.T) {
	logger, err := NewLogger(&Config{
		Level:       "info",
		Format:      "text",
		Output:      "stdout",
		ServiceName: "test-service",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.Info("test message", "test_field", "test_value")

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "test_field=test_value")
	assert.Contains(t, output, "service=test-service")
}
