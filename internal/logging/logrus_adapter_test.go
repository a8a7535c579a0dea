package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogrusAdapter(t *testing.T) {
	tests := []struct {
		name        string
		level       string
		format      string
		expectLevel logrus.Level
	}{
		{
			name:        "debug level with text format",
			level:       "debug",
			format:      "text",
			expectLevel: logrus.DebugLevel,
		},
		{
			name:        "info level with json format",
			level:       "info",
			format:      "json",
			expectLevel: logrus.InfoLevel,
		},
		{
			name:        "invalid level defaults to info",
			level:       "invalid",
			format:      "text",
			expectLevel: logrus.InfoLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogrusAdapter(tt.level, tt.format)
			require.NotNil(t, logger)

			adapter, ok := logger.(*LogrusAdapter)
			require.True(t, ok, "logger should be a LogrusAdapter")
			assert.Equal(t, tt.expectLevel, adapter.logger.Level)

			if tt.format == "json" {
				_, ok := adapter.logger.Formatter.(*logrus.JSONFormatter)
				assert.True(t, ok, "formatter should be JSONFormatter")
			} else {
				_, ok := adapter.logger.Formatter.(*logrus.TextFormatter)
				assert.True(t, ok, "formatter should be TextFormatter")
			}
		})
	}
}

func TestNewLogrusAdapterFromLogger(t *testing.T) {
	t.Run("with existing logger", func(t *testing.T) {
		existingLogger := logrus.New()
		existingLogger.SetLevel(logrus.DebugLevel)

		logger := NewLogrusAdapterFromLogger(existingLogger)
		require.NotNil(t, logger)

		adapter, ok := logger.(*LogrusAdapter)
		require.True(t, ok)
		assert.Equal(t, existingLogger, adapter.logger)
	})

	t.Run("with nil logger creates new one", func(t *testing.T) {
		logger := NewLogrusAdapterFromLogger(nil)
		require.NotNil(t, logger)

		adapter, ok := logger.(*LogrusAdapter)
		require.True(t, ok)
		assert.NotNil(t, adapter.logger)
	})
}

func newBufferedAdapter(buf *bytes.Buffer) Logger {
	logrusLogger := logrus.New()
	logrusLogger.SetOutput(buf)
	logrusLogger.SetLevel(logrus.DebugLevel)
	logrusLogger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
	return NewLogrusAdapterFromLogger(logrusLogger)
}

func TestLogrusAdapter_LoggingMethods(t *testing.T) {
	tests := []struct {
		name    string
		logFunc func(Logger, string, ...Field)
		message string
		fields  []Field
	}{
		{
			name:    "Debug with fields",
			logFunc: func(l Logger, msg string, fields ...Field) { l.Debug(msg, fields...) },
			message: "clustering merchant group",
			fields:  []Field{{Key: FieldMerchantKey, Value: "netflix"}},
		},
		{
			name:    "Info with fields",
			logFunc: func(l Logger, msg string, fields ...Field) { l.Info(msg, fields...) },
			message: "recompute complete",
			fields:  []Field{{Key: FieldCount, Value: 12}},
		},
		{
			name:    "Warn with fields",
			logFunc: func(l Logger, msg string, fields ...Field) { l.Warn(msg, fields...) },
			message: "transaction rejected",
			fields:  []Field{{Key: FieldReason, Value: "missing amount"}},
		},
		{
			name:    "Error with fields",
			logFunc: func(l Logger, msg string, fields ...Field) { l.Error(msg, fields...) },
			message: "storage commit failed",
			fields:  []Field{{Key: FieldOperation, Value: "save_recompute"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newBufferedAdapter(&buf)

			tt.logFunc(logger, tt.message, tt.fields...)

			output := buf.String()
			assert.Contains(t, output, tt.message)
			if len(tt.fields) > 0 {
				assert.Contains(t, output, tt.fields[0].Key)
			}
		})
	}
}

func TestLogrusAdapter_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferedAdapter(&buf)
	testErr := errors.New("test error")

	logger.WithError(testErr).Error("recompute aborted")

	output := buf.String()
	assert.Contains(t, output, "recompute aborted")
	assert.Contains(t, output, "test error")
}

func TestLogrusAdapter_ChainedCalls(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferedAdapter(&buf)
	testErr := errors.New("disk full")

	logger.
		WithField(FieldSubscriptionID, "sub-1").
		WithField(FieldAlertKind, "price_increase").
		WithError(testErr).
		Error("alert persistence failed")

	output := buf.String()
	assert.Contains(t, output, "alert persistence failed")
	assert.Contains(t, output, "sub-1")
	assert.Contains(t, output, "price_increase")
	assert.Contains(t, output, "disk full")
}

func TestConvertFields(t *testing.T) {
	fields := []Field{
		{Key: "key1", Value: "value1"},
		{Key: "key2", Value: 42},
		{Key: "key3", Value: true},
	}

	logrusFields := convertFields(fields)

	assert.Len(t, logrusFields, 3)
	assert.Equal(t, "value1", logrusFields["key1"])
	assert.Equal(t, 42, logrusFields["key2"])
	assert.Equal(t, true, logrusFields["key3"])
}

func TestLogrusAdapter_ImplementsInterface(t *testing.T) {
	var _ Logger = (*LogrusAdapter)(nil)
	var _ Logger = (*MockLogger)(nil)
}
