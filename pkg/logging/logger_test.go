package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerDefaults(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Equal(t, "sync-service", logger.config.ServiceName)
}

func TestGetZapLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, getZapLevel(LevelDebug).Level())
	assert.Equal(t, zapcore.WarnLevel, getZapLevel(LevelWarn).Level())
	assert.Equal(t, zapcore.InfoLevel, getZapLevel("bogus").Level())
}

func TestWithContextAddsRunID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := Wrap(zap.New(core))

	ctx := WithRunID(context.Background(), "run-42")
	logger.WithContext(ctx).WithOperation("accounts").Info("done")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "run-42", fields["run_id"])
	assert.Equal(t, "accounts", fields["operation"])
}

func TestWithContextWithoutRunID(t *testing.T) {
	logger := NewNop()
	assert.Same(t, logger, logger.WithContext(context.Background()))
}
