package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestOrNoop(t *testing.T) {
	assert.Equal(t, NoopLogger{}, OrNoop(nil))

	l := NewZapLoggerFrom(zap.NewNop())
	assert.Same(t, l, OrNoop(l))
}

func TestZapLogger_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewZapLoggerFrom(zap.New(core))

	l.Debug("hidden", nil)
	l.Warn("settlement status unknown", map[string]any{
		"transaction": "TXID",
		"error":       errors.New("round 1010 passed"),
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "TXID", fields["transaction"])
	assert.Equal(t, "round 1010 passed", fields["error"])
}

func TestNewZapLogger_Level(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
	assert.IsType(t, NoopLogger{}, NewZapLoggerFrom(nil))
}
