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

func TestZapAdapter_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapAdapter(zap.New(core)).With(map[string]interface{}{"taskType": "understand-utterance"})

	log.WithError(errors.New("boom")).Warn("source failed", map[string]interface{}{
		"source": "daraz",
		"cause":  errors.New("timeout"),
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "understand-utterance", fields["taskType"])
	assert.Equal(t, "daraz", fields["source"])
	assert.Equal(t, "boom", fields["error"])
	assert.Equal(t, "timeout", fields["cause"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARNING": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestOutputPaths(t *testing.T) {
	assert.Equal(t, []string{"stdout", "/tmp/voicemart.log"}, outputPaths([]string{"stdout, /tmp/voicemart.log"}))
	assert.Nil(t, outputPaths([]string{""}))
}

func TestNew_FallsBackOnBadSink(t *testing.T) {
	l := New("info", "json", "/nonexistent-dir/x/y.log")
	require.NotNil(t, l)
}
