package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext_AddsConnectionAndRequestIDs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := Log
	Log = zap.New(core)
	defer func() { Log = prev }()

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithConnectionID(ctx, "conn-9")
	FromContext(ctx).Info("hello")

	entries := logs.All()
	assert.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "conn-9", fields["connection_id"])
}

func TestCallFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	zap.New(core).Warn("join failed", CallFields("join", "c-1", "u-1")...)

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "join", fields["operation"])
	assert.Equal(t, "c-1", fields["call_id"])
	assert.Equal(t, "u-1", fields["identity"])
}

func TestInit_JSONLevel(t *testing.T) {
	prev := Log
	defer func() { Log = prev }()

	err := Init(&Config{Level: "warn", Format: "json", Output: "stdout"})

	assert.NoError(t, err)
	assert.False(t, Log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, Log.Core().Enabled(zapcore.WarnLevel))
}
