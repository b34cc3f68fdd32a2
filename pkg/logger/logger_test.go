package logger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Levels(t *testing.T) {
	assert.True(t, New("debug", "json").Core().Enabled(zapcore.DebugLevel))
	assert.False(t, New("warn", "console").Core().Enabled(zapcore.InfoLevel))
	assert.True(t, New("nonsense", "json").Core().Enabled(zapcore.InfoLevel))
	assert.False(t, New("nonsense", "json").Core().Enabled(zapcore.DebugLevel))
}

func TestContextLogger_AddsContextFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cl := NewContextLogger(zap.New(core))

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithConnID(ctx, "conn-1")

	cl.LogRequest(ctx, "POST", "/api/v1/broadcast/start", 200, 12*time.Millisecond)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields["trace_id"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "conn-1", fields["conn_id"])
	assert.Equal(t, int64(200), fields["status_code"])
	assert.Equal(t, int64(12), fields["duration_ms"])
	assert.Equal(t, "req-1", RequestID(ctx))
}

func TestContextLogger_PlainContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cl := NewContextLogger(zap.New(core))

	cl.For(context.Background()).Errorw("peer negotiation failed", "error", "boom")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "peer negotiation failed", entry.Message)
	assert.Equal(t, "boom", entry.ContextMap()["error"])
	assert.NotContains(t, entry.ContextMap(), "trace_id")
	assert.Empty(t, RequestID(context.Background()))
}

func TestContextLogger_LevelByOutcome(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	cl.LogRequest(context.Background(), "GET", "/ready", 200, time.Millisecond)
	cl.LogRequest(context.Background(), "PUT", "/api/v1/capture/gain", 503, time.Millisecond)

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.DebugLevel, logs.All()[0].Level)
	assert.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)
}
