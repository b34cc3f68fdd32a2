package logger

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	connIDKey
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func WithConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey, id)
}

// RequestID returns the id RequestLoggerMiddleware attached, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ContextLogger tags log lines with the trace, request and connection ids
// found in a context.
type ContextLogger struct {
	base *zap.SugaredLogger
}

func NewContextLogger(base *zap.Logger) *ContextLogger {
	return &ContextLogger{base: base.Sugar()}
}

// For returns the base logger annotated with whatever ids ctx carries.
func (cl *ContextLogger) For(ctx context.Context) *zap.SugaredLogger {
	var kv []interface{}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		kv = append(kv, "trace_id", sc.TraceID().String())
	}
	if id := RequestID(ctx); id != "" {
		kv = append(kv, "request_id", id)
	}
	if id, _ := ctx.Value(connIDKey).(string); id != "" {
		kv = append(kv, "conn_id", id)
	}
	if kv == nil {
		return cl.base
	}
	return cl.base.With(kv...)
}

// LogRequest writes one access line. Server errors are logged at warn,
// probes at debug.
func (cl *ContextLogger) LogRequest(ctx context.Context, method, route string, status int, elapsed time.Duration) {
	log := cl.For(ctx)
	kv := []interface{}{
		"method", method,
		"path", route,
		"status_code", status,
		"duration_ms", elapsed.Milliseconds(),
	}
	switch {
	case status >= 500:
		log.Warnw("http request", kv...)
	case route == "/health" || route == "/ready" || route == "/metrics":
		log.Debugw("http request", kv...)
	default:
		log.Infow("http request", kv...)
	}
}
