package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "callbox"

// Config selects the Jaeger collector and the sampling ratio. A disabled
// config leaves the global no-op provider in place.
type Config struct {
	Enabled     bool
	ServiceName string
	Version     string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "callbox",
		Version:     "dev",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// Provider owns the SDK provider when tracing is enabled. The zero value is
// a valid disabled provider.
type Provider struct {
	sdk *tracesdk.TracerProvider
}

// Init installs a batching Jaeger pipeline as the global tracer provider.
// Sampling follows the parent span when one arrives over HTTP.
func Init(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sdk := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exporter),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{sdk: sdk}, nil
}

func (p *Provider) Enabled() bool {
	return p != nil && p.sdk != nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

var (
	ConnIDKey        = attribute.Key("callbox.conn_id")
	BroadcastNameKey = attribute.Key("callbox.broadcast.name")
	OperationKey     = attribute.Key("callbox.operation")
	BackendKey       = attribute.Key("callbox.store.backend")
)

func start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// Extract continues a trace carried in inbound headers.
func Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// TraceHTTPRequest opens a server span named after the matched route.
func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, method+" "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(route),
		),
	)
	return ctx, span
}

// TracePeer covers offer/answer negotiation and teardown of a remote party.
// connID is empty until the connection exists.
func TracePeer(ctx context.Context, operation, connID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{OperationKey.String(operation)}
	if connID != "" {
		attrs = append(attrs, ConnIDKey.String(connID))
	}
	return start(ctx, "peer."+operation, attrs...)
}

func TraceBroadcast(ctx context.Context, operation, name string) (context.Context, trace.Span) {
	return start(ctx, "broadcast."+operation,
		OperationKey.String(operation),
		BroadcastNameKey.String(name),
	)
}

func TraceRepositoryOperation(ctx context.Context, operation, backend string) (context.Context, trace.Span) {
	return start(ctx, "preferences."+operation,
		OperationKey.String(operation),
		BackendKey.String(backend),
	)
}

// RecordError marks the span in ctx as failed. Nil errors are ignored.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
