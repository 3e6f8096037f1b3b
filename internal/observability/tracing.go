package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	ferrors "git.home.luguber.info/inful/anchorstream/internal/foundation/errors"
)

// TracerName is the instrumentation scope used for every span.
const TracerName = "git.home.luguber.info/inful/anchorstream"

// TracingOptions configures SetupTracing.
type TracingOptions struct {
	Endpoint    string
	ServiceName string
}

// SetupTracing installs a global OTLP/HTTP tracer provider. Tracing is
// opt-in: with no endpoint it only installs the W3C propagator and returns
// a no-op shutdown. The returned shutdown flushes pending spans.
func SetupTracing(ctx context.Context, opts TracingOptions) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	otel.SetTextMapPropagator(propagation.TraceContext{})

	if opts.Endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(opts.Endpoint))
	if err != nil {
		return noop, ferrors.WrapError(err, ferrors.CategoryConfig, "create trace exporter").
			WithContext("endpoint", opts.Endpoint).
			Build()
	}

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "anchorstream"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return noop, ferrors.WrapError(err, ferrors.CategoryInternal, "build trace resource").Build()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the package tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan starts a span on the global tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// EndSpan records err (cancellation excepted) and ends the span.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil && !ferrors.IsCanceled(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
