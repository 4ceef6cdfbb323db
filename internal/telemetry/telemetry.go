// Package telemetry wires OpenTelemetry tracing for provider calls. Span
// attributes follow the gen_ai semantic conventions where one exists.
package telemetry

import (
	"context"
	"log/slog"
	"strings"

	"github.com/felipepmaragno/llmbridge/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/felipepmaragno/llmbridge"

// Init installs a batching OTLP/gRPC tracer provider. Without an endpoint the
// global no-op provider stays in place and the returned shutdown does nothing.
func Init(ctx context.Context, serviceName, version, otlpEndpoint string) (func(context.Context) error, error) {
	if otlpEndpoint == "" {
		slog.Info("telemetry disabled, no OTLP endpoint configured")
		return func(ctx context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.Info("telemetry initialized", "endpoint", otlpEndpoint)

	return tp.Shutdown, nil
}

// Tracer resolves the global provider on every call so a provider installed
// after package init (or by a test) is picked up.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

func AddRequestAttributes(span trace.Span, provider, model, requestID string) {
	span.SetAttributes(
		attribute.String("gen_ai.system", provider),
		attribute.String("gen_ai.request.model", model),
		attribute.String("llmbridge.request_id", requestID),
	)
}

// AddHTTPAttributes records the outbound call. The query string is dropped
// since Gemini carries the API key there.
func AddHTTPAttributes(span trace.Span, provider, method, url string) {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url = url[:i]
	}
	span.SetAttributes(
		attribute.String("gen_ai.system", provider),
		attribute.String("http.request.method", method),
		attribute.String("url.full", url),
	)
}

func AddAttemptAttributes(span trace.Span, attempts, status int) {
	span.SetAttributes(
		attribute.Int("http.request.resend_count", attempts-1),
		attribute.Int("http.response.status_code", status),
	)
}

func AddTokenAttributes(span trace.Span, inputTokens, outputTokens int) {
	span.SetAttributes(
		attribute.Int("gen_ai.usage.input_tokens", inputTokens),
		attribute.Int("gen_ai.usage.output_tokens", outputTokens),
	)
}

func AddCacheAttribute(span trace.Span, cacheHit bool) {
	span.SetAttributes(attribute.Bool("llmbridge.cache_hit", cacheHit))
}

// AddErrorAttribute marks the span failed and tags it with the normalized
// error code.
func AddErrorAttribute(span trace.Span, err error) {
	span.SetAttributes(attribute.String("error.type", string(domain.CodeOf(err))))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// GetTraceID returns the active trace ID, or "" when tracing is off.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
