package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// DefaultServiceName is reported when OTEL_SERVICE_NAME is unset.
const DefaultServiceName = "slot-relay"

// Span attribute keys shared by the flush and delivery spans.
const (
	AttrCorrelationID = attribute.Key("relay.correlation_id")
	AttrP1Entries     = attribute.Key("relay.p1_entries")
	AttrP2Entries     = attribute.Key("relay.p2_entries")
	AttrOutcome       = attribute.Key("relay.outcome")
	AttrFailureKind   = attribute.Key("relay.failure_kind")
	AttrStatusCode    = attribute.Key("http.status_code")
)

// TracingConfig selects the OTLP collector and how the relay identifies itself.
type TracingConfig struct {
	Endpoint       string  // host:port of an OTLP/gRPC collector; empty disables export
	ServiceName    string  // defaults to DefaultServiceName
	ServiceVersion string
	SampleRatio    float64 // fraction of flush cycles traced; <=0 or >=1 samples all
}

// InitTracing installs a batching OTLP tracer provider. With no endpoint the
// global no-op provider stays in place and shutdown does nothing.
func InitTracing(ctx context.Context, tc TracingConfig) (shutdown func(context.Context) error, err error) {
	if tc.Endpoint == "" {
		slog.Info("tracing disabled", slog.String("component", "telemetry"))
		return func(context.Context) error { return nil }, nil
	}
	if tc.ServiceName == "" {
		tc.ServiceName = DefaultServiceName
	}

	ictx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exporter, err := otlptracegrpc.New(ictx, otlptracegrpc.WithInsecure(), otlptracegrpc.WithEndpoint(tc.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	res, err := resource.New(ictx, resource.WithAttributes(
		semconv.ServiceName(tc.ServiceName),
		semconv.ServiceVersion(tc.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(tc.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	slog.Info("tracing initialized",
		slog.String("component", "telemetry"),
		slog.String("service", tc.ServiceName),
		slog.String("endpoint", tc.Endpoint),
		slog.Float64("sample_ratio", tc.SampleRatio),
	)
	return tp.Shutdown, nil
}

// Sampler samples a ratio of root spans and follows the parent otherwise.
func Sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// SlotAttrs describes the snapshot a span is working on.
func SlotAttrs(p1, p2 int) []attribute.KeyValue {
	return []attribute.KeyValue{AttrP1Entries.Int(p1), AttrP2Entries.Int(p2)}
}

// StartSpan starts a span on the named tracer, tagging it with the context's
// correlation id when present.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if corr := GetCorrelation(ctx); corr != "" {
		attrs = append(attrs, AttrCorrelationID.String(corr))
	}
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError marks the span failed.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks the span OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AnnotateSpan adds attributes to the span carried by ctx, if any.
func AnnotateSpan(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
