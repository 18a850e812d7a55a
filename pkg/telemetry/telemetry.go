// Package telemetry provides OpenTelemetry tracing for the health engine and its service.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/quantumlayerhq/ql-health/pkg/config"
)

// TracerName is the instrumentation scope used by every span in this module.
const TracerName = "github.com/quantumlayerhq/ql-health"

// ExporterType defines the type of trace exporter.
type ExporterType string

const (
	ExporterStdout   ExporterType = "stdout"
	ExporterOTLPGRPC ExporterType = "otlp_grpc"
	ExporterOTLPHTTP ExporterType = "otlp_http"
)

// Options identify the running service.
type Options struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Provider wraps the OpenTelemetry TracerProvider.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewProvider creates a tracer provider and installs it globally.
// A disabled config yields a provider backed by the global no-op tracer.
func NewProvider(cfg config.TelemetryConfig, opts Options) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: otel.Tracer(TracerName)}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.ServiceVersion),
			semconv.DeploymentEnvironment(opts.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := createExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		provider: tp,
		tracer:   tp.Tracer(TracerName),
	}, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func createExporter(cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	ctx := context.Background()

	switch ExporterType(cfg.Exporter) {
	case ExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)

	default:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Span represents a traced operation.
type Span struct {
	trace.Span
}

// StartSpan starts a span on the global tracer provider.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, *Span) {
	ctx, span := otel.Tracer(TracerName).Start(ctx, name, opts...)
	return ctx, &Span{Span: span}
}

// SetAttribute sets an attribute on the span.
func (s *Span) SetAttribute(key string, value any) {
	switch v := value.(type) {
	case string:
		s.SetAttributes(attribute.String(key, v))
	case int:
		s.SetAttributes(attribute.Int(key, v))
	case int64:
		s.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.SetAttributes(attribute.Bool(key, v))
	case fmt.Stringer:
		s.SetAttributes(attribute.String(key, v.String()))
	default:
		s.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

// SetError records an error on the span.
func (s *Span) SetError(err error) {
	s.RecordError(err)
	s.SetStatus(codes.Error, err.Error())
}

// SetOK marks the span as successful.
func (s *Span) SetOK() {
	s.SetStatus(codes.Ok, "")
}

// EngineSpan starts a span for an engine operation such as "score" or "assess".
func EngineSpan(ctx context.Context, operation string) (context.Context, *Span) {
	ctx, span := StartSpan(ctx, "engine."+operation, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("engine.operation", operation))
	return ctx, span
}

// DatabaseSpan starts a span for database operations.
func DatabaseSpan(ctx context.Context, operation, statement string) (context.Context, *Span) {
	ctx, span := StartSpan(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		semconv.DBSystemKey.String("postgresql"),
		semconv.DBOperationKey.String(operation),
		semconv.DBStatementKey.String(statement),
	)
	return ctx, span
}

// MessagingSpan starts a span for a Kafka publish or process step.
func MessagingSpan(ctx context.Context, operation, topic string) (context.Context, *Span) {
	kind := trace.SpanKindProducer
	if operation == "process" {
		kind = trace.SpanKindConsumer
	}
	ctx, span := StartSpan(ctx, fmt.Sprintf("%s %s", topic, operation), trace.WithSpanKind(kind))
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.operation", operation),
		attribute.String("messaging.destination.name", topic),
	)
	return ctx, span
}

// GetTraceID returns the trace ID from context.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// Timed records the elapsed milliseconds on the span when the returned func runs.
func Timed(span *Span) func() {
	start := time.Now()
	return func() {
		span.SetAttribute("duration_ms", time.Since(start).Milliseconds())
	}
}
