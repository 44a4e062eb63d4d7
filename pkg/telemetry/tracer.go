package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"
)

// Tracer wraps the OpenTelemetry tracer with safeguards-specific spans.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TracingConfig
}

// NewTracer creates a new tracer with the given configuration.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion, environment string) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{
			tracer: otel.Tracer(serviceName),
			config: cfg,
		}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			attribute.String("environment", environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none":
		exporter = nil
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(
			exporter,
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
		))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
		config:   cfg,
	}, nil
}

// createOTLPExporter creates an OTLP gRPC exporter.
func createOTLPExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(context.Background(), opts...)
}

// StartRunSpan starts the root span of a safeguards run.
func (t *Tracer) StartRunSpan(ctx context.Context, runID, service, stage string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "safeguards.run", trace.WithAttributes(
		AttrRunID.String(runID),
		AttrService.String(service),
		AttrStage.String(stage),
	))
}

// StartPhaseSpan starts a span for one pipeline phase (load, artifacts,
// snapshot, evaluate) under the run span.
func (t *Tracer) StartPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "safeguards."+phase, trace.WithAttributes(AttrPhase.String(phase)))
}

// StartPolicySpan starts a span for one policy invocation.
func (t *Tracer) StartPolicySpan(ctx context.Context, policy, level string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("policy.%s", policy), trace.WithAttributes(
		AttrPolicyName.String(policy),
		AttrEnforcementLevel.String(level),
	))
}

// SummaryAttributes describes the counts of a finished run.
func SummaryAttributes(passed, warned, failed, inconclusive int, blocked bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPassed.Int(passed),
		AttrWarned.Int(warned),
		AttrFailed.Int(failed),
		AttrInconclusive.Int(inconclusive),
		AttrBlocked.Bool(blocked),
	}
}

// RecordError records an error on the span.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks the span as successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Shutdown flushes pending spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// ForceFlush exports all pending spans immediately.
func (t *Tracer) ForceFlush(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.ForceFlush(ctx)
}

// TraceID returns the trace ID of the current span in the context.
func TraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// Common attribute keys.
var (
	AttrRunID            = attribute.Key("safeguards.run.id")
	AttrRunOutcome       = attribute.Key("safeguards.run.outcome")
	AttrService          = attribute.Key("safeguards.service")
	AttrStage            = attribute.Key("safeguards.stage")
	AttrPolicyName       = attribute.Key("safeguards.policy.name")
	AttrPolicyOutcome    = attribute.Key("safeguards.policy.outcome")
	AttrEnforcementLevel = attribute.Key("safeguards.policy.enforcement_level")
	AttrPhase            = attribute.Key("safeguards.phase")
	AttrPassed           = attribute.Key("safeguards.run.passed")
	AttrWarned           = attribute.Key("safeguards.run.warned")
	AttrFailed           = attribute.Key("safeguards.run.failed")
	AttrInconclusive     = attribute.Key("safeguards.run.inconclusive")
	AttrBlocked          = attribute.Key("safeguards.run.blocked")
)
