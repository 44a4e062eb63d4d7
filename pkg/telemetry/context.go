package telemetry

import (
	"context"
	"time"

	"github.com/openfroyo/safeguards/pkg/engine"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	if err := t.Metrics.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

type runSpanKey struct{}
type runTimerKey struct{}
type runIDKey struct{}

// WithRunContext opens the telemetry scope of one safeguards run.
// Without telemetry in ctx it returns ctx unchanged.
func WithRunContext(ctx context.Context, runID, service, stage string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartRunSpan(ctx, runID, service, stage)
	spanCtx = tel.Logger.WithRun(runID, service, stage).WithContext(spanCtx)

	tel.Metrics.RecordRunStarted()
	_ = tel.Events.PublishRunStarted(runID, service)

	spanCtx = context.WithValue(spanCtx, runSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, runTimerKey{}, NewTimer())
	spanCtx = context.WithValue(spanCtx, runIDKey{}, runID)
	return spanCtx
}

// RunID returns the run ID stored by WithRunContext, or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// EndRunContext closes the run scope. summary may be nil when the run was
// skipped or aborted by err.
func EndRunContext(ctx context.Context, outcome string, summary *engine.RunSummary, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	var duration time.Duration
	if timer, ok := ctx.Value(runTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	if span, ok := ctx.Value(runSpanKey{}).(trace.Span); ok {
		span.SetAttributes(AttrRunOutcome.String(outcome))
		if summary != nil {
			span.SetAttributes(SummaryAttributes(summary.Passed, summary.Warned, summary.Failed, summary.Inconclusive, summary.Blocked)...)
		}
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	tel.Metrics.RecordRunCompleted(outcome, duration)

	runID := RunID(ctx)
	if err != nil {
		tel.Metrics.RecordError(string(engine.GetErrorKind(err)))
		_ = tel.Events.PublishRunFailed(runID, err)
		return
	}
	if summary != nil {
		_ = tel.Events.PublishRunCompleted(runID, summary.Passed, summary.Warned, summary.Failed, summary.Blocked, duration)
	}
}

// StartPhase opens a span for one pipeline phase. The returned function ends
// it, recording err when non-nil. Without telemetry in ctx both are no-ops.
func StartPhase(ctx context.Context, phase string) (context.Context, func(err error)) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx, func(error) {}
	}

	phaseCtx, span := tel.Tracer.StartPhaseSpan(ctx, phase)
	return phaseCtx, func(err error) {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}
}

type policySpanKey struct{}

// WithPolicyContext opens the telemetry scope of one policy invocation.
// Without telemetry in ctx it returns ctx unchanged.
func WithPolicyContext(ctx context.Context, policy, level string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartPolicySpan(ctx, policy, level)
	spanCtx = FromContext(ctx).WithPolicy(policy, level).WithContext(spanCtx)
	return context.WithValue(spanCtx, policySpanKey{}, span)
}

// EndPolicyContext records the outcome of one policy invocation.
func EndPolicyContext(ctx context.Context, policy, outcome string, duration time.Duration, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(policySpanKey{}).(trace.Span); ok {
		span.SetAttributes(AttrPolicyOutcome.String(outcome))
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	tel.Metrics.RecordPolicyResult(policy, outcome, duration)
}
