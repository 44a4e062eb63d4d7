// Package telemetry provides logging, tracing, metrics and run events for the
// safeguards engine.
//
// # Overview
//
// The package combines four concerns behind one Telemetry value:
//
//   - Structured logging (zerolog)
//   - Distributed tracing (OpenTelemetry)
//   - Metrics (Prometheus, served in watch mode or pushed to a Pushgateway)
//   - Run events (in-process publish/subscribe)
//
// # Quick Start
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx := tel.WithContext(context.Background())
//
// # Run And Policy Scopes
//
// The engine opens one scope per run and one per policy invocation. Both are
// no-ops when the context carries no Telemetry, so library callers that never
// configure telemetry pay nothing:
//
//	ctx = telemetry.WithRunContext(ctx, runID, service, stage)
//	defer telemetry.EndRunContext(ctx, outcome, summary, err)
//
//	pctx := telemetry.WithPolicyContext(ctx, "require-dlq", "error")
//	telemetry.EndPolicyContext(pctx, "require-dlq", "failed", elapsed, nil)
//
// Pipeline phases (load, artifacts, snapshot, evaluate) get child spans:
//
//	ctx, end := telemetry.StartPhase(ctx, "load")
//	configs, err := loader.Load(ctx, entries)
//	end(err)
//
// Events logged with .Ctx(ctx) inside a sampled span carry a trace_id field.
//
// # Metrics
//
//   - safeguards_runs_started_total
//   - safeguards_runs_total{outcome}
//   - safeguards_run_duration_seconds{outcome}
//   - safeguards_policy_results_total{policy,outcome}
//   - safeguards_policy_duration_seconds{policy}
//   - safeguards_errors_total{kind}
//   - safeguards_active_runs
//
// # Exporters
//
// Tracing supports "stdout", "otlp" (gRPC) and "none".
package telemetry
