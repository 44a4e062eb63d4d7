package safeguards

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/safeguards/pkg/artifacts"
	"github.com/openfroyo/safeguards/pkg/config"
	"github.com/openfroyo/safeguards/pkg/engine"
	"github.com/openfroyo/safeguards/pkg/policy"
	"github.com/openfroyo/safeguards/pkg/policy/builtin"
	"github.com/openfroyo/safeguards/pkg/policy/override"
	"github.com/openfroyo/safeguards/pkg/report"
	"github.com/openfroyo/safeguards/pkg/snapshot"
	"github.com/openfroyo/safeguards/pkg/telemetry"
	"github.com/rs/zerolog"
)

// Skip reasons reported in Outcome.Skipped.
const (
	SkipDisabled       = "disabled"
	SkipExternalPlugin = "external plugin"
	SkipNoPolicies     = "no policies"
)

// Options configure an Engine. Zero values select the defaults.
type Options struct {
	// Resolver resolves policy names. Defaults to a registry over the builtins
	// with Rego, Starlark and WebAssembly overrides.
	Resolver engine.Resolver

	// Artifacts supplies compiled artifacts. Defaults to the .serverless
	// directory of the service path.
	Artifacts engine.ArtifactSource

	// Catalog is the pre-fetched remote policy catalog.
	Catalog []engine.RemotePolicy

	// Sinks receive every finished run summary.
	Sinks []engine.Sink

	// Recorder persists finished runs. Nil disables run history.
	Recorder engine.RunRecorder

	// Defaults fill stage, region and framework version.
	Defaults config.Defaults
}

// Input describes one run.
type Input struct {
	// ServicePath is the service directory. Relative policy locations and
	// the default artifacts directory are resolved against it.
	ServicePath string

	// Declaration is the parsed service declaration.
	Declaration map[string]interface{}

	// Stage, Region and FrameworkVersion override the defaults when set.
	Stage            string
	Region           string
	FrameworkVersion string
}

// Outcome is the result of one run.
type Outcome struct {
	RunID   string
	Summary *engine.RunSummary
	Report  *report.Report

	// Skipped is the reason the run did nothing, or "".
	Skipped string
}

// Blocked reports whether the run blocks the deployment.
func (o *Outcome) Blocked() bool {
	return o != nil && o.Report != nil && o.Report.BlockingError != nil
}

// Engine orchestrates safeguards runs.
type Engine struct {
	opts      Options
	parser    *config.Parser
	loader    *policy.Loader
	runner    *policy.Runner
	snapshots *snapshot.Builder
	overrides *override.Loader
	logger    zerolog.Logger
}

// NewEngine creates a new engine.
func NewEngine(logger zerolog.Logger, opts Options) *Engine {
	e := &Engine{
		opts:      opts,
		parser:    config.NewParser(logger),
		snapshots: snapshot.NewBuilder(logger),
		logger:    logger.With().Str("component", "safeguards").Logger(),
	}

	if e.opts.Resolver == nil {
		e.overrides = override.NewLoader(logger)
		e.opts.Resolver = policy.NewRegistry(logger, builtin.Definitions(builtin.DefaultEnv()), e.overrides)
	}

	e.loader = policy.NewLoader(logger, e.opts.Resolver)
	e.runner = policy.NewRunner(logger, e.opts.Resolver)
	return e
}

// Resolver returns the resolver the engine uses.
func (e *Engine) Resolver() engine.Resolver {
	return e.opts.Resolver
}

// Close releases resources held by the default override loader.
func (e *Engine) Close(ctx context.Context) error {
	if e.overrides != nil {
		return e.overrides.Close(ctx)
	}
	return nil
}

// Run executes the pipeline for one service.
//
// Configuration, load, artifact and policy execution errors abort the run and
// are returned as is. A blocked run is not an error: its report carries the
// BlockingError for the caller to raise.
func (e *Engine) Run(ctx context.Context, in Input) (*Outcome, error) {
	decl := in.Declaration
	if decl == nil {
		decl = map[string]interface{}{}
	}

	if config.HasExternalPlugin(decl) {
		e.logger.Debug().Str("plugin", config.ExternalPlugin).Msg("External safeguards plugin listed, skipping")
		return &Outcome{Skipped: SkipExternalPlugin}, nil
	}

	settings, err := e.parser.Settings(decl)
	if err != nil {
		return nil, err
	}
	if settings.IsDisabled {
		e.logger.Debug().Msg("Safeguards disabled, skipping")
		return &Outcome{Skipped: SkipDisabled}, nil
	}
	if len(settings.Policies)+len(e.opts.Catalog) == 0 {
		e.logger.Debug().Msg("No safeguard policies configured, skipping")
		return &Outcome{Skipped: SkipNoPolicies}, nil
	}

	provider := config.Provider(decl, in.Stage, in.Region, e.opts.Defaults)
	runID := uuid.New().String()
	started := time.Now()

	ctx = telemetry.WithRunContext(ctx, runID, serviceName(decl), provider.Stage)

	summary, snap, err := e.evaluate(ctx, in, decl, settings, provider)
	if err != nil {
		e.logger.Error().Ctx(ctx).Err(err).
			Str("run_id", runID).
			Str("kind", string(engine.GetErrorKind(err))).
			Msg("Safeguards run failed")
		telemetry.EndRunContext(ctx, "error", nil, err)
		return nil, err
	}

	rep := report.Render(summary)
	e.publishEvents(ctx, runID, summary)
	telemetry.EndRunContext(ctx, string(summary.Outcome()), summary, nil)

	for _, sink := range e.opts.Sinks {
		if err := sink.Write(ctx, summary); err != nil {
			return nil, fmt.Errorf("failed to write report: %w", err)
		}
	}

	if e.opts.Recorder != nil {
		record := &engine.RunRecord{
			ID:               runID,
			Service:          snap.ServiceName(),
			Stage:            provider.Stage,
			Region:           provider.Region,
			FrameworkVersion: snap.FrameworkVersion,
			StartedAt:        started,
			Duration:         time.Since(started),
			Summary:          *summary,
		}
		if err := e.opts.Recorder.SaveRun(ctx, record); err != nil {
			e.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to record run")
		}
	}

	e.logger.Info().Ctx(ctx).
		Str("run_id", runID).
		Str("outcome", string(summary.Outcome())).
		Dur("duration", time.Since(started)).
		Msg(rep.Summary())

	return &Outcome{RunID: runID, Summary: summary, Report: rep}, nil
}

// evaluate loads the policies, builds the snapshot and runs the policies.
func (e *Engine) evaluate(ctx context.Context, in Input, decl map[string]interface{}, settings *config.Settings, provider engine.ProviderContext) (*engine.RunSummary, *engine.Snapshot, error) {
	location := settings.Location
	if in.ServicePath != "" && !filepath.IsAbs(location) {
		location = filepath.Join(in.ServicePath, location)
	}

	phaseCtx, end := telemetry.StartPhase(ctx, "load")
	configs, err := e.loader.Load(phaseCtx, settings.Policies, e.opts.Catalog, location)
	end(err)
	if err != nil {
		return nil, nil, err
	}

	source := e.opts.Artifacts
	if source == nil {
		source = artifacts.NewDirSource(e.logger, filepath.Join(in.ServicePath, artifacts.DefaultDir))
	}
	phaseCtx, end = telemetry.StartPhase(ctx, "artifacts")
	raw, err := source.Fetch(phaseCtx)
	end(err)
	if err != nil {
		return nil, nil, err
	}

	version := in.FrameworkVersion
	if version == "" {
		version = e.opts.Defaults.FrameworkVersion
	}
	_, end = telemetry.StartPhase(ctx, "snapshot")
	snap, err := e.snapshots.Build(decl, raw, provider, version)
	end(err)
	if err != nil {
		return nil, nil, err
	}

	phaseCtx, end = telemetry.StartPhase(ctx, "evaluate")
	results, err := e.runner.Run(phaseCtx, configs, snap)
	end(err)
	if err != nil {
		return nil, nil, err
	}

	return policy.Aggregate(results), snap, nil
}

func (e *Engine) publishEvents(ctx context.Context, runID string, summary *engine.RunSummary) {
	tel := telemetry.FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	for _, r := range summary.Results {
		switch r.Outcome() {
		case engine.OutcomeFailed, engine.OutcomeWarned:
			_ = tel.Events.PublishPolicyViolation(runID, r.Config.Name, string(r.Config.EnforcementLevel), r.Message())
		case engine.OutcomeInconclusive:
			_ = tel.Events.PublishPolicyInconclusive(runID, r.Config.Name)
		}
	}
}

func serviceName(decl map[string]interface{}) string {
	snap := engine.Snapshot{Declaration: decl}
	return snap.ServiceName()
}
