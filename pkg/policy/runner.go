package policy

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/openfroyo/safeguards/pkg/engine"
	"github.com/openfroyo/safeguards/pkg/telemetry"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Runner invokes a policy list concurrently against one snapshot.
type Runner struct {
	resolver engine.Resolver
	logger   zerolog.Logger
}

// NewRunner creates a new policy runner.
func NewRunner(logger zerolog.Logger, resolver engine.Resolver) *Runner {
	return &Runner{
		resolver: resolver,
		logger:   logger.With().Str("component", "policy-runner").Logger(),
	}
}

// Run invokes every policy and returns one result per config, in config order.
//
// All implementations are resolved before anything is launched. Invocations
// then run concurrently with no cap and are all joined before Run returns. If
// any invocation returns an error or panics, the shared context is cancelled,
// the remaining invocations are still awaited, and a policy execution error is
// returned in place of the results.
func (r *Runner) Run(ctx context.Context, configs []engine.PolicyConfig, snapshot *engine.Snapshot) ([]engine.Result, error) {
	defs := make([]*engine.Definition, len(configs))
	for i := range configs {
		def, err := r.resolver.Resolve(ctx, configs[i].Name, configs[i].Location)
		if err != nil {
			return nil, err
		}
		defs[i] = def
	}

	results := make([]engine.Result, len(configs))
	g, gctx := errgroup.WithContext(ctx)

	for i := range configs {
		r.logger.Debug().
			Str("policy", configs[i].Name).
			Str("title", configs[i].Title).
			Msg("Running policy")

		g.Go(func() error {
			res, err := r.invoke(gctx, configs[i], defs[i], snapshot)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.Error().Err(err).Msg("Policy run aborted")
		return nil, err
	}

	return results, nil
}

// invoke runs one policy with a fresh handle and seals it afterwards.
func (r *Runner) invoke(ctx context.Context, cfg engine.PolicyConfig, def *engine.Definition, snapshot *engine.Snapshot) (engine.Result, error) {
	h := newHandle()
	pctx := telemetry.WithPolicyContext(ctx, cfg.Name, string(cfg.EnforcementLevel))
	start := time.Now()

	err := call(pctx, def.Func, h, snapshot, cfg.Options)

	approved, failed, messages := h.seal()
	result := engine.Result{
		Config:   cfg,
		Approved: approved,
		Failed:   failed,
		Messages: messages,
		Duration: time.Since(start),
	}

	if err != nil {
		telemetry.EndPolicyContext(pctx, cfg.Name, "error", result.Duration, err)
		return engine.Result{}, engine.NewPolicyExecutionError(cfg.Name, err)
	}
	telemetry.EndPolicyContext(pctx, cfg.Name, string(result.Outcome()), result.Duration, nil)

	if !approved && !failed {
		r.logger.Warn().
			Str("policy", cfg.Name).
			Str("title", cfg.Title).
			Msgf("Safeguard Policy %q finished running, but did not explicitly approve the deployment. "+
				"This is likely a problem in the policy itself. If this problem persists, contact the policy author.", cfg.Title)
	}

	r.logger.Debug().
		Str("policy", cfg.Name).
		Str("outcome", string(result.Outcome())).
		Dur("duration", result.Duration).
		Msg("Policy finished")

	return result, nil
}

// call invokes fn, converting a panic into an error.
func call(ctx context.Context, fn engine.PolicyFunc, h engine.Handle, snapshot *engine.Snapshot, options interface{}) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("policy panicked: %v\n%s", rec, debug.Stack())
		}
	}()
	if fn == nil {
		return fmt.Errorf("policy has no implementation")
	}
	return fn(ctx, h, snapshot, options)
}
