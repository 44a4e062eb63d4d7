// Package policy loads, resolves and runs safeguard policies.
//
// # Architecture
//
// The policy system consists of five main components:
//
//  1. Registry - Resolves a policy name to an implementation, override directory first
//  2. Loader - Builds the ordered policy list from local declarations and the remote catalog
//  3. Runner - Invokes every policy concurrently, each with its own handle
//  4. Aggregate - Classifies results and computes the block decision
//  5. Watcher - Re-runs safeguards when override policies or artifacts change
//
// # Usage
//
//	registry := policy.NewRegistry(logger, builtin.Definitions(builtin.DefaultEnv()), override.NewLoader(logger))
//	configs, err := policy.NewLoader(logger, registry).Load(ctx, declared, catalog, "./policies")
//	if err != nil {
//	    return err
//	}
//
//	results, err := policy.NewRunner(logger, registry).Run(ctx, configs, snapshot)
//	if err != nil {
//	    return err
//	}
//
//	summary := policy.Aggregate(results)
//
// # Handles
//
// Every invocation receives a fresh handle. Fail is sticky: once a policy has
// failed, Approve is ignored and further Fail calls append messages. The handle
// is sealed when the invocation returns; later calls from stray goroutines are
// dropped.
//
// # Enforcement Levels
//
// Local declarations always run at level error. Remote catalog entries carry
// their own level. Only error-level failures block a deployment.
package policy
