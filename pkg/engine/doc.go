// Package engine provides the core types and interfaces for the safeguards policy engine.
//
// # Overview
//
// A safeguards run evaluates a list of policies against an immutable snapshot
// of a service and decides whether its deployment may continue:
//
//  1. Load - Resolve declared policies into an ordered list of PolicyConfig
//  2. Snapshot - Build the read-only Snapshot (declaration, compiled artifacts, provider)
//  3. Run - Invoke every policy concurrently, each with its own Handle
//  4. Aggregate - Fold the per-policy Results into a RunSummary
//  5. Report - Render the summary and, when blocked, a BlockedError
//
// # Core Domain Types
//
//   - PolicyConfig: a loaded policy declaration with enforcement level and title
//   - Snapshot: the data a policy may read
//   - Handle: the approve/fail capability handed to a policy
//   - Result: the write-once outcome of one invocation
//   - RunSummary: counts and blocking decision for one run
//
// # Errors
//
// SafeguardError classifies failures. Configuration, load, artifact parse and
// policy execution errors are fatal and short-circuit the run. Violations block
// the deployment after aggregation; warnings never block.
package engine
