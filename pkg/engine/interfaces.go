package engine

import (
	"context"
	"time"
)

// Handle is the capability a policy uses to report its verdict.
// It is only valid for the duration of one policy invocation.
type Handle interface {
	// Approve marks the policy as passed. Ignored once the policy has failed.
	Approve()

	// Fail records a failure message. Failing is sticky and overrides approval.
	Fail(message string)
}

// PolicyFunc evaluates a snapshot and reports through the handle.
// A returned error aborts the whole run as a policy execution error.
type PolicyFunc func(ctx context.Context, h Handle, snapshot *Snapshot, options interface{}) error

// Definition is a resolvable policy implementation.
type Definition struct {
	// Name is the policy name the definition is registered under.
	Name string

	// DocsURL links to the policy documentation.
	DocsURL string

	// Description is a one-line summary.
	Description string

	// Origin identifies where the implementation came from (builtin, or an override file path).
	Origin string

	// Func is the policy implementation.
	Func PolicyFunc
}

// Resolver resolves policy names to implementations.
type Resolver interface {
	// Resolve returns the implementation for name, searching overrideDir first.
	// A missing implementation is reported as a load error.
	Resolve(ctx context.Context, name, overrideDir string) (*Definition, error)
}

// ArtifactSource supplies the raw compiled artifacts of a build.
type ArtifactSource interface {
	// Fetch returns artifact contents keyed by file name relative to the artifacts root.
	Fetch(ctx context.Context) (map[string][]byte, error)
}

// Sink renders or records a finished run.
type Sink interface {
	Write(ctx context.Context, summary *RunSummary) error
}

// RunRecord is the persisted form of a finished run.
type RunRecord struct {
	ID               string
	Service          string
	Stage            string
	Region           string
	FrameworkVersion string
	StartedAt        time.Time
	Duration         time.Duration
	Summary          RunSummary
}

// RunRecorder persists finished runs.
type RunRecorder interface {
	SaveRun(ctx context.Context, record *RunRecord) error
}
