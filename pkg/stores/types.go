package stores

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// RunFilter narrows ListRuns.
type RunFilter struct {
	// Service restricts results to one service when non-empty.
	Service string

	// Since excludes runs started before it when non-zero.
	Since time.Time

	// Limit caps the number of runs returned (default 50).
	Limit int

	// Offset skips the newest runs.
	Offset int
}

// PolicyStat aggregates the stored outcomes of one policy.
type PolicyStat struct {
	Policy       string `json:"policy"`
	Passed       int    `json:"passed"`
	Warned       int    `json:"warned"`
	Failed       int    `json:"failed"`
	Inconclusive int    `json:"inconclusive"`
}
