package policy

import (
	"github.com/openfroyo/safeguards/pkg/engine"
)

// Aggregate classifies results and computes the block decision.
// Only error-level failures block; warnings and inconclusive results never do.
func Aggregate(results []engine.Result) *engine.RunSummary {
	summary := &engine.RunSummary{
		Results: results,
	}

	for _, r := range results {
		switch r.Outcome() {
		case engine.OutcomePassed:
			summary.Passed++
		case engine.OutcomeWarned:
			summary.Warned++
		case engine.OutcomeFailed:
			summary.Failed++
		case engine.OutcomeInconclusive:
			summary.Inconclusive++
		}
	}
	summary.Blocked = summary.Failed > 0

	return summary
}
