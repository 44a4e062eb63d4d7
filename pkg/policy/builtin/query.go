package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"github.com/openfroyo/safeguards/pkg/engine"
)

// customQuery evaluates one or more Rego queries against the snapshot
// document. Every query must produce a truthy value.
func customQuery(ctx context.Context, h engine.Handle, snap *engine.Snapshot, options interface{}) error {
	queries := engine.AsStrings(options)
	if len(queries) == 0 {
		return fmt.Errorf("options must be a query or a list of queries")
	}

	input := snap.Document()
	for _, q := range queries {
		ok, err := evalQuery(ctx, q, input)
		if err != nil {
			h.Fail(fmt.Sprintf("Error in the policy statement: %q", q))
			return nil
		}
		if !ok {
			h.Fail("Must comply with all of the configured queries.")
			return nil
		}
	}

	h.Approve()
	return nil
}

func evalQuery(ctx context.Context, query string, input interface{}) (bool, error) {
	r := rego.New(
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return false, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	return regoTruthy(results[0].Expressions[0].Value), nil
}

// regoTruthy treats empty collections, zero, "" and false as failing.
func regoTruthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case json.Number:
		f, err := val.Float64()
		return err == nil && f != 0
	case []interface{}:
		return len(val) > 0
	case map[string]interface{}:
		return len(val) > 0
	}
	return true
}
