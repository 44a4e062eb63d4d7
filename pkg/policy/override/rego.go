package override

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/openfroyo/safeguards/pkg/engine"
)

// compileRego prepares data.<package>.deny for evaluation. Every element of
// the deny set becomes a failure message; an empty set approves.
func (l *Loader) compileRego(ctx context.Context, name, path string, src []byte) (engine.PolicyFunc, error) {
	module, err := ast.ParseModule(path, string(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}

	query := module.Package.Path.String() + ".deny"
	prepared, err := rego.New(
		rego.Module(path, string(src)),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return func(ctx context.Context, h engine.Handle, snapshot *engine.Snapshot, options interface{}) error {
		results, err := prepared.Eval(ctx, rego.EvalInput(input(snapshot, options)))
		if err != nil {
			return fmt.Errorf("policy evaluation error: %w", err)
		}

		failed := false
		for _, result := range results {
			if len(result.Expressions) == 0 {
				continue
			}
			denySet, ok := result.Expressions[0].Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				failed = true
				h.Fail(denyMessage(d))
			}
		}

		if !failed {
			h.Approve()
		}
		return nil
	}, nil
}

// denyMessage extracts the message from a deny element.
func denyMessage(result interface{}) string {
	switch v := result.(type) {
	case string:
		return v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
		if msg, ok := v["msg"].(string); ok {
			return msg
		}
	}
	return fmt.Sprintf("%v", result)
}
