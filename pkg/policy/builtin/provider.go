package builtin

import (
	"context"
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"github.com/openfroyo/safeguards/pkg/engine"
)

func allowedRegions(_ context.Context, h engine.Handle, snap *engine.Snapshot, options interface{}) error {
	allowed := engine.AsStrings(options)
	region := snap.Provider.Region
	if !contains(allowed, region) {
		h.Fail(fmt.Sprintf("Region %q not in list of permitted regions: %s", region, jsonList(allowed)))
		return nil
	}
	h.Approve()
	return nil
}

// allowedStages accepts either an unanchored pattern or a list of stage names.
func allowedStages(_ context.Context, h engine.Handle, snap *engine.Snapshot, options interface{}) error {
	stage := snap.Provider.Stage

	if pattern, ok := options.(string); ok {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid stage pattern %q: %w", pattern, err)
		}
		if !re.MatchString(stage) {
			h.Fail(fmt.Sprintf("Stage name %q not permitted by RegExp: %q", stage, pattern))
			return nil
		}
		h.Approve()
		return nil
	}

	allowed := engine.AsStrings(options)
	if contains(allowed, stage) {
		h.Approve()
		return nil
	}
	h.Fail(fmt.Sprintf("Stage name %q not in list of permitted names: %s", stage, jsonList(allowed)))
	return nil
}

// frameworkVersion checks the deploying framework against a semver range.
// An unparsable version or range counts as unsatisfied.
func frameworkVersion(_ context.Context, h engine.Handle, snap *engine.Snapshot, options interface{}) error {
	rng := engine.AsString(options)

	satisfied := false
	if constraint, err := semver.NewConstraint(rng); err == nil {
		if version, err := semver.NewVersion(snap.FrameworkVersion); err == nil {
			satisfied = constraint.Check(version)
		}
	}

	if !satisfied {
		h.Fail(fmt.Sprintf("Serverless Framework version %s does not satisfy version requirement: %s", snap.FrameworkVersion, rng))
		return nil
	}
	h.Approve()
	return nil
}

func requireCfnRole(_ context.Context, h engine.Handle, snap *engine.Snapshot, _ interface{}) error {
	if !truthy(engine.Lookup(snap.Declaration, "provider", "cfnRole")) {
		h.Fail("no cfnRole set")
		return nil
	}
	h.Approve()
	return nil
}

// requiredEnvVars checks the deploying environment against name => pattern options.
func requiredEnvVars(env Env) engine.PolicyFunc {
	return func(_ context.Context, h engine.Handle, _ *engine.Snapshot, options interface{}) error {
		return matchRequired(h, engine.AsMap(options), "env var", func(key string) (string, bool) {
			return env.LookupEnv(key)
		})
	}
}

// requiredStackTags checks provider.stackTags against name => pattern options.
func requiredStackTags(_ context.Context, h engine.Handle, snap *engine.Snapshot, options interface{}) error {
	tags := engine.AsMap(engine.Lookup(snap.Declaration, "provider", "stackTags"))
	return matchRequired(h, engine.AsMap(options), "stack tag", func(key string) (string, bool) {
		v, ok := tags[key]
		if !ok {
			return "", false
		}
		return fmt.Sprint(v), true
	})
}

func matchRequired(h engine.Handle, required map[string]interface{}, what string, lookup func(string) (string, bool)) error {
	failed := false
	for _, key := range sortedKeys(required) {
		pattern := engine.AsString(required[key])
		value, ok := lookup(key)
		if !ok {
			failed = true
			h.Fail(fmt.Sprintf("Required %s %s not set", what, key))
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern for %s: %w", key, err)
		}
		if !re.MatchString(value) {
			failed = true
			h.Fail(fmt.Sprintf("Required %s %s value %s does not match RegExp: %s", what, key, value, pattern))
		}
	}

	if !failed {
		h.Approve()
	}
	return nil
}

// truthy follows JSON-ish truthiness: null, false, 0, "" and missing are false.
func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	}
	return true
}
