package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/safeguards/pkg/engine"
	"github.com/rs/zerolog"
)

// Loader turns local declarations and the remote catalog into an ordered policy list.
type Loader struct {
	resolver engine.Resolver
	logger   zerolog.Logger
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger, resolver engine.Resolver) *Loader {
	return &Loader{
		resolver: resolver,
		logger:   logger.With().Str("component", "policy-loader").Logger(),
	}
}

// Load builds the policy list: local entries in declaration order, then remote
// entries in catalog order. location is the override directory for local entries.
//
// Malformed local entries are reported together as one configuration error
// before any implementation is resolved. Every entry is then resolved so that
// missing implementations fail here rather than mid-run.
func (l *Loader) Load(ctx context.Context, local []interface{}, remote []engine.RemotePolicy, location string) ([]engine.PolicyConfig, error) {
	configs := make([]engine.PolicyConfig, 0, len(local)+len(remote))

	var offending []string
	for i, entry := range local {
		name, options, err := parseLocalEntry(entry)
		if err != nil {
			offending = append(offending, fmt.Sprintf("#%d %s", i+1, err.Error()))
			continue
		}
		configs = append(configs, engine.PolicyConfig{
			Name:             name,
			Options:          options,
			Source:           engine.SourceLocal,
			EnforcementLevel: engine.LevelError,
			Title:            "Local policy: " + name,
			Location:         location,
		})
	}
	if len(offending) > 0 {
		return nil, engine.NewConfigurationError(
			"Safeguards requires that each item in the policies list be either a string indicating a policy name, "+
				"or else an object with a single key specifying the policy name with the policy options. "+
				"Correct these entries and try again.",
			offending...,
		)
	}

	for i, rp := range remote {
		level := engine.EnforcementLevel(rp.EnforcementLevel)
		if level != engine.LevelError && level != engine.LevelWarning {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("remote policy %q has invalid enforcement level %q", rp.Title, rp.EnforcementLevel),
				fmt.Sprintf("#%d %s", i+1, rp.SafeguardName),
			)
		}
		configs = append(configs, engine.PolicyConfig{
			Name:             rp.SafeguardName,
			Options:          engine.Normalize(rp.SafeguardConfig),
			Source:           engine.SourceRemote,
			EnforcementLevel: level,
			Title:            rp.Title,
			Description:      rp.Description,
			Location:         rp.PolicyPath,
		})
	}

	for i := range configs {
		def, err := l.resolver.Resolve(ctx, configs[i].Name, configs[i].Location)
		if err != nil {
			l.logger.Error().Err(err).
				Str("policy", configs[i].Name).
				Msg("Failed to resolve policy")
			return nil, err
		}
		configs[i].DocsURL = def.DocsURL
	}

	l.logger.Info().
		Int("local", len(local)).
		Int("remote", len(remote)).
		Msgf("Loading %d %s", len(configs), pluralize(len(configs), "policy", "policies"))

	return configs, nil
}

// parseLocalEntry accepts a bare name or a single-key {name: options} object.
func parseLocalEntry(entry interface{}) (string, interface{}, error) {
	switch v := entry.(type) {
	case string:
		if v == "" {
			return "", nil, fmt.Errorf("empty policy name")
		}
		return v, map[string]interface{}{}, nil
	case map[string]interface{}:
		if len(v) != 1 {
			return "", nil, fmt.Errorf("object with %d keys {%s}", len(v), strings.Join(sortedKeys(v), ", "))
		}
		for name, options := range v {
			if options == nil {
				options = map[string]interface{}{}
			}
			return name, engine.Normalize(options), nil
		}
	case map[interface{}]interface{}:
		return parseLocalEntry(engine.Normalize(v))
	}
	return "", nil, fmt.Errorf("unsupported entry type %T", entry)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
