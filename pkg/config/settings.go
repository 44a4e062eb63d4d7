package config

import (
	"fmt"
	"os"

	"github.com/openfroyo/safeguards/pkg/engine"
	"github.com/openfroyo/safeguards/pkg/snapshot"
	"github.com/rs/zerolog"
)

// ExternalPlugin is the standalone safeguards plugin. When a service lists it,
// the built-in engine steps aside.
const ExternalPlugin = "@serverless/safeguards-plugin"

// DefaultLocation is the override directory used when none is configured.
const DefaultLocation = "."

// DefaultPolicies is the policy set enabled by `custom.safeguards: true`.
var DefaultPolicies = []string{"require-dlq", "no-secret-env-vars", "no-wild-iam-role-statements"}

// Parser extracts and validates safeguards settings.
type Parser struct {
	schemas *SchemaRegistry
	logger  zerolog.Logger
}

// NewParser creates a new settings parser.
func NewParser(logger zerolog.Logger) *Parser {
	return &Parser{
		schemas: NewSchemaRegistry(),
		logger:  logger.With().Str("component", "config").Logger(),
	}
}

// Schemas returns the parser's schema registry.
func (p *Parser) Schemas() *SchemaRegistry {
	return p.schemas
}

// LoadDeclaration reads a service declaration file (serverless.yml or serverless.json).
func LoadDeclaration(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read service declaration: %w", err)
	}
	v, err := snapshot.Parse(path, data)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to parse service declaration %s: %v", path, err))
	}
	decl := engine.AsMap(v)
	if decl == nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("service declaration %s is not an object", path))
	}
	return decl, nil
}

// Settings reads custom.safeguards from a service declaration.
//
// A missing block yields empty settings. The shorthand `true` enables the
// default policy set and `false` enables nothing. An object is validated
// against the settings schema; violations are reported together as one
// configuration error.
func (p *Parser) Settings(declaration map[string]interface{}) (*Settings, error) {
	raw := engine.Normalize(engine.Lookup(declaration, "custom", "safeguards"))

	settings := &Settings{}
	switch v := raw.(type) {
	case nil:
	case bool:
		if v {
			for _, name := range DefaultPolicies {
				settings.Policies = append(settings.Policies, name)
			}
		}
	case map[string]interface{}:
		violations, err := p.schemas.Validate(SchemaSettings, v)
		if err != nil {
			return nil, err
		}
		if len(violations) > 0 {
			entries := make([]string, len(violations))
			for i, ve := range violations {
				entries[i] = ve.String()
			}
			return nil, engine.NewConfigurationError("invalid custom.safeguards settings", entries...)
		}
		if err := engine.DecodeOptions(v, settings); err != nil {
			return nil, engine.NewConfigurationError(fmt.Sprintf("invalid custom.safeguards settings: %v", err))
		}
	default:
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("custom.safeguards must be a boolean or an object, got %T", raw))
	}

	if settings.Location == "" {
		settings.Location = DefaultLocation
	}

	p.logger.Debug().
		Bool("disabled", settings.IsDisabled).
		Str("location", settings.Location).
		Int("policies", len(settings.Policies)).
		Msg("Safeguards settings loaded")

	return settings, nil
}

// HasExternalPlugin reports whether the declaration lists the standalone
// safeguards plugin, either as a plain list or under plugins.modules.
func HasExternalPlugin(declaration map[string]interface{}) bool {
	plugins := declaration["plugins"]
	if m := engine.AsMap(plugins); m != nil {
		plugins = m["modules"]
	}
	for _, name := range engine.AsStrings(plugins) {
		if name == ExternalPlugin {
			return true
		}
	}
	return false
}

// Provider resolves the provider context. Explicit stage and region win over
// the declaration's provider block, which wins over defaults.
func Provider(declaration map[string]interface{}, stage, region string, defaults Defaults) engine.ProviderContext {
	provider := engine.AsMap(declaration["provider"])

	ctx := engine.ProviderContext{
		Name:   engine.AsString(provider["name"]),
		Stage:  firstNonEmpty(stage, engine.AsString(provider["stage"]), defaults.Stage, "dev"),
		Region: firstNonEmpty(region, engine.AsString(provider["region"]), defaults.Region, "us-east-1"),
	}
	if name, ok := declaration["provider"].(string); ok {
		ctx.Name = name
	}
	if ctx.Name == "" {
		ctx.Name = "aws"
	}
	return ctx
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
