package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/safeguards/pkg/engine"
	"github.com/openfroyo/safeguards/pkg/snapshot"
)

// LoadCatalog reads the pre-fetched remote policy catalog. The file holds a
// list of entries, either at the top level or under a "policies" key.
func (p *Parser) LoadCatalog(path string) ([]engine.RemotePolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy catalog: %w", err)
	}
	return p.ParseCatalog(path, data)
}

// ParseCatalog decodes and validates catalog contents. name selects the
// format by extension.
func (p *Parser) ParseCatalog(name string, data []byte) ([]engine.RemotePolicy, error) {
	doc, err := snapshot.Parse(name, data)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to parse policy catalog %s: %v", name, err))
	}
	if m := engine.AsMap(doc); m != nil {
		doc = m["policies"]
	}
	if doc == nil {
		return nil, nil
	}
	items, ok := doc.([]interface{})
	if !ok {
		return nil, engine.NewConfigurationError(fmt.Sprintf("policy catalog %s must be a list of policies", name))
	}

	var violations []string
	for i, item := range items {
		ves, err := p.schemas.Validate(SchemaCatalogEntry, item)
		if err != nil {
			return nil, err
		}
		for _, ve := range ves {
			violations = append(violations, fmt.Sprintf("#%d %s", i+1, ve.String()))
		}
	}
	if len(violations) > 0 {
		return nil, engine.NewConfigurationError(fmt.Sprintf("invalid policy catalog %s", name), violations...)
	}

	var policies []engine.RemotePolicy
	if err := engine.DecodeOptions(items, &policies); err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("invalid policy catalog %s: %v", name, err))
	}
	if err := ValidateCatalog(policies); err != nil {
		return nil, err
	}

	p.logger.Debug().Str("catalog", name).Int("policies", len(policies)).Msg("Policy catalog loaded")
	return policies, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateCatalog checks catalog entries supplied programmatically.
func ValidateCatalog(policies []engine.RemotePolicy) error {
	var violations []string
	for i := range policies {
		err := validate.Struct(policies[i])
		if err == nil {
			continue
		}
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("failed to validate catalog entry #%d: %w", i+1, err)
		}
		for _, fe := range verrs {
			violations = append(violations, fmt.Sprintf("#%d %s failed %q", i+1, fe.Field(), fe.Tag()))
		}
	}
	if len(violations) > 0 {
		return engine.NewConfigurationError("invalid policy catalog", violations...)
	}
	return nil
}
