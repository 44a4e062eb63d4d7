package config

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"
	"github.com/openfroyo/safeguards/pkg/engine"
)

// schemaModels maps published schema names to the types they describe.
var schemaModels = map[string]struct {
	model interface{}
	tag   string
}{
	"settings": {model: &Settings{}, tag: "json"},
	"catalog":  {model: &[]engine.RemotePolicy{}, tag: "json"},
	"config":   {model: &AppConfig{}, tag: "yaml"},
}

// JSONSchemaNames lists the names accepted by GenerateJSONSchema.
func JSONSchemaNames() []string {
	names := make([]string, 0, len(schemaModels))
	for name := range schemaModels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GenerateJSONSchema creates the JSON schema of a settings, catalog or config document.
func GenerateJSONSchema(name string) ([]byte, error) {
	m, ok := schemaModels[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q (available: %v)", name, JSONSchemaNames())
	}

	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
		FieldNameTag:   m.tag,
	}
	schema := reflector.Reflect(m.model)

	jsonBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	return jsonBytes, nil
}
