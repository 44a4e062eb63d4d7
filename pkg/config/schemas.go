package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema(SchemaSettings, "#Settings", builtinSettingsSchema); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema(SchemaCatalogEntry, "#CatalogEntry", builtinCatalogEntrySchema); err != nil {
		panic(err)
	}

	return sr
}

// Built-in schema names.
const (
	SchemaSettings     = "settings"
	SchemaCatalogEntry = "catalog-entry"
)

// RegisterSchema compiles schema and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Validate checks data against a named schema. Violations are returned as
// ValidationErrors; the error result is reserved for unusable input.
func (sr *SchemaRegistry) Validate(schemaName string, data interface{}) ([]ValidationError, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return nil, fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err), nil
	}

	return nil, nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int

		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		msg, args := e.Msg()
		validationErrors = append(validationErrors, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(msg, args...),
		})
	}

	return validationErrors
}

// Built-in schema definitions

const builtinSettingsSchema = `
// Safeguards settings under custom.safeguards
#Settings: {
	// isDisabled turns safeguards off for the service
	isDisabled?: bool

	// location is the directory searched for policy overrides
	location?: string & !=""

	// policies are names or single-key {name: options} objects
	policies?: [...(string & !="" | {[string]: _})]

	...
}
`

const builtinCatalogEntrySchema = `
// Entry of the pre-fetched remote policy catalog
#CatalogEntry: {
	title:            string & !=""
	safeguardName:    string & !=""
	enforcementLevel: "error" | "warning"
	safeguardConfig?: _
	description?:     string
	policyPath?:      string
	...
}
`
