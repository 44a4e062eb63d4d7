package config

import (
	"strings"
	"testing"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	customSchema := `
#CustomType: {
	field1: string
	field2: int
}
`

	if err := sr.RegisterSchema("custom", "#CustomType", customSchema); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	schema, ok := sr.GetSchema("custom")
	if !ok {
		t.Fatal("expected to find custom schema")
	}
	if schema.Err() != nil {
		t.Errorf("schema has errors: %v", schema.Err())
	}

	violations, err := sr.Validate("custom", map[string]interface{}{"field1": "a", "field2": "b"})
	if err != nil {
		t.Fatalf("failed to validate: %v", err)
	}
	if len(violations) == 0 {
		t.Error("expected a violation for field2")
	}
}

func TestSchemaRegistry_RegisterErrors(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("broken", "#Broken", "#Broken: {"); err == nil {
		t.Error("expected compile error")
	}
	if err := sr.RegisterSchema("missing", "#Missing", "#Other: {}"); err == nil {
		t.Error("expected missing definition error")
	}
	if _, err := sr.Validate("unknown", nil); err == nil {
		t.Error("expected unknown schema error")
	}
}

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	names := sr.ListSchemas()
	if strings.Join(names, ",") != "catalog-entry,settings" {
		t.Errorf("unexpected schemas: %v", names)
	}
}

func TestSchemaRegistry_ValidateSettings(t *testing.T) {
	sr := NewSchemaRegistry()

	tests := []struct {
		name    string
		data    map[string]interface{}
		wantErr bool
	}{
		{
			name: "names and objects",
			data: map[string]interface{}{
				"location": "./policies",
				"policies": []interface{}{
					"require-dlq",
					map[string]interface{}{"allowed-regions": []interface{}{"us-east-1"}},
					map[string]interface{}{"require-description": nil},
				},
			},
		},
		{
			name: "disabled",
			data: map[string]interface{}{"isDisabled": true},
		},
		{
			name: "unknown keys are allowed",
			data: map[string]interface{}{"extra": 1.0},
		},
		{
			name:    "isDisabled not a bool",
			data:    map[string]interface{}{"isDisabled": "yes"},
			wantErr: true,
		},
		{
			name:    "empty location",
			data:    map[string]interface{}{"location": ""},
			wantErr: true,
		},
		{
			name:    "numeric policy",
			data:    map[string]interface{}{"policies": []interface{}{5.0}},
			wantErr: true,
		},
		{
			name:    "policies not a list",
			data:    map[string]interface{}{"policies": "require-dlq"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			violations, err := sr.Validate(SchemaSettings, tt.data)
			if err != nil {
				t.Fatalf("failed to validate: %v", err)
			}
			if (len(violations) > 0) != tt.wantErr {
				t.Errorf("violations = %v, wantErr %v", violations, tt.wantErr)
			}
		})
	}
}

func TestSchemaRegistry_ValidateCatalogEntry(t *testing.T) {
	sr := NewSchemaRegistry()

	valid := map[string]interface{}{
		"title":            "No secrets",
		"safeguardName":    "no-secret-env-vars",
		"enforcementLevel": "warning",
	}
	if violations, err := sr.Validate(SchemaCatalogEntry, valid); err != nil || len(violations) > 0 {
		t.Fatalf("expected valid entry, got %v %v", violations, err)
	}

	invalid := map[string]interface{}{
		"title":            "No secrets",
		"safeguardName":    "no-secret-env-vars",
		"enforcementLevel": "fatal",
	}
	violations, err := sr.Validate(SchemaCatalogEntry, invalid)
	if err != nil {
		t.Fatalf("failed to validate: %v", err)
	}
	if len(violations) == 0 {
		t.Fatal("expected violation for enforcementLevel")
	}
}
