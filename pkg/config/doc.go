// Package config reads the safeguards settings of a service, the remote policy
// catalog and the application config file.
//
// # Overview
//
// Settings live under custom.safeguards in the service declaration:
//
//	custom:
//	  safeguards:
//	    location: ./policies
//	    policies:
//	      - require-dlq
//	      - allowed-regions:
//	          - us-east-1
//
// The shorthand `custom.safeguards: true` enables the default policy set
// (require-dlq, no-secret-env-vars, no-wild-iam-role-statements).
//
// # Components
//
// Parser: Extracts settings from a declaration and loads the remote catalog.
//
// SchemaRegistry: Manages CUE schemas for validation. Settings and catalog
// entries are unified with built-in definitions; every violation is reported
// with its path.
//
// AppConfig: YAML application configuration covering telemetry, run history,
// defaults and the artifact source.
//
// # Usage Example
//
//	parser := config.NewParser(logger)
//
//	decl, err := config.LoadDeclaration("serverless.yml")
//	if err != nil {
//	    return err
//	}
//	settings, err := parser.Settings(decl)
//	if err != nil {
//	    return err
//	}
//
// # JSON Schema
//
// GenerateJSONSchema publishes the settings, catalog and config formats for
// editor integration.
package config
