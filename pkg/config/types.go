package config

import (
	"github.com/openfroyo/safeguards/pkg/artifacts"
	"github.com/openfroyo/safeguards/pkg/telemetry"
)

// Settings are the safeguards settings of a service declaration,
// read from custom.safeguards.
type Settings struct {
	// IsDisabled turns safeguards off for the service.
	IsDisabled bool `json:"isDisabled,omitempty" jsonschema:"description=Disable safeguards for this service"`

	// Location is the override directory, relative to the service path.
	Location string `json:"location,omitempty" jsonschema:"default=."`

	// Policies lists policy names or single-key {name: options} objects.
	Policies []interface{} `json:"policies,omitempty"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the path to the offending value (e.g., "policies.0").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// String formats the error as a single entry line.
func (v ValidationError) String() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}

// AppConfig is the safeguards application configuration file.
type AppConfig struct {
	// Telemetry configures logging, tracing, metrics and events.
	Telemetry *telemetry.Config `yaml:"telemetry" json:"telemetry,omitempty"`

	// Store configures run history.
	Store StoreConfig `yaml:"store" json:"store,omitempty"`

	// Defaults fill values missing from the service declaration.
	Defaults Defaults `yaml:"defaults" json:"defaults,omitempty"`

	// Artifacts selects where compiled artifacts are read from.
	Artifacts ArtifactsConfig `yaml:"artifacts" json:"artifacts,omitempty"`
}

// StoreConfig configures the SQLite run history.
type StoreConfig struct {
	// Path is the database file. Empty disables run history.
	Path string `yaml:"path" json:"path,omitempty"`
}

// Defaults are used when neither flags nor the declaration provide a value.
type Defaults struct {
	Stage            string `yaml:"stage" json:"stage,omitempty" validate:"required"`
	Region           string `yaml:"region" json:"region,omitempty" validate:"required"`
	FrameworkVersion string `yaml:"framework_version" json:"framework_version,omitempty" validate:"omitempty,semver"`

	// Catalog is the path of the pre-fetched remote policy catalog.
	Catalog string `yaml:"catalog" json:"catalog,omitempty"`
}

// ArtifactsConfig selects the artifact source.
type ArtifactsConfig struct {
	// Dir is the local artifacts directory, relative to the service path.
	Dir string `yaml:"dir" json:"dir,omitempty"`

	// SFTP reads artifacts from a remote build host instead of Dir.
	SFTP *artifacts.SFTPConfig `yaml:"sftp,omitempty" json:"sftp,omitempty"`
}
