package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/safeguards/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// DefaultAppConfig returns the configuration used without a config file.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Telemetry: telemetry.DefaultConfig(),
		Defaults: Defaults{
			Stage:  "dev",
			Region: "us-east-1",
		},
		Artifacts: ArtifactsConfig{
			Dir: ".serverless",
		},
	}
}

// LoadAppConfig reads a YAML config file over the defaults. An empty path
// returns the defaults.
func LoadAppConfig(path string) (*AppConfig, error) {
	cfg := DefaultAppConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q validation", fe.Namespace(), fe.Tag())
		}
		return err
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			return err
		}
	}
	return nil
}
