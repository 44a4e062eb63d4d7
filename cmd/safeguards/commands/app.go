package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfroyo/safeguards/pkg/artifacts"
	"github.com/openfroyo/safeguards/pkg/config"
	"github.com/openfroyo/safeguards/pkg/engine"
	"github.com/openfroyo/safeguards/pkg/policy"
	"github.com/openfroyo/safeguards/pkg/policy/builtin"
	"github.com/openfroyo/safeguards/pkg/policy/override"
	"github.com/openfroyo/safeguards/pkg/report"
	"github.com/openfroyo/safeguards/pkg/safeguards"
	"github.com/openfroyo/safeguards/pkg/stores"
	"github.com/openfroyo/safeguards/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// declarationFiles are searched in order inside the service directory.
var declarationFiles = []string{"serverless.yml", "serverless.yaml", "serverless.json"}

// app holds the components shared by the commands.
type app struct {
	cfg       *config.AppConfig
	tel       *telemetry.Telemetry
	store     *stores.SQLiteStore
	registry  *policy.Registry
	overrides *override.Loader
	logger    zerolog.Logger
}

// newApp loads the config file and starts telemetry. The store is opened
// only when withStore is set and a store path is configured.
func newApp(ctx context.Context, version string, withStore bool) (*app, error) {
	cfg, err := config.LoadAppConfig(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if version != "" {
		cfg.Telemetry.ServiceVersion = version
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a := &app{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger.Zerolog(),
	}
	a.overrides = override.NewLoader(a.logger)
	a.registry = policy.NewRegistry(a.logger, builtin.Definitions(builtin.DefaultEnv()), a.overrides)

	if withStore && cfg.Store.Path != "" {
		store, err := stores.Open(ctx, cfg.Store.Path)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.store = store
	}

	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}
	if err := a.overrides.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to release override loader")
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

// declarationPath finds the service declaration file in dir.
func declarationPath(dir string) (string, error) {
	for _, name := range declarationFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		return path, nil
	}
	return "", fmt.Errorf("no service declaration found in %s", dir)
}

// declaration reads the service declaration from the service directory.
func (a *app) declaration(dir string) (map[string]interface{}, error) {
	path, err := declarationPath(dir)
	if err != nil {
		return nil, err
	}
	return config.LoadDeclaration(path)
}

// catalog reads the remote policy catalog, if one is configured.
func (a *app) catalog(path string) ([]engine.RemotePolicy, error) {
	if path == "" {
		path = a.cfg.Defaults.Catalog
	}
	if path == "" {
		return nil, nil
	}
	return config.NewParser(a.logger).LoadCatalog(path)
}

// artifactSource selects the configured artifact source for a service.
func (a *app) artifactSource(dir string) engine.ArtifactSource {
	if a.cfg.Artifacts.SFTP != nil {
		return artifacts.NewSFTPSource(a.logger, *a.cfg.Artifacts.SFTP)
	}
	return artifacts.NewDirSource(a.logger, a.artifactsDir(dir))
}

// artifactsDir resolves the local artifacts directory against dir.
func (a *app) artifactsDir(dir string) string {
	artifactsDir := a.cfg.Artifacts.Dir
	if artifactsDir == "" {
		artifactsDir = artifacts.DefaultDir
	}
	if !filepath.IsAbs(artifactsDir) {
		artifactsDir = filepath.Join(dir, artifactsDir)
	}
	return artifactsDir
}

// sink returns the report sink selected by --json.
func (a *app) sink() engine.Sink {
	if jsonOutput {
		return report.NewJSONSink(os.Stdout, true)
	}
	return report.NewConsoleSink(os.Stdout)
}

// engine builds a safeguards engine sharing the app's registry.
func (a *app) engine(dir string, catalog []engine.RemotePolicy) *safeguards.Engine {
	opts := safeguards.Options{
		Resolver:  a.registry,
		Artifacts: a.artifactSource(dir),
		Catalog:   catalog,
		Sinks:     []engine.Sink{a.sink()},
		Defaults:  a.cfg.Defaults,
	}
	if a.store != nil {
		opts.Recorder = a.store
	}
	return safeguards.NewEngine(a.logger, opts)
}
