package commands

import (
	"context"
	"path/filepath"

	"github.com/openfroyo/safeguards/pkg/config"
	"github.com/openfroyo/safeguards/pkg/policy"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newWatchCommand(version string) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run safeguards when policies or artifacts change",
		Long: `Run safeguards once, then again every time a file in the policy location,
the artifacts directory or the service declaration changes.

Changed override policies are recompiled. When metrics are enabled, the
metrics endpoint is served for as long as the command runs.`,
		Example: `  # Watch the service in the current directory
  safeguards watch

  # Watch with a config file that enables the metrics endpoint
  safeguards watch --config safeguards.yml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, version, true)
			if err != nil {
				return err
			}
			defer a.close(context.Background())
			ctx = a.tel.WithContext(ctx)

			if err := a.tel.StartMetricsServer(); err != nil {
				return err
			}

			catalog, err := a.catalog(flags.catalog)
			if err != nil {
				return err
			}

			evaluate := func(ctx context.Context) error {
				decl, err := a.declaration(servicePath)
				if err != nil {
					return err
				}
				out, err := a.engine(servicePath, catalog).Run(ctx, flags.input(servicePath, decl))
				if err != nil {
					return err
				}
				if out.Blocked() {
					log.Warn().Msg(out.Report.BlockingError.Error())
				}
				return nil
			}

			if err := evaluate(ctx); err != nil {
				log.Error().Err(err).Msg("Safeguards run failed")
			}

			watcher := policy.NewWatcher(a.logger, a.registry)
			defer watcher.Close()

			if err := watcher.Watch(ctx, watchTargets(a, servicePath), evaluate); err != nil {
				return err
			}

			log.Info().Str("service", servicePath).Msg("Watching for changes, press Ctrl+C to stop")
			<-ctx.Done()
			return nil
		},
	}

	flags.register(cmd)

	return cmd
}

// watchTargets lists the service declaration, the top level of its policy
// location and, for local sources, the artifacts directory.
func watchTargets(a *app, dir string) []policy.Target {
	var targets []policy.Target

	if path, err := declarationPath(dir); err == nil {
		targets = append(targets, policy.Target{Path: path})
	}

	location := config.DefaultLocation
	if decl, err := a.declaration(dir); err == nil {
		if settings, err := config.NewParser(a.logger).Settings(decl); err == nil && settings.Location != "" {
			location = settings.Location
		}
	}
	if !filepath.IsAbs(location) {
		location = filepath.Join(dir, location)
	}
	targets = append(targets, policy.Target{
		Path:       location,
		Shallow:    true,
		Extensions: policy.OverrideExtensions,
	})

	if a.cfg.Artifacts.SFTP == nil {
		targets = append(targets, policy.Target{Path: a.artifactsDir(dir)})
	}

	return targets
}
