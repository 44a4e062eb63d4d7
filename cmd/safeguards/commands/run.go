package commands

import (
	"github.com/openfroyo/safeguards/pkg/safeguards"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// runFlags are shared by run and watch.
type runFlags struct {
	stage            string
	region           string
	frameworkVersion string
	catalog          string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.stage, "stage", "", "deployment stage")
	cmd.Flags().StringVarP(&f.region, "region", "r", "", "deployment region")
	cmd.Flags().StringVar(&f.frameworkVersion, "framework-version", "", "version of the deploying framework")
	cmd.Flags().StringVar(&f.catalog, "catalog", "", "pre-fetched remote policy catalog (JSON or YAML)")
}

func (f *runFlags) input(dir string, decl map[string]interface{}) safeguards.Input {
	return safeguards.Input{
		ServicePath:      dir,
		Declaration:      decl,
		Stage:            f.stage,
		Region:           f.region,
		FrameworkVersion: f.frameworkVersion,
	}
}

func newRunCommand(version string) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate safeguard policies for a service",
		Long: `Evaluate the configured safeguard policies against the service declaration
and its compiled artifacts.

The command exits non-zero when a policy at enforcement level "error" fails.
Warnings are reported but never block.`,
		Example: `  # Check the service in the current directory
  safeguards run

  # Check a service for a specific stage and region
  safeguards run --service ./orders --stage prod --region eu-west-1

  # Include the organization's policy catalog
  safeguards run --catalog ./policies.yml --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, version, true)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			ctx = a.tel.WithContext(ctx)

			decl, err := a.declaration(servicePath)
			if err != nil {
				return err
			}
			catalog, err := a.catalog(flags.catalog)
			if err != nil {
				return err
			}

			out, err := a.engine(servicePath, catalog).Run(ctx, flags.input(servicePath, decl))
			if err != nil {
				return err
			}

			if err := a.tel.Metrics.Push(ctx, a.cfg.Telemetry.ServiceName); err != nil {
				log.Warn().Err(err).Msg("Failed to push metrics")
			}

			if out.Skipped != "" {
				log.Info().Str("reason", out.Skipped).Msg("Safeguards skipped")
				return nil
			}
			if out.Blocked() {
				return out.Report.BlockingError
			}
			return nil
		},
	}

	flags.register(cmd)

	return cmd
}
