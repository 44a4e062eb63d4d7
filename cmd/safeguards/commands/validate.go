package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/openfroyo/safeguards/pkg/config"
	"github.com/openfroyo/safeguards/pkg/policy"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate safeguards settings and policy catalog",
		Long: `Validate the safeguards configuration without evaluating any policy.

This command checks:
  - custom.safeguards against the settings schema
  - Each local policy entry's shape
  - That every policy resolves to an override or a builtin
  - Remote catalog entries, when a catalog is given`,
		Example: `  # Validate the service in the current directory
  safeguards validate

  # Validate a service and a catalog
  safeguards validate --service ./orders --catalog ./policies.yml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, "", false)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			decl, err := a.declaration(servicePath)
			if err != nil {
				return err
			}
			catalog, err := a.catalog(catalogPath)
			if err != nil {
				return err
			}

			settings, err := config.NewParser(a.logger).Settings(decl)
			if err != nil {
				return err
			}

			location := resolveLocation(servicePath, settings.Location)
			configs, err := policy.NewLoader(a.logger, a.registry).Load(ctx, settings.Policies, catalog, location)
			if err != nil {
				return err
			}

			log.Info().
				Str("service", servicePath).
				Int("policies", len(configs)).
				Bool("disabled", settings.IsDisabled).
				Msg("Safeguards configuration is valid")

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(configs)
			}
			for i, c := range configs {
				fmt.Printf("%d. %s [%s, %s]\n", i+1, c.Title, c.Name, c.EnforcementLevel)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", "", "pre-fetched remote policy catalog (JSON or YAML)")

	return cmd
}
