package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/openfroyo/safeguards/pkg/config"
	"github.com/spf13/cobra"
)

func newSchemaCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "schema <name>",
		Short: "Print a JSON schema",
		Long: fmt.Sprintf(`Print the JSON schema of a safeguards document, for editor completion
and validation in CI.

Available schemas: %s`, strings.Join(config.JSONSchemaNames(), ", ")),
		Example: `  # Schema of the custom.safeguards block
  safeguards schema settings

  # Write the catalog schema to a file
  safeguards schema catalog -o catalog.schema.json`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: config.JSONSchemaNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GenerateJSONSchema(args[0])
			if err != nil {
				return err
			}

			if output == "" {
				_, err = os.Stdout.Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(output, append(data, '\n'), 0o644); err != nil {
				return fmt.Errorf("failed to write schema: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the schema to a file")

	return cmd
}
