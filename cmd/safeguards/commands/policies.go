package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/openfroyo/safeguards/pkg/engine"
	"github.com/spf13/cobra"
)

func newPoliciesCommand() *cobra.Command {
	var location string

	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List available safeguard policies",
		Long: `List the built-in safeguard policies with their documentation links.

With --location, each builtin shadowed by an override in that directory is
reported with the override's origin instead.`,
		Example: `  # List builtin policies
  safeguards policies

  # Show which policies are overridden locally
  safeguards policies --location ./policies`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, "", false)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			defs := a.registry.Builtins()
			if location != "" {
				dir := resolveLocation(servicePath, location)
				for i, def := range defs {
					resolved, err := a.registry.Resolve(ctx, def.Name, dir)
					if err != nil {
						return err
					}
					defs[i] = resolved
				}
			}

			if jsonOutput {
				return printPoliciesJSON(defs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tORIGIN\tDOCS\tDESCRIPTION")
			for _, def := range defs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", def.Name, origin(def), def.DocsURL, def.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&location, "location", "", "override directory, relative to the service")

	return cmd
}

type policyInfo struct {
	Name        string `json:"name"`
	Origin      string `json:"origin"`
	DocsURL     string `json:"docs_url,omitempty"`
	Description string `json:"description,omitempty"`
}

func printPoliciesJSON(defs []*engine.Definition) error {
	out := make([]policyInfo, len(defs))
	for i, def := range defs {
		out[i] = policyInfo{
			Name:        def.Name,
			Origin:      origin(def),
			DocsURL:     def.DocsURL,
			Description: def.Description,
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func origin(def *engine.Definition) string {
	if def.Origin == "" {
		return "builtin"
	}
	return def.Origin
}

// resolveLocation resolves a policy location against the service directory.
func resolveLocation(dir, location string) string {
	if location == "" || filepath.IsAbs(location) {
		return location
	}
	return filepath.Join(dir, location)
}
