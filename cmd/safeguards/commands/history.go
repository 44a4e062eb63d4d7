package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/openfroyo/safeguards/pkg/engine"
	"github.com/openfroyo/safeguards/pkg/report"
	"github.com/openfroyo/safeguards/pkg/stores"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded safeguards runs",
		Long: `Inspect the run history kept in the store configured by store.path.

Each finished run is recorded with its per-policy results.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryStatsCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

// withStore opens the app with its store, failing when history is disabled.
func withStore(cmd *cobra.Command, fn func(a *app) error) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, "", true)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if a.store == nil {
		return fmt.Errorf("run history is disabled: set store.path in the config file")
	}
	return fn(a)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newHistoryListCommand() *cobra.Command {
	var (
		service string
		since   time.Duration
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Example: `  # Last 20 runs of one service
  safeguards history list --service-name orders --limit 20

  # Runs of the last day
  safeguards history list --since 24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(a *app) error {
				filter := stores.RunFilter{Service: service, Limit: limit}
				if since > 0 {
					filter.Since = time.Now().Add(-since)
				}

				runs, err := a.store.ListRuns(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(runs)
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTARTED\tSERVICE\tSTAGE\tREGION\tOUTCOME\tSUMMARY")
				for _, r := range runs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d/%d/%d\n",
						r.ID, r.StartedAt.Format(time.RFC3339), r.Service, r.Stage, r.Region,
						r.Summary.Outcome(), r.Summary.Passed, r.Summary.Warned, r.Summary.Failed)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&service, "service-name", "", "only runs of this service")
	cmd.Flags().DurationVar(&since, "since", 0, "only runs started within this duration")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of runs")

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the report of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(a *app) error {
				run, err := a.store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				var sink engine.Sink = report.NewConsoleSink(os.Stdout)
				if jsonOutput {
					sink = report.NewJSONSink(os.Stdout, true)
				} else {
					fmt.Printf("Run %s: %s (%s, %s) at %s\n\n",
						run.ID, run.Service, run.Stage, run.Region, run.StartedAt.Format(time.RFC3339))
				}
				return sink.Write(cmd.Context(), &run.Summary)
			})
		},
	}

	return cmd
}

func newHistoryStatsCommand() *cobra.Command {
	var service string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-policy outcome counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(a *app) error {
				stats, err := a.store.PolicyStats(cmd.Context(), service)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(stats)
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "POLICY\tPASSED\tWARNED\tFAILED\tINCONCLUSIVE")
				for _, s := range stats {
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", s.Policy, s.Passed, s.Warned, s.Failed, s.Inconclusive)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&service, "service-name", "", "only runs of this service")

	return cmd
}

func newHistoryPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old runs",
		Example: `  # Keep thirty days of history
  safeguards history prune --older-than 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(a *app) error {
				deleted, err := a.store.DeleteRunsBefore(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				log.Info().Int64("deleted", deleted).Msg("Pruned run history")
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete runs started before this age")

	return cmd
}
