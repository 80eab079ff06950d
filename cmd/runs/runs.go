// Package runs shows the processing run history.
package runs

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"github.com/tphakala/pendant-go/cmd/cli"
	"github.com/tphakala/pendant-go/internal/ingest"
)

// Command creates the runs parent command
func Command(rt *cli.Runtime) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect processing runs",
	}

	runsCmd.AddCommand(listCommand(rt), showCommand(rt))

	return runsCmd
}

func listCommand(rt *cli.Runtime) *cobra.Command {
	var (
		userID string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.WithApp(cmd.Context(), func(app *ingest.App) error {
				runs, err := app.Service.Runs(cmd.Context(), userID, limit)
				if err != nil {
					return err
				}
				return cli.PrintRuns(cmd.OutOrStdout(), cli.Pointers(runs))
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Only runs of this user")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")

	return cmd
}

func showCommand(rt *cli.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a run with its step and API call logs as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.WithApp(cmd.Context(), func(app *ingest.App) error {
				run, err := app.Service.Run(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(run)
			})
		},
	}
}
