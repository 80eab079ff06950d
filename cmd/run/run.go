// Package run holds the commands that trigger processing runs.
package run

import (
	"github.com/spf13/cobra"
	"github.com/tphakala/pendant-go/cmd/cli"
	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"github.com/tphakala/pendant-go/internal/errors"
	"github.com/tphakala/pendant-go/internal/ingest"
	"github.com/tphakala/pendant-go/internal/timewindow"
)

// Command creates the run parent command
func Command(rt *cli.Runtime) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Trigger processing runs",
	}

	runCmd.AddCommand(scheduledCommand(rt), todayCommand(rt), reprocessCommand(rt))

	return runCmd
}

func scheduledCommand(rt *cli.Runtime) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "scheduled",
		Short: "Process the previous local day",
		Long:  "Process the previous local calendar day for one user, or for every registered user when --user is omitted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.WithApp(cmd.Context(), func(app *ingest.App) error {
				if userID != "" {
					run, err := app.Service.RunScheduled(cmd.Context(), userID)
					return report(cmd, []*entities.ProcessingRun{run}, err)
				}
				runs, err := app.Service.RunScheduledAll(cmd.Context())
				return report(cmd, runs, err)
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User to process (default: all users)")

	return cmd
}

func todayCommand(rt *cli.Runtime) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "today",
		Short: "Process today up to now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.WithApp(cmd.Context(), func(app *ingest.App) error {
				run, err := app.Service.RunIncremental(cmd.Context(), userID)
				return report(cmd, []*entities.ProcessingRun{run}, err)
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User to process")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func reprocessCommand(rt *cli.Runtime) *cobra.Command {
	var userID, from, to string

	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Clear and rebuild a range of local days",
		Long:  "Delete stored detections and windows for [from, to) and process the range again. --to defaults to the day after --from.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parseRange(from, to)
			if err != nil {
				return err
			}
			return rt.WithApp(cmd.Context(), func(app *ingest.App) error {
				run, err := app.Service.RunReprocess(cmd.Context(), userID, start, end)
				return report(cmd, []*entities.ProcessingRun{run}, err)
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User to process")
	cmd.Flags().StringVar(&from, "from", "", "First local day, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "Exclusive end day, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("from")

	return cmd
}

// parseRange parses the reprocess bounds.
func parseRange(from, to string) (start, end timewindow.Date, err error) {
	start, err = timewindow.ParseDate(from)
	if err != nil {
		return start, end, err
	}
	if to == "" {
		return start, start.AddDays(1), nil
	}
	end, err = timewindow.ParseDate(to)
	return start, end, err
}

// report prints the runs and turns a failed run into a non-zero exit.
func report(cmd *cobra.Command, runs []*entities.ProcessingRun, err error) error {
	if perr := cli.PrintRuns(cmd.OutOrStdout(), runs); perr != nil {
		return perr
	}
	if err != nil {
		return err
	}
	for _, r := range runs {
		if r != nil && r.Status == entities.RunStatusFailed {
			return errors.Newf("run %s failed: %s", r.ID, r.ErrorMessage).
				Component("cli").
				Category(errors.CategoryState).
				Build()
		}
	}
	return nil
}
