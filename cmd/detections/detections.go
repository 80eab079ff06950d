// Package detections lists and edits persisted detections.
package detections

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/tphakala/pendant-go/cmd/cli"
	"github.com/tphakala/pendant-go/internal/errors"
	"github.com/tphakala/pendant-go/internal/ingest"
	"github.com/tphakala/pendant-go/internal/timewindow"
)

// Command creates the detections parent command
func Command(rt *cli.Runtime) *cobra.Command {
	detectionsCmd := &cobra.Command{
		Use:   "detections",
		Short: "Inspect and edit detections",
	}

	detectionsCmd.AddCommand(listCommand(rt), deleteCommand(rt), noteCommand(rt))

	return detectionsCmd
}

func listCommand(rt *cli.Runtime) *cobra.Command {
	var userID, date string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List detections of a local day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := timewindow.ParseDate(date)
			if err != nil {
				return err
			}
			return rt.WithApp(cmd.Context(), func(app *ingest.App) error {
				detections, err := app.Service.DetectionsOn(cmd.Context(), userID, day)
				if err != nil {
					return err
				}
				return cli.PrintDetections(cmd.OutOrStdout(), detections)
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User whose detections to list")
	cmd.Flags().StringVar(&date, "date", "", "Local day, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}

func deleteCommand(rt *cli.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a detection and its clip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return rt.WithApp(cmd.Context(), func(app *ingest.App) error {
				if err := app.Service.DeleteDetection(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "detection %d deleted\n", id)
				return nil
			})
		},
	}
}

func noteCommand(rt *cli.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "note <id> <text>",
		Short: "Set the notes of a detection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return rt.WithApp(cmd.Context(), func(app *ingest.App) error {
				return app.Service.AnnotateDetection(cmd.Context(), id, args[1])
			})
		},
	}
}

func parseID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.Newf("invalid detection id %q", raw).
			Component("cli").
			Category(errors.CategoryValidation).
			Build()
	}
	return uint(id), nil
}
