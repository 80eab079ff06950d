// Package reconcile removes orphaned blobs on demand.
package reconcile

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tphakala/pendant-go/cmd/cli"
	"github.com/tphakala/pendant-go/internal/ingest"
)

// Command creates the reconcile command.
func Command(rt *cli.Runtime) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Remove clips and raw audio no record references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.WithApp(cmd.Context(), func(app *ingest.App) error {
				ids := []string{userID}
				if userID == "" {
					users, err := app.Service.Users(cmd.Context())
					if err != nil {
						return err
					}
					ids = ids[:0]
					for i := range users {
						ids = append(ids, users[i].UserID)
					}
				}

				out := cmd.OutOrStdout()
				for _, id := range ids {
					result, err := app.Service.ReconcileOrphans(cmd.Context(), id)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s: scanned %d, removed %d, kept %d, near-miss %d, raw removed %d, errors %d",
						id, result.Scanned, result.Removed, result.Kept, result.NearMiss, result.RawRemoved, result.Errors)
					if result.Capped {
						fmt.Fprint(out, " (deletion cap reached)")
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User to reconcile (default: all users)")

	return cmd
}
