// Package users manages registered pendant users.
package users

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tphakala/pendant-go/cmd/cli"
	"github.com/tphakala/pendant-go/internal/ingest"
)

// Command creates the users parent command
func Command(rt *cli.Runtime) *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Manage registered users",
	}

	usersCmd.AddCommand(addCommand(rt), listCommand(rt))

	return usersCmd
}

func addCommand(rt *cli.Runtime) *cobra.Command {
	var timezone string

	cmd := &cobra.Command{
		Use:   "add <user-id>",
		Short: "Register a user or update their timezone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.WithApp(cmd.Context(), func(app *ingest.App) error {
				if err := app.Service.AddUser(cmd.Context(), args[0], timezone); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %s registered in %s\n", args[0], timezone)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&timezone, "tz", "UTC", "IANA timezone of the user")

	return cmd
}

func listCommand(rt *cli.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.WithApp(cmd.Context(), func(app *ingest.App) error {
				users, err := app.Service.Users(cmd.Context())
				if err != nil {
					return err
				}
				return cli.PrintUsers(cmd.OutOrStdout(), users)
			})
		},
	}
}
