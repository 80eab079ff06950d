// Package version prints build metadata.
package version

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tphakala/pendant-go/cmd/cli"
)

// Command creates the version command.
func Command(rt *cli.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pendant %s (built %s)\n", rt.Build.Version(), rt.Build.BuildDate())
		},
	}
}
