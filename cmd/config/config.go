// Package config prints the effective configuration.
package config

import (
	"github.com/spf13/cobra"
	"github.com/tphakala/pendant-go/cmd/cli"
	"github.com/tphakala/pendant-go/internal/conf"
)

// Command creates the config parent command
func Command(rt *cli.Runtime) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := conf.Dump(rt.Settings)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})

	return configCmd
}
