package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tphakala/pendant-go/cmd/cli"
	configcmd "github.com/tphakala/pendant-go/cmd/config"
	"github.com/tphakala/pendant-go/cmd/detections"
	"github.com/tphakala/pendant-go/cmd/reconcile"
	"github.com/tphakala/pendant-go/cmd/run"
	"github.com/tphakala/pendant-go/cmd/runs"
	"github.com/tphakala/pendant-go/cmd/serve"
	"github.com/tphakala/pendant-go/cmd/users"
	"github.com/tphakala/pendant-go/cmd/version"
)

// RootCommand creates and returns the root command
func RootCommand(rt *cli.Runtime) *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:           "pendant",
		Short:         "Pendant audio event ingestion",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")

	versionCmd := version.Command(rt)

	rootCmd.AddCommand(
		run.Command(rt),
		serve.Command(rt),
		reconcile.Command(rt),
		users.Command(rt),
		detections.Command(rt),
		runs.Command(rt),
		configcmd.Command(rt),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Skip setup for the version command
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return rt.Init(configPath, debug)
	}

	return rootCmd
}
