// Package serve runs the scheduler daemon.
package serve

import (
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/tphakala/pendant-go/cmd/cli"
	"github.com/tphakala/pendant-go/internal/errors"
	"github.com/tphakala/pendant-go/internal/ingest"
	"github.com/tphakala/pendant-go/internal/observability"
)

// Command creates the serve command.
func Command(rt *cli.Runtime) *cobra.Command {
	var checkInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daily scheduler",
		Long:  "Run scheduled processing for every user at the configured local time until interrupted. Serves metrics when enabled.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !rt.Settings.Scheduler.Enabled {
				return errors.Newf("scheduler is disabled in configuration").
					Component("cli").
					Category(errors.CategoryConfiguration).
					Build()
			}

			return rt.WithApp(cmd.Context(), func(app *ingest.App) error {
				var wg sync.WaitGroup
				quitChan := make(chan struct{})

				if rt.Settings.Metrics.Enabled {
					endpoint, err := observability.NewEndpoint(&rt.Settings.Metrics, app.Metrics, app.HealthCheck, rt.Log)
					if err != nil {
						return err
					}
					endpoint.Start(&wg, quitChan)
				}

				var opts []ingest.DaemonOption
				if checkInterval > 0 {
					opts = append(opts, ingest.WithCheckInterval(checkInterval))
				}
				daemon := ingest.NewDaemon(app.Service, &rt.Settings.Scheduler, rt.Log, opts...)
				err := daemon.Run(cmd.Context())

				close(quitChan)
				wg.Wait()
				return err
			})
		},
	}

	cmd.Flags().DurationVar(&checkInterval, "check-interval", 0, "How often to look for due users (default 1m)")

	return cmd
}
