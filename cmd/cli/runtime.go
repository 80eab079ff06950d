// Package cli holds the state shared by all subcommands.
package cli

import (
	"context"
	"time"

	"github.com/tphakala/pendant-go/internal/buildinfo"
	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/errors"
	"github.com/tphakala/pendant-go/internal/ingest"
	"github.com/tphakala/pendant-go/internal/logger"
	"github.com/tphakala/pendant-go/internal/privacy"
)

// sentryFlushTimeout bounds event delivery on exit.
const sentryFlushTimeout = 2 * time.Second

// Runtime carries the settings, logger and build metadata. The root command
// populates it in PersistentPreRunE, before any subcommand runs.
type Runtime struct {
	Settings *conf.Settings
	Build    *buildinfo.Context
	Log      logger.Logger

	central *logger.CentralLogger
	sentry  bool
}

// New creates an empty Runtime.
func New(build *buildinfo.Context) *Runtime {
	return &Runtime{
		Settings: &conf.Settings{},
		Build:    build,
		Log:      logger.NewNopLogger(),
	}
}

// Init loads configuration, builds the logger and enables error telemetry.
func (r *Runtime) Init(configPath string, debug bool) error {
	settings, err := conf.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		settings.Debug = true
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
	}
	*r.Settings = *settings

	central, err := logger.NewCentralLogger(&r.Settings.Logging)
	if err != nil {
		return err
	}
	r.central = central
	r.Log = central

	if r.Settings.Sentry.Enabled {
		errors.SetPrivacyScrubber(privacy.ScrubMessage)
		if err := errors.InitSentry(r.Settings.Sentry.DSN, r.Settings.Sentry.Environment, r.Build.Release()); err != nil {
			r.Log.Warn("failed to initialize Sentry", logger.Error(err))
		} else {
			r.sentry = true
		}
	}

	r.Log.Debug("configuration loaded",
		logger.String("config_file", r.Settings.ConfigFile),
		logger.String("version", r.Build.Version()))
	return nil
}

// OpenApp wires the ingestion service from the loaded settings.
func (r *Runtime) OpenApp(ctx context.Context) (*ingest.App, error) {
	return ingest.NewApp(ctx, r.Settings, r.Log)
}

// Close flushes telemetry and logs.
func (r *Runtime) Close() error {
	if r.sentry {
		errors.FlushSentry(sentryFlushTimeout)
	}
	if r.central != nil {
		return r.central.Close()
	}
	return nil
}
