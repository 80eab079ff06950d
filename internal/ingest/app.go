package ingest

import (
	"context"
	"io"
	"net/http"

	"github.com/tphakala/pendant-go/internal/classifier"
	"github.com/tphakala/pendant-go/internal/clips"
	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/datastore"
	"github.com/tphakala/pendant-go/internal/dedup"
	"github.com/tphakala/pendant-go/internal/errors"
	"github.com/tphakala/pendant-go/internal/logger"
	"github.com/tphakala/pendant-go/internal/mqtt"
	"github.com/tphakala/pendant-go/internal/notification"
	"github.com/tphakala/pendant-go/internal/observability"
	"github.com/tphakala/pendant-go/internal/pendant"
	"github.com/tphakala/pendant-go/internal/reconcile"
	"github.com/tphakala/pendant-go/internal/runlock"
	"github.com/tphakala/pendant-go/internal/storage"
	"github.com/tphakala/pendant-go/internal/timewindow"
)

// App is a fully wired Service with the resources it owns.
type App struct {
	Settings *conf.Settings
	Store    *datastore.Store
	Blobs    storage.Store
	Metrics  *observability.Metrics
	Service  *Service

	closers []func() error
	log     logger.Logger
}

// appOptions collects AppOption values.
type appOptions struct {
	transport http.RoundTripper
	resolver  *timewindow.Resolver
}

// AppOption configures NewApp.
type AppOption func(*appOptions)

// WithHTTPTransport routes pendant and classifier requests through rt.
func WithHTTPTransport(rt http.RoundTripper) AppOption {
	return func(o *appOptions) { o.transport = rt }
}

// WithResolver replaces the timezone resolver, for tests.
func WithResolver(r *timewindow.Resolver) AppOption {
	return func(o *appOptions) { o.resolver = r }
}

// NewApp opens the database, the blob store and the run lock and wires the
// clients and the Service from settings. Close releases everything.
func NewApp(ctx context.Context, settings *conf.Settings, log logger.Logger, opts ...AppOption) (app *App, err error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.resolver == nil {
		o.resolver = timewindow.NewResolver()
	}

	app = &App{Settings: settings, log: log.Module("ingest")}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	if app.Store, err = datastore.Open(settings, log); err != nil {
		return app, err
	}
	app.closers = append(app.closers, app.Store.Close)

	if app.Blobs, err = storage.New(ctx, &settings.Storage); err != nil {
		return app, err
	}
	if c, ok := app.Blobs.(io.Closer); ok {
		app.closers = append(app.closers, c.Close)
	}

	locker, err := runlock.New(ctx, &settings.Lock)
	if err != nil {
		return app, err
	}
	app.closers = append(app.closers, locker.Close)

	if app.Metrics, err = observability.NewMetrics(); err != nil {
		return app, err
	}

	var pendantOpts []pendant.Option
	var classifierOpts []classifier.Option
	if o.transport != nil {
		pendantOpts = append(pendantOpts, pendant.WithTransport(o.transport))
		classifierOpts = append(classifierOpts, classifier.WithTransport(o.transport))
	}
	gateway, err := pendant.NewGateway(&settings.Pendant, log, pendantOpts...)
	if err != nil {
		return app, err
	}
	app.closers = append(app.closers, func() error { gateway.Close(); return nil })

	classifierClient, err := classifier.NewClient(&settings.Classifier, log, classifierOpts...)
	if err != nil {
		return app, err
	}
	app.closers = append(app.closers, func() error { classifierClient.Close(); return nil })

	var publisher DetectionPublisher
	if settings.MQTT.Enabled {
		p := mqtt.NewPublisher(mqtt.ConfigFromSettings(&settings.MQTT), log)
		if err := p.Connect(ctx); err != nil {
			// Paho keeps reconnecting; publishing fails until it succeeds.
			app.log.Warn("MQTT broker not reachable at startup", logger.Error(err))
		}
		app.closers = append(app.closers, func() error { p.Disconnect(); return nil })
		publisher = p
	}

	var notifier RunNotifier
	if settings.Notification.Enabled {
		n, err := notification.New(&settings.Notification, log)
		if err != nil {
			return app, err
		}
		notifier = n
	}

	ingestMetrics := app.Metrics.Ingest
	scheduler := NewScheduler(SchedulerDeps{
		Source:     gateway,
		Classifier: classifierClient,
		Filter:     classifier.NewFilter(&settings.Classifier),
		Extractor:  clips.NewExtractor(app.Blobs, settings.Ingest.ClipPadding, log),
		Dedup:      dedup.NewEngine(app.Store.Detections, app.Blobs, settings.Ingest.DedupWindow, log),
		Blobs:      app.Blobs,
		Store:      app.Store,
		Settings:   &settings.Ingest,
		Metrics:    ingestMetrics,
		Publisher:  publisher,
		Now:        o.resolver.Now,
		Log:        log,
	})

	app.Service = NewService(ServiceDeps{
		Settings:   settings,
		Store:      app.Store,
		Blobs:      app.Blobs,
		Resolver:   o.resolver,
		Scheduler:  scheduler,
		Reconciler: reconcile.New(app.Blobs, app.Store, &settings.Reconcile, log),
		Locker:     locker,
		Notifier:   notifier,
		Metrics:    ingestMetrics,
		Log:        log,
	})
	return app, nil
}

// HealthCheck pings the database.
func (a *App) HealthCheck(ctx context.Context) error {
	sqlDB, err := a.Store.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
