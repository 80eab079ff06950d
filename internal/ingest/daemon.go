package ingest

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"github.com/tphakala/pendant-go/internal/errors"
	"github.com/tphakala/pendant-go/internal/logger"
	"github.com/tphakala/pendant-go/internal/runlock"
)

const (
	// defaultCheckInterval is how often the daemon looks for due users.
	defaultCheckInterval = time.Minute

	// retryBackoff spaces attempts for a day whose scheduled run failed.
	retryBackoff = time.Hour
)

// Daemon triggers the daily scheduled run of every user at the configured
// user-local time and, optionally, periodic incremental runs.
type Daemon struct {
	service       *Service
	settings      conf.SchedulerSettings
	checkInterval time.Duration
	attempts      *cache.Cache
	log           logger.Logger
}

// DaemonOption configures a Daemon.
type DaemonOption func(*Daemon)

// WithCheckInterval overrides how often due users are checked.
func WithCheckInterval(d time.Duration) DaemonOption {
	return func(dm *Daemon) { dm.checkInterval = d }
}

// NewDaemon creates a Daemon for service.
func NewDaemon(service *Service, settings *conf.SchedulerSettings, log logger.Logger, opts ...DaemonOption) *Daemon {
	d := &Daemon{
		service:       service,
		settings:      *settings,
		checkInterval: defaultCheckInterval,
		attempts:      cache.New(retryBackoff, 0),
		log:           log.Module("scheduler"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run checks for due work until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("scheduler started",
		logger.Int("hour", d.settings.Hour),
		logger.Int("minute", d.settings.Minute),
		logger.Duration("incremental_interval", d.settings.IncrementalInterval))

	check := time.NewTicker(d.checkInterval)
	defer check.Stop()

	var incremental <-chan time.Time
	if d.settings.IncrementalInterval > 0 {
		t := time.NewTicker(d.settings.IncrementalInterval)
		defer t.Stop()
		incremental = t.C
	}

	d.runDue(ctx)
	for {
		select {
		case <-ctx.Done():
			d.log.Info("scheduler stopped")
			return nil
		case <-check.C:
			d.runDue(ctx)
		case <-incremental:
			d.runIncremental(ctx)
		}
	}
}

func (d *Daemon) runDue(ctx context.Context) {
	d.attempts.DeleteExpired()
	due, err := d.DueUsers(ctx)
	if err != nil {
		d.log.Error("failed to determine due users", logger.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}
	d.log.Info("starting scheduled runs", logger.Int("users", len(due)))
	runs, err := d.service.runAll(ctx, due, d.service.RunScheduled)
	d.logResults(runs, err)
}

func (d *Daemon) runIncremental(ctx context.Context) {
	users, err := d.service.Users(ctx)
	if err != nil {
		d.log.Error("failed to list users", logger.Error(err))
		return
	}
	ids := make([]string, len(users))
	for i := range users {
		ids[i] = users[i].UserID
	}
	runs, err := d.service.runAll(ctx, ids, d.service.RunIncremental)
	d.logResults(runs, err)
}

func (d *Daemon) logResults(runs []*entities.ProcessingRun, err error) {
	for _, run := range runs {
		if run != nil && run.Status != entities.RunStatusCompleted {
			d.log.Warn("run did not complete cleanly",
				logger.String("user_id", run.UserID),
				logger.String("run_id", run.ID),
				logger.String("status", string(run.Status)))
		}
	}
	if err != nil && !errors.Is(err, runlock.ErrLocked) {
		d.log.Warn("scheduled runs reported errors", logger.Error(err))
	}
}

// DueUsers returns the users whose local time is past the daily run time
// and whose previous day has no completed scheduled run. A user whose run
// for that day was attempted within the retry backoff is not due.
func (d *Daemon) DueUsers(ctx context.Context) ([]string, error) {
	users, err := d.service.Users(ctx)
	if err != nil {
		return nil, err
	}
	resolver := d.service.resolver
	now := resolver.Now()

	var due []string
	for i := range users {
		u := &users[i]
		log := d.log.With(logger.String("user_id", u.UserID))

		loc, err := resolver.Location(u.Timezone)
		if err != nil {
			log.Warn("skipping user with invalid timezone", logger.Error(err))
			continue
		}
		local := now.In(loc)
		runAt := time.Date(local.Year(), local.Month(), local.Day(), d.settings.Hour, d.settings.Minute, 0, 0, loc)
		if local.Before(runAt) {
			continue
		}

		day, err := resolver.PreviousDay(u.Timezone)
		if err != nil {
			continue
		}
		key := u.UserID + "|" + day.String()
		if _, attempted := d.attempts.Get(key); attempted {
			continue
		}
		done, err := d.service.store.Runs.HasCompleted(ctx, u.UserID, day.String(), entities.TriggerScheduled)
		if err != nil {
			return nil, err
		}
		if done {
			continue
		}
		d.attempts.SetDefault(key, now)
		due = append(due, u.UserID)
	}
	return due, nil
}
