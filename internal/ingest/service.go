package ingest

import (
	"context"
	"time"

	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/datastore"
	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"github.com/tphakala/pendant-go/internal/errors"
	"github.com/tphakala/pendant-go/internal/ledger"
	"github.com/tphakala/pendant-go/internal/logger"
	"github.com/tphakala/pendant-go/internal/observability/metrics"
	"github.com/tphakala/pendant-go/internal/reconcile"
	"github.com/tphakala/pendant-go/internal/runlock"
	"github.com/tphakala/pendant-go/internal/storage"
	"github.com/tphakala/pendant-go/internal/timewindow"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// RunNotifier is told about every finalized run.
type RunNotifier interface {
	NotifyRun(ctx context.Context, run *entities.ProcessingRun) error
}

// ServiceDeps are the collaborators of a Service. Notifier and Metrics are
// optional.
type ServiceDeps struct {
	Settings   *conf.Settings
	Store      *datastore.Store
	Blobs      storage.Store
	Resolver   *timewindow.Resolver
	Scheduler  *Scheduler
	Reconciler *reconcile.Reconciler
	Locker     runlock.Locker
	Notifier   RunNotifier
	Metrics    *metrics.IngestMetrics
	Log        logger.Logger
}

// Service exposes the caller operations. Every trigger goes through
// Scheduler.ProcessRange under the user's run lock.
type Service struct {
	settings   *conf.Settings
	store      *datastore.Store
	blobs      storage.Store
	resolver   *timewindow.Resolver
	scheduler  *Scheduler
	reconciler *reconcile.Reconciler
	locker     runlock.Locker
	notifier   RunNotifier
	metrics    *metrics.IngestMetrics
	log        logger.Logger
}

// NewService creates a Service.
func NewService(d ServiceDeps) *Service {
	return &Service{
		settings:   d.Settings,
		store:      d.Store,
		blobs:      d.Blobs,
		resolver:   d.Resolver,
		scheduler:  d.Scheduler,
		reconciler: d.Reconciler,
		locker:     d.Locker,
		notifier:   d.Notifier,
		metrics:    d.Metrics,
		log:        d.Log.Module("ingest"),
	}
}

// runPlan is what a trigger resolves to before the ledger opens.
type runPlan struct {
	date        string
	start, end  time.Time
	incremental bool

	// prepare runs inside the ledger before the range is processed.
	prepare func(ctx context.Context, l *ledger.Ledger) error
}

// RunScheduled processes the full previous calendar day in the user's zone.
func (s *Service) RunScheduled(ctx context.Context, userID string) (*entities.ProcessingRun, error) {
	return s.execute(ctx, userID, entities.TriggerScheduled, func(state *entities.UserProcessingState) (runPlan, error) {
		day, err := s.resolver.PreviousDay(state.Timezone)
		if err != nil {
			return runPlan{}, err
		}
		start, end, err := s.resolver.ResolveDay(state.Timezone, day)
		if err != nil {
			return runPlan{}, err
		}
		return runPlan{date: day.String(), start: start, end: end}, nil
	})
}

// RunIncremental processes from the user's watermark to now. Without a
// watermark it starts at local midnight today.
func (s *Service) RunIncremental(ctx context.Context, userID string) (*entities.ProcessingRun, error) {
	return s.execute(ctx, userID, entities.TriggerManualToday, func(state *entities.UserProcessingState) (runPlan, error) {
		today, err := s.resolver.Today(state.Timezone)
		if err != nil {
			return runPlan{}, err
		}
		start, now, err := s.resolver.ResolveToNow(state.Timezone)
		if err != nil {
			return runPlan{}, err
		}
		if state.LatestProcessedUTC != nil {
			start = state.LatestProcessedUTC.UTC()
		}
		return runPlan{date: today.String(), start: start, end: now, incremental: true}, nil
	})
}

// RunReprocess deletes the detections and windows of [startDate,endDate) in
// the user's zone, rewinds the watermark and processes the range again.
func (s *Service) RunReprocess(ctx context.Context, userID string, startDate, endDate timewindow.Date) (*entities.ProcessingRun, error) {
	if !startDate.Before(endDate) {
		return nil, errors.Newf("reprocess start %s must be before end %s", startDate, endDate).
			Component("ingest").
			Category(errors.CategoryValidation).
			Build()
	}
	return s.execute(ctx, userID, entities.TriggerManualReprocess, func(state *entities.UserProcessingState) (runPlan, error) {
		start, _, err := s.resolver.ResolveDay(state.Timezone, startDate)
		if err != nil {
			return runPlan{}, err
		}
		end, _, err := s.resolver.ResolveDay(state.Timezone, endDate)
		if err != nil {
			return runPlan{}, err
		}
		return runPlan{
			date:  startDate.String(),
			start: start,
			end:   end,
			prepare: func(ctx context.Context, l *ledger.Ledger) error {
				return s.clearRange(ctx, userID, start, end, l)
			},
		}, nil
	})
}

// ReconcileOrphans removes the user's unreferenced clips and stale raw audio.
// It takes the user's run lock, so clips of any age are eligible.
func (s *Service) ReconcileOrphans(ctx context.Context, userID string) (reconcile.Result, error) {
	if _, err := s.store.Users.Get(ctx, userID); err != nil {
		return reconcile.Result{}, userError(userID, err)
	}
	unlock, err := s.locker.TryLock(ctx, userID)
	if err != nil {
		return reconcile.Result{}, err
	}
	defer unlock()

	res, err := s.reconciler.ReconcileAll(ctx, userID)
	if s.metrics != nil {
		s.metrics.RecordReconcile(res.Removed, res.RawRemoved)
	}
	return res, err
}

// RunScheduledAll runs RunScheduled for every registered user, at most
// ingest.userparallelism at a time. A failing user does not stop the others.
func (s *Service) RunScheduledAll(ctx context.Context) ([]*entities.ProcessingRun, error) {
	users, err := s.store.Users.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(users))
	for i := range users {
		ids[i] = users[i].UserID
	}
	return s.runAll(ctx, ids, s.RunScheduled)
}

func (s *Service) runAll(ctx context.Context, userIDs []string, run func(context.Context, string) (*entities.ProcessingRun, error)) ([]*entities.ProcessingRun, error) {
	sem := semaphore.NewWeighted(int64(max(s.settings.Ingest.UserParallelism, 1)))
	runs := make([]*entities.ProcessingRun, len(userIDs))
	errs := make([]error, len(userIDs))

	var g errgroup.Group
	for i, userID := range userIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			runs[i], errs[i] = run(ctx, userID)
			if errs[i] != nil {
				s.log.Error("user run failed",
					logger.String("user_id", userID),
					logger.Error(errs[i]))
			}
			return nil
		})
	}
	_ = g.Wait()
	return runs, errors.Join(errs...)
}

// DeleteDetection removes a detection and then its clip, unless another
// detection references the clip by then.
func (s *Service) DeleteDetection(ctx context.Context, id uint) error {
	d, err := s.store.Detections.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Detections.Delete(ctx, id); err != nil {
		return err
	}
	s.releaseClip(ctx, d.ClipStoragePath)
	s.log.Info("detection deleted",
		logger.Int64("detection_id", int64(id)),
		logger.String("user_id", d.UserID))
	return nil
}

// AddUser registers a user or updates the timezone of an existing one.
func (s *Service) AddUser(ctx context.Context, userID, timezone string) error {
	if err := storage.ValidateUserID(userID); err != nil {
		return err
	}
	if _, err := s.resolver.Location(timezone); err != nil {
		return err
	}
	return s.store.Users.Upsert(ctx, userID, timezone)
}

// Users returns all registered users.
func (s *Service) Users(ctx context.Context) ([]entities.UserProcessingState, error) {
	return s.store.Users.List(ctx)
}

// Runs returns the most recent runs, newest first.
func (s *Service) Runs(ctx context.Context, userID string, limit int) ([]entities.ProcessingRun, error) {
	return s.store.Runs.List(ctx, userID, limit)
}

// Run returns one run with its step and API call logs.
func (s *Service) Run(ctx context.Context, runID string) (*entities.ProcessingRun, error) {
	return s.store.Runs.GetByID(ctx, runID)
}

// DetectionsOn returns the user's detections of one local calendar day.
func (s *Service) DetectionsOn(ctx context.Context, userID string, date timewindow.Date) ([]entities.Detection, error) {
	state, err := s.store.Users.Get(ctx, userID)
	if err != nil {
		return nil, userError(userID, err)
	}
	start, end, err := s.resolver.ResolveDay(state.Timezone, date)
	if err != nil {
		return nil, err
	}
	return s.store.Detections.ListInRange(ctx, userID, start, end)
}

// AnnotateDetection replaces the notes of a detection, the only mutable field.
func (s *Service) AnnotateDetection(ctx context.Context, id uint, notes string) error {
	return s.store.Detections.UpdateNotes(ctx, id, notes)
}

// execute takes the user's lock, resolves the plan and runs it inside a
// ledger. Resolution failures still produce a failed run row.
func (s *Service) execute(ctx context.Context, userID string, trigger entities.TriggerType, resolve func(*entities.UserProcessingState) (runPlan, error)) (*entities.ProcessingRun, error) {
	unlock, err := s.locker.TryLock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := s.log.With(
		logger.String("user_id", userID),
		logger.String("trigger", string(trigger)))

	var plan runPlan
	state, planErr := s.store.Users.Get(ctx, userID)
	if planErr != nil {
		planErr = userError(userID, planErr)
	} else {
		plan, planErr = resolve(state)
	}
	if plan.date == "" {
		plan.date = timewindow.DateOf(s.resolver.Now()).String()
	}

	if s.metrics != nil {
		s.metrics.RunStarted()
	}
	begin := time.Now()

	run, err := ledger.Run(ctx, s.store.Runs, ledger.Params{
		UserID:       userID,
		CalendarDate: plan.date,
		Trigger:      trigger,
	}, func(l *ledger.Ledger) error {
		if planErr != nil {
			return planErr
		}
		credential, ok := s.settings.Credential(userID)
		if !ok {
			return errors.Newf("no pendant credential for user %s", userID).
				Component("ingest").
				Category(errors.CategoryConfiguration).
				Context("user_id", userID).
				Build()
		}
		if plan.prepare != nil {
			if err := plan.prepare(ctx, l); err != nil {
				return err
			}
		}

		persisted, err := s.scheduler.ProcessRange(ctx, RangeRequest{
			UserID:      userID,
			Credential:  credential,
			StartUTC:    plan.start,
			EndUTC:      plan.end,
			Incremental: plan.incremental,
		}, l)
		if err != nil {
			return err
		}
		log.Info("run processed", logger.Int("persisted", persisted))

		if s.settings.Ingest.ReconcileAfterRun {
			s.reconcileInRun(ctx, userID, l, log)
		}
		return nil
	})

	if run != nil {
		if s.metrics != nil {
			s.metrics.RunFinished(string(trigger), string(run.Status), time.Since(begin))
		}
		log.Info("run finalized",
			logger.String("run_id", run.ID),
			logger.String("status", string(run.Status)),
			logger.Int("windows_fetched", run.WindowsFetched),
			logger.Int("events_found", run.EventsFound),
			logger.Int("duplicates_skipped", run.DuplicatesSkipped()))
		s.notify(ctx, run, log)
	} else if s.metrics != nil {
		s.metrics.RunFinished(string(trigger), string(entities.RunStatusFailed), time.Since(begin))
	}
	return run, err
}

// reconcileInRun runs orphan reconciliation and records it as a step.
// Reconciliation problems never fail the run.
func (s *Service) reconcileInRun(ctx context.Context, userID string, l *ledger.Ledger, log logger.Logger) {
	res, err := s.reconciler.Reconcile(ctx, userID)
	if s.metrics != nil {
		s.metrics.RecordReconcile(res.Removed, res.RawRemoved)
	}
	meta := map[string]any{
		"removed":     res.Removed,
		"kept":        res.Kept,
		"near_miss":   res.NearMiss,
		"raw_removed": res.RawRemoved,
		"errors":      res.Errors,
		"capped":      res.Capped,
	}
	status := ledger.StatusOK
	if err != nil {
		meta["error"] = err.Error()
		status = ledger.StatusWarn
		log.Warn("post-run reconciliation failed", logger.Error(err))
	} else if res.Errors > 0 || res.NearMiss > 0 {
		status = ledger.StatusWarn
	}
	l.Record(ledger.StepReconcile, status, meta)
}

// clearRange deletes the detections and windows overlapping [start,end)
// and rewinds the watermark to start.
func (s *Service) clearRange(ctx context.Context, userID string, start, end time.Time, l *ledger.Ledger) error {
	detections, err := s.store.Detections.ListInRange(ctx, userID, start, end)
	if err != nil {
		return err
	}
	for i := range detections {
		d := &detections[i]
		if err := s.store.Detections.Delete(ctx, d.ID); err != nil && !errors.Is(err, datastore.ErrDetectionNotFound) {
			return err
		}
		s.releaseClip(ctx, d.ClipStoragePath)
	}

	windows, err := s.store.Windows.DeleteOverlapping(ctx, userID, start, end)
	if err != nil {
		return err
	}
	if err := s.store.Users.RewindWatermark(ctx, userID, start); err != nil {
		return err
	}

	l.Record(ledger.StepReprocessClear, ledger.StatusOK, map[string]any{
		"start":              start,
		"end":                end,
		"detections_deleted": len(detections),
		"windows_deleted":    len(windows),
	})
	s.log.Info("reprocess range cleared",
		logger.String("user_id", userID),
		logger.Int("detections_deleted", len(detections)),
		logger.Int("windows_deleted", len(windows)))
	return nil
}

// releaseClip deletes a clip no detection references any more.
func (s *Service) releaseClip(ctx context.Context, clipPath string) {
	referenced, err := s.store.Detections.ExistsByClipPath(ctx, clipPath)
	if err != nil {
		s.log.Warn("clip reference check failed, keeping clip",
			logger.String("clip", clipPath),
			logger.Error(err))
		return
	}
	if referenced {
		s.log.Warn("near-miss: clip still referenced, not deleting", logger.String("clip", clipPath))
		return
	}
	if err := s.blobs.Delete(ctx, clipPath); err != nil {
		s.log.Warn("failed to delete clip, left for reconciliation",
			logger.String("clip", clipPath),
			logger.Error(err))
	}
}

func (s *Service) notify(ctx context.Context, run *entities.ProcessingRun, log logger.Logger) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("run notification failed", logger.Error(err))
	}
}

// userError maps an unknown user to a configuration error.
func userError(userID string, err error) error {
	if errors.Is(err, datastore.ErrUserNotFound) {
		return errors.New(err).
			Component("ingest").
			Category(errors.CategoryConfiguration).
			Context("user_id", userID).
			Build()
	}
	return err
}
