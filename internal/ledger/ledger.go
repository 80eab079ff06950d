// Package ledger records the steps and upstream calls of one processing run
// and finalizes its ProcessingRun row exactly once.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tphakala/pendant-go/internal/datastore"
	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"github.com/tphakala/pendant-go/internal/errors"
)

// ErrAlreadyFinalized is returned by a second Finalize.
var ErrAlreadyFinalized = datastore.ErrRunAlreadyFinalized

// Step statuses.
const (
	StatusOK    = "ok"
	StatusInfo  = "info"
	StatusWarn  = "warn"
	StatusError = "error"
)

// Step names. Run counters are derived from these.
const (
	StepSkipProcessed  = "skip-processed"
	StepFetched        = "fetch"
	StepFetchNotFound  = "fetch/not-found"
	StepFetchTransient = "fetch/transient"
	StepFetchError     = "fetch/error"
	StepClassify       = "classify"
	StepExtract        = "extract"
	StepPersisted      = "dedup/persisted"
	StepDupTimeWindow  = "dedup/time-window"
	StepDupPath        = "dedup/path"
	StepDupRace        = "dedup/race"
	StepMissingFile    = "dedup/missing-file"
	StepNearMiss       = "dedup/near-miss"
	StepDedupError     = "dedup/error"
	StepWatermark      = "watermark"
	StepReprocessClear = "reprocess/clear"
	StepChunkDone      = "chunk"
	StepRawCleanup     = "raw-cleanup"
	StepReconcile      = "reconcile"
)

// MetaCandidates is the classify step metadata key holding the number of
// candidates that passed the filter.
const MetaCandidates = "candidates"

// finalizeTimeout bounds the final write, which runs even after the run
// context was cancelled.
const finalizeTimeout = 30 * time.Second

// Params identifies a run.
type Params struct {
	UserID       string
	CalendarDate string
	Trigger      entities.TriggerType

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Ledger accumulates one run's log. It is safe for concurrent use.
type Ledger struct {
	mu        sync.Mutex
	repo      datastore.RunRepository
	run       entities.ProcessingRun
	now       func() time.Time
	finalized bool
}

// Begin inserts a running ProcessingRun row and returns its ledger.
func Begin(ctx context.Context, repo datastore.RunRepository, p Params) (*Ledger, error) {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	l := &Ledger{
		repo: repo,
		now:  now,
		run: entities.ProcessingRun{
			ID:           uuid.NewString(),
			UserID:       p.UserID,
			CalendarDate: p.CalendarDate,
			TriggerType:  p.Trigger,
			StartedAt:    now().UTC(),
		},
	}
	if err := repo.Create(ctx, &l.run); err != nil {
		return nil, err
	}
	return l, nil
}

// Run opens a run, invokes fn and finalizes the run on every exit path.
// A panic in fn finalizes the run as failed and is re-raised.
func Run(ctx context.Context, repo datastore.RunRepository, p Params, fn func(*Ledger) error) (*entities.ProcessingRun, error) {
	l, err := Begin(ctx, repo, p)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			_, _ = l.Finalize(ctx, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	runErr := fn(l)
	run, err := l.Finalize(ctx, runErr)
	if errors.Is(err, ErrAlreadyFinalized) {
		return l.Snapshot(), runErr
	}
	if err != nil {
		return run, errors.Join(runErr, err)
	}
	return run, runErr
}

// ID returns the run ID.
func (l *Ledger) ID() string {
	return l.run.ID
}

// Record appends a step entry.
func (l *Ledger) Record(step, status string, metadata map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.StepLog = append(l.run.StepLog, entities.StepEntry{
		Step:     step,
		Status:   status,
		At:       l.now().UTC(),
		Metadata: metadata,
	})
}

// RecordAPICall appends an upstream call entry.
func (l *Ledger) RecordAPICall(endpoint string, statusCode int, durationMs, bytes int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run.APICallLog = append(l.run.APICallLog, entities.APICall{
		Endpoint:   endpoint,
		StatusCode: statusCode,
		DurationMs: durationMs,
		Bytes:      bytes,
		At:         l.now().UTC(),
	})
}

// HasErrors reports whether any step was recorded with StatusError.
func (l *Ledger) HasErrors() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errorSteps() > 0
}

// Snapshot returns a copy of the run with counters derived from the log.
func (l *Ledger) Snapshot() *entities.ProcessingRun {
	l.mu.Lock()
	defer l.mu.Unlock()
	run := l.run
	applyCounters(&run)
	run.StepLog = append(run.StepLog[:0:0], l.run.StepLog...)
	run.APICallLog = append(run.APICallLog[:0:0], l.run.APICallLog...)
	return &run
}

// Finalize derives the counters, sets the final status and writes the row.
// The status is failed when runErr is set, completed-with-errors when any
// step failed, else completed. The write ignores cancellation of ctx.
func (l *Ledger) Finalize(ctx context.Context, runErr error) (*entities.ProcessingRun, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finalized {
		return nil, errors.New(ErrAlreadyFinalized).
			Component("ledger").
			Category(errors.CategoryState).
			Context("run_id", l.run.ID).
			Build()
	}

	run := &l.run
	applyCounters(run)
	finishedAt := l.now().UTC()
	run.DurationSeconds = finishedAt.Sub(run.StartedAt).Seconds()
	run.FinalizedAt = &finishedAt

	failedSteps := l.errorSteps()
	switch {
	case runErr != nil:
		run.Status = entities.RunStatusFailed
		run.ErrorMessage = runErr.Error()
	case failedSteps > 0:
		run.Status = entities.RunStatusCompletedWithErrors
		run.ErrorMessage = fmt.Sprintf("%d step(s) failed", failedSteps)
	default:
		run.Status = entities.RunStatusCompleted
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	err := l.repo.Finalize(writeCtx, run)
	if err != nil && !errors.Is(err, datastore.ErrRunAlreadyFinalized) {
		return nil, err
	}
	l.finalized = true
	if err != nil {
		return nil, err
	}

	out := *run
	return &out, nil
}

func (l *Ledger) errorSteps() int {
	n := 0
	for _, e := range l.run.StepLog {
		if e.Status == StatusError {
			n++
		}
	}
	return n
}

// applyCounters recomputes every counter from the step log.
func applyCounters(run *entities.ProcessingRun) {
	run.WindowsFetched = 0
	run.EventsFound = 0
	run.DuplicatesByWindow = 0
	run.DuplicatesByPath = 0
	run.DuplicatesByMissingFile = 0
	run.DuplicatesByRace = 0

	for _, e := range run.StepLog {
		switch e.Step {
		case StepFetched:
			run.WindowsFetched++
		case StepClassify:
			run.EventsFound += metaInt(e.Metadata, MetaCandidates)
		case StepDupTimeWindow:
			run.DuplicatesByWindow++
		case StepDupPath:
			run.DuplicatesByPath++
		case StepDupRace:
			run.DuplicatesByRace++
		case StepMissingFile:
			run.DuplicatesByMissingFile++
		}
	}
}

func metaInt(metadata map[string]any, key string) int {
	switch v := metadata[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
