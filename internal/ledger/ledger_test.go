package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/pendant-go/internal/datastore"
	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"github.com/tphakala/pendant-go/internal/errors"
	"github.com/tphakala/pendant-go/internal/testutil"
)

func testParams() Params {
	clock := time.Date(2024, 3, 11, 3, 0, 0, 0, time.UTC)
	return Params{
		UserID:       "alice",
		CalendarDate: "2024-03-10",
		Trigger:      entities.TriggerScheduled,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	}
}

func TestRun_DerivesCountersFromSteps(t *testing.T) {
	store := testutil.NewStore(t)

	run, err := Run(t.Context(), store.Runs, testParams(), func(l *Ledger) error {
		for range 4 {
			l.Record(StepFetchNotFound, StatusInfo, nil)
		}
		for range 8 {
			l.Record(StepFetched, StatusOK, map[string]any{"bytes": 1024})
			l.RecordAPICall("https://api.test/v1/download-audio", 200, 12, 1024)
		}
		l.Record(StepClassify, StatusOK, map[string]any{MetaCandidates: 3})
		l.Record(StepClassify, StatusOK, map[string]any{MetaCandidates: 2})
		l.Record(StepPersisted, StatusOK, nil)
		l.Record(StepPersisted, StatusOK, nil)
		l.Record(StepDupTimeWindow, StatusInfo, nil)
		l.Record(StepDupPath, StatusInfo, nil)
		l.Record(StepMissingFile, StatusWarn, nil)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, entities.RunStatusCompleted, run.Status)
	assert.Equal(t, 8, run.WindowsFetched)
	assert.Equal(t, 5, run.EventsFound)
	assert.Equal(t, 1, run.DuplicatesByWindow)
	assert.Equal(t, 1, run.DuplicatesByPath)
	assert.Equal(t, 1, run.DuplicatesByMissingFile)
	assert.Equal(t, 3, run.DuplicatesSkipped())
	assert.Positive(t, run.DurationSeconds)

	stored, err := store.Runs.GetByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.RunStatusCompleted, stored.Status)
	assert.Equal(t, 8, stored.WindowsFetched)
	assert.Len(t, stored.StepLog, 19)
	assert.Len(t, stored.APICallLog, 8)
	require.NotNil(t, stored.FinalizedAt)

	notFound := 0
	for _, e := range stored.StepLog {
		if e.Step == StepFetchNotFound {
			notFound++
		}
	}
	assert.Equal(t, 4, notFound)
}

func TestRun_Status(t *testing.T) {
	store := testutil.NewStore(t)
	boom := errors.NewStd("boom")

	run, err := Run(t.Context(), store.Runs, testParams(), func(l *Ledger) error {
		l.Record(StepFetchError, StatusError, map[string]any{"error": "500"})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, entities.RunStatusCompletedWithErrors, run.Status)
	assert.Equal(t, "1 step(s) failed", run.ErrorMessage)

	run, err = Run(t.Context(), store.Runs, testParams(), func(*Ledger) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, entities.RunStatusFailed, run.Status)
	assert.Equal(t, "boom", run.ErrorMessage)
}

func TestRun_PanicFinalizesAsFailed(t *testing.T) {
	store := testutil.NewStore(t)

	var runID string
	assert.PanicsWithValue(t, "kaboom", func() {
		_, _ = Run(t.Context(), store.Runs, testParams(), func(l *Ledger) error {
			runID = l.ID()
			panic("kaboom")
		})
	})

	stored, err := store.Runs.GetByID(t.Context(), runID)
	require.NoError(t, err)
	assert.Equal(t, entities.RunStatusFailed, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "kaboom")
}

func TestFinalize_OnlyOnce(t *testing.T) {
	store := testutil.NewStore(t)
	l, err := Begin(t.Context(), store.Runs, testParams())
	require.NoError(t, err)

	stored, err := store.Runs.GetByID(t.Context(), l.ID())
	require.NoError(t, err)
	assert.Equal(t, entities.RunStatusRunning, stored.Status)

	_, err = l.Finalize(t.Context(), nil)
	require.NoError(t, err)
	_, err = l.Finalize(t.Context(), nil)
	require.ErrorIs(t, err, ErrAlreadyFinalized)

	// A second ledger over the same row cannot overwrite it either.
	other := &Ledger{repo: store.Runs, run: *stored, now: time.Now}
	_, err = other.Finalize(t.Context(), errors.NewStd("late"))
	require.ErrorIs(t, err, datastore.ErrRunAlreadyFinalized)

	stored, err = store.Runs.GetByID(t.Context(), l.ID())
	require.NoError(t, err)
	assert.Equal(t, entities.RunStatusCompleted, stored.Status)
}

func TestFinalize_IgnoresCancelledContext(t *testing.T) {
	store := testutil.NewStore(t)
	ctx, cancel := context.WithCancel(t.Context())

	run, err := Run(ctx, store.Runs, testParams(), func(*Ledger) error {
		cancel()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, run)
	assert.Equal(t, entities.RunStatusFailed, run.Status)
}

func TestLedger_ConcurrentRecording(t *testing.T) {
	store := testutil.NewStore(t)
	l, err := Begin(t.Context(), store.Runs, Params{UserID: "bob", CalendarDate: "2024-03-10", Trigger: entities.TriggerManualToday})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			for range 10 {
				l.Record(StepFetched, StatusOK, nil)
				l.RecordAPICall("e", 200, 1, 1)
			}
		})
	}
	wg.Wait()

	snap := l.Snapshot()
	assert.Equal(t, 100, snap.WindowsFetched)
	assert.Len(t, snap.APICallLog, 100)
	assert.False(t, l.HasErrors())
}
