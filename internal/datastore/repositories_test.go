package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/pendant-go/internal/datastore/entities"
)

func TestWindowRepository_IsRangeProcessed(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	w, err := store.Windows.GetOrCreate(ctx, "alice", at(2), at(4), "run-1")
	require.NoError(t, err)

	processed, err := store.Windows.IsRangeProcessed(ctx, "alice", at(2), at(4))
	require.NoError(t, err)
	assert.False(t, processed, "unprocessed windows never count")

	require.NoError(t, store.Windows.MarkProcessed(ctx, w.ID))

	tests := []struct {
		name       string
		user       string
		start, end time.Time
		want       bool
	}{
		{"exact range", "alice", at(2), at(4), true},
		{"partial overlap at start", "alice", at(1), at(3), true},
		{"partial overlap at end", "alice", at(3.5), at(5), true},
		{"contained", "alice", at(2.5), at(3), true},
		{"adjacent before", "alice", at(0), at(2), false},
		{"adjacent after", "alice", at(4), at(6), false},
		{"other user", "bob", at(2), at(4), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Windows.IsRangeProcessed(ctx, tt.user, tt.start, tt.end)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWindowRepository_GetOrCreateReusesRow(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	first, err := store.Windows.GetOrCreate(ctx, "alice", at(0), at(2), "run-1")
	require.NoError(t, err)
	require.NoError(t, store.Windows.MarkDownloaded(ctx, first.ID, "users/alice/raw/a.wav"))

	second, err := store.Windows.GetOrCreate(ctx, "alice", at(0), at(2), "run-2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "run-1", second.RunID)
	assert.True(t, second.Downloaded)

	byPath, err := store.Windows.GetByStoragePath(ctx, "alice", "users/alice/raw/a.wav")
	require.NoError(t, err)
	assert.Equal(t, first.ID, byPath.ID)

	_, err = store.Windows.GetOrCreate(ctx, "alice", at(2), at(2), "run-3")
	require.Error(t, err, "empty ranges are rejected")
}

func TestWindowRepository_DeleteOverlapping(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	for _, r := range [][2]float64{{0, 2}, {2, 4}, {4, 6}} {
		_, err := store.Windows.GetOrCreate(ctx, "alice", at(r[0]), at(r[1]), "run-1")
		require.NoError(t, err)
	}
	_, err := store.Windows.GetOrCreate(ctx, "bob", at(2), at(4), "run-1")
	require.NoError(t, err)

	removed, err := store.Windows.DeleteOverlapping(ctx, "alice", at(1), at(4))
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	left, err := store.Windows.ListByUser(ctx, "alice", at(0), at(24))
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.True(t, left[0].StartUTC.Equal(at(4)))

	bobs, err := store.Windows.ListByUser(ctx, "bob", at(0), at(24))
	require.NoError(t, err)
	assert.Len(t, bobs, 1)
}

func TestDetectionRepository_Uniqueness(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	base := entities.Detection{
		UserID: "alice", TimestampUTC: at(1), ClassID: 42, ClassName: "Cough",
		Probability: 0.9, ClipStoragePath: "users/alice/clips/a.wav",
	}
	d := base
	require.NoError(t, store.Detections.Create(ctx, &d))
	assert.NotZero(t, d.ID)

	sameTime := base
	sameTime.ClassID = 7
	sameTime.ClipStoragePath = "users/alice/clips/b.wav"
	assert.ErrorIs(t, store.Detections.Create(ctx, &sameTime), ErrDuplicateKey)

	samePath := base
	samePath.TimestampUTC = at(2)
	assert.ErrorIs(t, store.Detections.Create(ctx, &samePath), ErrDuplicateKey)

	otherUser := base
	otherUser.UserID = "bob"
	otherUser.ClipStoragePath = "users/bob/clips/a.wav"
	require.NoError(t, store.Detections.Create(ctx, &otherUser))

	noClip := base
	noClip.ClipStoragePath = ""
	require.Error(t, store.Detections.Create(ctx, &noClip))
}

func TestDetectionRepository_FindNear(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	ts := at(1)
	for i, offset := range []time.Duration{0, 4 * time.Second} {
		d := entities.Detection{
			UserID: "alice", TimestampUTC: ts.Add(offset), ClassID: 42, ClassName: "Cough",
			Probability: 0.8, ClipStoragePath: "clip-" + string(rune('a'+i)),
		}
		require.NoError(t, store.Detections.Create(ctx, &d))
	}

	near, err := store.Detections.FindNear(ctx, "alice", 42, ts.Add(3*time.Second), 5*time.Second)
	require.NoError(t, err)
	assert.True(t, near.TimestampUTC.Equal(ts.Add(4*time.Second)), "closest match wins")

	_, err = store.Detections.FindNear(ctx, "alice", 42, ts.Add(10*time.Second), 5*time.Second)
	assert.ErrorIs(t, err, ErrDetectionNotFound, "just outside the window")

	edge, err := store.Detections.FindNear(ctx, "alice", 42, ts.Add(9*time.Second), 5*time.Second)
	require.NoError(t, err, "the window is inclusive")
	assert.True(t, edge.TimestampUTC.Equal(ts.Add(4*time.Second)))

	_, err = store.Detections.FindNear(ctx, "alice", 7, ts, 5*time.Second)
	assert.ErrorIs(t, err, ErrDetectionNotFound, "other classes never match")
}

func TestDetectionRepository_ClipPathsAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	d := entities.Detection{
		UserID: "alice", TimestampUTC: at(3), ClassID: 1, ClassName: "Laughter",
		Probability: 0.7, ClipStoragePath: "users/alice/clips/x.wav",
	}
	require.NoError(t, store.Detections.Create(ctx, &d))

	paths, err := store.Detections.ClipPaths(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, paths, "users/alice/clips/x.wav")

	exists, err := store.Detections.ExistsByClipPath(ctx, "users/alice/clips/x.wav")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Detections.UpdateNotes(ctx, d.ID, "at dinner"))
	got, err := store.Detections.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "at dinner", got.Notes)

	inRange, err := store.Detections.ListInRange(ctx, "alice", at(3), at(4))
	require.NoError(t, err)
	assert.Len(t, inRange, 1)
	outside, err := store.Detections.ListInRange(ctx, "alice", at(0), at(3))
	require.NoError(t, err)
	assert.Empty(t, outside, "end is exclusive")

	require.NoError(t, store.Detections.Delete(ctx, d.ID))
	assert.ErrorIs(t, store.Detections.Delete(ctx, d.ID), ErrDetectionNotFound)
}

func TestRunRepository_FinalizeOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	run := &entities.ProcessingRun{
		ID: "0b8f3f0e-0000-4000-8000-000000000001", UserID: "alice", CalendarDate: "2024-03-10",
		TriggerType: entities.TriggerScheduled, StartedAt: at(26),
	}
	require.NoError(t, store.Runs.Create(ctx, run))

	done, err := store.Runs.HasCompleted(ctx, "alice", "2024-03-10", entities.TriggerScheduled)
	require.NoError(t, err)
	assert.False(t, done, "running runs are not completed")

	now := at(27)
	run.Status = entities.RunStatusCompleted
	run.WindowsFetched = 8
	run.StepLog = append(run.StepLog, entities.StepEntry{Step: "fetch", Status: "not-found", At: now})
	run.FinalizedAt = &now
	require.NoError(t, store.Runs.Finalize(ctx, run))

	stored, err := store.Runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.RunStatusCompleted, stored.Status)
	assert.Equal(t, 8, stored.WindowsFetched)
	require.Len(t, stored.StepLog, 1)
	assert.Equal(t, "not-found", stored.StepLog[0].Status)

	run.Status = entities.RunStatusFailed
	assert.ErrorIs(t, store.Runs.Finalize(ctx, run), ErrRunAlreadyFinalized)

	done, err = store.Runs.HasCompleted(ctx, "alice", "2024-03-10", entities.TriggerScheduled)
	require.NoError(t, err)
	assert.True(t, done)

	runs, err := store.Runs.List(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	missing := &entities.ProcessingRun{ID: "missing", Status: entities.RunStatusCompleted}
	assert.ErrorIs(t, store.Runs.Finalize(ctx, missing), ErrRunNotFound)
}

func TestUserStateRepository_Watermark(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	assert.ErrorIs(t, store.Users.AdvanceWatermark(ctx, "alice", at(1)), ErrUserNotFound)

	require.NoError(t, store.Users.Upsert(ctx, "alice", "Europe/Berlin"))
	require.NoError(t, store.Users.AdvanceWatermark(ctx, "alice", at(4)))
	require.NoError(t, store.Users.AdvanceWatermark(ctx, "alice", at(2)), "older values are ignored")

	state, err := store.Users.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, state.LatestProcessedUTC)
	assert.True(t, state.LatestProcessedUTC.Equal(at(4)))

	require.NoError(t, store.Users.RewindWatermark(ctx, "alice", at(1)))
	require.NoError(t, store.Users.RewindWatermark(ctx, "alice", at(3)), "rewind never moves forward")
	state, err = store.Users.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, state.LatestProcessedUTC.Equal(at(1)))

	require.NoError(t, store.Users.Upsert(ctx, "alice", "America/New_York"))
	state, err = store.Users.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", state.Timezone)
	assert.True(t, state.LatestProcessedUTC.Equal(at(1)), "upsert keeps the watermark")

	users, err := store.Users.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
