package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/datastore"
	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"github.com/tphakala/pendant-go/internal/logger"
	"github.com/tphakala/pendant-go/internal/storage"
	"github.com/tphakala/pendant-go/internal/testutil"
)

type fixture struct {
	db    *datastore.Store
	blobs *storage.LocalStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{db: testutil.NewStore(t), blobs: testutil.NewBlobStore(t)}
}

func (f *fixture) reconciler(settings conf.ReconcileSettings, now time.Time) *Reconciler {
	return New(f.blobs, f.db, &settings, logger.NewNopLogger(), WithClock(func() time.Time { return now }))
}

func (f *fixture) put(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, f.blobs.Write(t.Context(), k, []byte("RIFF")))
	}
}

func (f *fixture) exists(t *testing.T, key string) bool {
	t.Helper()
	ok, err := f.blobs.Exists(t.Context(), key)
	require.NoError(t, err)
	return ok
}

func (f *fixture) detection(t *testing.T, ts time.Time, clip string) {
	t.Helper()
	require.NoError(t, f.db.Detections.Create(t.Context(), &entities.Detection{
		UserID: "alice", TimestampUTC: ts, ClassID: 1, ClassName: "Cough", Probability: 0.9, ClipStoragePath: clip,
	}))
}

func (f *fixture) window(t *testing.T, start time.Time, processed bool) string {
	t.Helper()
	end := start.Add(2 * time.Hour)
	key := storage.RawAudioKey("alice", start, end)
	w, err := f.db.Windows.GetOrCreate(t.Context(), "alice", start, end, "run")
	require.NoError(t, err)
	require.NoError(t, f.db.Windows.MarkDownloaded(t.Context(), w.ID, key))
	if processed {
		require.NoError(t, f.db.Windows.MarkProcessed(t.Context(), w.ID))
	}
	f.put(t, key)
	return key
}

var day = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

func TestReconcile_RemovesOnlyUnreferenced(t *testing.T) {
	f := newFixture(t)
	referenced := "users/alice/clips/2024/03/10/cough_90p_20240310T010000Z.wav"
	orphan := "users/alice/clips/2024/03/10/cough_80p_20240310T020000Z.wav"
	otherUser := "users/bob/clips/2024/03/10/cough_80p_20240310T020000Z.wav"
	f.put(t, referenced, orphan, otherUser)
	f.detection(t, day.Add(time.Hour), referenced)

	processedRaw := f.window(t, day, true)
	inFlightRaw := f.window(t, day.Add(2*time.Hour), false)
	unknownRaw := storage.RawAudioKey("alice", day.Add(4*time.Hour), day.Add(6*time.Hour))
	f.put(t, unknownRaw)

	r := f.reconciler(conf.ReconcileSettings{MinAge: 10 * time.Minute}, time.Now().Add(time.Hour))
	res, err := r.Reconcile(t.Context(), "alice")
	require.NoError(t, err)

	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 2, res.RawRemoved)
	assert.Zero(t, res.Errors)
	assert.False(t, res.Capped)

	assert.True(t, f.exists(t, referenced))
	assert.False(t, f.exists(t, orphan))
	assert.True(t, f.exists(t, otherUser))
	assert.False(t, f.exists(t, processedRaw))
	assert.False(t, f.exists(t, unknownRaw))
	assert.True(t, f.exists(t, inFlightRaw))
}

func TestReconcile_LeavesYoungFiles(t *testing.T) {
	f := newFixture(t)
	orphan := "users/alice/clips/2024/03/10/laughter_70p_20240310T030000Z.wav"
	f.put(t, orphan)

	r := f.reconciler(conf.ReconcileSettings{MinAge: 10 * time.Minute}, time.Now())
	res, err := r.Reconcile(t.Context(), "alice")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Kept)
	assert.Zero(t, res.Removed)
	assert.True(t, f.exists(t, orphan))
}

func TestReconcileAll_IgnoresMinAge(t *testing.T) {
	f := newFixture(t)
	orphan := "users/alice/clips/2024/03/10/laughter_70p_20240310T030000.000Z.wav"
	referenced := "users/alice/clips/2024/03/10/cough_90p_20240310T010000.000Z.wav"
	f.put(t, orphan, referenced)
	f.detection(t, day.Add(time.Hour), referenced)
	inFlightRaw := f.window(t, day, false)

	r := f.reconciler(conf.ReconcileSettings{MinAge: 10 * time.Minute}, time.Now())
	res, err := r.ReconcileAll(t.Context(), "alice")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Removed)
	assert.Zero(t, res.Kept)
	assert.False(t, f.exists(t, orphan))
	assert.True(t, f.exists(t, referenced))
	assert.True(t, f.exists(t, inFlightRaw))
}

func TestReconcile_DeletionCap(t *testing.T) {
	f := newFixture(t)
	f.put(t,
		"users/alice/clips/a.wav",
		"users/alice/clips/b.wav",
		"users/alice/clips/c.wav")

	r := f.reconciler(conf.ReconcileSettings{MinAge: time.Minute, MaxDeletions: 1}, time.Now().Add(time.Hour))
	res, err := r.Reconcile(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.True(t, res.Capped)

	objects, err := f.blobs.List(t.Context(), storage.ClipPrefix("alice"))
	require.NoError(t, err)
	assert.Len(t, objects, 2)
}

func TestReconcile_EmptyUser(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(conf.ReconcileSettings{}, time.Now())
	res, err := r.Reconcile(t.Context(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}
