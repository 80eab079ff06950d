// Package testutil provides shared test fixtures: a migrated SQLite store,
// a local blob store and synthetic WAV audio.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tphakala/pendant-go/internal/clips"
	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/datastore"
	"github.com/tphakala/pendant-go/internal/logger"
	"github.com/tphakala/pendant-go/internal/storage"
)

// Common test timeout constants.
const (
	// DefaultTestTimeout is the standard timeout for most async test operations.
	DefaultTestTimeout = 5 * time.Second

	// ShortTestTimeout is for operations expected to complete quickly.
	ShortTestTimeout = 1 * time.Second
)

// SampleRate of the audio produced by WAV.
const SampleRate = 8000

// NewStore opens a migrated SQLite database in a temp directory.
func NewStore(t *testing.T) *datastore.Store {
	t.Helper()
	settings := &conf.Settings{}
	settings.Database.Type = "sqlite"
	settings.Database.SQLite.Path = filepath.Join(t.TempDir(), "pendant.db")

	store, err := datastore.Open(settings, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// NewBlobStore returns a local blob store rooted in a temp directory.
func NewBlobStore(t *testing.T) *storage.LocalStore {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// WAV returns d of 16-bit mono audio at SampleRate.
func WAV(t *testing.T, d time.Duration) []byte {
	t.Helper()
	samples := make([]int, int(d.Seconds()*SampleRate))
	for i := range samples {
		samples[i] = (i % 200) - 100
	}
	data, err := clips.EncodeWAV(samples, SampleRate, 1, 16)
	require.NoError(t, err)
	return data
}

// WaitForChannel waits for a signal on the channel or fails after timeout.
func WaitForChannel(t *testing.T, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.Fail(t, msg)
	}
}
