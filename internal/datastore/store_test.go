package datastore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/logger"
)

// newTestStore opens a migrated SQLite database in a temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	settings := &conf.Settings{}
	settings.Database.Type = "sqlite"
	settings.Database.SQLite.Path = filepath.Join(t.TempDir(), "pendant.db")

	store, err := Open(settings, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// at returns a fixed UTC instant offset by the given hours.
func at(hours float64) time.Time {
	base := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(hours * float64(time.Hour)))
}
