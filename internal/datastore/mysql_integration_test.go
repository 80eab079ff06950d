//go:build integration

package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"github.com/tphakala/pendant-go/internal/logger"
)

func newMySQLStore(t *testing.T) *Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("pendant"),
		tcmysql.WithUsername("pendant"),
		tcmysql.WithPassword("pendant"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	settings := &conf.Settings{}
	settings.Database.Type = "mysql"
	settings.Database.MySQL.Host = host
	settings.Database.MySQL.Port = port.Port()
	settings.Database.MySQL.Username = "pendant"
	settings.Database.MySQL.Password = "pendant"
	settings.Database.MySQL.Database = "pendant"

	store, err := Open(settings, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMySQL_UniqueConstraintsAndOverlap(t *testing.T) {
	store := newMySQLStore(t)
	ctx := t.Context()

	w, err := store.Windows.GetOrCreate(ctx, "alice", at(0), at(2), "run-1")
	require.NoError(t, err)
	require.NoError(t, store.Windows.MarkProcessed(ctx, w.ID))

	processed, err := store.Windows.IsRangeProcessed(ctx, "alice", at(1), at(3))
	require.NoError(t, err)
	assert.True(t, processed)

	d := entities.Detection{
		UserID: "alice", TimestampUTC: at(1), ClassID: 1, ClassName: "Cough",
		Probability: 0.9, ClipStoragePath: "users/alice/clips/a.wav",
	}
	require.NoError(t, store.Detections.Create(ctx, &d))
	dup := d
	dup.ID = 0
	dup.TimestampUTC = at(1.5)
	assert.ErrorIs(t, store.Detections.Create(ctx, &dup), ErrDuplicateKey)

	require.NoError(t, store.Users.Upsert(ctx, "alice", "UTC"))
	require.NoError(t, store.Users.AdvanceWatermark(ctx, "alice", at(2)))
	require.NoError(t, store.Users.AdvanceWatermark(ctx, "alice", at(2)), "same value is a no-op")
}
