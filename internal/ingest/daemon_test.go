package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"github.com/tphakala/pendant-go/internal/logger"
	"github.com/tphakala/pendant-go/internal/testutil"
)

func TestDaemon_DueUsers(t *testing.T) {
	// 01:00 UTC is before the 02:00 run time in UTC but after it in Helsinki.
	env := newTestEnv(t, day.Add(25*time.Hour))
	env.addUser(t, "alice", "UTC")
	env.addUser(t, "bob", "Europe/Helsinki")

	d := NewDaemon(env.service, &env.settings.Scheduler, logger.NewNopLogger())

	due, err := d.DueUsers(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, due)

	due, err = d.DueUsers(t.Context())
	require.NoError(t, err)
	assert.Empty(t, due, "an attempted day waits for the retry backoff")

	env.clock.Set(day.Add(26 * time.Hour))
	due, err = d.DueUsers(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, due)
}

func TestDaemon_SkipsCompletedDay(t *testing.T) {
	env := newTestEnv(t, day.Add(27*time.Hour))
	env.addUser(t, "alice", "UTC")

	_, err := env.service.RunScheduled(t.Context(), "alice")
	require.NoError(t, err)

	d := NewDaemon(env.service, &env.settings.Scheduler, logger.NewNopLogger())
	due, err := d.DueUsers(t.Context())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDaemon_RunTriggersDueUsers(t *testing.T) {
	env := newTestEnv(t, day.Add(27*time.Hour))
	env.addUser(t, "alice", "UTC")

	d := NewDaemon(env.service, &env.settings.Scheduler, logger.NewNopLogger(),
		WithCheckInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, d.Run(ctx))
	}()

	require.Eventually(t, func() bool {
		done, err := env.store.Runs.HasCompleted(t.Context(), "alice", "2024-06-01", entities.TriggerScheduled)
		return err == nil && done
	}, testutil.DefaultTestTimeout, 10*time.Millisecond)

	cancel()
	testutil.WaitForChannel(t, done, testutil.DefaultTestTimeout, "daemon did not stop")

	runs, err := env.service.Runs(t.Context(), "alice", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1, "the day is run once")
}
