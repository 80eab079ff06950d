package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewIngestMetrics(registry)
	require.NoError(t, err)

	m.RunStarted()
	assert.InDelta(t, 1, testutil.ToFloat64(m.runsInProgress), 0)

	m.RecordChunk(ChunkNotFound)
	m.RecordChunk(ChunkNotFound)
	m.RecordChunk(ChunkProcessed)
	m.ObserveFetch(2*time.Second, 4096)
	m.ObserveClassify(time.Second)
	m.RecordCandidate("skipped-duplicate", "time-window")
	m.RecordReconcile(3, 1)
	m.RunFinished("scheduled", "completed", time.Minute)

	assert.InDelta(t, 0, testutil.ToFloat64(m.runsInProgress), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.chunksTotal.WithLabelValues(ChunkNotFound)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.runsTotal.WithLabelValues("scheduled", "completed")), 0)
	assert.InDelta(t, 4096, testutil.ToFloat64(m.fetchedBytesTotal), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.reconcileRemovedTotal.WithLabelValues("clip")), 0)

	_, err = NewIngestMetrics(registry)
	assert.Error(t, err, "registering twice fails")
}
