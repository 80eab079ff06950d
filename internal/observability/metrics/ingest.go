package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics contains Prometheus metrics for ingestion runs
type IngestMetrics struct {
	registry *prometheus.Registry

	// Run metrics
	runsTotal          *prometheus.CounterVec
	runDurationSeconds *prometheus.HistogramVec
	runsInProgress     prometheus.Gauge

	// Chunk metrics
	chunksTotal *prometheus.CounterVec

	// Upstream call metrics
	fetchDurationSeconds    prometheus.Histogram
	classifyDurationSeconds prometheus.Histogram
	fetchedBytesTotal       prometheus.Counter

	// Resolution metrics
	candidatesTotal *prometheus.CounterVec

	// Reconciliation metrics
	reconcileRemovedTotal *prometheus.CounterVec
}

// NewIngestMetrics creates and registers new ingestion metrics
func NewIngestMetrics(registry *prometheus.Registry) (*IngestMetrics, error) {
	m := &IngestMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *IngestMetrics) initMetrics() {
	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pendant_runs_total",
			Help: "Total number of finalized processing runs",
		},
		[]string{"trigger", "status"},
	)

	m.runDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pendant_run_duration_seconds",
			Help:    "Wall time of processing runs",
			Buckets: prometheus.ExponentialBuckets(BucketStart1s, BucketFactor2, BucketCount15), // 1s to ~9h
		},
		[]string{"trigger"},
	)

	m.runsInProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pendant_runs_in_progress",
		Help: "Number of processing runs currently executing",
	})

	m.chunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pendant_chunks_total",
			Help: "Total number of planned chunks by outcome",
		},
		[]string{"outcome"}, // skipped, not_found, transient, failed, processed
	)

	m.fetchDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pendant_fetch_duration_seconds",
		Help:    "Time taken to download one audio window",
		Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount12), // 100ms to ~200s
	})

	m.classifyDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pendant_classify_duration_seconds",
		Help:    "Time taken to classify one audio window",
		Buckets: prometheus.ExponentialBuckets(BucketStart100ms, BucketFactor2, BucketCount12),
	})

	m.fetchedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pendant_fetched_bytes_total",
		Help: "Total bytes of raw audio downloaded",
	})

	m.candidatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pendant_candidates_total",
			Help: "Total number of resolved candidates by outcome",
		},
		[]string{"outcome", "reason"},
	)

	m.reconcileRemovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pendant_reconcile_removed_total",
			Help: "Total number of objects removed by reconciliation",
		},
		[]string{"kind"}, // clip, raw
	)
}

// Describe implements the Collector interface
func (m *IngestMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.runsTotal.Describe(ch)
	m.runDurationSeconds.Describe(ch)
	m.runsInProgress.Describe(ch)
	m.chunksTotal.Describe(ch)
	m.fetchDurationSeconds.Describe(ch)
	m.classifyDurationSeconds.Describe(ch)
	m.fetchedBytesTotal.Describe(ch)
	m.candidatesTotal.Describe(ch)
	m.reconcileRemovedTotal.Describe(ch)
}

// Collect implements the Collector interface
func (m *IngestMetrics) Collect(ch chan<- prometheus.Metric) {
	m.runsTotal.Collect(ch)
	m.runDurationSeconds.Collect(ch)
	m.runsInProgress.Collect(ch)
	m.chunksTotal.Collect(ch)
	m.fetchDurationSeconds.Collect(ch)
	m.classifyDurationSeconds.Collect(ch)
	m.fetchedBytesTotal.Collect(ch)
	m.candidatesTotal.Collect(ch)
	m.reconcileRemovedTotal.Collect(ch)
}

// RunStarted increments the in-progress gauge.
func (m *IngestMetrics) RunStarted() {
	m.runsInProgress.Inc()
}

// RunFinished records a finalized run.
func (m *IngestMetrics) RunFinished(trigger, status string, duration time.Duration) {
	m.runsInProgress.Dec()
	m.runsTotal.WithLabelValues(trigger, status).Inc()
	m.runDurationSeconds.WithLabelValues(trigger).Observe(duration.Seconds())
}

// RecordChunk counts a chunk outcome.
func (m *IngestMetrics) RecordChunk(outcome string) {
	m.chunksTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records one successful download.
func (m *IngestMetrics) ObserveFetch(duration time.Duration, bytes int) {
	m.fetchDurationSeconds.Observe(duration.Seconds())
	m.fetchedBytesTotal.Add(float64(bytes))
}

// ObserveClassify records one classifier call.
func (m *IngestMetrics) ObserveClassify(duration time.Duration) {
	m.classifyDurationSeconds.Observe(duration.Seconds())
}

// RecordCandidate counts a candidate resolution.
func (m *IngestMetrics) RecordCandidate(outcome, reason string) {
	m.candidatesTotal.WithLabelValues(outcome, reason).Inc()
}

// RecordReconcile counts removed objects.
func (m *IngestMetrics) RecordReconcile(clips, raw int) {
	m.reconcileRemovedTotal.WithLabelValues("clip").Add(float64(clips))
	m.reconcileRemovedTotal.WithLabelValues("raw").Add(float64(raw))
}
