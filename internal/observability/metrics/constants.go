// Package metrics provides Prometheus collectors for the ingestion pipeline.
package metrics

import "time"

// Chunk outcome label values.
const (
	ChunkSkipped   = "skipped"
	ChunkNotFound  = "not_found"
	ChunkTransient = "transient"
	ChunkFailed    = "failed"
	ChunkProcessed = "processed"
)

// Histogram bucket configuration.
const (
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~40s range).
	BucketStart10ms = 0.01
	// BucketStart100ms is the starting bucket for 100ms histograms (100ms to ~100s range).
	BucketStart100ms = 0.1
	// BucketStart1s is the starting bucket for 1s histograms (1s to ~9 hours range).
	BucketStart1s = 1.0
	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2
	// BucketCount10 defines 10 exponential buckets.
	BucketCount10 = 10
	// BucketCount12 defines 12 exponential buckets.
	BucketCount12 = 12
	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
)

// ShutdownTimeout bounds the graceful shutdown of the metrics server.
const ShutdownTimeout = 5 * time.Second
