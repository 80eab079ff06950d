// Package entities defines the GORM entity models for pendant-go.
//
// # Core Entities
//
//   - AudioWindow: one attempted [start,end) fetch for a user
//   - Detection: one persisted audio event with its clip
//   - ProcessingRun: the ledger row of one ingestion run
//   - UserProcessingState: per-user timezone and incremental watermark
//
// All timestamps are stored in UTC with millisecond precision.
package entities
