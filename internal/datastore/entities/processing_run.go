package entities

import (
	"time"

	"gorm.io/datatypes"
)

// TriggerType identifies what started a run.
type TriggerType string

const (
	TriggerScheduled       TriggerType = "scheduled"
	TriggerManualToday     TriggerType = "manual-today"
	TriggerManualReprocess TriggerType = "manual-reprocess"
)

// RunStatus is the lifecycle state of a ProcessingRun.
type RunStatus string

const (
	RunStatusRunning             RunStatus = "running"
	RunStatusCompleted           RunStatus = "completed"
	RunStatusCompletedWithErrors RunStatus = "completed-with-errors"
	RunStatusFailed              RunStatus = "failed"
)

// StepEntry is one line of a run's step log.
type StepEntry struct {
	Step     string         `json:"step"`
	Status   string         `json:"status"`
	At       time.Time      `json:"at"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// APICall is one upstream request made during a run.
type APICall struct {
	Endpoint   string    `json:"endpoint"`
	StatusCode int       `json:"status_code"`
	DurationMs int64     `json:"duration_ms"`
	Bytes      int64     `json:"bytes"`
	At         time.Time `json:"at"`
}

// ProcessingRun is the ledger of one ingestion run. It is inserted with
// status running and finalized exactly once.
type ProcessingRun struct {
	ID           string      `gorm:"primaryKey;type:varchar(36)"`
	UserID       string      `gorm:"type:varchar(100);not null;index:idx_run_user_date,priority:1"`
	CalendarDate string      `gorm:"type:varchar(10);not null;index:idx_run_user_date,priority:2"`
	TriggerType  TriggerType `gorm:"type:varchar(20);not null"`
	StartedAt    time.Time   `gorm:"not null;index"`

	DurationSeconds         float64
	WindowsFetched          int
	EventsFound             int
	DuplicatesByWindow      int
	DuplicatesByPath        int
	DuplicatesByMissingFile int
	DuplicatesByRace        int

	StepLog    datatypes.JSONSlice[StepEntry]
	APICallLog datatypes.JSONSlice[APICall]

	Status       RunStatus `gorm:"type:varchar(24);not null;index"`
	ErrorMessage string    `gorm:"type:text"`
	FinalizedAt  *time.Time
}

// TableName returns the table name for GORM.
func (ProcessingRun) TableName() string {
	return "processing_runs"
}

// DuplicatesSkipped returns the total of all skipped candidates.
func (r *ProcessingRun) DuplicatesSkipped() int {
	return r.DuplicatesByWindow + r.DuplicatesByPath + r.DuplicatesByMissingFile + r.DuplicatesByRace
}
