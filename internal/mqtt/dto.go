package mqtt

import (
	"time"

	"github.com/tphakala/pendant-go/internal/datastore/entities"
)

// DetectionDTO is the payload published for one persisted detection.
//
// Field names are part of the MQTT contract consumed by home automation
// rules; add fields, do not rename them.
type DetectionDTO struct {
	DetectionID uint      `json:"detectionId"`
	UserID      string    `json:"userId"`
	Timestamp   time.Time `json:"timestamp"`
	Date        string    `json:"date"` // "2024-01-15", UTC
	Time        string    `json:"time"` // "14:30:00", UTC
	ClassID     int       `json:"classId"`
	ClassName   string    `json:"className"`
	Probability float64   `json:"probability"`
	ClipPath    string    `json:"clipPath"`
	RunID       string    `json:"runId,omitempty"`
}

// NewDetectionDTO converts a detection row.
func NewDetectionDTO(d *entities.Detection) DetectionDTO {
	ts := d.TimestampUTC.UTC()
	return DetectionDTO{
		DetectionID: d.ID,
		UserID:      d.UserID,
		Timestamp:   ts,
		Date:        ts.Format(time.DateOnly),
		Time:        ts.Format(time.TimeOnly),
		ClassID:     d.ClassID,
		ClassName:   d.ClassName,
		Probability: d.Probability,
		ClipPath:    d.ClipStoragePath,
		RunID:       d.RunID,
	}
}
