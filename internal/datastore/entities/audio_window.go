package entities

import "time"

// AudioWindow records one attempted fetch of a user's audio.
// Raw audio at StoragePath is transient; only the row outlives the chunk.
type AudioWindow struct {
	ID             uint      `gorm:"primaryKey"`
	UserID         string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_audio_window_range,priority:1;index:idx_audio_window_processed,priority:1"`
	StartUTC       time.Time `gorm:"column:start_utc;not null;uniqueIndex:idx_audio_window_range,priority:2"`
	EndUTC         time.Time `gorm:"column:end_utc;not null;uniqueIndex:idx_audio_window_range,priority:3"`
	StoragePath    string    `gorm:"type:varchar(500)"`
	Downloaded     bool      `gorm:"not null;default:false"`
	FullyProcessed bool      `gorm:"not null;default:false;index:idx_audio_window_processed,priority:2"`
	RunID          string    `gorm:"type:varchar(36);index"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (AudioWindow) TableName() string {
	return "audio_windows"
}

// Overlaps reports whether the window shares any instant with [start,end).
func (w *AudioWindow) Overlaps(start, end time.Time) bool {
	return start.Before(w.EndUTC) && end.After(w.StartUTC)
}
