package entities

import "time"

// Detection is one persisted audio event. Rows are immutable except for
// Notes; they are removed only by explicit deletion or a reprocess.
type Detection struct {
	ID     uint   `gorm:"primaryKey"`
	UserID string `gorm:"type:varchar(100);not null;uniqueIndex:idx_detection_user_ts,priority:1;index:idx_detection_user_class,priority:1"`

	TimestampUTC time.Time `gorm:"column:timestamp_utc;not null;uniqueIndex:idx_detection_user_ts,priority:2;index:idx_detection_user_class,priority:3"`
	ClassID      int       `gorm:"not null;index:idx_detection_user_class,priority:2"`
	ClassName    string    `gorm:"type:varchar(200);not null"`
	Probability  float64   `gorm:"not null"`

	// ClipStoragePath is the store key of the extracted clip; it must exist
	// when the row is inserted.
	ClipStoragePath string `gorm:"type:varchar(500);not null;uniqueIndex:idx_detection_clip"`

	Notes     string    `gorm:"type:text"`
	RunID     string    `gorm:"type:varchar(36);index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (Detection) TableName() string {
	return "detections"
}
