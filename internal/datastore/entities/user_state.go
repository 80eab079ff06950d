package entities

import "time"

// UserProcessingState holds a user's timezone and incremental watermark.
// LatestProcessedUTC only moves forward except during a reprocess.
type UserProcessingState struct {
	UserID             string `gorm:"primaryKey;type:varchar(100)"`
	Timezone           string `gorm:"type:varchar(64);not null"`
	LatestProcessedUTC *time.Time
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (UserProcessingState) TableName() string {
	return "user_processing_states"
}

// All returns every entity for AutoMigrate.
func All() []any {
	return []any{
		&AudioWindow{},
		&Detection{},
		&ProcessingRun{},
		&UserProcessingState{},
	}
}
