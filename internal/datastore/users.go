package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserStateRepository provides access to the user_processing_states table.
type UserStateRepository interface {
	// Get returns ErrUserNotFound if the user is not registered.
	Get(ctx context.Context, userID string) (*entities.UserProcessingState, error)

	// Upsert registers the user or updates the timezone of an existing one.
	// The watermark is left untouched.
	Upsert(ctx context.Context, userID, timezone string) error

	// List returns all registered users ordered by ID.
	List(ctx context.Context) ([]entities.UserProcessingState, error)

	// AdvanceWatermark moves LatestProcessedUTC forward to t. Older values
	// are ignored, so the watermark never moves backwards.
	AdvanceWatermark(ctx context.Context, userID string, t time.Time) error

	// RewindWatermark sets LatestProcessedUTC to min(current, t).
	RewindWatermark(ctx context.Context, userID string, t time.Time) error
}

// userStateRepository implements UserStateRepository.
type userStateRepository struct {
	db *gorm.DB
}

// NewUserStateRepository creates a new UserStateRepository.
func NewUserStateRepository(db *gorm.DB) UserStateRepository {
	return &userStateRepository{db: db}
}

func (r *userStateRepository) Get(ctx context.Context, userID string) (*entities.UserProcessingState, error) {
	var state entities.UserProcessingState
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, dbError(err, "get_user_state", "user_id", userID)
	}
	return &state, nil
}

func (r *userStateRepository) Upsert(ctx context.Context, userID, timezone string) error {
	if userID == "" {
		return validationError("user id must not be empty", "user_id", userID)
	}
	state := entities.UserProcessingState{UserID: userID, Timezone: timezone}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"timezone", "updated_at"}),
	}).Create(&state).Error
	if err != nil {
		return dbError(err, "upsert_user_state", "user_id", userID)
	}
	return nil
}

func (r *userStateRepository) List(ctx context.Context) ([]entities.UserProcessingState, error) {
	var states []entities.UserProcessingState
	if err := r.db.WithContext(ctx).Order("user_id ASC").Find(&states).Error; err != nil {
		return nil, dbError(err, "list_user_states")
	}
	return states, nil
}

func (r *userStateRepository) AdvanceWatermark(ctx context.Context, userID string, t time.Time) error {
	t = utc(t)
	result := r.db.WithContext(ctx).Model(&entities.UserProcessingState{}).
		Where("user_id = ?", userID).
		Where("latest_processed_utc IS NULL OR latest_processed_utc < ?", t).
		Update("latest_processed_utc", t)
	if result.Error != nil {
		return dbError(result.Error, "advance_watermark", "user_id", userID)
	}
	if result.RowsAffected == 0 {
		// Either the watermark is already ahead or the user is unknown.
		_, err := r.Get(ctx, userID)
		return err
	}
	return nil
}

func (r *userStateRepository) RewindWatermark(ctx context.Context, userID string, t time.Time) error {
	t = utc(t)
	result := r.db.WithContext(ctx).Model(&entities.UserProcessingState{}).
		Where("user_id = ? AND latest_processed_utc > ?", userID, t).
		Update("latest_processed_utc", t)
	if result.Error != nil {
		return dbError(result.Error, "rewind_watermark", "user_id", userID)
	}
	return nil
}
