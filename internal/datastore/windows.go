package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"gorm.io/gorm"
)

// WindowRepository provides access to the audio_windows table.
type WindowRepository interface {
	// IsRangeProcessed reports whether any fully processed window of the user
	// overlaps [start,end).
	IsRangeProcessed(ctx context.Context, userID string, start, end time.Time) (bool, error)

	// GetOrCreate returns the window with exactly this range, creating it if
	// needed. An existing row is reused, never recreated.
	GetOrCreate(ctx context.Context, userID string, start, end time.Time, runID string) (*entities.AudioWindow, error)

	// MarkDownloaded records the raw audio location for the window.
	MarkDownloaded(ctx context.Context, id uint, storagePath string) error

	// MarkProcessed sets FullyProcessed once all candidates are resolved.
	MarkProcessed(ctx context.Context, id uint) error

	// GetByStoragePath returns the window whose raw audio lives at path.
	// Returns ErrWindowNotFound if none.
	GetByStoragePath(ctx context.Context, userID, storagePath string) (*entities.AudioWindow, error)

	// DeleteOverlapping removes every window of the user that overlaps
	// [start,end) and returns the removed rows.
	DeleteOverlapping(ctx context.Context, userID string, start, end time.Time) ([]entities.AudioWindow, error)

	// ListByUser returns the user's windows overlapping [start,end) in start order.
	ListByUser(ctx context.Context, userID string, start, end time.Time) ([]entities.AudioWindow, error)
}

// windowRepository implements WindowRepository.
type windowRepository struct {
	db *gorm.DB
}

// NewWindowRepository creates a new WindowRepository.
func NewWindowRepository(db *gorm.DB) WindowRepository {
	return &windowRepository{db: db}
}

func (r *windowRepository) IsRangeProcessed(ctx context.Context, userID string, start, end time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.AudioWindow{}).
		Where("user_id = ? AND fully_processed = ?", userID, true).
		Where("start_utc < ? AND end_utc > ?", utc(end), utc(start)).
		Count(&count).Error
	if err != nil {
		return false, dbError(err, "is_range_processed", "user_id", userID)
	}
	return count > 0, nil
}

func (r *windowRepository) GetOrCreate(ctx context.Context, userID string, start, end time.Time, runID string) (*entities.AudioWindow, error) {
	start, end = utc(start), utc(end)
	if !end.After(start) {
		return nil, validationError("window end must be after start", "end_utc", end)
	}

	var window entities.AudioWindow
	find := func() error {
		return r.db.WithContext(ctx).
			Where("user_id = ? AND start_utc = ? AND end_utc = ?", userID, start, end).
			First(&window).Error
	}

	err := find()
	if err == nil {
		return &window, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, dbError(err, "get_window", "user_id", userID)
	}

	window = entities.AudioWindow{
		UserID:   userID,
		StartUTC: start,
		EndUTC:   end,
		RunID:    runID,
	}
	if createErr := r.db.WithContext(ctx).Create(&window).Error; createErr != nil {
		// Another process may have created it concurrently.
		if findErr := find(); findErr != nil {
			return nil, dbError(createErr, "create_window", "user_id", userID)
		}
	}
	return &window, nil
}

func (r *windowRepository) MarkDownloaded(ctx context.Context, id uint, storagePath string) error {
	return r.update(ctx, id, "mark_downloaded", map[string]any{
		"downloaded":   true,
		"storage_path": storagePath,
	})
}

func (r *windowRepository) MarkProcessed(ctx context.Context, id uint) error {
	return r.update(ctx, id, "mark_processed", map[string]any{"fully_processed": true})
}

func (r *windowRepository) update(ctx context.Context, id uint, operation string, updates map[string]any) error {
	result := r.db.WithContext(ctx).Model(&entities.AudioWindow{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return dbError(result.Error, operation, "window_id", id)
	}
	if result.RowsAffected == 0 {
		return ErrWindowNotFound
	}
	return nil
}

func (r *windowRepository) GetByStoragePath(ctx context.Context, userID, storagePath string) (*entities.AudioWindow, error) {
	var window entities.AudioWindow
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND storage_path = ?", userID, storagePath).
		First(&window).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWindowNotFound
	}
	if err != nil {
		return nil, dbError(err, "get_window_by_path", "user_id", userID)
	}
	return &window, nil
}

func (r *windowRepository) DeleteOverlapping(ctx context.Context, userID string, start, end time.Time) ([]entities.AudioWindow, error) {
	var removed []entities.AudioWindow
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND start_utc < ? AND end_utc > ?", userID, utc(end), utc(start)).
			Find(&removed).Error; err != nil {
			return err
		}
		if len(removed) == 0 {
			return nil
		}
		ids := make([]uint, len(removed))
		for i := range removed {
			ids[i] = removed[i].ID
		}
		return tx.Delete(&entities.AudioWindow{}, ids).Error
	})
	if err != nil {
		return nil, dbError(err, "delete_overlapping_windows", "user_id", userID)
	}
	return removed, nil
}

func (r *windowRepository) ListByUser(ctx context.Context, userID string, start, end time.Time) ([]entities.AudioWindow, error) {
	var windows []entities.AudioWindow
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND start_utc < ? AND end_utc > ?", userID, utc(end), utc(start)).
		Order("start_utc ASC").
		Find(&windows).Error
	if err != nil {
		return nil, dbError(err, "list_windows", "user_id", userID)
	}
	return windows, nil
}
