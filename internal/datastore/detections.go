package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"gorm.io/gorm"
)

// DetectionRepository provides access to the detections table.
type DetectionRepository interface {
	// Create inserts a detection. Unique violations on (user, timestamp) or
	// clip path return ErrDuplicateKey.
	Create(ctx context.Context, d *entities.Detection) error

	// FindNear returns the closest detection of the same user and class
	// within window of ts. Returns ErrDetectionNotFound if none.
	FindNear(ctx context.Context, userID string, classID int, ts time.Time, window time.Duration) (*entities.Detection, error)

	// ExistsByClipPath reports whether any detection references the clip.
	ExistsByClipPath(ctx context.Context, clipPath string) (bool, error)

	// ClipPaths returns the set of clip paths referenced by the user's detections.
	ClipPaths(ctx context.Context, userID string) (map[string]struct{}, error)

	// ListInRange returns the user's detections with start <= ts < end.
	ListInRange(ctx context.Context, userID string, start, end time.Time) ([]entities.Detection, error)

	// GetByID returns ErrDetectionNotFound if the detection does not exist.
	GetByID(ctx context.Context, id uint) (*entities.Detection, error)

	// UpdateNotes replaces the free-text notes of a detection.
	UpdateNotes(ctx context.Context, id uint, notes string) error

	// Delete removes a detection by ID.
	Delete(ctx context.Context, id uint) error
}

// detectionRepository implements DetectionRepository.
type detectionRepository struct {
	db *gorm.DB
}

// NewDetectionRepository creates a new DetectionRepository.
func NewDetectionRepository(db *gorm.DB) DetectionRepository {
	return &detectionRepository{db: db}
}

func (r *detectionRepository) Create(ctx context.Context, d *entities.Detection) error {
	if d.ClipStoragePath == "" {
		return validationError("detection requires a clip path", "clip_storage_path", "")
	}
	d.TimestampUTC = utc(d.TimestampUTC)

	err := r.db.WithContext(ctx).Create(d).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateKey
	}
	if err != nil {
		return dbError(err, "create_detection", "user_id", d.UserID, "clip", d.ClipStoragePath)
	}
	return nil
}

func (r *detectionRepository) FindNear(ctx context.Context, userID string, classID int, ts time.Time, window time.Duration) (*entities.Detection, error) {
	ts = utc(ts)
	var candidates []entities.Detection
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND class_id = ?", userID, classID).
		Where("timestamp_utc >= ? AND timestamp_utc <= ?", ts.Add(-window), ts.Add(window)).
		Find(&candidates).Error
	if err != nil {
		return nil, dbError(err, "find_near_detection", "user_id", userID)
	}
	if len(candidates) == 0 {
		return nil, ErrDetectionNotFound
	}

	closest := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		if absDuration(candidates[i].TimestampUTC.Sub(ts)) < absDuration(closest.TimestampUTC.Sub(ts)) {
			closest = &candidates[i]
		}
	}
	return closest, nil
}

func (r *detectionRepository) ExistsByClipPath(ctx context.Context, clipPath string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.Detection{}).
		Where("clip_storage_path = ?", clipPath).
		Count(&count).Error
	if err != nil {
		return false, dbError(err, "exists_by_clip_path", "clip", clipPath)
	}
	return count > 0, nil
}

func (r *detectionRepository) ClipPaths(ctx context.Context, userID string) (map[string]struct{}, error) {
	var paths []string
	err := r.db.WithContext(ctx).Model(&entities.Detection{}).
		Where("user_id = ?", userID).
		Pluck("clip_storage_path", &paths).Error
	if err != nil {
		return nil, dbError(err, "list_clip_paths", "user_id", userID)
	}
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set, nil
}

func (r *detectionRepository) ListInRange(ctx context.Context, userID string, start, end time.Time) ([]entities.Detection, error) {
	var detections []entities.Detection
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND timestamp_utc >= ? AND timestamp_utc < ?", userID, utc(start), utc(end)).
		Order("timestamp_utc ASC").
		Find(&detections).Error
	if err != nil {
		return nil, dbError(err, "list_detections", "user_id", userID)
	}
	return detections, nil
}

func (r *detectionRepository) GetByID(ctx context.Context, id uint) (*entities.Detection, error) {
	var d entities.Detection
	err := r.db.WithContext(ctx).First(&d, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDetectionNotFound
	}
	if err != nil {
		return nil, dbError(err, "get_detection", "detection_id", id)
	}
	return &d, nil
}

func (r *detectionRepository) UpdateNotes(ctx context.Context, id uint, notes string) error {
	result := r.db.WithContext(ctx).Model(&entities.Detection{}).
		Where("id = ?", id).
		Update("notes", notes)
	if result.Error != nil {
		return dbError(result.Error, "update_notes", "detection_id", id)
	}
	if result.RowsAffected == 0 {
		return ErrDetectionNotFound
	}
	return nil
}

func (r *detectionRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&entities.Detection{}, id)
	if result.Error != nil {
		return dbError(result.Error, "delete_detection", "detection_id", id)
	}
	if result.RowsAffected == 0 {
		return ErrDetectionNotFound
	}
	return nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
