package datastore

import (
	"context"
	"errors"

	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"gorm.io/gorm"
)

// RunRepository provides access to the processing_runs table.
type RunRepository interface {
	// Create inserts a run row in the running state.
	Create(ctx context.Context, run *entities.ProcessingRun) error

	// Finalize writes the final counters and status. Only a row still in the
	// running state is updated; otherwise ErrRunAlreadyFinalized is returned.
	Finalize(ctx context.Context, run *entities.ProcessingRun) error

	// HasCompleted reports whether a run for the user, date and trigger
	// finished with status completed or completed-with-errors.
	HasCompleted(ctx context.Context, userID, calendarDate string, trigger entities.TriggerType) (bool, error)

	// GetByID returns ErrRunNotFound if the run does not exist.
	GetByID(ctx context.Context, id string) (*entities.ProcessingRun, error)

	// List returns the most recent runs, newest first. An empty userID lists all users.
	List(ctx context.Context, userID string, limit int) ([]entities.ProcessingRun, error)
}

// runRepository implements RunRepository.
type runRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *gorm.DB) RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) Create(ctx context.Context, run *entities.ProcessingRun) error {
	if run.ID == "" {
		return validationError("run requires an ID", "id", "")
	}
	run.Status = entities.RunStatusRunning
	run.StartedAt = utc(run.StartedAt)
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return dbError(err, "create_run", "run_id", run.ID, "user_id", run.UserID)
	}
	return nil
}

func (r *runRepository) Finalize(ctx context.Context, run *entities.ProcessingRun) error {
	if run.Status == entities.RunStatusRunning {
		return validationError("final status must not be running", "status", run.Status)
	}

	result := r.db.WithContext(ctx).Model(&entities.ProcessingRun{}).
		Where("id = ? AND status = ?", run.ID, entities.RunStatusRunning).
		Select("duration_seconds", "windows_fetched", "events_found",
			"duplicates_by_window", "duplicates_by_path", "duplicates_by_missing_file", "duplicates_by_race",
			"step_log", "api_call_log", "status", "error_message", "finalized_at").
		Updates(run)
	if result.Error != nil {
		return dbError(result.Error, "finalize_run", "run_id", run.ID)
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, run.ID); err != nil {
			return err
		}
		return ErrRunAlreadyFinalized
	}
	return nil
}

func (r *runRepository) HasCompleted(ctx context.Context, userID, calendarDate string, trigger entities.TriggerType) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.ProcessingRun{}).
		Where("user_id = ? AND calendar_date = ? AND trigger_type = ?", userID, calendarDate, trigger).
		Where("status IN ?", []entities.RunStatus{entities.RunStatusCompleted, entities.RunStatusCompletedWithErrors}).
		Count(&count).Error
	if err != nil {
		return false, dbError(err, "has_completed_run", "user_id", userID, "date", calendarDate)
	}
	return count > 0, nil
}

func (r *runRepository) GetByID(ctx context.Context, id string) (*entities.ProcessingRun, error) {
	var run entities.ProcessingRun
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, dbError(err, "get_run", "run_id", id)
	}
	return &run, nil
}

func (r *runRepository) List(ctx context.Context, userID string, limit int) ([]entities.ProcessingRun, error) {
	q := r.db.WithContext(ctx).Order("started_at DESC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var runs []entities.ProcessingRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, dbError(err, "list_runs", "user_id", userID)
	}
	return runs, nil
}
