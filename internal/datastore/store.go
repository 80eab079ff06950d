// Package datastore persists audio windows, detections, processing runs and
// per-user state through GORM on SQLite or MySQL.
package datastore

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/tphakala/pendant-go/internal/conf"
	"github.com/tphakala/pendant-go/internal/datastore/entities"
	"github.com/tphakala/pendant-go/internal/logger"
	"gorm.io/gorm"
)

// Store bundles the repositories over one database connection.
type Store struct {
	DB         *gorm.DB
	Windows    WindowRepository
	Detections DetectionRepository
	Runs       RunRepository
	Users      UserStateRepository
}

// Open connects to the database selected by settings.Database.Type and
// migrates the schema.
func Open(settings *conf.Settings, log logger.Logger) (*Store, error) {
	dbLog := log.Module("datastore")
	gormConfig := &gorm.Config{
		Logger:         logger.NewGormLoggerAdapter(dbLog, settings.Database.SlowQuery),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	var (
		db  *gorm.DB
		err error
	)
	switch settings.Database.Type {
	case "mysql":
		db, err = openMySQL(settings, gormConfig)
	case "sqlite":
		dir, fileName := filepath.Split(settings.Database.SQLite.Path)
		if dir != "" {
			if dir, err = conf.GetBasePath(dir); err != nil {
				return nil, err
			}
		}
		db, err = openSQLite(filepath.Join(dir, fileName), gormConfig)
	default:
		return nil, validationError("unsupported database type", "database.type", settings.Database.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(entities.All()...); err != nil {
		return nil, dbError(err, "auto_migrate", "database_type", settings.Database.Type)
	}
	dbLog.Info("database ready", logger.String("type", settings.Database.Type))
	return New(db), nil
}

// New wraps an existing connection. The schema must already be migrated.
func New(db *gorm.DB) *Store {
	return &Store{
		DB:         db,
		Windows:    NewWindowRepository(db),
		Detections: NewDetectionRepository(db),
		Runs:       NewRunRepository(db),
		Users:      NewUserStateRepository(db),
	}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve generic DB object: %w", err)
	}
	return sqlDB.Close()
}

// utc normalizes timestamps to the stored representation.
func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
