package datastore

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// openSQLite opens the database file with WAL and a busy timeout so the
// daemon and CLI commands can share one file.
func openSQLite(path string, cfg *gorm.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)

	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, dbError(err, "open_sqlite", "path", path)
	}
	return db, nil
}
