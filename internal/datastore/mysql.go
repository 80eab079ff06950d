package datastore

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/tphakala/pendant-go/internal/conf"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const mysqlConnectTimeout = 10 * time.Second

// openMySQL builds the DSN with mysql.Config for proper credential escaping.
// Times are read and written in UTC. ClientFoundRows makes RowsAffected
// count matched rows, as SQLite does.
func openMySQL(settings *conf.Settings, cfg *gorm.Config) (*gorm.DB, error) {
	m := settings.Database.MySQL
	dsnConfig := mysql.Config{
		User:   m.Username,
		Passwd: m.Password,
		Net:    "tcp",
		Addr:   fmt.Sprintf("%s:%s", m.Host, m.Port),
		DBName: m.Database,
		Params: map[string]string{
			"charset": "utf8mb4",
		},
		Timeout:              mysqlConnectTimeout,
		ParseTime:            true,
		Loc:                  time.UTC,
		AllowNativePasswords: true,
		ClientFoundRows:      true,
	}

	db, err := gorm.Open(gormmysql.Open(dsnConfig.FormatDSN()), cfg)
	if err != nil {
		return nil, dbError(err, "open_mysql", "host", m.Host, "database", m.Database)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, dbError(err, "open_mysql")
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}
