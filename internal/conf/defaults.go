// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
	"github.com/tphakala/pendant-go/internal/logger"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.console.json", false)
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.max_size", logger.DefaultMaxSize)
	v.SetDefault("logging.file_output.max_age", logger.DefaultMaxAge)
	v.SetDefault("logging.file_output.max_rotated_files", logger.DefaultMaxRotatedFiles)
	v.SetDefault("logging.file_output.compress", false)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.slowquery", 200*time.Millisecond)
	v.SetDefault("database.sqlite.path", "pendant.db")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", "3306")
	v.SetDefault("database.mysql.username", "")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "pendant")

	v.SetDefault("pendant.baseurl", "https://api.limitless.ai")
	v.SetDefault("pendant.path", "/v1/download-audio")
	v.SetDefault("pendant.timeout", 2*time.Minute)
	v.SetDefault("pendant.ratelimit", 1.0)
	v.SetDefault("pendant.burst", 1)
	v.SetDefault("pendant.apikey", "")
	v.SetDefault("pendant.credentials", map[string]string{})

	v.SetDefault("classifier.url", "http://localhost:8080")
	v.SetDefault("classifier.path", "/classify")
	v.SetDefault("classifier.timeout", 5*time.Minute)
	v.SetDefault("classifier.threshold", 0.5)
	v.SetDefault("classifier.include", []string{})
	v.SetDefault("classifier.exclude", []string{})

	v.SetDefault("ingest.chunksize", 2*time.Hour)
	v.SetDefault("ingest.fetchoverlap", 5*time.Second)
	v.SetDefault("ingest.dedupwindow", 5*time.Second)
	v.SetDefault("ingest.clippadding", 2*time.Second)
	v.SetDefault("ingest.settledelay", time.Hour)
	v.SetDefault("ingest.stoponerror", false)
	v.SetDefault("ingest.reconcileafterrun", true)
	v.SetDefault("ingest.userparallelism", 1)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local.path", "data")
	v.SetDefault("storage.minio.endpoint", "")
	v.SetDefault("storage.minio.accesskey", "")
	v.SetDefault("storage.minio.secretkey", "")
	v.SetDefault("storage.minio.bucket", "pendant")
	v.SetDefault("storage.minio.usessl", true)
	v.SetDefault("storage.minio.region", "")

	v.SetDefault("reconcile.minage", 10*time.Minute)
	v.SetDefault("reconcile.maxdeletions", 0)

	v.SetDefault("lock.type", "memory")
	v.SetDefault("lock.redis.addr", "localhost:6379")
	v.SetDefault("lock.redis.password", "")
	v.SetDefault("lock.redis.db", 0)
	v.SetDefault("lock.redis.ttl", 6*time.Hour)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.hour", 3)
	v.SetDefault("scheduler.minute", 0)
	v.SetDefault("scheduler.incrementalinterval", time.Duration(0))

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "pendant/detections")
	v.SetDefault("mqtt.clientid", "pendant-go")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("notification.enabled", false)
	v.SetDefault("notification.urls", []string{})
	v.SetDefault("notification.timeout", 10*time.Second)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":9090")
}
