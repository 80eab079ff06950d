// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) []string{
		validateDatabaseSettings,
		validatePendantSettings,
		validateClassifierSettings,
		validateIngestSettings,
		validateStorageSettings,
		validateLockSettings,
		validateSchedulerSettings,
		validateIntegrationSettings,
	}
	for _, validate := range validators {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateDatabaseSettings(s *Settings) []string {
	var errs []string
	switch s.Database.Type {
	case "sqlite":
		if s.Database.SQLite.Path == "" {
			errs = append(errs, "database.sqlite.path is required")
		}
	case "mysql":
		m := s.Database.MySQL
		if m.Host == "" || m.Database == "" || m.Username == "" {
			errs = append(errs, "database.mysql requires host, database and username")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.type must be sqlite or mysql, got %q", s.Database.Type))
	}
	return errs
}

func validatePendantSettings(s *Settings) []string {
	var errs []string
	if err := validateHTTPURL(s.Pendant.BaseURL); err != nil {
		errs = append(errs, fmt.Sprintf("pendant.baseurl: %v", err))
	}
	if !strings.HasPrefix(s.Pendant.Path, "/") {
		errs = append(errs, "pendant.path must start with /")
	}
	if s.Pendant.RateLimit <= 0 {
		errs = append(errs, "pendant.ratelimit must be greater than 0")
	}
	if s.Pendant.Burst < 1 {
		errs = append(errs, "pendant.burst must be at least 1")
	}
	if s.Pendant.Timeout <= 0 {
		errs = append(errs, "pendant.timeout must be positive")
	}
	return errs
}

func validateClassifierSettings(s *Settings) []string {
	var errs []string
	if err := validateHTTPURL(s.Classifier.URL); err != nil {
		errs = append(errs, fmt.Sprintf("classifier.url: %v", err))
	}
	if s.Classifier.Threshold < 0 || s.Classifier.Threshold > 1 {
		errs = append(errs, fmt.Sprintf("classifier.threshold must be between 0 and 1, got %g", s.Classifier.Threshold))
	}
	if s.Classifier.Timeout <= 0 {
		errs = append(errs, "classifier.timeout must be positive")
	}
	return errs
}

func validateIngestSettings(s *Settings) []string {
	var errs []string
	in := s.Ingest
	if in.ChunkSize < time.Minute {
		errs = append(errs, fmt.Sprintf("ingest.chunksize must be at least 1m, got %s", in.ChunkSize))
	}
	if in.FetchOverlap < 0 || in.FetchOverlap >= in.ChunkSize {
		errs = append(errs, "ingest.fetchoverlap must be >= 0 and shorter than ingest.chunksize")
	}
	if in.DedupWindow < 0 {
		errs = append(errs, "ingest.dedupwindow must not be negative")
	}
	if in.ClipPadding <= 0 {
		errs = append(errs, "ingest.clippadding must be positive")
	}
	if in.SettleDelay < 0 {
		errs = append(errs, "ingest.settledelay must not be negative")
	}
	if in.UserParallelism < 1 {
		errs = append(errs, "ingest.userparallelism must be at least 1")
	}
	if s.Reconcile.MinAge < 0 || s.Reconcile.MaxDeletions < 0 {
		errs = append(errs, "reconcile.minage and reconcile.maxdeletions must not be negative")
	}
	return errs
}

func validateStorageSettings(s *Settings) []string {
	var errs []string
	switch s.Storage.Type {
	case "local":
		if s.Storage.Local.Path == "" {
			errs = append(errs, "storage.local.path is required")
		}
	case "minio":
		if s.Storage.MinIO.Endpoint == "" || s.Storage.MinIO.Bucket == "" {
			errs = append(errs, "storage.minio requires endpoint and bucket")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.type must be local or minio, got %q", s.Storage.Type))
	}
	return errs
}

func validateLockSettings(s *Settings) []string {
	switch s.Lock.Type {
	case "memory":
		return nil
	case "redis":
		if s.Lock.Redis.Addr == "" {
			return []string{"lock.redis.addr is required"}
		}
		if s.Lock.Redis.TTL <= 0 {
			return []string{"lock.redis.ttl must be positive"}
		}
		return nil
	default:
		return []string{fmt.Sprintf("lock.type must be memory or redis, got %q", s.Lock.Type)}
	}
}

func validateSchedulerSettings(s *Settings) []string {
	var errs []string
	if s.Scheduler.Hour < 0 || s.Scheduler.Hour > 23 {
		errs = append(errs, fmt.Sprintf("scheduler.hour must be 0-23, got %d", s.Scheduler.Hour))
	}
	if s.Scheduler.Minute < 0 || s.Scheduler.Minute > 59 {
		errs = append(errs, fmt.Sprintf("scheduler.minute must be 0-59, got %d", s.Scheduler.Minute))
	}
	if s.Scheduler.IncrementalInterval < 0 {
		errs = append(errs, "scheduler.incrementalinterval must not be negative")
	}
	return errs
}

func validateIntegrationSettings(s *Settings) []string {
	var errs []string
	if s.MQTT.Enabled {
		if s.MQTT.Broker == "" {
			errs = append(errs, "mqtt.broker is required when mqtt is enabled")
		}
		if s.MQTT.Topic == "" {
			errs = append(errs, "mqtt.topic is required when mqtt is enabled")
		}
	}
	if s.Notification.Enabled && len(s.Notification.URLs) == 0 {
		errs = append(errs, "notification.urls requires at least one URL when notifications are enabled")
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		errs = append(errs, "sentry.dsn is required when sentry is enabled")
	}
	if s.Metrics.Enabled && s.Metrics.Listen == "" {
		errs = append(errs, "metrics.listen is required when metrics are enabled")
	}
	return errs
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
