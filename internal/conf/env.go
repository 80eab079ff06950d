// env.go - Environment variable configuration and validation for pendant-go
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "PENDANT_DEBUG", validateEnvBool},

		// Upstream services
		{"pendant.apikey", "PENDANT_API_KEY", nil},
		{"pendant.baseurl", "PENDANT_BASE_URL", validateEnvURL},
		{"classifier.url", "PENDANT_CLASSIFIER_URL", validateEnvURL},
		{"classifier.threshold", "PENDANT_CLASSIFIER_THRESHOLD", validateEnvProbability},

		// Ingestion policy
		{"ingest.chunksize", "PENDANT_CHUNK_SIZE", validateEnvDuration},
		{"ingest.dedupwindow", "PENDANT_DEDUP_WINDOW", validateEnvDuration},
		{"ingest.clippadding", "PENDANT_CLIP_PADDING", validateEnvDuration},

		// Storage and secrets
		{"database.type", "PENDANT_DATABASE_TYPE", nil},
		{"database.sqlite.path", "PENDANT_SQLITE_PATH", nil},
		{"database.mysql.password", "PENDANT_MYSQL_PASSWORD", nil},
		{"storage.local.path", "PENDANT_STORAGE_PATH", nil},
		{"storage.minio.accesskey", "PENDANT_MINIO_ACCESS_KEY", nil},
		{"storage.minio.secretkey", "PENDANT_MINIO_SECRET_KEY", nil},
		{"lock.redis.password", "PENDANT_REDIS_PASSWORD", nil},
		{"mqtt.password", "PENDANT_MQTT_PASSWORD", nil},
		{"sentry.dsn", "PENDANT_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f", value)
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

func validateEnvProbability(value string) error {
	p, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid number: %w", err)
	}
	if p < 0 || p > 1 {
		return fmt.Errorf("must be between 0 and 1, got %g", p)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d < 0 {
		return fmt.Errorf("duration must not be negative, got %s", d)
	}
	return nil
}
