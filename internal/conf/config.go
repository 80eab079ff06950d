// config.go: settings struct for pendant-go and the functions to load it.
package conf

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tphakala/pendant-go/internal/logger"
)

//go:embed config.yaml
var defaultConfigYAML []byte

// DatabaseSettings selects and configures the relational store.
type DatabaseSettings struct {
	Type      string        // "sqlite" or "mysql"
	SlowQuery time.Duration // queries slower than this are logged as warnings
	SQLite    struct {
		Path string // path to the SQLite database file
	}
	MySQL struct {
		Host     string
		Port     string
		Username string
		Password string
		Database string
	}
}

// PendantSettings configures the pendant audio API client.
type PendantSettings struct {
	BaseURL     string            // API base URL
	Path        string            // audio download endpoint path
	Timeout     time.Duration     // per-request timeout
	RateLimit   float64           // requests per second
	Burst       int               // rate limiter burst
	APIKey      string            // credential used when a user has no entry in Credentials
	Credentials map[string]string // per-user API keys, keyed by lowercase user ID
}

// ClassifierSettings configures the audio event classifier service.
type ClassifierSettings struct {
	URL       string
	Path      string
	Timeout   time.Duration
	Threshold float64  // minimum probability for a candidate
	Include   []string // if set, only these class names are kept
	Exclude   []string // class names that are always dropped
}

// IngestSettings holds the policy knobs of the chunk loop.
type IngestSettings struct {
	ChunkSize         time.Duration // length of one fetched window
	FetchOverlap      time.Duration // fetch starts this much before the chunk start
	DedupWindow       time.Duration // same-class detections closer than this are duplicates
	ClipPadding       time.Duration // audio kept on each side of a detection
	SettleDelay       time.Duration // empty chunks newer than this are retried later
	StopOnError       bool          // abort the run on the first failed chunk
	ReconcileAfterRun bool          // run orphan reconciliation after every run
	UserParallelism   int           // users processed concurrently by scheduled runs
}

// StorageSettings selects where raw audio and clips are kept.
type StorageSettings struct {
	Type  string // "local" or "minio"
	Local struct {
		Path string // root directory for user prefixes
	}
	MinIO struct {
		Endpoint  string
		AccessKey string
		SecretKey string
		Bucket    string
		UseSSL    bool
		Region    string
	}
}

// ReconcileSettings configures orphan clip reconciliation.
type ReconcileSettings struct {
	MinAge       time.Duration // files younger than this are never removed
	MaxDeletions int           // deletions per pass, 0 for unlimited
}

// LockSettings configures the per-user run lock.
type LockSettings struct {
	Type  string // "memory" or "redis"
	Redis struct {
		Addr     string
		Password string
		DB       int
		TTL      time.Duration // lock expiry for crashed holders
	}
}

// SchedulerSettings configures the daemon mode.
type SchedulerSettings struct {
	Enabled             bool
	Hour                int           // user-local hour of the daily run
	Minute              int           // user-local minute of the daily run
	IncrementalInterval time.Duration // 0 disables periodic incremental runs
}

// MQTTSettings configures detection publishing.
type MQTTSettings struct {
	Enabled  bool
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	Retain   bool
}

// NotificationSettings configures run notifications through shoutrrr URLs.
type NotificationSettings struct {
	Enabled bool
	URLs    []string
	Timeout time.Duration
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled     bool
	DSN         string
	Environment string
}

// MetricsSettings configures the Prometheus endpoint served by the daemon.
type MetricsSettings struct {
	Enabled bool
	Listen  string
}

// Settings contains all configuration options for pendant-go.
type Settings struct {
	Debug bool

	Logging      logger.LoggingConfig
	Database     DatabaseSettings
	Pendant      PendantSettings
	Classifier   ClassifierSettings
	Ingest       IngestSettings
	Storage      StorageSettings
	Reconcile    ReconcileSettings
	Lock         LockSettings
	Scheduler    SchedulerSettings
	MQTT         MQTTSettings
	Notification NotificationSettings
	Sentry       SentrySettings
	Metrics      MetricsSettings

	// ConfigFile is the file the settings were read from, runtime value
	ConfigFile string `yaml:"-" mapstructure:"-"`
}

// Load reads configuration from configPath, or from the default search paths
// when configPath is empty. A missing default config is created from the
// embedded template. Environment variables override file values.
func Load(configPath string) (*Settings, error) {
	v := viper.New()
	if err := initViper(v, configPath); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	settings.ConfigFile = v.ConfigFileUsed()
	normalizeSettings(settings)

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

func initViper(v *viper.Viper, configPath string) error {
	v.SetConfigType("yaml")
	setDefaultConfig(v)

	if err := bindEnvVars(v); err != nil {
		return err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("fatal error reading config file %s: %w", configPath, err)
		}
		return nil
	}

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	v.SetConfigName("config")
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	err = v.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(v, configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded template to dir and reads it back.
func createDefaultConfig(v *viper.Viper, dir string) error {
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, defaultConfigYAML, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}
	fmt.Println("Created default config file at:", configPath)
	v.SetConfigFile(configPath)
	return v.ReadInConfig()
}

// normalizeSettings lowercases enum-like values and credential keys.
func normalizeSettings(s *Settings) {
	s.Database.Type = strings.ToLower(strings.TrimSpace(s.Database.Type))
	s.Storage.Type = strings.ToLower(strings.TrimSpace(s.Storage.Type))
	s.Lock.Type = strings.ToLower(strings.TrimSpace(s.Lock.Type))
	s.Pendant.BaseURL = strings.TrimRight(s.Pendant.BaseURL, "/")
	s.Classifier.URL = strings.TrimRight(s.Classifier.URL, "/")

	creds := make(map[string]string, len(s.Pendant.Credentials))
	for user, key := range s.Pendant.Credentials {
		creds[strings.ToLower(user)] = key
	}
	s.Pendant.Credentials = creds

	if s.Debug && s.Logging.DefaultLevel != string(logger.LogLevelTrace) {
		s.Logging.DefaultLevel = string(logger.LogLevelDebug)
	}
}

// Credential returns the pendant API key for userID.
func (s *Settings) Credential(userID string) (string, bool) {
	if key, ok := s.Pendant.Credentials[strings.ToLower(userID)]; ok && key != "" {
		return key, true
	}
	if s.Pendant.APIKey != "" {
		return s.Pendant.APIKey, true
	}
	return "", false
}
