// mqtt.go: Package mqtt publishes persisted detections to an MQTT broker.
package mqtt

import (
	"time"

	"github.com/tphakala/pendant-go/internal/conf"
)

// Config holds the configuration for the MQTT publisher.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // topic prefix; the user ID is appended
	Retain   bool   // true to retain messages at the broker
	// Connection timeouts
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		ClientID:          "pendant-go",
		Topic:             "pendant/detections",
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFromSettings overlays MQTT settings on DefaultConfig.
func ConfigFromSettings(settings *conf.MQTTSettings) Config {
	cfg := DefaultConfig()
	cfg.Broker = settings.Broker
	cfg.Username = settings.Username
	cfg.Password = settings.Password
	cfg.Retain = settings.Retain
	if settings.ClientID != "" {
		cfg.ClientID = settings.ClientID
	}
	if settings.Topic != "" {
		cfg.Topic = settings.Topic
	}
	return cfg
}
