package conf

import (
	"maps"

	"gopkg.in/yaml.v3"
)

const maskedValue = "********"

// Dump renders the effective settings as YAML with secrets masked.
func Dump(settings *Settings) ([]byte, error) {
	masked := *settings
	mask := func(s *string) {
		if *s != "" {
			*s = maskedValue
		}
	}
	mask(&masked.Database.MySQL.Password)
	mask(&masked.Pendant.APIKey)
	mask(&masked.Storage.MinIO.SecretKey)
	mask(&masked.Lock.Redis.Password)
	mask(&masked.MQTT.Password)
	mask(&masked.Sentry.DSN)

	masked.Pendant.Credentials = maps.Clone(settings.Pendant.Credentials)
	for user := range masked.Pendant.Credentials {
		masked.Pendant.Credentials[user] = maskedValue
	}
	if len(settings.Notification.URLs) > 0 {
		masked.Notification.URLs = make([]string, len(settings.Notification.URLs))
		for i := range masked.Notification.URLs {
			masked.Notification.URLs[i] = maskedValue
		}
	}

	return yaml.Marshal(&masked)
}
