package conf

import (
	"fmt"

	"github.com/tphakala/coughdetect/internal/secrets"
)

// resolveSecrets replaces credential fields with the content of their secret
// file, or expands ${VAR} references in them.
func resolveSecrets(s *Settings) error {
	fields := []struct {
		name  string
		file  string
		value *string
	}{
		{"output.mysql.password", s.Output.MySQL.PasswordFile, &s.Output.MySQL.Password},
		{"enrichment.weather.apikey", s.Enrichment.Weather.APIKeyFile, &s.Enrichment.Weather.APIKey},
		{"mqtt.password", s.MQTT.PasswordFile, &s.MQTT.Password},
		{"sentry.dsn", "", &s.Sentry.DSN},
	}

	for _, f := range fields {
		resolved, err := secrets.Resolve(f.file, *f.value)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.value = resolved
	}
	return nil
}
