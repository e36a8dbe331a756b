// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"slices"
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

	validators := []func(*Settings) error{
		validateClassifierSettings,
		validateDetectionSettings,
		validateStorageSettings,
		validateOutputSettings,
		validateEnrichmentSettings,
		validateMQTTSettings,
		validateListenSettings,
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateClassifierSettings(s *Settings) error {
	if !slices.Contains([]string{"auto", "rules"}, strings.ToLower(s.Classifier.Mode)) {
		return fmt.Errorf("classifier mode must be auto or rules, got %q", s.Classifier.Mode)
	}
	if s.Classifier.Threads < 0 {
		return fmt.Errorf("classifier threads must be >= 0")
	}
	return nil
}

func validateDetectionSettings(s *Settings) error {
	d := s.Detection
	switch {
	case d.Threshold < 0 || d.Threshold > 1:
		return fmt.Errorf("detection threshold must be between 0 and 1, got %v", d.Threshold)
	case d.Interval < 10*time.Millisecond:
		return fmt.Errorf("detection interval must be at least 10ms, got %s", d.Interval)
	case d.MaxEventDuration <= 0:
		return fmt.Errorf("detection max event duration must be positive")
	case d.MinEventDuration < 0:
		return fmt.Errorf("detection min event duration must not be negative")
	case d.MinEventDuration >= d.MaxEventDuration:
		return fmt.Errorf("detection min event duration %s must be shorter than max %s", d.MinEventDuration, d.MaxEventDuration)
	case d.QueueSize < 1:
		return fmt.Errorf("detection queue size must be at least 1")
	}
	return nil
}

func validateStorageSettings(s *Settings) error {
	n, err := ParseSize(s.Storage.Quota)
	if err != nil {
		return fmt.Errorf("invalid storage quota: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("storage quota must be positive")
	}
	return nil
}

func validateOutputSettings(s *Settings) error {
	if s.Output.SQLite.Enabled && s.Output.MySQL.Enabled {
		return fmt.Errorf("only one of output.sqlite and output.mysql can be enabled")
	}
	if s.Output.SQLite.Enabled && s.Output.SQLite.Path == "" {
		return fmt.Errorf("output.sqlite.path is required")
	}
	if s.Output.MySQL.Enabled && (s.Output.MySQL.Host == "" || s.Output.MySQL.Database == "") {
		return fmt.Errorf("output.mysql requires host and database")
	}
	return nil
}

func validateEnrichmentSettings(s *Settings) error {
	loc := s.Enrichment.Location
	if loc.Latitude < -90 || loc.Latitude > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got %v", loc.Latitude)
	}
	if loc.Longitude < -180 || loc.Longitude > 180 {
		return fmt.Errorf("longitude must be between -180 and 180, got %v", loc.Longitude)
	}

	w := s.Enrichment.Weather
	if !w.Enabled {
		return nil
	}
	if w.APIKey == "" {
		return fmt.Errorf("weather enrichment requires an API key")
	}
	if _, err := url.ParseRequestURI(w.Endpoint); err != nil {
		return fmt.Errorf("invalid weather endpoint: %w", err)
	}
	if !slices.Contains([]string{"standard", "metric", "imperial"}, w.Units) {
		return fmt.Errorf("weather units must be standard, metric or imperial, got %q", w.Units)
	}
	if w.Timeout <= 0 {
		return fmt.Errorf("weather timeout must be positive")
	}
	return nil
}

func validateMQTTSettings(s *Settings) error {
	if !s.MQTT.Enabled {
		return nil
	}
	if s.MQTT.Broker == "" {
		return fmt.Errorf("MQTT broker URL is required when MQTT is enabled")
	}
	if _, err := url.Parse(s.MQTT.Broker); err != nil {
		return fmt.Errorf("invalid MQTT broker URL: %w", err)
	}
	if s.MQTT.Topic == "" {
		return fmt.Errorf("MQTT topic is required when MQTT is enabled")
	}
	return nil
}

func validateListenSettings(s *Settings) error {
	if s.Telemetry.Enabled {
		if _, _, err := net.SplitHostPort(s.Telemetry.Listen); err != nil {
			return fmt.Errorf("invalid telemetry listen address %q: %w", s.Telemetry.Listen, err)
		}
	}
	if s.WebServer.Enabled {
		if _, _, err := net.SplitHostPort(s.WebServer.Listen); err != nil {
			return fmt.Errorf("invalid webserver listen address %q: %w", s.WebServer.Listen, err)
		}
	}
	return nil
}
