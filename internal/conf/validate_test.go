package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validSettings returns settings equivalent to the embedded defaults
func validSettings() *Settings {
	return &Settings{
		Audio:      AudioSettings{ClipsPath: "clips"},
		Classifier: ClassifierSettings{Mode: "auto"},
		Detection: DetectionSettings{
			Interval:         DefaultInterval,
			Threshold:        DefaultThreshold,
			MaxEventDuration: DefaultMaxEventDuration,
			MinEventDuration: DefaultMinEventDuration,
			QueueSize:        16,
		},
		Storage: StorageSettings{Quota: DefaultQuota},
		Output:  OutputSettings{SQLite: SQLiteSettings{Enabled: true, Path: "test.db"}},
	}
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"defaults", func(*Settings) {}, ""},
		{"bad mode", func(s *Settings) { s.Classifier.Mode = "magic" }, "classifier mode"},
		{"threshold above one", func(s *Settings) { s.Detection.Threshold = 1.2 }, "threshold"},
		{"min not below max", func(s *Settings) { s.Detection.MinEventDuration = 5 * time.Second }, "min event duration"},
		{"zero min allowed", func(s *Settings) { s.Detection.MinEventDuration = 0 }, ""},
		{"bad quota", func(s *Settings) { s.Storage.Quota = "lots" }, "storage quota"},
		{"two outputs", func(s *Settings) { s.Output.MySQL.Enabled = true }, "only one"},
		{"latitude", func(s *Settings) { s.Enrichment.Location.Latitude = 91 }, "latitude"},
		{"weather without key", func(s *Settings) {
			s.Enrichment.Weather = WeatherSettings{Enabled: true, Endpoint: "https://x", Units: "metric", Timeout: time.Second}
		}, "API key"},
		{"mqtt without topic", func(s *Settings) {
			s.MQTT = MQTTSettings{Enabled: true, Broker: "tcp://localhost:1883"}
		}, "MQTT topic"},
		{"telemetry listen", func(s *Settings) {
			s.Telemetry = TelemetrySettings{Enabled: true, Listen: "8090"}
		}, "telemetry listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1024MB", 1 << 30, false},
		{"10mb", 10 << 20, false},
		{"1.5G", 3 << 29, false},
		{"512K", 512 << 10, false},
		{"4096", 4096, false},
		{" 2 GB ", 2 << 30, false},
		{"", 0, true},
		{"-1MB", 0, true},
		{"big", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestStoreUpdate(t *testing.T) {
	t.Parallel()

	store := NewStore(validSettings())

	before := store.Settings()
	require.NoError(t, store.Update(func(s *Settings) { s.Storage.Quota = "10MB" }))
	assert.Equal(t, int64(10<<20), store.Settings().QuotaBytes())
	assert.Equal(t, DefaultQuota, before.Storage.Quota, "earlier snapshots are not mutated")

	err := store.Update(func(s *Settings) { s.Detection.Threshold = 2 })
	require.Error(t, err)
	assert.Equal(t, "10MB", store.Settings().Storage.Quota, "invalid updates are discarded")
}

func TestDefaultsAreValid(t *testing.T) {
	t.Parallel()

	s := Defaults()
	require.NoError(t, ValidateSettings(s))
	assert.Equal(t, DefaultInterval, s.Detection.Interval)
	assert.Equal(t, DefaultQuota, s.Storage.Quota)
	assert.Equal(t, 30*time.Minute, s.Enrichment.Weather.CacheTTL)
	assert.True(t, s.Output.SQLite.Enabled)
}
