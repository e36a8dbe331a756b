package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func loadFresh(t *testing.T, path string) (*Settings, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	return Load(path)
}

func TestLoadEmbeddedDefaults(t *testing.T) {
	data, err := DefaultConfigYAML()
	require.NoError(t, err)

	settings, err := loadFresh(t, writeConfig(t, string(data)))
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, settings.Detection.Interval)
	assert.InDelta(t, 0.6, settings.Detection.Threshold, 1e-9)
	assert.Equal(t, 3*time.Second, settings.Detection.MaxEventDuration)
	assert.Equal(t, 200*time.Millisecond, settings.Detection.MinEventDuration)
	assert.Equal(t, int64(1024*1024*1024), settings.QuotaBytes())
	assert.True(t, settings.Output.SQLite.Enabled)
	assert.Equal(t, 30*time.Minute, settings.Enrichment.Weather.CacheTTL)
	assert.Equal(t, 5*time.Second, settings.Enrichment.Weather.Timeout)
	assert.Equal(t, "info", settings.Logging.DefaultLevel)
	assert.Equal(t, filepath.Join("clips", ClipSubdir), settings.ClipDir())
}

func TestLoadAppliesDefaultsForMissingKeys(t *testing.T) {
	settings, err := loadFresh(t, writeConfig(t, "storage:\n  quota: 10MB\n"))
	require.NoError(t, err)

	assert.Equal(t, int64(10*1024*1024), settings.QuotaBytes())
	assert.Equal(t, DefaultInterval, settings.Detection.Interval)
	assert.Equal(t, "auto", settings.Classifier.Mode)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("COUGHDETECT_STORAGE_QUOTA", "15MB")

	settings, err := loadFresh(t, writeConfig(t, "storage:\n  quota: 10MB\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(15*1024*1024), settings.QuotaBytes())
}

func TestDotEnvSuppliesAPIKey(t *testing.T) {
	path := writeConfig(t, "enrichment:\n  weather:\n    enabled: true\n")
	envFile := filepath.Join(filepath.Dir(path), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("COUGHDETECT_ENRICHMENT_WEATHER_APIKEY=from-dotenv\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("COUGHDETECT_ENRICHMENT_WEATHER_APIKEY") })

	settings, err := loadFresh(t, path)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", settings.Enrichment.Weather.APIKey)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	_, err := loadFresh(t, writeConfig(t, "detection:\n  threshold: 1.5\n"))
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 1)
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	data, err := DefaultConfigYAML()
	require.NoError(t, err)
	path := writeConfig(t, string(data))

	settings, err := loadFresh(t, path)
	require.NoError(t, err)

	settings.Storage.Quota = "2GB"
	settings.MQTT.Topic = "bedroom"
	require.NoError(t, SaveYAMLConfig(path, settings))

	reloaded, err := loadFresh(t, path)
	require.NoError(t, err)
	assert.Equal(t, int64(2*1024*1024*1024), reloaded.QuotaBytes())
	assert.Equal(t, "bedroom", reloaded.MQTT.Topic)
	assert.Equal(t, settings.Detection.Interval, reloaded.Detection.Interval)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file should be renamed away")
}

func TestLoadResolvesSecrets(t *testing.T) {
	t.Setenv("COUGHDETECT_TEST_BROKER_PASSWORD", "from-env")

	dir := t.TempDir()
	keyFile := filepath.Join(dir, "weather_key")
	require.NoError(t, os.WriteFile(keyFile, []byte("from-file\n"), 0o600))

	settings, err := loadFresh(t, writeConfig(t, `
mqtt:
  password: ${COUGHDETECT_TEST_BROKER_PASSWORD}
enrichment:
  weather:
    apikey: ignored
    apikeyfile: `+keyFile+`
`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", settings.MQTT.Password)
	assert.Equal(t, "from-file", settings.Enrichment.Weather.APIKey)
}

func TestLoadFailsOnMissingSecret(t *testing.T) {
	_, err := loadFresh(t, writeConfig(t, "mqtt:\n  password: ${COUGHDETECT_TEST_UNSET_PASSWORD}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt.password")
}
