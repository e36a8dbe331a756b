// config.go: settings types and loading
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/coughdetect/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// EnvPrefix is the prefix for environment overrides, e.g.
// COUGHDETECT_ENRICHMENT_WEATHER_APIKEY.
const EnvPrefix = "COUGHDETECT"

// AudioSettings contains capture settings. Sample format is fixed to
// 16 kHz mono signed 16-bit.
type AudioSettings struct {
	Source    string `yaml:"source" mapstructure:"source" json:"source"`          // capture device name, empty for system default
	ClipsPath string `yaml:"clipspath" mapstructure:"clipspath" json:"clipsPath"` // root of the clip store
}

// ClassifierSettings selects and tunes the classifier.
type ClassifierSettings struct {
	ModelPath string `yaml:"modelpath" mapstructure:"modelpath" json:"modelPath"` // empty uses the rule-based classifier
	Threads   int    `yaml:"threads" mapstructure:"threads" json:"threads"`       // 0 picks from CPU topology
	Mode      string `yaml:"mode" mapstructure:"mode" json:"mode"`                // auto or rules
}

// DetectionSettings configures scheduling and segmentation.
type DetectionSettings struct {
	Interval         time.Duration `yaml:"interval" mapstructure:"interval" json:"interval"`
	Threshold        float64       `yaml:"threshold" mapstructure:"threshold" json:"threshold"`
	MaxEventDuration time.Duration `yaml:"maxeventduration" mapstructure:"maxeventduration" json:"maxEventDuration"`
	MinEventDuration time.Duration `yaml:"mineventduration" mapstructure:"mineventduration" json:"minEventDuration"`
	QueueSize        int           `yaml:"queuesize" mapstructure:"queuesize" json:"queueSize"` // finalized events waiting for persistence
}

// StorageSettings bounds clip storage.
type StorageSettings struct {
	Quota string `yaml:"quota" mapstructure:"quota" json:"quota"` // e.g. "1024MB"
}

// SQLiteSettings configures the default record store.
type SQLiteSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Path    string `yaml:"path" mapstructure:"path" json:"path"`
}

// MySQLSettings configures the optional MySQL record store.
type MySQLSettings struct {
	Enabled      bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Username     string `yaml:"username" mapstructure:"username" json:"username"`
	Password     string `yaml:"password" mapstructure:"password" json:"-"`
	PasswordFile string `yaml:"passwordfile" mapstructure:"passwordfile" json:"passwordFile"` // read instead of Password when set
	Database     string `yaml:"database" mapstructure:"database" json:"database"`
	Host         string `yaml:"host" mapstructure:"host" json:"host"`
	Port         string `yaml:"port" mapstructure:"port" json:"port"`
}

// OutputSettings selects where records are stored.
type OutputSettings struct {
	SQLite SQLiteSettings `yaml:"sqlite" mapstructure:"sqlite" json:"sqlite"`
	MySQL  MySQLSettings  `yaml:"mysql" mapstructure:"mysql" json:"mysql"`
}

// LocationSettings configures the location enrichment plugin.
type LocationSettings struct {
	Enabled   bool    `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Latitude  float64 `yaml:"latitude" mapstructure:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" mapstructure:"longitude" json:"longitude"`
	Accuracy  float64 `yaml:"accuracy" mapstructure:"accuracy" json:"accuracy"` // metres
}

// WeatherSettings configures the weather enrichment plugin.
type WeatherSettings struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	APIKey     string        `yaml:"apikey" mapstructure:"apikey" json:"-"`
	APIKeyFile string        `yaml:"apikeyfile" mapstructure:"apikeyfile" json:"apiKeyFile"` // read instead of APIKey when set
	Endpoint   string        `yaml:"endpoint" mapstructure:"endpoint" json:"endpoint"`
	Units      string        `yaml:"units" mapstructure:"units" json:"units"` // standard, metric or imperial
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout"`
	CacheTTL   time.Duration `yaml:"cachettl" mapstructure:"cachettl" json:"cacheTTL"`
}

// DaylightSettings configures the daylight enrichment plugin.
type DaylightSettings struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
}

// EnrichmentSettings lists the enrichment plugins. Plugins run in the order
// location, weather, daylight.
type EnrichmentSettings struct {
	Location LocationSettings `yaml:"location" mapstructure:"location" json:"location"`
	Weather  WeatherSettings  `yaml:"weather" mapstructure:"weather" json:"weather"`
	Daylight DaylightSettings `yaml:"daylight" mapstructure:"daylight" json:"daylight"`
}

// MQTTSettings configures event publishing.
type MQTTSettings struct {
	Enabled      bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Broker       string `yaml:"broker" mapstructure:"broker" json:"broker"`
	Topic        string `yaml:"topic" mapstructure:"topic" json:"topic"`
	Username     string `yaml:"username" mapstructure:"username" json:"username"`
	Password     string `yaml:"password" mapstructure:"password" json:"-"`
	PasswordFile string `yaml:"passwordfile" mapstructure:"passwordfile" json:"passwordFile"` // read instead of Password when set
	Retain       bool   `yaml:"retain" mapstructure:"retain" json:"retain"`
}

// TelemetrySettings configures the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen" json:"listen"`
}

// SentrySettings configures error reporting.
type SentrySettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	DSN     string `yaml:"dsn" mapstructure:"dsn" json:"-"`
}

// WebServerSettings configures the control API.
type WebServerSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen" json:"listen"`
}

// Settings contains all configuration options.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug" json:"debug"`

	Audio      AudioSettings        `yaml:"audio" mapstructure:"audio" json:"audio"`
	Classifier ClassifierSettings   `yaml:"classifier" mapstructure:"classifier" json:"classifier"`
	Detection  DetectionSettings    `yaml:"detection" mapstructure:"detection" json:"detection"`
	Storage    StorageSettings      `yaml:"storage" mapstructure:"storage" json:"storage"`
	Output     OutputSettings       `yaml:"output" mapstructure:"output" json:"output"`
	Enrichment EnrichmentSettings   `yaml:"enrichment" mapstructure:"enrichment" json:"enrichment"`
	MQTT       MQTTSettings         `yaml:"mqtt" mapstructure:"mqtt" json:"mqtt"`
	Telemetry  TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry" json:"telemetry"`
	Sentry     SentrySettings       `yaml:"sentry" mapstructure:"sentry" json:"sentry"`
	WebServer  WebServerSettings    `yaml:"webserver" mapstructure:"webserver" json:"webserver"`
	Logging    logger.LoggingConfig `yaml:"logging" mapstructure:"logging" json:"logging"`
}

// ClipDir returns the directory finalized event clips are written to.
func (s *Settings) ClipDir() string {
	return filepath.Join(s.Audio.ClipsPath, ClipSubdir)
}

// QuotaBytes returns the clip storage quota in bytes, falling back to the
// default when the configured value does not parse.
func (s *Settings) QuotaBytes() int64 {
	n, err := ParseSize(s.Storage.Quota)
	if err != nil || n <= 0 {
		n, _ = ParseSize(DefaultQuota)
	}
	return n
}

var settingsMutex sync.Mutex

// Load reads the configuration. An explicit configFile wins over the default
// search paths; a missing default config is created from the embedded one.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, fmt.Errorf("error resolving secrets: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper sets defaults, environment overrides and reads the config file.
func initViper(configFile string) error {
	viper.SetConfigType("yaml")
	setDefaultConfig()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		loadDotEnv(filepath.Dir(configFile))
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
		loadDotEnv(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// loadDotEnv loads <dir>/.env into the process environment without
// overriding variables that are already set.
func loadDotEnv(dir string) {
	envFile := filepath.Join(dir, ".env")
	if _, err := os.Stat(envFile); err != nil {
		return
	}
	if err := godotenv.Load(envFile); err != nil {
		GetLogger().Warn("failed to load .env file",
			logger.String("path", envFile),
			logger.Error(err))
	}
}

// createDefaultConfig writes the embedded config.yaml into dir and reads it
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	viper.SetConfigFile(configPath)
	return viper.ReadInConfig()
}

// DefaultConfigYAML returns the embedded default configuration.
func DefaultConfigYAML() ([]byte, error) {
	return fs.ReadFile(configFiles, "config.yaml")
}

// SaveYAMLConfig writes settings to configPath through a temporary file and
// rename. Comments in the existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName) //nolint:errcheck // already renamed on success

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
