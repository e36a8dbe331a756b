// conf/defaults.go default values for settings
package conf

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	// SampleRate is the capture and model sample rate in Hz
	SampleRate = 16000
	// NumChannels is the capture channel count
	NumChannels = 1
	// BitDepth is the capture and clip sample width
	BitDepth = 16
	// WindowSamples is the evaluation window length, one second of audio
	WindowSamples = SampleRate

	// ClipSubdir is the directory under the clips path holding event clips
	ClipSubdir = "cough_audio"

	// DefaultQuota is the default clip storage quota
	DefaultQuota = "1024MB"

	// DefaultThreshold is the minimum confidence of a positive window
	DefaultThreshold = 0.6
	// DefaultInterval is the detection tick period
	DefaultInterval = 500 * time.Millisecond
	// DefaultMaxEventDuration finalizes an event once exceeded
	DefaultMaxEventDuration = 3 * time.Second
	// DefaultMinEventDuration drops shorter events before persistence
	DefaultMinEventDuration = 200 * time.Millisecond
	// DefaultQueueSize is the number of finalized events waiting for persistence
	DefaultQueueSize = 16
)

// setDefaultConfig sets default values for the configuration.
func setDefaultConfig() {
	applyDefaults(viper.GetViper())
}

// Defaults returns settings holding only the default values, without reading
// any config file or environment.
func Defaults() *Settings {
	v := viper.New()
	applyDefaults(v)
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		// defaults are static, a failure here is a programming error
		panic(fmt.Sprintf("conf: invalid defaults: %v", err))
	}
	return settings
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("audio.source", "")
	v.SetDefault("audio.clipspath", "clips/")

	v.SetDefault("classifier.modelpath", "")
	v.SetDefault("classifier.threads", 0)
	v.SetDefault("classifier.mode", "auto")

	v.SetDefault("detection.interval", DefaultInterval)
	v.SetDefault("detection.threshold", DefaultThreshold)
	v.SetDefault("detection.maxeventduration", DefaultMaxEventDuration)
	v.SetDefault("detection.mineventduration", DefaultMinEventDuration)
	v.SetDefault("detection.queuesize", DefaultQueueSize)

	v.SetDefault("storage.quota", DefaultQuota)

	v.SetDefault("output.sqlite.enabled", true)
	v.SetDefault("output.sqlite.path", "coughdetect.db")
	v.SetDefault("output.mysql.enabled", false)
	v.SetDefault("output.mysql.username", "")
	v.SetDefault("output.mysql.password", "")
	v.SetDefault("output.mysql.database", "coughdetect")
	v.SetDefault("output.mysql.host", "localhost")
	v.SetDefault("output.mysql.port", "3306")

	v.SetDefault("enrichment.location.enabled", false)
	v.SetDefault("enrichment.location.latitude", 0.0)
	v.SetDefault("enrichment.location.longitude", 0.0)
	v.SetDefault("enrichment.location.accuracy", 0.0)

	v.SetDefault("enrichment.weather.enabled", false)
	v.SetDefault("enrichment.weather.apikey", "")
	v.SetDefault("enrichment.weather.endpoint", "https://api.openweathermap.org/data/2.5/weather")
	v.SetDefault("enrichment.weather.units", "metric")
	v.SetDefault("enrichment.weather.timeout", 5*time.Second)
	v.SetDefault("enrichment.weather.cachettl", 30*time.Minute)

	v.SetDefault("enrichment.daylight.enabled", false)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic", "coughdetect")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.retain", false)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen", "0.0.0.0:8090")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")

	v.SetDefault("webserver.enabled", false)
	v.SetDefault("webserver.listen", "127.0.0.1:8080")

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/coughdetect.log")
	v.SetDefault("logging.file_output.level", "info")
}
