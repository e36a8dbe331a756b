// Package telemetry initializes opt-in Sentry error reporting with
// privacy filtering.
package telemetry

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/logger"
	"github.com/tphakala/coughdetect/internal/privacy"
)

// flushTimeout bounds the wait for buffered events on shutdown.
const flushTimeout = 2 * time.Second

var sentryInitialized atomic.Bool

// PlatformInfo holds privacy-safe platform information for telemetry
type PlatformInfo struct {
	OS           string `json:"os"`
	Architecture string `json:"arch"`
	NumCPU       int    `json:"num_cpu"`
	GoVersion    string `json:"go_version"`
}

func collectPlatformInfo() PlatformInfo {
	return PlatformInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}
}

// InitSentry initializes the Sentry SDK and installs it as the error
// reporter. It does nothing unless sentry is enabled in settings.
func InitSentry(settings *conf.Settings, version string) error {
	if !settings.Sentry.Enabled {
		GetLogger().Debug("sentry telemetry is disabled")
		return nil
	}
	if settings.Sentry.DSN == "" {
		return errors.Newf("sentry enabled without a DSN").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",
		Release:          "coughdetect@" + version,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	platform := collectPlatformInfo()
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", platform.OS)
		scope.SetTag("arch", platform.Architecture)
		scope.SetContext("platform", map[string]any{
			"num_cpu":    platform.NumCPU,
			"go_version": platform.GoVersion,
		})
	})

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	sentryInitialized.Store(true)

	GetLogger().Info("sentry telemetry initialized",
		logger.String("release", "coughdetect@"+version),
		logger.String("os", platform.OS),
		logger.String("arch", platform.Architecture))
	return nil
}

// Flush waits for queued events and detaches the reporter. Safe to call
// when sentry was never initialized.
func Flush() {
	if !sentryInitialized.Swap(false) {
		return
	}
	errors.SetTelemetryReporter(nil)
	if !sentry.Flush(flushTimeout) {
		GetLogger().Warn("sentry flush timed out", logger.Duration("timeout", flushTimeout))
	}
}

// applyPrivacyFilters strips user, host and device data from an event
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	return event
}
