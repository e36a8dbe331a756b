// Package enrichment attaches metadata to finalized detection events. Each
// plugin contributes one JSON string under its name; a failing plugin only
// loses its own key.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/datastore"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/logger"
	"github.com/tphakala/coughdetect/internal/observability/metrics"
)

// ErrPluginDisabled is returned by plugins switched off in the settings. The
// pipeline omits their key without logging a failure.
var ErrPluginDisabled = errors.NewStd("plugin disabled")

// Environment is handed to every plugin at initialization
type Environment struct {
	// Settings is read by plugins once per Process call
	Settings  conf.Provider
	SessionID string
	Metrics   *metrics.EnrichmentMetrics
}

// Plugin contributes one value to the extension payload of a record.
// Plugins must apply their own timeouts to network I/O and must not share
// mutable state with other plugins.
type Plugin interface {
	Name() string
	Initialize(env Environment) error
	Process(ctx context.Context, record *datastore.EventRecord) (string, error)
}

// Pipeline runs plugins in registration order.
type Pipeline struct {
	plugins []Plugin
	metrics *metrics.EnrichmentMetrics
}

// NewPipeline initializes plugins and returns a pipeline holding the ones
// that initialized successfully.
func NewPipeline(env Environment, plugins ...Plugin) *Pipeline {
	p := &Pipeline{metrics: env.Metrics}
	for _, plugin := range plugins {
		if err := plugin.Initialize(env); err != nil {
			GetLogger().Warn("plugin initialization failed, plugin disabled",
				logger.String("plugin", plugin.Name()),
				logger.Error(err))
			continue
		}
		p.plugins = append(p.plugins, plugin)
	}
	return p
}

// Plugins returns the names of the active plugins in order
func (p *Pipeline) Plugins() []string {
	names := make([]string, len(p.plugins))
	for i, plugin := range p.plugins {
		names[i] = plugin.Name()
	}
	return names
}

// Collect invokes every plugin with record and returns their contributions.
func (p *Pipeline) Collect(ctx context.Context, record *datastore.EventRecord) map[string]string {
	out := make(map[string]string, len(p.plugins))
	for _, plugin := range p.plugins {
		// each plugin sees the same base record
		base := *record
		value, err := p.run(ctx, plugin, &base)
		if err != nil {
			continue
		}
		out[plugin.Name()] = value
	}
	return out
}

// Process returns the JSON extension payload for record, "{}" when nothing
// was contributed.
func (p *Pipeline) Process(ctx context.Context, record *datastore.EventRecord) string {
	data, err := json.Marshal(p.Collect(ctx, record))
	if err != nil {
		// a map[string]string always marshals
		return "{}"
	}
	return string(data)
}

// run invokes one plugin, converting panics into errors
func (p *Pipeline) run(ctx context.Context, plugin Plugin, record *datastore.EventRecord) (value string, err error) {
	name := plugin.Name()
	start := time.Now()
	status := metrics.StatusSuccess

	defer func() {
		if r := recover(); r != nil {
			status = metrics.StatusPanic
			err = errors.New(fmt.Errorf("%w: %s panicked: %v", errors.ErrPlugin, name, r)).
				Component("enrichment").
				Category(errors.CategoryPlugin).
				Priority(errors.PriorityHigh).
				Context("plugin", name).
				Build()
			GetLogger().Error("enrichment plugin panicked",
				logger.String("plugin", name),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
		}
		if status != metrics.StatusSkipped {
			p.metrics.RecordPluginRun(name, status, time.Since(start).Seconds())
		}
	}()

	value, err = plugin.Process(ctx, record)
	switch {
	case errors.Is(err, ErrPluginDisabled):
		status = metrics.StatusSkipped
		return "", err
	case err != nil:
		status = metrics.StatusError
		GetLogger().Warn("enrichment plugin failed",
			logger.String("plugin", name),
			logger.Error(err))
		return "", errors.New(fmt.Errorf("%w: %s: %w", errors.ErrPlugin, name, err)).
			Component("enrichment").
			Category(errors.CategoryPlugin).
			Context("plugin", name).
			Build()
	}
	return value, nil
}

// DefaultPlugins returns the built-in plugins in payload order
func DefaultPlugins() []Plugin {
	return []Plugin{
		NewLocationPlugin(),
		NewWeatherPlugin(),
		NewDaylightPlugin(),
	}
}
