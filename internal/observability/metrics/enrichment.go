package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// EnrichmentMetrics contains Prometheus metrics for enrichment plugins
type EnrichmentMetrics struct {
	registry *prometheus.Registry

	pluginRunsTotal     *prometheus.CounterVec
	pluginDuration      *prometheus.HistogramVec
	cacheLookupsTotal   *prometheus.CounterVec
	weatherFetchTotal   *prometheus.CounterVec
	weatherFetchLatency prometheus.Histogram
}

// NewEnrichmentMetrics creates and registers new enrichment metrics
func NewEnrichmentMetrics(registry *prometheus.Registry) (*EnrichmentMetrics, error) {
	m := &EnrichmentMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize enrichment metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register enrichment metrics: %w", err)
	}
	return m, nil
}

func (m *EnrichmentMetrics) initMetrics() error {
	m.pluginRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_plugin_runs_total",
			Help: "Total number of plugin invocations by outcome",
		},
		[]string{"plugin", "status"}, // status: success, error, panic
	)

	m.pluginDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "enrichment_plugin_duration_seconds",
			Help:    "Time taken by one plugin invocation",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12),
		},
		[]string{"plugin"},
	)

	m.cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_cache_lookups_total",
			Help: "Total number of plugin cache lookups",
		},
		[]string{"plugin", "result"}, // result: hit, miss, stale
	)

	m.weatherFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_weather_fetch_total",
			Help: "Total number of weather provider requests",
		},
		[]string{"status"},
	)

	m.weatherFetchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "enrichment_weather_fetch_duration_seconds",
		Help:    "Latency of weather provider requests",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
	})

	return nil
}

// Describe implements the Collector interface
func (m *EnrichmentMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.pluginRunsTotal.Describe(ch)
	m.pluginDuration.Describe(ch)
	m.cacheLookupsTotal.Describe(ch)
	m.weatherFetchTotal.Describe(ch)
	m.weatherFetchLatency.Describe(ch)
}

// Collect implements the Collector interface
func (m *EnrichmentMetrics) Collect(ch chan<- prometheus.Metric) {
	m.pluginRunsTotal.Collect(ch)
	m.pluginDuration.Collect(ch)
	m.cacheLookupsTotal.Collect(ch)
	m.weatherFetchTotal.Collect(ch)
	m.weatherFetchLatency.Collect(ch)
}

// RecordPluginRun records one plugin invocation
func (m *EnrichmentMetrics) RecordPluginRun(plugin, status string, seconds float64) {
	if m == nil {
		return
	}
	m.pluginRunsTotal.WithLabelValues(plugin, status).Inc()
	m.pluginDuration.WithLabelValues(plugin).Observe(seconds)
}

// RecordCacheLookup records a plugin cache lookup
func (m *EnrichmentMetrics) RecordCacheLookup(plugin, result string) {
	if m == nil {
		return
	}
	m.cacheLookupsTotal.WithLabelValues(plugin, result).Inc()
}

// RecordWeatherFetch records a weather provider request
func (m *EnrichmentMetrics) RecordWeatherFetch(status string, seconds float64) {
	if m == nil {
		return
	}
	m.weatherFetchTotal.WithLabelValues(status).Inc()
	m.weatherFetchLatency.Observe(seconds)
}
