package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DetectionMetrics contains Prometheus metrics for the detection scheduler,
// classifier and event segmenter
type DetectionMetrics struct {
	registry *prometheus.Registry

	windowsClassified     *prometheus.CounterVec
	classificationLatency prometheus.Histogram
	cyclesTotal           *prometheus.CounterVec
	eventsFinalized       *prometheus.CounterVec
	eventsPersisted       *prometheus.CounterVec
	eventDuration         prometheus.Histogram
	classifierMode        *prometheus.GaugeVec
	engineState           *prometheus.GaugeVec
}

// NewDetectionMetrics creates and registers new detection metrics
func NewDetectionMetrics(registry *prometheus.Registry) (*DetectionMetrics, error) {
	m := &DetectionMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize detection metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register detection metrics: %w", err)
	}
	return m, nil
}

func (m *DetectionMetrics) initMetrics() error {
	m.windowsClassified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_windows_classified_total",
			Help: "Total number of evaluation windows classified",
		},
		[]string{"kind"}, // kind: none, cough, snore
	)

	m.classificationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "detection_classification_duration_seconds",
		Help:    "Time taken to classify one window",
		Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12),
	})

	m.cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_cycles_total",
			Help: "Total number of detection ticks by outcome",
		},
		[]string{"status"}, // status: success, skipped, error, panic
	)

	m.eventsFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_events_finalized_total",
			Help: "Total number of events finalized by the segmenter",
		},
		[]string{"kind", "reason"}, // reason: max_duration, flush
	)

	m.eventsPersisted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detection_events_persisted_total",
			Help: "Total number of finalized events handled by the recorder",
		},
		[]string{"status"}, // status: success, error, skipped
	)

	m.eventDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "detection_event_duration_seconds",
		Help:    "Duration of finalized events",
		Buckets: prometheus.LinearBuckets(0.5, 0.5, 8),
	})

	m.classifierMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "detection_classifier_mode",
			Help: "Active classifier implementation, 1 for the active mode",
		},
		[]string{"mode"},
	)

	m.engineState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "detection_engine_state",
			Help: "Current engine state, 1 for the active state",
		},
		[]string{"state"},
	)

	return nil
}

// Describe implements the Collector interface
func (m *DetectionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.windowsClassified.Describe(ch)
	m.classificationLatency.Describe(ch)
	m.cyclesTotal.Describe(ch)
	m.eventsFinalized.Describe(ch)
	m.eventsPersisted.Describe(ch)
	m.eventDuration.Describe(ch)
	m.classifierMode.Describe(ch)
	m.engineState.Describe(ch)
}

// Collect implements the Collector interface
func (m *DetectionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.windowsClassified.Collect(ch)
	m.classificationLatency.Collect(ch)
	m.cyclesTotal.Collect(ch)
	m.eventsFinalized.Collect(ch)
	m.eventsPersisted.Collect(ch)
	m.eventDuration.Collect(ch)
	m.classifierMode.Collect(ch)
	m.engineState.Collect(ch)
}

// RecordClassification records one classified window
func (m *DetectionMetrics) RecordClassification(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.windowsClassified.WithLabelValues(kind).Inc()
	m.classificationLatency.Observe(seconds)
}

// RecordCycle records the outcome of one detection tick
func (m *DetectionMetrics) RecordCycle(status string) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(status).Inc()
}

// RecordEventFinalized records a finalized event
func (m *DetectionMetrics) RecordEventFinalized(kind, reason string, seconds float64) {
	if m == nil {
		return
	}
	m.eventsFinalized.WithLabelValues(kind, reason).Inc()
	m.eventDuration.Observe(seconds)
}

// RecordEventPersisted records the recorder outcome for a finalized event
func (m *DetectionMetrics) RecordEventPersisted(status string) {
	if m == nil {
		return
	}
	m.eventsPersisted.WithLabelValues(status).Inc()
}

// SetClassifierMode marks mode as the active classifier
func (m *DetectionMetrics) SetClassifierMode(mode string, modes ...string) {
	if m == nil {
		return
	}
	for _, other := range modes {
		m.classifierMode.WithLabelValues(other).Set(0)
	}
	m.classifierMode.WithLabelValues(mode).Set(1)
}

// SetEngineState marks state as the current engine state
func (m *DetectionMetrics) SetEngineState(state string, states ...string) {
	if m == nil {
		return
	}
	for _, other := range states {
		m.engineState.WithLabelValues(other).Set(0)
	}
	m.engineState.WithLabelValues(state).Set(1)
}
