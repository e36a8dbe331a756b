package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Connection event label values.
const (
	MQTTConnected    = "connected"
	MQTTLost         = "lost"
	MQTTReconnecting = "reconnecting"
	MQTTFailed       = "failed"
)

// MQTTMetrics tracks the broker connection and detection event publishing
type MQTTMetrics struct {
	registry *prometheus.Registry

	connected        prometheus.Gauge
	connectionEvents *prometheus.CounterVec
	publishes        *prometheus.CounterVec
	publishDuration  prometheus.Histogram
	payloadSize      prometheus.Histogram
	eventsPublished  *prometheus.CounterVec
}

// NewMQTTMetrics creates and registers new MQTT metrics
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize MQTT metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register MQTT metrics: %w", err)
	}
	return m, nil
}

func (m *MQTTMetrics) initMetrics() error {
	m.connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mqtt_connected",
		Help: "Whether the broker connection is up (1) or down (0)",
	})

	m.connectionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_connection_events_total",
			Help: "Broker connection state changes",
		},
		[]string{"event"}, // event: connected, lost, reconnecting, failed
	)

	m.publishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_publishes_total",
			Help: "Total number of publish attempts by outcome",
		},
		[]string{"status"},
	)

	m.publishDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_publish_duration_seconds",
		Help:    "Time until the broker acknowledged a publish",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
	})

	m.payloadSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mqtt_payload_size_bytes",
		Help:    "Size of published payloads",
		Buckets: prometheus.ExponentialBuckets(BucketStart64B, BucketFactor2, BucketCount10),
	})

	m.eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqtt_detection_events_published_total",
			Help: "Detection events delivered to the broker",
		},
		[]string{"kind"},
	)

	return nil
}

// SetConnected records the connection state and counts the transition.
func (m *MQTTMetrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
		m.connectionEvents.WithLabelValues(MQTTConnected).Inc()
		return
	}
	m.connected.Set(0)
}

// RecordConnectionEvent counts a lost, reconnecting or failed connection.
func (m *MQTTMetrics) RecordConnectionEvent(event string) {
	if m == nil {
		return
	}
	m.connectionEvents.WithLabelValues(event).Inc()
}

// RecordPublish records one publish attempt. Size and duration are only
// observed for successful publishes.
func (m *MQTTMetrics) RecordPublish(status string, seconds float64, payloadBytes int) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(status).Inc()
	if status == StatusSuccess {
		m.publishDuration.Observe(seconds)
		m.payloadSize.Observe(float64(payloadBytes))
	}
}

// RecordEventPublished counts a detection event delivered to the broker.
func (m *MQTTMetrics) RecordEventPublished(kind string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(kind).Inc()
}

// Describe implements the prometheus.Collector interface
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.connected.Describe(ch)
	m.connectionEvents.Describe(ch)
	m.publishes.Describe(ch)
	m.publishDuration.Describe(ch)
	m.payloadSize.Describe(ch)
	m.eventsPublished.Describe(ch)
}

// Collect implements the prometheus.Collector interface
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	m.connected.Collect(ch)
	m.connectionEvents.Collect(ch)
	m.publishes.Collect(ch)
	m.publishDuration.Collect(ch)
	m.payloadSize.Collect(ch)
	m.eventsPublished.Collect(ch)
}
