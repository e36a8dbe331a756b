// Package metrics provides custom Prometheus metrics for the components of coughdetect.
//
// Every Record/Update method is safe to call on a nil receiver so components
// can run without metrics.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// AudioMetrics contains Prometheus metrics for the capture loop and window buffer
type AudioMetrics struct {
	registry *prometheus.Registry

	levelRMS          prometheus.Gauge
	framesTotal       prometheus.Counter
	framesDropped     *prometheus.CounterVec
	captureErrors     prometheus.Counter
	bufferedSamples   prometheus.Gauge
	clipWritesTotal   *prometheus.CounterVec
	clipWriteDuration prometheus.Histogram
}

// NewAudioMetrics creates and registers new audio metrics
func NewAudioMetrics(registry *prometheus.Registry) (*AudioMetrics, error) {
	m := &AudioMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize audio metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register audio metrics: %w", err)
	}
	return m, nil
}

func (m *AudioMetrics) initMetrics() error {
	m.levelRMS = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audio_level_rms",
		Help: "RMS amplitude of the most recent capture frame, 0 to 1",
	})

	m.framesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audio_frames_total",
		Help: "Total number of capture frames delivered to the window buffer",
	})

	m.framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audio_frames_dropped_total",
			Help: "Total number of capture frames discarded",
		},
		[]string{"reason"}, // reason: paused, overflow
	)

	m.captureErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audio_capture_errors_total",
		Help: "Total number of capture read failures",
	})

	m.bufferedSamples = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audio_window_buffer_samples",
		Help: "Samples currently held by the sliding window buffer",
	})

	m.clipWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audio_clip_writes_total",
			Help: "Total number of event clip writes",
		},
		[]string{"status"},
	)

	m.clipWriteDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "audio_clip_write_duration_seconds",
		Help:    "Time taken to encode and write an event clip",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
	})

	return nil
}

// Describe implements the Collector interface
func (m *AudioMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.levelRMS.Describe(ch)
	m.framesTotal.Describe(ch)
	m.framesDropped.Describe(ch)
	m.captureErrors.Describe(ch)
	m.bufferedSamples.Describe(ch)
	m.clipWritesTotal.Describe(ch)
	m.clipWriteDuration.Describe(ch)
}

// Collect implements the Collector interface
func (m *AudioMetrics) Collect(ch chan<- prometheus.Metric) {
	m.levelRMS.Collect(ch)
	m.framesTotal.Collect(ch)
	m.framesDropped.Collect(ch)
	m.captureErrors.Collect(ch)
	m.bufferedSamples.Collect(ch)
	m.clipWritesTotal.Collect(ch)
	m.clipWriteDuration.Collect(ch)
}

// RecordFrame records a delivered frame and its RMS level
func (m *AudioMetrics) RecordFrame(rms float64) {
	if m == nil {
		return
	}
	m.framesTotal.Inc()
	m.levelRMS.Set(rms)
}

// RecordDroppedFrame records a discarded frame
func (m *AudioMetrics) RecordDroppedFrame(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

// RecordCaptureError records a capture read failure
func (m *AudioMetrics) RecordCaptureError() {
	if m == nil {
		return
	}
	m.captureErrors.Inc()
}

// UpdateBufferedSamples sets the window buffer fill level
func (m *AudioMetrics) UpdateBufferedSamples(n int) {
	if m == nil {
		return
	}
	m.bufferedSamples.Set(float64(n))
}

// RecordClipWrite records a clip write outcome and duration in seconds
func (m *AudioMetrics) RecordClipWrite(status string, duration float64) {
	if m == nil {
		return
	}
	m.clipWritesTotal.WithLabelValues(status).Inc()
	m.clipWriteDuration.Observe(duration)
}
