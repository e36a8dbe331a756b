// Package metrics provides disk management metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DiskManagerMetrics contains Prometheus metrics for clip quota enforcement
type DiskManagerMetrics struct {
	registry *prometheus.Registry

	// Usage metrics
	clipDirBytes              prometheus.Gauge
	quotaBytes                prometheus.Gauge
	diskUtilizationPercentage prometheus.Gauge

	// Cleanup operation metrics
	cleanupOperationsTotal *prometheus.CounterVec
	cleanupErrorsTotal     *prometheus.CounterVec
	filesDeletedTotal      prometheus.Counter
	bytesFreedTotal        prometheus.Counter
	cleanupDurationSeconds prometheus.Histogram
}

// NewDiskManagerMetrics creates and registers new disk manager metrics
func NewDiskManagerMetrics(registry *prometheus.Registry) (*DiskManagerMetrics, error) {
	m := &DiskManagerMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *DiskManagerMetrics) initMetrics() error {
	m.clipDirBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "diskmanager_clip_dir_bytes",
		Help: "Bytes used by event clips after the last quota check",
	})

	m.quotaBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "diskmanager_quota_bytes",
		Help: "Configured clip storage quota in bytes",
	})

	m.diskUtilizationPercentage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "diskmanager_disk_utilization_percentage",
		Help: "Utilization of the filesystem holding the clips as a percentage",
	})

	m.cleanupOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskmanager_cleanup_operations_total",
			Help: "Total number of quota checks performed",
		},
		[]string{"status"}, // status: success, skipped, error
	)

	m.cleanupErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskmanager_cleanup_errors_total",
			Help: "Total number of cleanup errors",
		},
		[]string{"error_type"},
	)

	m.filesDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "diskmanager_files_deleted_total",
		Help: "Total number of clips deleted by quota enforcement",
	})

	m.bytesFreedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "diskmanager_bytes_freed_total",
		Help: "Total bytes freed by quota enforcement",
	})

	m.cleanupDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "diskmanager_cleanup_duration_seconds",
		Help:    "Time taken for quota enforcement",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
	})

	return nil
}

// Describe implements the Collector interface
func (m *DiskManagerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.clipDirBytes.Describe(ch)
	m.quotaBytes.Describe(ch)
	m.diskUtilizationPercentage.Describe(ch)
	m.cleanupOperationsTotal.Describe(ch)
	m.cleanupErrorsTotal.Describe(ch)
	m.filesDeletedTotal.Describe(ch)
	m.bytesFreedTotal.Describe(ch)
	m.cleanupDurationSeconds.Describe(ch)
}

// Collect implements the Collector interface
func (m *DiskManagerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.clipDirBytes.Collect(ch)
	m.quotaBytes.Collect(ch)
	m.diskUtilizationPercentage.Collect(ch)
	m.cleanupOperationsTotal.Collect(ch)
	m.cleanupErrorsTotal.Collect(ch)
	m.filesDeletedTotal.Collect(ch)
	m.bytesFreedTotal.Collect(ch)
	m.cleanupDurationSeconds.Collect(ch)
}

// UpdateClipUsage updates clip directory usage and quota
func (m *DiskManagerMetrics) UpdateClipUsage(usedBytes, quotaBytes int64) {
	if m == nil {
		return
	}
	m.clipDirBytes.Set(float64(usedBytes))
	m.quotaBytes.Set(float64(quotaBytes))
}

// UpdateDiskUtilization updates filesystem utilization from used and total bytes
func (m *DiskManagerMetrics) UpdateDiskUtilization(usedBytes, totalBytes uint64) {
	if m == nil {
		return
	}
	var utilizationPercentage float64
	if totalBytes > 0 {
		utilizationPercentage = float64(usedBytes) / float64(totalBytes) * PercentageFactor
	}
	m.diskUtilizationPercentage.Set(utilizationPercentage)
}

// RecordCleanupOperation records a quota check outcome and its duration in seconds
func (m *DiskManagerMetrics) RecordCleanupOperation(status string, duration float64) {
	if m == nil {
		return
	}
	m.cleanupOperationsTotal.WithLabelValues(status).Inc()
	m.cleanupDurationSeconds.Observe(duration)
}

// RecordCleanupError records a cleanup error by type
func (m *DiskManagerMetrics) RecordCleanupError(errorType string) {
	if m == nil {
		return
	}
	m.cleanupErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordFilesDeleted records deleted clips and the bytes they freed
func (m *DiskManagerMetrics) RecordFilesDeleted(count int, bytes int64) {
	if m == nil {
		return
	}
	m.filesDeletedTotal.Add(float64(count))
	m.bytesFreedTotal.Add(float64(bytes))
}
