// Package metrics provides datastore metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DatastoreMetrics contains Prometheus metrics for datastore operations
type DatastoreMetrics struct {
	registry *prometheus.Registry

	// Database operation metrics
	dbOperationsTotal      *prometheus.CounterVec
	dbOperationDuration    *prometheus.HistogramVec
	dbOperationErrorsTotal *prometheus.CounterVec

	// Table state
	recordCountGauge   prometheus.Gauge
	subscribersGauge   prometheus.Gauge
	notificationsTotal *prometheus.CounterVec
}

// NewDatastoreMetrics creates and registers new datastore metrics
func NewDatastoreMetrics(registry *prometheus.Registry) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *DatastoreMetrics) initMetrics() error {
	m.dbOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_operations_total",
			Help: "Total number of datastore operations",
		},
		[]string{"operation", "status"},
	)

	m.dbOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datastore_operation_duration_seconds",
			Help:    "Time taken for datastore operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12),
		},
		[]string{"operation"},
	)

	m.dbOperationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_operation_errors_total",
			Help: "Total number of datastore operation errors",
		},
		[]string{"operation", "error_type"},
	)

	m.recordCountGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "datastore_records",
		Help: "Number of stored detection records after the last change",
	})

	m.subscribersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "datastore_subscribers",
		Help: "Number of active change subscribers",
	})

	m.notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_notifications_total",
			Help: "Total number of change notifications by delivery outcome",
		},
		[]string{"result"}, // result: delivered, dropped
	)

	return nil
}

// Describe implements the Collector interface
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.dbOperationsTotal.Describe(ch)
	m.dbOperationDuration.Describe(ch)
	m.dbOperationErrorsTotal.Describe(ch)
	m.recordCountGauge.Describe(ch)
	m.subscribersGauge.Describe(ch)
	m.notificationsTotal.Describe(ch)
}

// Collect implements the Collector interface
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	m.dbOperationsTotal.Collect(ch)
	m.dbOperationDuration.Collect(ch)
	m.dbOperationErrorsTotal.Collect(ch)
	m.recordCountGauge.Collect(ch)
	m.subscribersGauge.Collect(ch)
	m.notificationsTotal.Collect(ch)
}

// RecordDbOperation records a database operation with its outcome and duration in seconds
func (m *DatastoreMetrics) RecordDbOperation(operation, status string, duration float64) {
	if m == nil {
		return
	}
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
	m.dbOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordDbOperationError records a database operation error
func (m *DatastoreMetrics) RecordDbOperationError(operation, errorType string) {
	if m == nil {
		return
	}
	m.dbOperationErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// UpdateRecordCount sets the stored record count
func (m *DatastoreMetrics) UpdateRecordCount(count int64) {
	if m == nil {
		return
	}
	m.recordCountGauge.Set(float64(count))
}

// UpdateSubscribers sets the number of active subscribers
func (m *DatastoreMetrics) UpdateSubscribers(count int) {
	if m == nil {
		return
	}
	m.subscribersGauge.Set(float64(count))
}

// RecordNotification records a change notification delivery outcome
func (m *DatastoreMetrics) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(result).Inc()
}
