package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewAudioMetrics(registry)
	require.NoError(t, err)

	m.RecordFrame(0.25)
	m.RecordFrame(0.5)
	m.RecordDroppedFrame("paused")
	m.RecordCaptureError()
	m.UpdateBufferedSamples(12000)
	m.RecordClipWrite(StatusSuccess, 0.01)

	assert.InDelta(t, 2, testutil.ToFloat64(m.framesTotal), 0)
	assert.InDelta(t, 0.5, testutil.ToFloat64(m.levelRMS), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.framesDropped.WithLabelValues("paused")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.captureErrors), 0)
	assert.InDelta(t, 12000, testutil.ToFloat64(m.bufferedSamples), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.clipWritesTotal.WithLabelValues(StatusSuccess)), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.clipWriteDuration))
}

func TestDuplicateRegistrationFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewAudioMetrics(registry)
	require.NoError(t, err)

	_, err = NewAudioMetrics(registry)
	assert.Error(t, err)
}

func TestDetectionMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewDetectionMetrics(registry)
	require.NoError(t, err)

	m.RecordClassification("cough", 0.002)
	m.RecordClassification("none", 0.001)
	m.RecordClassification("cough", 0.002)
	m.RecordCycle(StatusSkipped)
	m.RecordEventFinalized("cough", "flush", 1.5)
	m.RecordEventPersisted(StatusSuccess)

	assert.InDelta(t, 2, testutil.ToFloat64(m.windowsClassified.WithLabelValues("cough")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.windowsClassified.WithLabelValues("none")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cyclesTotal.WithLabelValues(StatusSkipped)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.eventsFinalized.WithLabelValues("cough", "flush")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.eventsPersisted.WithLabelValues(StatusSuccess)), 0)

	t.Run("only one mode is active", func(t *testing.T) {
		m.SetClassifierMode("model", "rules", "model")
		assert.InDelta(t, 1, testutil.ToFloat64(m.classifierMode.WithLabelValues("model")), 0)
		assert.InDelta(t, 0, testutil.ToFloat64(m.classifierMode.WithLabelValues("rules")), 0)

		m.SetClassifierMode("rules", "rules", "model")
		assert.InDelta(t, 0, testutil.ToFloat64(m.classifierMode.WithLabelValues("model")), 0)
		assert.InDelta(t, 1, testutil.ToFloat64(m.classifierMode.WithLabelValues("rules")), 0)
	})

	t.Run("engine state", func(t *testing.T) {
		states := []string{"idle", "recording", "paused", "processing"}
		m.SetEngineState("recording", states...)
		m.SetEngineState("paused", states...)
		assert.InDelta(t, 1, testutil.ToFloat64(m.engineState.WithLabelValues("paused")), 0)
		assert.InDelta(t, 0, testutil.ToFloat64(m.engineState.WithLabelValues("recording")), 0)
	})
}

func TestDiskManagerMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewDiskManagerMetrics(registry)
	require.NoError(t, err)

	m.UpdateClipUsage(400, 1000)
	m.UpdateDiskUtilization(25, 100)
	m.RecordCleanupOperation(StatusSuccess, 0.05)
	m.RecordCleanupError("delete")
	m.RecordFilesDeleted(3, 300)
	m.RecordFilesDeleted(1, 100)

	assert.InDelta(t, 400, testutil.ToFloat64(m.clipDirBytes), 0)
	assert.InDelta(t, 1000, testutil.ToFloat64(m.quotaBytes), 0)
	assert.InDelta(t, 25, testutil.ToFloat64(m.diskUtilizationPercentage), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cleanupOperationsTotal.WithLabelValues(StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cleanupErrorsTotal.WithLabelValues("delete")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.filesDeletedTotal), 0)
	assert.InDelta(t, 400, testutil.ToFloat64(m.bytesFreedTotal), 0)

	m.UpdateDiskUtilization(10, 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.diskUtilizationPercentage), 0)
}

func TestEnrichmentMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewEnrichmentMetrics(registry)
	require.NoError(t, err)

	m.RecordPluginRun("weather", StatusError, 0.2)
	m.RecordPluginRun("weather", StatusSuccess, 0.1)
	m.RecordCacheLookup("weather", "stale")
	m.RecordWeatherFetch(StatusError, 5)

	assert.InDelta(t, 1, testutil.ToFloat64(m.pluginRunsTotal.WithLabelValues("weather", StatusError)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.pluginRunsTotal.WithLabelValues("weather", StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.cacheLookupsTotal.WithLabelValues("weather", "stale")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.weatherFetchTotal.WithLabelValues(StatusError)), 0)
}

func TestDatastoreMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewDatastoreMetrics(registry)
	require.NoError(t, err)

	m.RecordDbOperation("insert", StatusSuccess, 0.001)
	m.RecordDbOperationError("delete", "not_found")
	m.UpdateRecordCount(42)
	m.UpdateSubscribers(2)
	m.RecordNotification("dropped")

	assert.InDelta(t, 1, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues("insert", StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.dbOperationErrorsTotal.WithLabelValues("delete", "not_found")), 0)
	assert.InDelta(t, 42, testutil.ToFloat64(m.recordCountGauge), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.subscribersGauge), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.notificationsTotal.WithLabelValues("dropped")), 0)
}

func TestMQTTMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewMQTTMetrics(registry)
	require.NoError(t, err)

	m.SetConnected(true)
	assert.InDelta(t, 1, testutil.ToFloat64(m.connected), 0)
	m.SetConnected(false)
	m.RecordConnectionEvent(MQTTLost)
	m.RecordConnectionEvent(MQTTReconnecting)
	m.SetConnected(true)

	assert.InDelta(t, 1, testutil.ToFloat64(m.connected), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.connectionEvents.WithLabelValues(MQTTConnected)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.connectionEvents.WithLabelValues(MQTTLost)), 0)

	m.RecordPublish(StatusSuccess, 0.01, 256)
	m.RecordPublish(StatusTimeout, 0, 0)
	m.RecordEventPublished("cough")

	assert.InDelta(t, 1, testutil.ToFloat64(m.publishes.WithLabelValues(StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.publishes.WithLabelValues(StatusTimeout)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.eventsPublished.WithLabelValues("cough")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.payloadSize), "only successful publishes are sized")
}

func TestNilReceiversAreSafe(t *testing.T) {
	var (
		audio     *AudioMetrics
		detection *DetectionMetrics
		disk      *DiskManagerMetrics
		enrich    *EnrichmentMetrics
		store     *DatastoreMetrics
		mq        *MQTTMetrics
	)

	assert.NotPanics(t, func() {
		audio.RecordFrame(1)
		audio.RecordDroppedFrame("paused")
		audio.RecordCaptureError()
		audio.UpdateBufferedSamples(1)
		audio.RecordClipWrite(StatusError, 0)
		detection.RecordClassification("none", 0)
		detection.RecordCycle(StatusPanic)
		detection.RecordEventFinalized("cough", "flush", 0)
		detection.RecordEventPersisted(StatusError)
		detection.SetClassifierMode("rules")
		detection.SetEngineState("idle")
		disk.UpdateClipUsage(0, 0)
		disk.UpdateDiskUtilization(0, 0)
		disk.RecordCleanupOperation(StatusSkipped, 0)
		disk.RecordCleanupError("x")
		disk.RecordFilesDeleted(0, 0)
		enrich.RecordPluginRun("x", StatusSuccess, 0)
		enrich.RecordCacheLookup("x", "hit")
		enrich.RecordWeatherFetch(StatusSuccess, 0)
		store.RecordDbOperation("x", StatusSuccess, 0)
		store.RecordDbOperationError("x", "y")
		store.UpdateRecordCount(0)
		store.UpdateSubscribers(0)
		store.RecordNotification("delivered")
		mq.SetConnected(true)
		mq.RecordConnectionEvent(MQTTLost)
		mq.RecordPublish(StatusSuccess, 0, 1)
		mq.RecordEventPublished("cough")
	})
}
