package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/datastore"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/observability/metrics"
)

// mockClient records published messages
type mockClient struct {
	mu         sync.Mutex
	connected  bool
	connects   int
	connectErr error
	publishErr error
	messages   map[string][]string
}

func (m *mockClient) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

func (m *mockClient) Publish(_ context.Context, topic, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	if m.messages == nil {
		m.messages = make(map[string][]string)
	}
	m.messages[topic] = append(m.messages[topic], payload)
	return nil
}

func (m *mockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockClient) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func testRecord() *datastore.EventRecord {
	return &datastore.EventRecord{
		ID:            42,
		Timestamp:     time.Date(2024, 3, 20, 23, 15, 42, 123_000_000, time.UTC),
		AudioFilePath: "/var/lib/coughdetect/clips/cough_audio/cough_20240320_231542_123.wav",
		DurationMs:    1500,
		Confidence:    0.91,
		Amplitude:     0.34,
		EventType:     datastore.EventCough,
		Extensions:    `{"daylight":"{\"phase\":\"night\"}"}`,
	}
}

func TestEventPublisher_PublishesToEventsTopic(t *testing.T) {
	t.Parallel()

	client := &mockClient{}
	p := NewEventPublisher(client, &conf.MQTTSettings{Topic: "home/bedroom/"}, "session-1")
	assert.Equal(t, "home/bedroom/events", p.Topic())

	require.NoError(t, p.Publish(context.Background(), testRecord()))
	assert.Equal(t, 1, client.connects)

	msgs := client.messages["home/bedroom/events"]
	require.Len(t, msgs, 1)

	var dto EventDTO
	require.NoError(t, json.Unmarshal([]byte(msgs[0]), &dto))
	assert.Equal(t, uint(42), dto.ID)
	assert.Equal(t, "COUGH", dto.EventType)
	assert.Equal(t, "cough_20240320_231542_123.wav", dto.ClipName)
	assert.Equal(t, "session-1", dto.SessionID)
	assert.Equal(t, "2024-03-20T23:15:42.123Z", dto.Timestamp)
	assert.JSONEq(t, `{"daylight":"{\"phase\":\"night\"}"}`, string(dto.Extensions))

	ts, err := dto.Time()
	require.NoError(t, err)
	assert.True(t, ts.Equal(testRecord().Timestamp))

	// already connected, no reconnect
	require.NoError(t, p.Publish(context.Background(), testRecord()))
	assert.Equal(t, 1, client.connects)
}

func TestEventPublisher_DefaultTopic(t *testing.T) {
	t.Parallel()

	p := NewEventPublisher(&mockClient{}, &conf.MQTTSettings{}, "")
	assert.Equal(t, "coughdetect/events", p.Topic())
}

func TestEventPublisher_Errors(t *testing.T) {
	t.Parallel()

	connectErr := errors.NewStd("broker unreachable")
	p := NewEventPublisher(&mockClient{connectErr: connectErr}, &conf.MQTTSettings{Topic: "t"}, "")
	assert.ErrorIs(t, p.Publish(context.Background(), testRecord()), connectErr)

	publishErr := errors.NewStd("publish failed")
	p = NewEventPublisher(&mockClient{connected: true, publishErr: publishErr}, &conf.MQTTSettings{Topic: "t"}, "")
	assert.ErrorIs(t, p.Publish(context.Background(), testRecord()), publishErr)
}

func TestNewEventDTO_OmitsEmptyFields(t *testing.T) {
	t.Parallel()

	r := testRecord()
	r.AudioFilePath = ""
	r.Extensions = "{}"

	data, err := json.Marshal(NewEventDTO(r, ""))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "clipName")
	assert.NotContains(t, raw, "extensions")
	assert.NotContains(t, raw, "sessionId")

	r.Extensions = "not json"
	assert.Nil(t, NewEventDTO(r, "").Extensions)
}

func TestEventPublisher_CountsDeliveredEvents(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := metrics.NewMQTTMetrics(registry)
	require.NoError(t, err)

	client := &mockClient{connected: true}
	p := NewEventPublisher(client, &conf.MQTTSettings{Topic: "coughdetect"}, "session")
	p.SetMetrics(m)

	require.NoError(t, p.Publish(context.Background(), testRecord()))

	client.publishErr = errors.NewStd("broker gone")
	require.Error(t, p.Publish(context.Background(), testRecord()))

	expected := `
# HELP mqtt_detection_events_published_total Detection events delivered to the broker
# TYPE mqtt_detection_events_published_total counter
mqtt_detection_events_published_total{kind="cough"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "mqtt_detection_events_published_total"))
}
