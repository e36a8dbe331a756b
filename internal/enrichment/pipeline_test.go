package enrichment

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/datastore"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/suncalc"
	"github.com/tphakala/coughdetect/internal/weather"
)

// staticPlugin returns a fixed value
type staticPlugin struct {
	name  string
	value string
}

func (p *staticPlugin) Name() string { return p.name }
func (p *staticPlugin) Initialize(Environment) error { return nil }
func (p *staticPlugin) Process(context.Context, *datastore.EventRecord) (string, error) {
	return p.value, nil
}

// failingPlugin fails on every call
type failingPlugin struct{ calls atomic.Int32 }

func (p *failingPlugin) Name() string { return "failing" }
func (p *failingPlugin) Initialize(Environment) error { return nil }
func (p *failingPlugin) Process(context.Context, *datastore.EventRecord) (string, error) {
	p.calls.Add(1)
	return "", errors.NewStd("always fails")
}

type panickingPlugin struct{}

func (panickingPlugin) Name() string { return "panicking" }
func (panickingPlugin) Initialize(Environment) error { return nil }
func (panickingPlugin) Process(context.Context, *datastore.EventRecord) (string, error) {
	panic("boom")
}

// mutatingPlugin changes the record it receives
type mutatingPlugin struct{}

func (mutatingPlugin) Name() string { return "mutating" }
func (mutatingPlugin) Initialize(Environment) error { return nil }
func (mutatingPlugin) Process(_ context.Context, r *datastore.EventRecord) (string, error) {
	r.Confidence = 0
	return "changed", nil
}

// confidencePlugin reports the confidence it sees
type confidencePlugin struct{}

func (confidencePlugin) Name() string { return "confidence" }
func (confidencePlugin) Initialize(Environment) error { return nil }
func (confidencePlugin) Process(_ context.Context, r *datastore.EventRecord) (string, error) {
	data, err := json.Marshal(r.Confidence)
	return string(data), err
}

type initFailPlugin struct{}

func (initFailPlugin) Name() string { return "broken" }
func (initFailPlugin) Initialize(Environment) error {
	return errors.NewStd("no config")
}
func (initFailPlugin) Process(context.Context, *datastore.EventRecord) (string, error) {
	return "unreachable", nil
}

func testEnv(settings *conf.Settings) Environment {
	return Environment{Settings: conf.NewStore(settings), SessionID: "test-session"}
}

func testRecord() *datastore.EventRecord {
	return &datastore.EventRecord{
		Timestamp:  time.Date(2024, 3, 20, 10, 20, 0, 0, time.UTC),
		DurationMs: 1200,
		Confidence: 0.8,
		EventType:  datastore.EventCough,
	}
}

func decodePayload(t *testing.T, payload string) map[string]string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(payload), &out))
	return out
}

func TestAlwaysFailingPluginYieldsValidPayload(t *testing.T) {
	t.Parallel()

	failing := &failingPlugin{}
	p := NewPipeline(testEnv(&conf.Settings{}), failing)

	payload := p.Process(context.Background(), testRecord())
	assert.JSONEq(t, "{}", payload)
	assert.Equal(t, int32(1), failing.calls.Load())
}

func TestFailuresOmitOnlyTheirKey(t *testing.T) {
	t.Parallel()

	p := NewPipeline(testEnv(&conf.Settings{}),
		&staticPlugin{name: "first", value: `{"a":1}`},
		&failingPlugin{},
		panickingPlugin{},
		&staticPlugin{name: "last", value: "ok"},
	)

	got := decodePayload(t, p.Process(context.Background(), testRecord()))
	assert.Equal(t, map[string]string{"first": `{"a":1}`, "last": "ok"}, got)
}

func TestPluginsSeeTheBaseRecord(t *testing.T) {
	t.Parallel()

	record := testRecord()
	p := NewPipeline(testEnv(&conf.Settings{}), mutatingPlugin{}, confidencePlugin{})

	got := p.Collect(context.Background(), record)
	assert.Equal(t, "0.8", got["confidence"])
	assert.InDelta(t, 0.8, record.Confidence, 1e-9)
}

func TestInitializeFailureDropsPlugin(t *testing.T) {
	t.Parallel()

	p := NewPipeline(testEnv(&conf.Settings{}),
		&staticPlugin{name: "kept", value: "v"},
		initFailPlugin{},
	)
	assert.Equal(t, []string{"kept"}, p.Plugins())
}

func TestDisabledPluginsContributeNothing(t *testing.T) {
	t.Parallel()

	p := NewPipeline(testEnv(&conf.Settings{}), DefaultPlugins()...)
	assert.Equal(t, []string{"location", "weather", "daylight"}, p.Plugins())
	assert.JSONEq(t, "{}", p.Process(context.Background(), testRecord()))
}

func enabledSettings() *conf.Settings {
	s := conf.Defaults()
	s.Enrichment.Location = conf.LocationSettings{Enabled: true, Latitude: 60.1699, Longitude: 24.9384, Accuracy: 25}
	s.Enrichment.Daylight.Enabled = true
	return s
}

func TestLocationPluginCachesFix(t *testing.T) {
	t.Parallel()

	store := conf.NewStore(enabledSettings())
	plugin := NewLocationPlugin()
	now := time.UnixMilli(1_700_000_000_000)
	plugin.now = func() time.Time { return now }
	require.NoError(t, plugin.Initialize(Environment{Settings: store}))

	first, err := plugin.Process(context.Background(), testRecord())
	require.NoError(t, err)

	var loc Location
	require.NoError(t, json.Unmarshal([]byte(first), &loc))
	assert.InDelta(t, 60.1699, loc.Latitude, 1e-9)
	assert.InDelta(t, 25.0, loc.Accuracy, 1e-9)
	assert.Equal(t, now.UnixMilli(), loc.Timestamp)

	// cached fix keeps its timestamp
	now = now.Add(time.Minute)
	second, err := plugin.Process(context.Background(), testRecord())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// moving the station invalidates the cache
	require.NoError(t, store.Update(func(s *conf.Settings) {
		s.Enrichment.Location.Latitude = 61
	}))
	third, err := plugin.Process(context.Background(), testRecord())
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestDaylightPlugin(t *testing.T) {
	t.Parallel()

	plugin := NewDaylightPlugin()
	require.NoError(t, plugin.Initialize(testEnv(enabledSettings())))

	payload, err := plugin.Process(context.Background(), testRecord())
	require.NoError(t, err)

	var daylight Daylight
	require.NoError(t, json.Unmarshal([]byte(payload), &daylight))
	assert.Equal(t, suncalc.PhaseDay, daylight.Phase)
	assert.True(t, daylight.Sunrise.Before(daylight.Sunset))
}

func TestDaylightPluginRequiresLocation(t *testing.T) {
	t.Parallel()

	s := conf.Defaults()
	s.Enrichment.Daylight.Enabled = true
	plugin := NewDaylightPlugin()
	require.NoError(t, plugin.Initialize(testEnv(s)))

	_, err := plugin.Process(context.Background(), testRecord())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

// fakeWeather counts fetches and fails on demand
type fakeWeather struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (f *fakeWeather) FetchWeather(context.Context, float64, float64) (*weather.WeatherData, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, errors.NewStd("provider down")
	}
	return &weather.WeatherData{Description: "light rain", Temperature: 12.5, Humidity: 81}, nil
}

func TestWeatherPlugin(t *testing.T) {
	t.Parallel()

	settings := enabledSettings()
	settings.Enrichment.Weather.Enabled = true
	settings.Enrichment.Weather.APIKey = "key"
	settings.Enrichment.Weather.CacheTTL = time.Hour
	store := conf.NewStore(settings)

	fake := &fakeWeather{}
	var built atomic.Int32
	plugin := NewWeatherPlugin()
	plugin.newProvider = func(*conf.WeatherSettings) (weather.Provider, error) {
		built.Add(1)
		return fake, nil
	}
	require.NoError(t, plugin.Initialize(Environment{Settings: store}))

	payload, err := plugin.Process(context.Background(), testRecord())
	require.NoError(t, err)

	var data weather.WeatherData
	require.NoError(t, json.Unmarshal([]byte(payload), &data))
	assert.Equal(t, "light rain", data.Description)

	// served from cache, even with the provider down
	fake.fail.Store(true)
	again, err := plugin.Process(context.Background(), testRecord())
	require.NoError(t, err)
	assert.Equal(t, payload, again)
	assert.Equal(t, int32(1), fake.calls.Load())

	// a new API key rebuilds the client
	require.NoError(t, store.Update(func(s *conf.Settings) {
		s.Enrichment.Weather.APIKey = "rotated"
	}))
	_, err = plugin.Process(context.Background(), testRecord())
	require.NoError(t, err)
	assert.Equal(t, int32(2), built.Load())
}

func TestWeatherPluginMissingAPIKey(t *testing.T) {
	t.Parallel()

	settings := enabledSettings()
	settings.Enrichment.Weather.Enabled = true
	plugin := NewWeatherPlugin()
	require.NoError(t, plugin.Initialize(testEnv(settings)))

	_, err := plugin.Process(context.Background(), testRecord())
	require.Error(t, err)
}
