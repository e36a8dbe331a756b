package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/coughdetect/internal/conf"
)

func TestGetConfig_OmitsSecrets(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	require.NoError(t, env.settings.Update(func(s *conf.Settings) {
		s.MQTT.Password = "hunter2"
		s.Sentry.DSN = "https://key@sentry.example/1"
	}))

	rec := env.do(t, http.MethodGet, "/api/v1/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.NotContains(t, rec.Body.String(), "sentry.example")

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Contains(t, raw, "detection")
}

func TestUpdateDetectionConfig(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodPatch, "/api/v1/config/detection",
		`{"threshold":0.75,"minEventDuration":"300ms"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	detection := env.settings.Settings().Detection
	assert.InDelta(t, 0.75, detection.Threshold, 1e-9)
	assert.Equal(t, 300*time.Millisecond, detection.MinEventDuration)
	// untouched fields keep their defaults
	assert.Equal(t, conf.DefaultInterval, detection.Interval)
}

func TestUpdateDetectionConfig_Rejected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	before := env.settings.Settings().Detection

	for _, body := range []string{
		`{"threshold":1.5}`,
		`{"minEventDuration":"5s"}`,
		`{"interval":"soon"}`,
		`not json`,
	} {
		rec := env.do(t, http.MethodPatch, "/api/v1/config/detection", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	assert.Equal(t, before, env.settings.Settings().Detection)
}
