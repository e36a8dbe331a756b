package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLoggerLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelInfo, time.UTC)

	log.Debug("hidden")
	log.Info("visible", String("device", "default"), Int("sample_rate", 16000))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "device=default")
	assert.Contains(t, out, "sample_rate=16000")
}

func TestModuleNamesNest(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelDebug, time.UTC).Module("analysis").Module("recorder")

	log.Info("event persisted")
	assert.Contains(t, buf.String(), "module=analysis.recorder")
}

func TestWithFieldsDoNotLeakToParent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	parent := NewSlogLogger(&buf, LogLevelDebug, time.UTC)
	child := parent.With(String("session", "abc"))

	parent.Info("parent entry")
	child.Info("child entry")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "session=abc")
	assert.Contains(t, lines[1], "session=abc")
}

func TestWithContextAddsTraceID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelDebug, time.UTC)

	log.WithContext(WithTraceID(context.Background(), "session-1")).Info("cycle")
	assert.Contains(t, buf.String(), "trace_id=session-1")

	buf.Reset()
	log.WithContext(context.Background()).Info("cycle")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestTraceLevelName(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelTrace, time.UTC)
	log.Trace("sql query")
	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestFieldRendering(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "error", Error(os.ErrNotExist).Key)
	assert.Nil(t, Error(nil).Value)

	attr := fieldToAttr(Float64("confidence", 0.123456))
	assert.InDelta(t, 0.123, attr.Value.Float64(), 1e-9)

	attr = fieldToAttr(Duration("elapsed", 1500*time.Millisecond))
	assert.Equal(t, "1.5s", attr.Value.String())
}

func TestCentralLoggerFileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "app.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"noisy": "error"},
	})
	require.NoError(t, err)

	cl.Module("capture").Info("device started", Int("channels", 1))
	cl.Module("noisy").Info("suppressed")
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "device started", entry["msg"])
	assert.Equal(t, "capture", entry["module"])
	assert.InDelta(t, 1, entry["channels"], 0)
}

func TestCentralLoggerRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)
}
