package classifier

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/errors"
)

// synth builds a 16 kHz signal: a 1 kHz sine of the given RMS inside
// [from, to) and low level noise elsewhere.
func synth(total, from, to int, rms float64) []float32 {
	out := make([]float32, total)
	amp := rms * math.Sqrt2
	for i := range out {
		if i >= from && i < to {
			out[i] = float32(amp * math.Sin(2*math.Pi*1000*float64(i)/16000))
		} else {
			out[i] = float32(0.001 * math.Sin(2*math.Pi*50*float64(i)/16000))
		}
	}
	return out
}

func TestExtractFeatures(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Features{}, ExtractFeatures(nil))
	assert.Equal(t, Features{}, ExtractFeatures(make([]float32, 10)))

	f := ExtractFeatures([]float32{0.5, -0.5, 0.5, -0.5})
	assert.InDelta(t, 0.5, f.RMS, 1e-9)
	assert.InDelta(t, 0.75, f.ZCR, 1e-9)
	assert.InDelta(t, 1.5, f.Centroid, 1e-9)
}

func TestClassifyRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []float32
		want Kind
	}{
		{"silence", make([]float32, 16000), KindNone},
		{"loud tone", synth(16000, 0, 16000, 0.3), KindCough},
		{"quiet tone", synth(16000, 0, 16000, 0.02), KindNone},
		{"moderate energy late in window", synth(16000, 8000, 16000, 0.09), KindCough},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ClassifyRules(tt.in)
			assert.Equal(t, tt.want, got.Kind)
			assert.GreaterOrEqual(t, got.Confidence, 0.0)
			assert.LessOrEqual(t, got.Confidence, 1.0)
		})
	}
}

func TestClassifyRules_Deterministic(t *testing.T) {
	t.Parallel()

	window := synth(16000, 4000, 12000, 0.2)
	first := ClassifyRules(window)
	for range 10 {
		assert.Equal(t, first, ClassifyRules(window))
	}
}

func TestClassifyRules_Confidence(t *testing.T) {
	t.Parallel()

	silence := ClassifyRules(make([]float32, 100))
	assert.Equal(t, Result{Kind: KindNone, Confidence: 1}, silence)

	loud := ClassifyRules(synth(16000, 0, 16000, 0.3))
	assert.InDelta(t, 1.0, loud.Confidence, 1e-9, "clamped to 1")
}

// Three seconds of audio with a one second burst in the middle, cut into
// one second windows with 50% hop.
func TestClassifyRules_SyntheticBurstScenario(t *testing.T) {
	t.Parallel()

	signal := synth(48000, 16000, 32000, 0.3)
	for start := 0; start+16000 <= len(signal); start += 8000 {
		window := signal[start : start+16000]
		got := ClassifyRules(window)

		overlaps := start < 32000 && start+16000 > 16000
		if overlaps {
			assert.Equal(t, KindCough, got.Kind, "window at %d", start)
			assert.Greater(t, got.Confidence, 0.6, "window at %d", start)
		} else {
			assert.Equal(t, KindNone, got.Kind, "window at %d", start)
		}
	}
}

func TestSoftmaxAndDecide(t *testing.T) {
	t.Parallel()

	probs := softmax([]float32{0, 0})
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, probs, 1e-9)
	assert.Equal(t, Result{Kind: KindNone, Confidence: 0.5}, decide(probs), "0.5 is not above threshold")

	probs = softmax([]float32{0, 2})
	got := decide(probs)
	assert.Equal(t, KindCough, got.Kind)
	assert.InDelta(t, 1/(1+math.Exp(-2)), got.Confidence, 1e-9)

	got = decide(softmax([]float32{0, 1, 4}))
	assert.Equal(t, KindSnore, got.Kind)

	got = decide([]float64{0.2, 0.45, 0.35})
	assert.Equal(t, Result{Kind: KindNone, Confidence: 0.2}, got, "no class above threshold")

	big := softmax([]float32{1000, 0})
	assert.False(t, math.IsNaN(big[0]))
	assert.InDelta(t, 1, big[0], 1e-9)
}

func TestResultFromProbs_RejectsNonFinite(t *testing.T) {
	t.Parallel()

	nan := float32(math.NaN())
	for _, logits := range [][]float32{
		{nan, nan, nan},
		{0, nan, 1},
		{float32(math.Inf(1)), 0},
	} {
		_, err := resultFromProbs(softmax(logits))
		require.ErrorIs(t, err, errors.ErrClassification, "logits %v", logits)
	}

	got, err := resultFromProbs(softmax([]float32{0, 2}))
	require.NoError(t, err)
	assert.Equal(t, KindCough, got.Kind)
}

func TestPrepareInput(t *testing.T) {
	t.Parallel()

	short := prepareInput([]float32{0.5, -0.25}, nil)
	require.Len(t, short, ModelInputSize)
	assert.Equal(t, float32(0.5), short[0])
	assert.Zero(t, short[ModelInputSize-1])

	long := make([]float32, ModelInputSize+100)
	long[ModelInputSize] = 9
	assert.Len(t, prepareInput(long, nil), ModelInputSize)

	loud := prepareInput([]float32{2, -4, 1}, nil)
	assert.Equal(t, []float32{0.5, -1, 0.25}, loud[:3])

	reused := prepareInput([]float32{0.1}, short)
	assert.Zero(t, reused[1], "stale samples cleared")
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindCough, ParseKind("COUGH"))
	assert.Equal(t, KindSnore, ParseKind("snoring"))
	assert.Equal(t, KindNone, ParseKind("sneeze"))
	assert.Equal(t, "snore", KindSnore.String())
}

type failingModel struct{ closed bool }

func (m *failingModel) Classify([]float32) (Result, error) {
	return Result{}, fmt.Errorf("%w: invoke failed", errors.ErrClassification)
}

func (m *failingModel) Close() { m.closed = true }

type fixedModel struct{ result Result }

func (m fixedModel) Classify([]float32) (Result, error) { return m.result, nil }
func (fixedModel) Close()                               {}

func TestAdaptive_ModelFailureFallsBackToRules(t *testing.T) {
	t.Parallel()

	model := &failingModel{}
	a := &Adaptive{model: model}
	assert.Equal(t, ModeModel, a.Mode())

	window := synth(16000, 0, 16000, 0.3)
	got, err := a.Classify(window)
	require.NoError(t, err)
	assert.Equal(t, ClassifyRules(window), got)

	a.Close()
	assert.True(t, model.closed)
}

// logitsModel decides from fixed logits the way Model does
type logitsModel struct{ logits []float32 }

func (m logitsModel) Classify([]float32) (Result, error) { return resultFromProbs(softmax(m.logits)) }
func (logitsModel) Close()                               {}

func TestAdaptive_NaNModelOutputFallsBackToRules(t *testing.T) {
	t.Parallel()

	nan := float32(math.NaN())
	a := &Adaptive{model: logitsModel{logits: []float32{nan, nan, nan}}}

	window := synth(16000, 0, 16000, 0.3)
	got, err := a.Classify(window)
	require.NoError(t, err)
	assert.Equal(t, ClassifyRules(window), got)
	assert.False(t, math.IsNaN(got.Confidence))
	assert.GreaterOrEqual(t, got.Confidence, 0.0)
	assert.LessOrEqual(t, got.Confidence, 1.0)
}

func TestAdaptive_UsesModelResult(t *testing.T) {
	t.Parallel()

	want := Result{Kind: KindSnore, Confidence: 0.9}
	a := &Adaptive{model: fixedModel{result: want}}

	got, err := a.Classify(make([]float32, 16000))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAdaptive_EmptyWindowIsClassificationError(t *testing.T) {
	t.Parallel()

	_, err := NewWithModel(nil).Classify(nil)
	assert.ErrorIs(t, err, errors.ErrClassification)
}

func TestNew_DegradesToRules(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	corrupt := filepath.Join(dir, "corrupt.tflite")
	require.NoError(t, os.WriteFile(corrupt, []byte("not a flatbuffer"), 0o600))

	tests := []struct {
		name     string
		settings conf.ClassifierSettings
	}{
		{"no model configured", conf.ClassifierSettings{}},
		{"rules forced", conf.ClassifierSettings{ModelPath: corrupt, Mode: "rules"}},
		{"missing model file", conf.ClassifierSettings{ModelPath: filepath.Join(dir, "missing.tflite")}},
		{"corrupt model file", conf.ClassifierSettings{ModelPath: corrupt}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := New(tt.settings)
			defer a.Close()
			assert.Equal(t, ModeRules, a.Mode())

			got, err := a.Classify(synth(16000, 0, 16000, 0.3))
			require.NoError(t, err)
			assert.Equal(t, KindCough, got.Kind)
		})
	}
}
