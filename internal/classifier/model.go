package classifier

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tflite "github.com/tphakala/go-tflite"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/logger"
)

// Model input and decision constants.
const (
	ModelInputSize      = conf.WindowSamples
	modelClassThreshold = 0.5
)

// Model runs a TFLite waveform classifier. The output is either
// [none, cough] or [none, cough, snore]; a softmax is applied to it.
type Model struct {
	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	numClasses  int
	path        string
	input       []float32
}

// LoadModel loads a TFLite model from path and allocates an interpreter
// using threads threads.
func LoadModel(path string, threads int) (*Model, error) {
	start := time.Now()

	modelPath, err := expandPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(modelPath) //nolint:gosec // G304: modelPath is from application settings
	if err != nil {
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryModelLoad).
			FileContext(modelPath, 0).
			Timing("model-file-read", time.Since(start)).
			Build()
	}

	model := tflite.NewModel(data)
	if model == nil {
		return nil, errors.New(fmt.Errorf("cannot load TensorFlow Lite model")).
			Component("classifier").
			Category(errors.CategoryModelInit).
			FileContext(modelPath, int64(len(data))).
			Timing("model-init", time.Since(start)).
			Build()
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(max(1, threads))
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	m := &Model{model: model, options: options, path: modelPath}

	m.interpreter = tflite.NewInterpreter(model, options)
	if m.interpreter == nil {
		m.Close()
		return nil, errors.New(fmt.Errorf("cannot create interpreter")).
			Component("classifier").
			Category(errors.CategoryModelInit).
			Build()
	}
	if status := m.interpreter.AllocateTensors(); status != tflite.OK {
		m.Close()
		return nil, errors.New(fmt.Errorf("tensor allocation failed: %v", status)).
			Component("classifier").
			Category(errors.CategoryModelInit).
			Build()
	}

	output := m.interpreter.GetOutputTensor(0)
	if output == nil || output.NumDims() == 0 {
		m.Close()
		return nil, errors.New(fmt.Errorf("model has no output tensor")).
			Component("classifier").
			Category(errors.CategoryModelInit).
			Build()
	}
	m.numClasses = output.Dim(output.NumDims() - 1)
	if m.numClasses != 2 && m.numClasses != 3 {
		m.Close()
		return nil, errors.New(fmt.Errorf("unsupported model output size %d, want 2 or 3 classes", m.numClasses)).
			Component("classifier").
			Category(errors.CategoryModelInit).
			Context("classes", m.numClasses).
			Build()
	}

	GetLogger().Info("model initialized",
		logger.String("model", filepath.Base(modelPath)),
		logger.Int("classes", m.numClasses),
		logger.Int("threads", max(1, threads)),
		logger.Duration("load_time", time.Since(start)))

	return m, nil
}

// expandPath expands environment variables and a leading ~/.
func expandPath(path string) (string, error) {
	p := os.ExpandEnv(path)
	if strings.HasPrefix(p, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", errors.New(err).
				Component("classifier").
				Category(errors.CategoryFileIO).
				Context("operation", "expand_model_path").
				Build()
		}
		p = filepath.Join(homeDir, p[2:])
	}
	return p, nil
}

// NumClasses returns the model output size.
func (m *Model) NumClasses() int { return m.numClasses }

// Predict returns the softmax class probabilities for a window. The window is
// padded or truncated to ModelInputSize and peak normalized when it exceeds
// full scale.
func (m *Model) Predict(window []float32) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.interpreter == nil {
		return nil, fmt.Errorf("%w: model closed", errors.ErrClassification)
	}

	m.input = prepareInput(window, m.input)

	inputTensor := m.interpreter.GetInputTensor(0)
	if inputTensor == nil {
		return nil, fmt.Errorf("%w: cannot get input tensor", errors.ErrClassification)
	}
	copy(inputTensor.Float32s(), m.input)

	if status := m.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("%w: tensor invoke failed: %v", errors.ErrClassification, status)
	}

	outputTensor := m.interpreter.GetOutputTensor(0)
	logits := outputTensor.Float32s()
	if len(logits) < m.numClasses {
		return nil, fmt.Errorf("%w: output has %d values, want %d", errors.ErrClassification, len(logits), m.numClasses)
	}
	return softmax(logits[:m.numClasses]), nil
}

// Classify implements Classifier.
func (m *Model) Classify(window []float32) (Result, error) {
	probs, err := m.Predict(window)
	if err != nil {
		return Result{}, err
	}
	return resultFromProbs(probs)
}

// resultFromProbs rejects non-finite probabilities, which a model emits for
// NaN or infinite logits, and decides otherwise.
func resultFromProbs(probs []float64) (Result, error) {
	for i, p := range probs {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return Result{}, fmt.Errorf("%w: model output %d is not a finite probability", errors.ErrClassification, i)
		}
	}
	return decide(probs), nil
}

// Close releases the interpreter and the model.
func (m *Model) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.interpreter != nil {
		m.interpreter.Delete()
		m.interpreter = nil
	}
	if m.options != nil {
		m.options.Delete()
		m.options = nil
	}
	if m.model != nil {
		m.model.Delete()
		m.model = nil
	}
}

// prepareInput pads or truncates window to ModelInputSize and scales it
// down when its peak exceeds 1.
func prepareInput(window, dst []float32) []float32 {
	if cap(dst) < ModelInputSize {
		dst = make([]float32, ModelInputSize)
	}
	dst = dst[:ModelInputSize]
	n := copy(dst, window)
	clear(dst[n:])

	var peak float32
	for _, s := range dst {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	if peak > 1 {
		for i := range dst {
			dst[i] /= peak
		}
	}
	return dst
}

func softmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxLogit := math.Inf(-1)
	for _, v := range logits {
		maxLogit = math.Max(maxLogit, float64(v))
	}
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(float64(v) - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// decide picks the dominant class when its probability is above 0.5.
// Index 0 is none, 1 cough, 2 snore.
func decide(probs []float64) Result {
	if len(probs) == 0 {
		return Result{Kind: KindNone}
	}
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	if best == 0 || probs[best] <= modelClassThreshold {
		return Result{Kind: KindNone, Confidence: probs[0]}
	}
	return Result{Kind: Kind(best), Confidence: probs[best]}
}
