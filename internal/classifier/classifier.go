package classifier

import (
	"fmt"
	"time"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/cpuspec"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/logger"
	"github.com/tphakala/coughdetect/internal/observability/metrics"
)

// predictor is the model side of Adaptive.
type predictor interface {
	Classify(window []float32) (Result, error)
	Close()
}

// Adaptive classifies with a model when one is loaded and with rules
// otherwise. A model failure on one window falls back to the rule result
// for that window.
type Adaptive struct {
	model   predictor
	metrics *metrics.DetectionMetrics
}

// New creates a classifier from settings. A model that fails to load is
// logged and the classifier runs on rules; New never fails.
func New(settings conf.ClassifierSettings) *Adaptive {
	a := &Adaptive{}
	if settings.Mode == string(ModeRules) || settings.ModelPath == "" {
		GetLogger().Info("using rule-based classifier")
		return a
	}

	model, err := LoadModel(settings.ModelPath, cpuspec.ThreadCount(settings.Threads))
	if err != nil {
		GetLogger().Warn("model unavailable, falling back to rule-based classifier",
			logger.String("model_path", settings.ModelPath),
			logger.Error(err))
		return a
	}
	a.model = model
	return a
}

// NewWithModel wraps an already loaded model. A nil model selects rules.
func NewWithModel(model *Model) *Adaptive {
	if model == nil {
		return &Adaptive{}
	}
	return &Adaptive{model: model}
}

// SetMetrics attaches optional metrics and publishes the active mode.
func (a *Adaptive) SetMetrics(m *metrics.DetectionMetrics) {
	a.metrics = m
	m.SetClassifierMode(string(a.Mode()), string(ModeModel), string(ModeRules))
}

// Mode returns the active implementation.
func (a *Adaptive) Mode() Mode {
	if a.model != nil {
		return ModeModel
	}
	return ModeRules
}

// Classify implements Classifier. Only an empty window is an error.
func (a *Adaptive) Classify(window []float32) (Result, error) {
	if len(window) == 0 {
		return Result{}, errors.New(fmt.Errorf("%w: empty window", errors.ErrClassification)).
			Component("classifier").
			Category(errors.CategoryClassification).
			Build()
	}

	start := time.Now()
	result := a.classify(window)
	a.metrics.RecordClassification(result.Kind.String(), time.Since(start).Seconds())
	return result, nil
}

func (a *Adaptive) classify(window []float32) Result {
	if a.model == nil {
		return ClassifyRules(window)
	}

	result, err := a.model.Classify(window)
	if err != nil {
		GetLogger().Debug("model inference failed, using rules for this window", logger.Error(err))
		return ClassifyRules(window)
	}
	return result
}

// Close releases the model, if any.
func (a *Adaptive) Close() {
	if a.model != nil {
		a.model.Close()
	}
}
