package classifier

import "math"

// Rule classifier thresholds.
const (
	ruleRMSHigh           = 0.1
	ruleRMSLow            = 0.05
	ruleZCRThreshold      = 0.05
	ruleCentroidThreshold = 2000
)

// Features are the signal features the rule classifier decides on.
type Features struct {
	RMS      float64 // root mean square energy
	ZCR      float64 // sign changes per sample
	Centroid float64 // magnitude weighted mean sample index
}

// ExtractFeatures computes the rule classifier features of a window.
func ExtractFeatures(window []float32) Features {
	if len(window) == 0 {
		return Features{}
	}

	var sumSquares, sumMag, weighted float64
	crossings := 0
	for i, s := range window {
		v := float64(s)
		sumSquares += v * v
		mag := math.Abs(v)
		sumMag += mag
		weighted += float64(i) * mag
		if i > 0 && (s >= 0) != (window[i-1] >= 0) {
			crossings++
		}
	}

	f := Features{
		RMS: math.Sqrt(sumSquares / float64(len(window))),
		ZCR: float64(crossings) / float64(len(window)),
	}
	if sumMag > 0 {
		f.Centroid = weighted / sumMag
	}
	return f
}

// ClassifyRules classifies a window from its features. It is a pure
// function of the window.
func ClassifyRules(window []float32) Result {
	f := ExtractFeatures(window)

	isCough := (f.RMS > ruleRMSHigh && f.ZCR > ruleZCRThreshold) ||
		(f.RMS > ruleRMSLow && f.Centroid > ruleCentroidThreshold)

	if isCough {
		return Result{Kind: KindCough, Confidence: math.Min(f.RMS*2+f.ZCR*5, 1)}
	}
	return Result{Kind: KindNone, Confidence: math.Max(1-f.RMS*2, 0)}
}

// RuleClassifier is the Classifier form of ClassifyRules.
type RuleClassifier struct{}

// Classify implements Classifier.
func (RuleClassifier) Classify(window []float32) (Result, error) {
	return ClassifyRules(window), nil
}
