package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/coughdetect/internal/classifier"
	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/myaudio"
)

// WindowResult is the classification of one window of recorded audio.
type WindowResult struct {
	Offset time.Duration
	classifier.Result
	RMS float64
}

// FileAnalysis is the outcome of AnalyzeSamples.
type FileAnalysis struct {
	Windows []WindowResult
	Events  []*AudioEvent
}

// AnalyzeSamples runs recorded audio through the same windowing and
// segmentation as the realtime engine: one-second windows advancing by half
// a window, each classified and fed to a segmenter. Event start times are
// start plus the offset of their first window. A trailing partial window is
// not classified.
func AnalyzeSamples(ctx context.Context, cls classifier.Classifier, samples []float32, detection conf.DetectionSettings, start time.Time) (*FileAnalysis, error) {
	window := conf.WindowSamples
	hop := window / 2
	seg := NewSegmenter(detection.Threshold, detection.MaxEventDuration, hop)

	result := &FileAnalysis{}
	for off := 0; off+window <= len(samples); off += hop {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		w := samples[off : off+window]
		r, err := cls.Classify(w)
		if err != nil {
			return result, errors.New(fmt.Errorf("%w: %w", errors.ErrClassification, err)).
				Component("analysis").
				Category(errors.CategoryClassification).
				Context("offset_samples", off).
				Build()
		}

		offset := time.Duration(off) * time.Second / conf.SampleRate
		rms := myaudio.CalculateRMS(w)
		result.Windows = append(result.Windows, WindowResult{Offset: offset, Result: r, RMS: rms})

		if ev := seg.Apply(r, w, rms, start.Add(offset)); ev != nil {
			result.Events = append(result.Events, ev)
		}
	}
	if ev := seg.Flush(); ev != nil {
		result.Events = append(result.Events, ev)
	}
	return result, nil
}
