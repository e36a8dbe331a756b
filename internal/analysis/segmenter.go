package analysis

import (
	"time"

	"github.com/tphakala/coughdetect/internal/classifier"
	"github.com/tphakala/coughdetect/internal/conf"
)

// Finalize reasons reported in metrics and logs.
const (
	ReasonMaxDuration = "max_duration"
	ReasonLapse       = "lapse"
	ReasonFlush       = "flush"
)

// AudioEvent is one cough or snore episode built from consecutive positive
// windows.
type AudioEvent struct {
	Start      time.Time
	Kind       classifier.Kind
	Samples    []float32
	Amplitude  float64 // highest audio level seen while the event was open
	Confidence float64 // best confidence seen
	Windows    int
	Reason     string // why the event was closed
}

// Duration returns the length of the accumulated audio.
func (e *AudioEvent) Duration() time.Duration {
	return time.Duration(len(e.Samples)) * time.Second / conf.SampleRate
}

// Segmenter aggregates positive classifications into AudioEvents. At most one
// event is open at a time. Segmenter is not safe for concurrent use.
type Segmenter struct {
	threshold   float64
	maxDuration time.Duration
	hop         int

	current *AudioEvent
	// contiguous is set when the previous window was appended, in which
	// case only the new hop of the next window is appended
	contiguous bool
}

// NewSegmenter creates a segmenter. hop is the number of new samples
// between consecutive windows.
func NewSegmenter(threshold float64, maxDuration time.Duration, hop int) *Segmenter {
	return &Segmenter{
		threshold:   threshold,
		maxDuration: maxDuration,
		hop:         hop,
	}
}

// Apply feeds one classified window. It returns the event that was closed by
// this window, or nil. Closing happens when the open event grows past the
// maximum duration or when a window is no longer positive; the next event
// opens on the next positive window.
func (s *Segmenter) Apply(result classifier.Result, window []float32, amplitude float64, ts time.Time) *AudioEvent {
	if !result.IsPositive(s.threshold) {
		s.contiguous = false
		return s.finalize(ReasonLapse)
	}

	if s.current == nil {
		s.current = &AudioEvent{Start: ts, Kind: result.Kind}
		s.contiguous = false
	}
	e := s.current

	if s.contiguous && s.hop > 0 && s.hop < len(window) {
		e.Samples = append(e.Samples, window[len(window)-s.hop:]...)
	} else {
		e.Samples = append(e.Samples, window...)
	}
	s.contiguous = true
	e.Windows++

	e.Amplitude = max(e.Amplitude, amplitude)
	if result.Confidence > e.Confidence {
		e.Confidence = result.Confidence
		e.Kind = result.Kind
	}

	if e.Duration() > s.maxDuration {
		s.contiguous = false
		return s.finalize(ReasonMaxDuration)
	}
	return nil
}

// Flush closes the open event unconditionally. It returns nil when no event
// is open.
func (s *Segmenter) Flush() *AudioEvent {
	s.contiguous = false
	return s.finalize(ReasonFlush)
}

// Open reports whether an event is currently open.
func (s *Segmenter) Open() bool {
	return s.current != nil
}

func (s *Segmenter) finalize(reason string) *AudioEvent {
	e := s.current
	if e == nil {
		return nil
	}
	s.current = nil
	e.Reason = reason
	return e
}
