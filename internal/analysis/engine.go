// Package analysis runs the detection pipeline: it schedules classification
// of the sliding window, segments positive windows into events and hands
// finalized events to the recorder.
package analysis

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/coughdetect/internal/classifier"
	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/logger"
	"github.com/tphakala/coughdetect/internal/myaudio"
	"github.com/tphakala/coughdetect/internal/observability/metrics"
)

// AudioSource is the capture loop driven by the engine.
type AudioSource interface {
	Start(ctx context.Context) error
	Pause()
	Resume()
	Stop() error
	Release() error
	Level() float64
}

// SourceFactory builds the audio source with the engine's frame and error
// handlers.
type SourceFactory func(onFrame func(myaudio.AudioFrame), onError func(error)) AudioSource

// EventSink receives finalized events.
type EventSink interface {
	Submit(ctx context.Context, event *AudioEvent) error
}

// Detection is the most recent positive classification.
type Detection struct {
	Kind       classifier.Kind `json:"kind"`
	Confidence float64         `json:"confidence"`
	Amplitude  float64         `json:"amplitude"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Stats summarizes positive detections since the engine was created.
type Stats struct {
	SessionID       string        `json:"sessionId"`
	Detections      int           `json:"detections"`
	EventsFinalized int           `json:"eventsFinalized"`
	FirstDetection  time.Time     `json:"firstDetection"`
	LastDetection   time.Time     `json:"lastDetection"`
	AverageInterval time.Duration `json:"averageInterval"`
}

// Config holds the engine collaborators.
type Config struct {
	Settings   conf.Provider
	Source     SourceFactory
	Classifier classifier.Classifier
	Sink       EventSink
	Metrics    *metrics.DetectionMetrics
	Audio      *metrics.AudioMetrics
	// SessionID identifies this run; a random one is generated when empty
	SessionID string
}

// Engine is the detection state machine. Start, Pause, Resume and Stop may
// be called from any goroutine.
type Engine struct {
	settings   conf.Provider
	source     AudioSource
	classifier classifier.Classifier
	sink       EventSink
	buffer     *myaudio.WindowBuffer
	metrics    *metrics.DetectionMetrics
	sessionID  string
	now        func() time.Time

	// control serializes Start, Pause, Resume and Stop
	control sync.Mutex

	mu         sync.Mutex
	state      State
	cancel     context.CancelFunc
	done       chan struct{}
	captureErr chan error
	lastErr    error
	lastEvent  *Detection

	segMu     sync.Mutex
	segmenter *Segmenter
	busy      atomic.Bool

	statsMu sync.Mutex
	stats   Stats

	subMu       sync.Mutex
	subscribers map[chan State]struct{}
}

// New creates an idle engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Settings == nil || cfg.Source == nil || cfg.Classifier == nil || cfg.Sink == nil {
		return nil, errors.Newf("engine requires settings, audio source, classifier and event sink").
			Component("analysis").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	e := &Engine{
		settings:    cfg.Settings,
		classifier:  cfg.Classifier,
		sink:        cfg.Sink,
		buffer:      myaudio.NewWindowBuffer(conf.WindowSamples),
		metrics:     cfg.Metrics,
		sessionID:   sessionID,
		now:         time.Now,
		state:       StateIdle,
		subscribers: make(map[chan State]struct{}),
		stats:       Stats{SessionID: sessionID},
	}
	e.buffer.SetMetrics(cfg.Audio)
	e.source = cfg.Source(e.handleFrame, e.handleCaptureError)
	e.metrics.SetEngineState(StateIdle.String(), allStates()...)
	return e, nil
}

// SessionID returns the identifier of this engine run.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Start begins capture and scheduling. It fails, leaving the engine idle,
// when the audio source cannot start. Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.control.Lock()
	defer e.control.Unlock()

	if e.State() != StateIdle {
		return nil
	}

	settings := e.settings.Settings()
	detection := settings.Detection
	interval := detection.Interval
	if interval <= 0 {
		interval = conf.DefaultInterval
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	captureErr := make(chan error, 1)

	e.mu.Lock()
	e.captureErr = captureErr
	e.mu.Unlock()

	if err := e.source.Start(sessionCtx); err != nil {
		cancel()
		e.mu.Lock()
		e.captureErr = nil
		e.lastErr = err
		e.mu.Unlock()
		GetLogger().Error("failed to start audio capture", logger.Error(err))
		return err
	}

	e.segMu.Lock()
	e.segmenter = NewSegmenter(detection.Threshold, detection.MaxEventDuration, e.buffer.HopSize())
	e.segMu.Unlock()

	done := make(chan struct{})
	e.mu.Lock()
	e.cancel = cancel
	e.done = done
	e.mu.Unlock()
	e.setState(StateRecording)

	go e.run(sessionCtx, interval, captureErr, done)

	GetLogger().Info("detection started",
		logger.String("session_id", e.sessionID),
		logger.Duration("interval", interval),
		logger.Float64("threshold", detection.Threshold))
	return nil
}

// Pause suspends detection without releasing the audio device. It only has
// an effect while recording; a cycle already in flight completes.
func (e *Engine) Pause() {
	e.control.Lock()
	defer e.control.Unlock()

	e.mu.Lock()
	if e.state != StateRecording && e.state != StateProcessing {
		e.mu.Unlock()
		return
	}
	e.setStateLocked(StatePaused)
	e.mu.Unlock()

	e.source.Pause()
	GetLogger().Info("detection paused")
}

// Resume continues a paused engine. It has no effect in other states.
func (e *Engine) Resume() {
	e.control.Lock()
	defer e.control.Unlock()

	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		return
	}
	e.setStateLocked(StateRecording)
	e.mu.Unlock()

	e.source.Resume()
	GetLogger().Info("detection resumed")
}

// Stop returns the engine to idle from any state. The open event is
// finalized and the window buffer is cleared. Stop waits for an in-flight
// cycle to complete.
func (e *Engine) Stop() {
	e.control.Lock()
	defer e.control.Unlock()

	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done
	GetLogger().Info("detection stopped", logger.String("session_id", e.sessionID))
}

// Close stops the engine, releases the audio device and closes all state
// subscriptions.
func (e *Engine) Close() error {
	e.Stop()

	e.subMu.Lock()
	for ch := range e.subscribers {
		delete(e.subscribers, ch)
		close(ch)
	}
	e.subMu.Unlock()

	return e.source.Release()
}

// run is the scheduler loop of one session.
func (e *Engine) run(ctx context.Context, interval time.Duration, captureErr <-chan error, done chan struct{}) {
	var cycles sync.WaitGroup
	ticker := time.NewTicker(interval)

	defer close(done)
	defer e.shutdown(ctx)
	defer ticker.Stop()
	defer cycles.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-captureErr:
			e.setLastError(err)
			GetLogger().Error("capture terminated, stopping detection", logger.Error(err))
			return
		case <-ticker.C:
			e.tick(ctx, &cycles)
		}
	}
}

// tick starts a cycle unless one is still running; overlapping ticks are
// skipped rather than queued.
func (e *Engine) tick(ctx context.Context, cycles *sync.WaitGroup) {
	if e.State() != StateRecording {
		return
	}
	if !e.busy.CompareAndSwap(false, true) {
		e.metrics.RecordCycle(metrics.StatusSkipped)
		GetLogger().Debug("detection cycle still running, tick skipped")
		return
	}

	cycles.Go(func() {
		defer e.busy.Store(false)
		e.runCycle(ctx)
	})
}

// runCycle moves Recording to Processing for the duration of one cycle.
func (e *Engine) runCycle(ctx context.Context) {
	if !e.transition(StateRecording, StateProcessing) {
		return
	}
	defer e.transition(StateProcessing, StateRecording)

	status := metrics.StatusSuccess
	if err := e.cycle(ctx); err != nil {
		status = metrics.StatusError
		if errors.Is(err, errNoWindow) {
			status = metrics.StatusSkipped
		} else {
			e.setLastError(err)
		}
	}
	e.metrics.RecordCycle(status)
}

var errNoWindow = errors.NewStd("no window available")

// cycle classifies one window. A classifier error or panic abandons only
// this cycle.
func (e *Engine) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Errorf("%w: classifier panicked: %v", errors.ErrClassification, r)).
				Component("analysis").
				Category(errors.CategoryClassification).
				Priority(errors.PriorityHigh).
				Build()
			GetLogger().Error("detection cycle panicked",
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
		}
	}()

	window, ok := e.buffer.TakeWindow()
	if !ok {
		return errNoWindow
	}

	result, err := e.classifier.Classify(window)
	if err != nil {
		if !errors.Is(err, errors.ErrClassification) {
			err = fmt.Errorf("%w: %w", errors.ErrClassification, err)
		}
		GetLogger().Warn("classification failed, cycle skipped", logger.Error(err))
		return err
	}

	ts := e.now()
	amplitude := e.source.Level()

	e.segMu.Lock()
	if e.segmenter == nil {
		e.segMu.Unlock()
		return nil
	}
	positive := result.IsPositive(e.segmenter.threshold)
	finalized := e.segmenter.Apply(result, window, amplitude, ts)
	e.segMu.Unlock()

	if positive {
		e.recordDetection(Detection{
			Kind:       result.Kind,
			Confidence: result.Confidence,
			Amplitude:  amplitude,
			Timestamp:  ts,
		})
	}
	// a positive event is handed off even when Stop cancels the session
	e.hand(context.WithoutCancel(ctx), finalized)
	return nil
}

// shutdown runs when a session ends, by Stop or by a capture failure.
func (e *Engine) shutdown(ctx context.Context) {
	if err := e.source.Stop(); err != nil {
		GetLogger().Warn("audio source stop failed", logger.Error(err))
	}

	e.segMu.Lock()
	var finalized *AudioEvent
	if e.segmenter != nil {
		finalized = e.segmenter.Flush()
	}
	e.segMu.Unlock()
	// the session context may already be cancelled
	e.hand(context.WithoutCancel(ctx), finalized)

	e.buffer.Reset()

	e.mu.Lock()
	if e.cancel != nil {
		// a capture failure ends the session without Stop
		e.cancel()
	}
	e.cancel = nil
	e.done = nil
	e.captureErr = nil
	e.setStateLocked(StateIdle)
	e.mu.Unlock()
}

// hand passes a finalized event to the sink
func (e *Engine) hand(ctx context.Context, event *AudioEvent) {
	if event == nil {
		return
	}

	e.metrics.RecordEventFinalized(event.Kind.String(), event.Reason, event.Duration().Seconds())
	e.statsMu.Lock()
	e.stats.EventsFinalized++
	e.statsMu.Unlock()

	GetLogger().Info("detection event finalized",
		logger.String("kind", event.Kind.String()),
		logger.String("reason", event.Reason),
		logger.Duration("duration", event.Duration()),
		logger.Float64("confidence", event.Confidence),
		logger.Float64("amplitude", event.Amplitude))

	if err := e.sink.Submit(ctx, event); err != nil {
		e.setLastError(err)
		GetLogger().Error("failed to hand off detection event", logger.Error(err))
	}
}

// handleFrame runs on the audio thread.
func (e *Engine) handleFrame(frame myaudio.AudioFrame) {
	switch e.State() {
	case StateRecording, StateProcessing:
		e.buffer.Push(frame.Samples)
	}
}

func (e *Engine) handleCaptureError(err error) {
	e.mu.Lock()
	ch := e.captureErr
	e.mu.Unlock()
	if ch == nil {
		e.setLastError(err)
		return
	}
	select {
	case ch <- err:
	default:
	}
}

func (e *Engine) recordDetection(d Detection) {
	e.mu.Lock()
	e.lastEvent = &d
	e.mu.Unlock()

	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.Detections++
	if e.stats.Detections == 1 {
		e.stats.FirstDetection = d.Timestamp
	}
	e.stats.LastDetection = d.Timestamp
	if e.stats.Detections > 1 {
		span := e.stats.LastDetection.Sub(e.stats.FirstDetection)
		e.stats.AverageInterval = span / time.Duration(e.stats.Detections-1)
	}
}

// AudioLevel returns the RMS of the latest captured frame, 0 when idle.
func (e *Engine) AudioLevel() float64 {
	if e.State() == StateIdle {
		return 0
	}
	return e.source.Level()
}

// LastEvent returns the most recent positive detection, or nil.
func (e *Engine) LastEvent() *Detection {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastEvent == nil {
		return nil
	}
	d := *e.lastEvent
	return &d
}

// LastError returns the most recent error, or nil.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// ClearError resets LastError.
func (e *Engine) ClearError() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = nil
}

func (e *Engine) setLastError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = err
}

// Stats returns detection statistics.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}
