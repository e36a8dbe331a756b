package analysis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/coughdetect/internal/classifier"
	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/myaudio"
	"github.com/tphakala/coughdetect/internal/testutil"
)

const (
	waitFor = 2 * time.Second
	pollAt  = 5 * time.Millisecond
)

// fakeSource stands in for the capture loop; the test pushes frames itself.
type fakeSource struct {
	onFrame func(myaudio.AudioFrame)
	onError func(error)

	startErr error
	level    float64

	mu       sync.Mutex
	ctx      context.Context
	started  int
	paused   bool
	stops    int
	released bool
}

func (s *fakeSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.ctx = ctx
	s.started++
	return nil
}

func (s *fakeSource) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

func (s *fakeSource) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *fakeSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	return nil
}

func (s *fakeSource) Level() float64 { return s.level }

func (s *fakeSource) sessionCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *fakeSource) feed(samples []float32) {
	s.onFrame(myaudio.AudioFrame{Samples: samples, Timestamp: time.Now()})
}

// classifierFunc adapts a function to classifier.Classifier
type classifierFunc func([]float32) (classifier.Result, error)

func (f classifierFunc) Classify(w []float32) (classifier.Result, error) { return f(w) }

// eventSink collects finalized events
type eventSink struct {
	mu     sync.Mutex
	events []*AudioEvent
}

func (s *eventSink) Submit(_ context.Context, e *AudioEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *eventSink) all() []*AudioEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*AudioEvent(nil), s.events...)
}

func alwaysCough([]float32) (classifier.Result, error) {
	return classifier.Result{Kind: classifier.KindCough, Confidence: 0.9}, nil
}

func newTestEngine(t *testing.T, cls classifier.Classifier, interval time.Duration) (*Engine, *fakeSource, *eventSink) {
	t.Helper()

	settings := conf.Defaults()
	settings.Detection.Interval = interval

	src := &fakeSource{level: 0.3}
	sink := &eventSink{}
	e, err := New(Config{
		Settings: conf.NewStore(settings),
		Source: func(onFrame func(myaudio.AudioFrame), onError func(error)) AudioSource {
			src.onFrame, src.onError = onFrame, onError
			return src
		},
		Classifier: cls,
		Sink:       sink,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, src, sink
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Settings: conf.NewStore(conf.Defaults())})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestEngine_IdleIgnoresPauseResumeStop(t *testing.T) {
	t.Parallel()

	e, src, _ := newTestEngine(t, classifierFunc(alwaysCough), time.Hour)
	assert.NotEmpty(t, e.SessionID())

	e.Pause()
	assert.Equal(t, StateIdle, e.State())
	e.Resume()
	assert.Equal(t, StateIdle, e.State())
	e.Stop()
	assert.Equal(t, StateIdle, e.State())

	assert.Zero(t, src.started)
	assert.False(t, src.paused)
	assert.Zero(t, e.AudioLevel())
}

func TestEngine_StartFailureStaysIdle(t *testing.T) {
	t.Parallel()

	e, src, _ := newTestEngine(t, classifierFunc(alwaysCough), time.Hour)
	src.startErr = fmt.Errorf("%w: no microphone", errors.ErrDeviceUnavailable)

	err := e.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDeviceUnavailable)
	assert.Equal(t, StateIdle, e.State())
	assert.ErrorIs(t, e.LastError(), errors.ErrDeviceUnavailable)

	e.ClearError()
	assert.NoError(t, e.LastError())
}

func TestEngine_Lifecycle(t *testing.T) {
	t.Parallel()

	e, src, _ := newTestEngine(t, classifierFunc(alwaysCough), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	states := e.Subscribe(ctx)
	assert.Equal(t, StateIdle, testutil.Receive(t, states, waitFor, "state"))

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, StateRecording, testutil.Receive(t, states, waitFor, "state"))
	assert.InDelta(t, 0.3, e.AudioLevel(), 1e-9)

	// a second start is a no-op
	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, 1, src.started)

	e.Resume()
	assert.Equal(t, StateRecording, e.State())

	e.Pause()
	assert.Equal(t, StatePaused, testutil.Receive(t, states, waitFor, "state"))
	assert.True(t, src.paused)

	e.Resume()
	assert.Equal(t, StateRecording, testutil.Receive(t, states, waitFor, "state"))
	assert.False(t, src.paused)

	e.Stop()
	assert.Equal(t, StateIdle, testutil.Receive(t, states, waitFor, "state"))
	assert.Equal(t, 1, src.stops)

	// restartable after stop
	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, StateRecording, testutil.Receive(t, states, waitFor, "state"))
	e.Stop()
	assert.Equal(t, StateIdle, testutil.Receive(t, states, waitFor, "state"))

	cancel()
	testutil.WaitForClose(t, states, waitFor, "state stream")
}

func TestEngine_StopFromPausedFlushes(t *testing.T) {
	t.Parallel()

	e, src, sink := newTestEngine(t, classifierFunc(alwaysCough), 10*time.Millisecond)
	require.NoError(t, e.Start(context.Background()))

	src.feed(testWindow(0.2))
	require.Eventually(t, func() bool { return e.Stats().Detections == 1 }, waitFor, pollAt)

	e.Pause()
	e.Stop()
	assert.Equal(t, StateIdle, e.State())

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, ReasonFlush, events[0].Reason)
	assert.Len(t, events[0].Samples, conf.WindowSamples)
	assert.InDelta(t, 0.3, events[0].Amplitude, 1e-9)
	assert.Zero(t, e.buffer.Len())

	last := e.LastEvent()
	require.NotNil(t, last)
	assert.Equal(t, classifier.KindCough, last.Kind)
	assert.Equal(t, 1, e.Stats().EventsFinalized)

	// nothing is left open for a second stop
	e.Stop()
	assert.Len(t, sink.all(), 1)
}

func TestEngine_PausedDiscardsFrames(t *testing.T) {
	t.Parallel()

	e, src, _ := newTestEngine(t, classifierFunc(alwaysCough), time.Hour)
	require.NoError(t, e.Start(context.Background()))
	e.Pause()

	src.feed(testWindow(0.2))
	assert.Zero(t, e.buffer.Len())

	e.Resume()
	src.feed(testWindow(0.2))
	assert.Equal(t, conf.WindowSamples, e.buffer.Len())
}

func TestEngine_ClassifierPanicSkipsOnlyThatCycle(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cls := classifierFunc(func(w []float32) (classifier.Result, error) {
		switch calls.Add(1) {
		case 1:
			panic("inference crashed")
		case 2:
			return classifier.Result{}, errors.NewStd("interpreter busy")
		}
		return alwaysCough(w)
	})
	e, src, _ := newTestEngine(t, cls, 10*time.Millisecond)
	require.NoError(t, e.Start(context.Background()))

	src.feed(testWindow(0.2))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, pollAt)
	require.Eventually(t, func() bool { return e.LastError() != nil }, waitFor, pollAt)
	assert.ErrorIs(t, e.LastError(), errors.ErrClassification)
	assert.Equal(t, 0, e.Stats().Detections)

	// the half window left over plus a new hop makes the next window
	src.feed(testWindow(0.2)[:testHop])
	require.Eventually(t, func() bool { return calls.Load() == 2 }, waitFor, pollAt)
	src.feed(testWindow(0.2)[:testHop])
	require.Eventually(t, func() bool { return e.Stats().Detections == 1 }, waitFor, pollAt)

	assert.ErrorIs(t, e.LastError(), errors.ErrClassification)
	require.Eventually(t, func() bool {
		s := e.State()
		return s == StateRecording || s == StateProcessing
	}, waitFor, pollAt)
}

func TestEngine_SkipsTicksWhileCycleRuns(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var calls atomic.Int32
	cls := classifierFunc(func(w []float32) (classifier.Result, error) {
		calls.Add(1)
		<-release
		return alwaysCough(w)
	})
	e, src, _ := newTestEngine(t, cls, 10*time.Millisecond)
	require.NoError(t, e.Start(context.Background()))

	// two full windows buffered
	src.feed(testWindow(0.2))
	src.feed(testWindow(0.2))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, pollAt)
	assert.Equal(t, StateProcessing, e.State())

	// several ticks pass while the classifier is stuck
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, waitFor, pollAt)
	e.Stop()
}

func TestEngine_CaptureFailureEndsSession(t *testing.T) {
	t.Parallel()

	e, src, sink := newTestEngine(t, classifierFunc(alwaysCough), 10*time.Millisecond)
	require.NoError(t, e.Start(context.Background()))

	src.feed(testWindow(0.2))
	require.Eventually(t, func() bool { return e.Stats().Detections == 1 }, waitFor, pollAt)

	src.onError(fmt.Errorf("%w: device revoked", errors.ErrCapture))
	require.Eventually(t, func() bool { return e.State() == StateIdle }, waitFor, pollAt)

	assert.ErrorIs(t, e.LastError(), errors.ErrCapture)
	assert.Len(t, sink.all(), 1)

	// the session context is released with the session
	select {
	case <-src.sessionCtx().Done():
	case <-time.After(waitFor):
		t.Fatal("session context still alive after capture failure")
	}

	// explicit restart recovers
	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, StateRecording, e.State())
	e.Stop()
}

func TestEngine_CloseReleasesSource(t *testing.T) {
	t.Parallel()

	e, src, _ := newTestEngine(t, classifierFunc(alwaysCough), time.Hour)
	states := e.Subscribe(context.Background())
	testutil.Receive(t, states, waitFor, "initial state")

	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Close())
	assert.True(t, src.released)
	assert.Equal(t, StateIdle, e.State())

	// the channel is closed after the final states
	testutil.WaitForClose(t, states, waitFor, "state stream")
}

func TestEngine_StatsAverageInterval(t *testing.T) {
	t.Parallel()

	e, _, _ := newTestEngine(t, classifierFunc(alwaysCough), time.Hour)
	base := time.Date(2024, 3, 20, 3, 0, 0, 0, time.UTC)
	for i := range 3 {
		e.recordDetection(Detection{Kind: classifier.KindCough, Confidence: 0.8, Timestamp: base.Add(time.Duration(i) * 2 * time.Second)})
	}

	stats := e.Stats()
	assert.Equal(t, 3, stats.Detections)
	assert.Equal(t, base, stats.FirstDetection)
	assert.Equal(t, base.Add(4*time.Second), stats.LastDetection)
	assert.Equal(t, 2*time.Second, stats.AverageInterval)
	assert.Equal(t, e.SessionID(), stats.SessionID)
}

// TestEngine_SyntheticBurst feeds three seconds of audio that is loud only
// between samples 16000 and 32000 through the rule classifier.
func TestEngine_SyntheticBurst(t *testing.T) {
	t.Parallel()

	signal := make([]float32, 3*conf.SampleRate)
	for i := range signal {
		amp := float32(0.0005)
		if i >= conf.SampleRate && i < 2*conf.SampleRate {
			amp = 0.3
		}
		if i%2 == 1 {
			amp = -amp
		}
		signal[i] = amp
	}

	var mu sync.Mutex
	var results []classifier.Result
	cls := classifierFunc(func(w []float32) (classifier.Result, error) {
		r, err := classifier.RuleClassifier{}.Classify(w)
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
		return r, err
	})
	e, src, sink := newTestEngine(t, cls, 10*time.Millisecond)
	require.NoError(t, e.Start(context.Background()))

	src.feed(signal[:testHop])
	for off := testHop; off < len(signal); off += testHop {
		src.feed(signal[off : off+testHop])
		// wait until the window has been taken
		require.Eventually(t, func() bool { return e.buffer.Len() == testHop }, waitFor, pollAt)
	}
	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, waitFor, pollAt)
	e.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 5)
	// windows start at 0, 8000, 16000, 24000 and 32000
	wantCough := []bool{false, true, true, true, false}
	for i, r := range results {
		if wantCough[i] {
			assert.Equal(t, classifier.KindCough, r.Kind, "window %d", i)
			assert.Greater(t, r.Confidence, 0.6, "window %d", i)
		} else {
			assert.Equal(t, classifier.KindNone, r.Kind, "window %d", i)
		}
	}

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, ReasonLapse, events[0].Reason)
	assert.Equal(t, 2*time.Second, events[0].Duration())
	assert.Equal(t, 3, events[0].Windows)
}

func TestEngine_StopKeepsEventWaitingForQueue(t *testing.T) {
	t.Parallel()

	settings := recorderSettings(t)
	settings.Detection.Interval = 10 * time.Millisecond
	settings.Detection.QueueSize = 1
	provider := conf.NewStore(settings)

	store := &fakeStore{}
	rec := NewRecorder(provider, store, nil, nil)
	// worker not started, the queue stays full
	require.NoError(t, rec.Submit(context.Background(), testEvent(time.Now(), conf.SampleRate)))

	var calls atomic.Int32
	cls := classifierFunc(func(w []float32) (classifier.Result, error) {
		if calls.Add(1) == 1 {
			return alwaysCough(w)
		}
		return classifier.Result{Kind: classifier.KindNone, Confidence: 1}, nil
	})

	src := &fakeSource{level: 0.3}
	e, err := New(Config{
		Settings: provider,
		Source: func(onFrame func(myaudio.AudioFrame), onError func(error)) AudioSource {
			src.onFrame, src.onError = onFrame, onError
			return src
		},
		Classifier: cls,
		Sink:       rec,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	require.NoError(t, e.Start(context.Background()))
	src.feed(testWindow(0.2))
	src.feed(testWindow(0.2))

	// the second cycle closes the event and waits for queue space
	require.Eventually(t, func() bool { return e.Stats().EventsFinalized == 1 }, waitFor, pollAt)

	stopped := make(chan struct{})
	go func() {
		e.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the finalized event was still waiting")
	case <-time.After(50 * time.Millisecond):
	}

	rec.Start(context.Background())
	testutil.WaitForClose(t, stopped, waitFor, "engine stop")
	rec.Close()

	assert.Len(t, store.all(), 2)
	assert.NoError(t, e.LastError())
	assert.Equal(t, StateIdle, e.State())
}
