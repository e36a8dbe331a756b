package myaudio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/coughdetect/internal/errors"
	"github.com/tphakala/coughdetect/internal/logger"
	"github.com/tphakala/coughdetect/internal/observability/metrics"
)

// AudioFrame is one capture read: normalized samples, the capture time and
// the RMS amplitude of the frame.
type AudioFrame struct {
	Samples   []float32
	Timestamp time.Time
	RMS       float64
}

type captureState int32

const (
	captureReleased captureState = iota
	captureReady
	captureRunning
)

// Capture runs the capture loop on top of a Device. Frames are delivered to
// the frame handler on the device's audio thread; a device failure is
// reported once through the error handler wrapped in errors.ErrCapture, after
// which the loop is stopped until Start is called again.
type Capture struct {
	device  Device
	onFrame func(AudioFrame)
	onError func(error)
	metrics *metrics.AudioMetrics

	mu       sync.Mutex
	state    captureState
	done     chan struct{}
	running  atomic.Bool
	paused   atomic.Bool
	stopping atomic.Bool
	level    atomic.Uint64 // float64 bits of the last frame RMS
	now      func() time.Time
}

// NewCapture creates a capture loop. onError may be nil.
func NewCapture(device Device, onFrame func(AudioFrame), onError func(error)) *Capture {
	return &Capture{
		device:  device,
		onFrame: onFrame,
		onError: onError,
		now:     time.Now,
	}
}

// SetMetrics attaches optional metrics. Call before Start.
func (c *Capture) SetMetrics(m *metrics.AudioMetrics) {
	c.metrics = m
}

// Initialize acquires the device. It fails with errors.ErrDeviceUnavailable
// when the device cannot be opened. Calling it again is a no-op.
func (c *Capture) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != captureReleased {
		return nil
	}

	if err := c.device.Open(Callbacks{Data: c.handleData, Fail: c.handleFail}); err != nil {
		if !errors.Is(err, errors.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", errors.ErrDeviceUnavailable, err)
		}
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("device", c.device.Name()).
			Context("operation", "open_device").
			Build()
	}

	c.state = captureReady
	return nil
}

// Start begins delivering frames. The device is initialized first when
// needed. Cancelling ctx stops the loop.
func (c *Capture) Start(ctx context.Context) error {
	if err := c.Initialize(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == captureRunning {
		return nil
	}

	c.paused.Store(false)
	c.running.Store(true)
	if err := c.device.Start(); err != nil {
		c.running.Store(false)
		if !errors.Is(err, errors.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", errors.ErrDeviceUnavailable, err)
		}
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioSource).
			Context("device", c.device.Name()).
			Context("operation", "start_device").
			Build()
	}

	c.state = captureRunning
	done := make(chan struct{})
	c.done = done
	go c.watch(ctx, done)

	GetLogger().Info("audio capture started", logger.String("device", c.device.Name()))
	return nil
}

// watch stops the loop when ctx is cancelled.
func (c *Capture) watch(ctx context.Context, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		if err := c.Stop(); err != nil {
			GetLogger().Warn("audio capture stop failed", logger.Error(err))
		}
	case <-done:
	}
}

// Pause discards frames without stopping the device.
func (c *Capture) Pause() {
	c.paused.Store(true)
}

// Resume restarts frame delivery after Pause.
func (c *Capture) Resume() {
	c.paused.Store(false)
}

// Paused reports whether frames are being discarded.
func (c *Capture) Paused() bool {
	return c.paused.Load()
}

// Running reports whether the loop is delivering or discarding frames.
func (c *Capture) Running() bool {
	return c.running.Load()
}

// Level returns the RMS amplitude of the last delivered frame.
func (c *Capture) Level() float64 {
	return math.Float64frombits(c.level.Load())
}

// Stop halts the loop. The device stays acquired so Start can be called
// again. Stopping a loop that is not running is a no-op.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

func (c *Capture) stopLocked() error {
	if c.state != captureRunning {
		return nil
	}

	c.stopping.Store(true)
	defer c.stopping.Store(false)

	c.running.Store(false)
	err := c.device.Stop()
	c.state = captureReady
	close(c.done)
	c.done = nil
	c.level.Store(0)

	GetLogger().Info("audio capture stopped", logger.String("device", c.device.Name()))
	return err
}

// Release stops the loop if needed and releases the device permanently.
func (c *Capture) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == captureReleased {
		return nil
	}
	stopErr := c.stopLocked()
	closeErr := c.device.Close()
	c.state = captureReleased
	return errors.Join(stopErr, closeErr)
}

// handleData runs on the audio thread.
func (c *Capture) handleData(pcm []byte) {
	if !c.running.Load() {
		return
	}
	if c.paused.Load() {
		c.metrics.RecordDroppedFrame("paused")
		return
	}

	samples := ConvertS16ToFloat32(pcm, nil)
	rms := CalculateRMS(samples)
	c.level.Store(math.Float64bits(rms))
	c.metrics.RecordFrame(rms)

	if c.onFrame != nil {
		c.onFrame(AudioFrame{Samples: samples, Timestamp: c.now(), RMS: rms})
	}
}

// handleFail runs when the device stops on its own. Stops requested through
// Stop are ignored.
func (c *Capture) handleFail(cause error) {
	if c.stopping.Load() {
		return
	}

	c.mu.Lock()
	if c.state != captureRunning {
		c.mu.Unlock()
		return
	}
	c.running.Store(false)
	c.state = captureReady
	close(c.done)
	c.done = nil
	c.level.Store(0)
	c.mu.Unlock()

	c.metrics.RecordCaptureError()

	err := errors.New(fmt.Errorf("%w: %w", errors.ErrCapture, cause)).
		Component("myaudio").
		Category(errors.CategoryAudioSource).
		Context("device", c.device.Name()).
		Priority(errors.PriorityHigh).
		Build()
	GetLogger().Error("audio capture terminated", logger.Error(err))

	if c.onError != nil {
		c.onError(err)
	}
}
