package myaudio

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/coughdetect/internal/logger"
	"github.com/tphakala/coughdetect/internal/observability/metrics"
)

const bytesPerSample = 4 // float32

// WindowBuffer accumulates capture samples and hands out fixed size
// evaluation windows with 50% overlap. It holds at most two windows worth of
// samples; older samples are dropped first when a push would overflow.
//
// Push is called from the capture callback, TakeWindow from the scheduler.
type WindowBuffer struct {
	mu      sync.Mutex
	rb      *ringbuffer.RingBuffer
	window  int // samples per window
	hop     int // samples retired per window
	scratch []byte
	metrics *metrics.AudioMetrics
}

// NewWindowBuffer allocates a buffer for windows of windowSamples samples.
// windowSamples must be positive and even.
func NewWindowBuffer(windowSamples int) *WindowBuffer {
	if windowSamples <= 0 {
		windowSamples = 1
	}
	capacity := 2 * windowSamples * bytesPerSample
	return &WindowBuffer{
		rb:      ringbuffer.New(capacity),
		window:  windowSamples,
		hop:     windowSamples / 2,
		scratch: make([]byte, capacity),
	}
}

// SetMetrics attaches optional metrics.
func (b *WindowBuffer) SetMetrics(m *metrics.AudioMetrics) {
	b.mu.Lock()
	b.metrics = m
	b.mu.Unlock()
}

// WindowSize returns the window length in samples.
func (b *WindowBuffer) WindowSize() int { return b.window }

// HopSize returns the number of samples between consecutive window starts.
func (b *WindowBuffer) HopSize() int { return b.hop }

// Capacity returns the maximum number of buffered samples.
func (b *WindowBuffer) Capacity() int { return 2 * b.window }

// Push appends samples and returns how many old samples were discarded to
// make room.
func (b *WindowBuffer) Push(samples []float32) int {
	if len(samples) == 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	capSamples := b.rb.Capacity() / bytesPerSample
	dropped := 0

	if len(samples) >= capSamples {
		dropped = b.rb.Length()/bytesPerSample + len(samples) - capSamples
		b.rb.Reset()
		samples = samples[len(samples)-capSamples:]
	} else if need := len(samples)*bytesPerSample - b.rb.Free(); need > 0 {
		// Discard the oldest samples. The buffer only ever holds whole samples.
		n, _ := b.rb.Read(b.scratch[:need])
		dropped = n / bytesPerSample
	}

	data := encodeSamples(b.scratch, samples)
	if _, err := b.rb.Write(data); err != nil {
		GetLogger().Warn("window buffer write failed",
			logger.Int("samples", len(samples)),
			logger.Int("free_bytes", b.rb.Free()))
	}

	b.metrics.UpdateBufferedSamples(b.rb.Length() / bytesPerSample)
	return dropped
}

// TakeWindow returns the oldest full window when one is available and
// retires half of it, so the next window starts hop samples later.
func (b *WindowBuffer) TakeWindow() ([]float32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	windowBytes := b.window * bytesPerSample
	if b.rb.Length() < windowBytes {
		return nil, false
	}

	// Drain everything, keep the second half of the window plus the tail.
	total := b.rb.Length()
	n, err := b.rb.Read(b.scratch[:total])
	if err != nil || n < windowBytes {
		b.rb.Reset()
		return nil, false
	}
	b.rb.Reset()

	window := decodeSamples(b.scratch[:windowBytes])
	if _, err := b.rb.Write(b.scratch[b.hop*bytesPerSample : n]); err != nil {
		GetLogger().Warn("window buffer rewrite failed", logger.Int("bytes", n-b.hop*bytesPerSample))
	}

	b.metrics.UpdateBufferedSamples(b.rb.Length() / bytesPerSample)
	return window, true
}

// Len returns the number of buffered samples.
func (b *WindowBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rb.Length() / bytesPerSample
}

// Reset discards all buffered samples.
func (b *WindowBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rb.Reset()
	b.metrics.UpdateBufferedSamples(0)
}

func encodeSamples(dst []byte, samples []float32) []byte {
	dst = dst[:len(samples)*bytesPerSample]
	for i, s := range samples {
		binary.LittleEndian.PutUint32(dst[i*bytesPerSample:], math.Float32bits(s))
	}
	return dst
}

func decodeSamples(src []byte) []float32 {
	out := make([]float32, len(src)/bytesPerSample)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*bytesPerSample:]))
	}
	return out
}
