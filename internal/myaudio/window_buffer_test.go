package myaudio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ramp returns n samples whose value encodes their stream position.
func ramp(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(start+i) / 100000
	}
	return out
}

func TestWindowBuffer_NoWindowUntilFull(t *testing.T) {
	t.Parallel()

	b := NewWindowBuffer(1000)
	b.Push(ramp(0, 999))

	w, ok := b.TakeWindow()
	assert.False(t, ok)
	assert.Nil(t, w)
	assert.Equal(t, 999, b.Len())

	b.Push(ramp(999, 1))
	w, ok = b.TakeWindow()
	require.True(t, ok)
	assert.Len(t, w, 1000)
	assert.Equal(t, 500, b.Len(), "half of the window is retired")
}

func TestWindowBuffer_ConsecutiveWindowsOverlapByHalf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		window int
		chunk  int
	}{
		{"one second windows, 100 ms frames", 16000, 1600},
		{"small window, odd frames", 64, 7},
		{"frame larger than window", 100, 150},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := NewWindowBuffer(tt.window)
			hop := b.HopSize()
			pos := 0
			var windows [][]float32

			for range 50 {
				b.Push(ramp(pos, tt.chunk))
				pos += tt.chunk
				for {
					w, ok := b.TakeWindow()
					if !ok {
						break
					}
					windows = append(windows, w)
				}
			}

			require.Greater(t, len(windows), 2)
			for i, w := range windows {
				require.Len(t, w, tt.window, "window %d", i)
			}
			for i := 1; i < len(windows); i++ {
				prev, cur := windows[i-1], windows[i]
				if cur[0] < prev[0] || cur[0] > prev[len(prev)-1] {
					// A drop of stale samples broke continuity; nothing to compare.
					continue
				}
				assert.Equal(t, prev[hop:], cur[:tt.window-hop], "window %d overlaps previous by half", i)
			}
		})
	}
}

func TestWindowBuffer_DropsOldestBeyondTwoWindows(t *testing.T) {
	t.Parallel()

	b := NewWindowBuffer(100)
	assert.Equal(t, 200, b.Capacity())

	assert.Zero(t, b.Push(ramp(0, 150)))
	dropped := b.Push(ramp(150, 100))
	assert.Equal(t, 50, dropped)
	assert.Equal(t, 200, b.Len())

	w, ok := b.TakeWindow()
	require.True(t, ok)
	assert.InDelta(t, float32(50)/100000, w[0], 1e-9, "oldest samples were discarded first")
}

func TestWindowBuffer_OversizedPushKeepsTail(t *testing.T) {
	t.Parallel()

	b := NewWindowBuffer(10)
	b.Push(ramp(0, 5))
	dropped := b.Push(ramp(5, 45))
	assert.Equal(t, 30, dropped)
	assert.Equal(t, 20, b.Len())

	w, ok := b.TakeWindow()
	require.True(t, ok)
	assert.Equal(t, ramp(30, 10), w, "only the newest 20 samples are kept")
}

func TestWindowBuffer_Reset(t *testing.T) {
	t.Parallel()

	b := NewWindowBuffer(10)
	b.Push(ramp(0, 15))
	b.Reset()
	assert.Zero(t, b.Len())
	_, ok := b.TakeWindow()
	assert.False(t, ok)
}

func TestWindowBuffer_ConcurrentPushAndTake(t *testing.T) {
	t.Parallel()

	b := NewWindowBuffer(256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 2000 {
			b.Push(ramp(i*32, 32))
		}
	}()

	taken := 0
	for {
		select {
		case <-done:
			for {
				if _, ok := b.TakeWindow(); !ok {
					assert.Positive(t, taken)
					return
				}
				taken++
			}
		default:
			if w, ok := b.TakeWindow(); ok {
				require.Len(t, w, 256)
				taken++
			}
		}
	}
}
