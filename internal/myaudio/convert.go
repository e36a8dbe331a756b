package myaudio

import "encoding/binary"

// ConvertS16ToFloat32 converts little-endian signed 16-bit PCM to samples in
// [-1, 1). dst is reused when it has enough capacity. A trailing odd byte is
// ignored.
func ConvertS16ToFloat32(pcm []byte, dst []float32) []float32 {
	n := len(pcm) / 2
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		dst[i] = float32(sample) / 32768.0
	}
	return dst
}

// float32ToS16 clamps a normalized sample to [-1, 1] and scales it to a
// signed 16-bit value.
func float32ToS16(s float32) int {
	switch {
	case s != s: // NaN
		s = 0
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	}
	return int(s * 32767)
}
