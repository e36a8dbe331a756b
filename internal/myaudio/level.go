package myaudio

import "math"

// AudioLevelData holds a UI friendly level reading.
type AudioLevelData struct {
	Level    int  `json:"level"`    // 0-100
	Clipping bool `json:"clipping"` // true if any sample reached full scale
}

// clipThreshold is the normalized magnitude of a full scale 16-bit sample
const clipThreshold = 32767.0 / 32768.0

// CalculateRMS returns the root mean square of normalized samples, 0 for an
// empty slice.
func CalculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// CalculatePeak returns the maximum absolute sample value.
func CalculatePeak(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	return peak
}

// CalculateAudioLevel converts samples to a 0-100 level on a 50 dB scale
// starting at -60 dBFS.
func CalculateAudioLevel(samples []float32) AudioLevelData {
	if len(samples) == 0 {
		return AudioLevelData{}
	}

	isClipping := CalculatePeak(samples) >= clipThreshold
	return levelFromRMS(CalculateRMS(samples), isClipping)
}

// LevelFromRMS converts a normalized RMS value to a 0-100 level.
func LevelFromRMS(rms float64) AudioLevelData {
	return levelFromRMS(rms, false)
}

func levelFromRMS(rms float64, isClipping bool) AudioLevelData {
	if rms <= 0 {
		if isClipping {
			return AudioLevelData{Level: 95, Clipping: true}
		}
		return AudioLevelData{}
	}

	db := 20 * math.Log10(rms)
	scaledLevel := (db + 60) * (100.0 / 50.0)

	// If the audio is clipping, ensure the level is at or near 100
	if isClipping {
		scaledLevel = math.Max(scaledLevel, 95)
	}

	scaledLevel = math.Max(0, math.Min(100, scaledLevel))

	return AudioLevelData{
		Level:    int(scaledLevel),
		Clipping: isClipping,
	}
}
