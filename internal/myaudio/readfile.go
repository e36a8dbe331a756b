package myaudio

import (
	"path/filepath"
	"strings"

	"github.com/tphakala/coughdetect/internal/errors"
)

// ReadAudioFile decodes a WAV or FLAC file, chosen by extension, to
// normalized 16 kHz mono samples.
func ReadAudioFile(filePath string) ([]float32, error) {
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".wav":
		return ReadWAV(filePath)
	case ".flac":
		return ReadFLAC(filePath)
	default:
		return nil, errors.Newf("unsupported audio file type %q, want .wav or .flac", ext).
			Component("myaudio").
			Category(errors.CategoryValidation).
			Context("path", filePath).
			Build()
	}
}
