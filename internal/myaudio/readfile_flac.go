package myaudio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/tphakala/flac"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/errors"
)

// ReadFLAC decodes a 16 kHz mono FLAC file to normalized samples. 16, 24
// and 32 bit streams are accepted.
func ReadFLAC(filePath string) ([]float32, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryFileIO).
			Context("operation", "open_flac").
			Build()
	}
	defer file.Close()

	decoder, err := flac.NewDecoder(file)
	if err != nil {
		return nil, errors.New(fmt.Errorf("input is not a valid FLAC audio file: %w", err)).
			Component("myaudio").
			Category(errors.CategoryValidation).
			Build()
	}

	if decoder.SampleRate != conf.SampleRate || decoder.NChannels != conf.NumChannels {
		return nil, errors.Newf("unsupported FLAC format: %d Hz, %d channels; want %d Hz mono",
			decoder.SampleRate, decoder.NChannels, conf.SampleRate).
			Component("myaudio").
			Category(errors.CategoryValidation).
			Build()
	}

	samples := make([]float32, 0, max(int(decoder.TotalSamples), 0))
	for {
		frame, err := decoder.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.New(fmt.Errorf("failed to decode FLAC frame: %w", err)).
				Component("myaudio").
				Category(errors.CategoryFileIO).
				Context("operation", "decode_flac").
				Build()
		}

		samples, err = appendPCM(samples, frame, decoder.BitsPerSample)
		if err != nil {
			return nil, err
		}
	}
	return samples, nil
}

// appendPCM converts interleaved little-endian PCM of the given bit depth
// to normalized samples and appends them to dst.
func appendPCM(dst []float32, pcm []byte, bitDepth int) ([]float32, error) {
	var divisor float32
	switch bitDepth {
	case 16:
		divisor = 32768.0
	case 24:
		divisor = 8388608.0
	case 32:
		divisor = 2147483648.0
	default:
		return dst, errors.Newf("unsupported audio bit depth: %d", bitDepth).
			Component("myaudio").
			Category(errors.CategoryValidation).
			Build()
	}

	width := bitDepth / 8
	for i := 0; i+width <= len(pcm); i += width {
		var sample int32
		switch bitDepth {
		case 16:
			sample = int32(int16(binary.LittleEndian.Uint16(pcm[i:])))
		case 24:
			// shift up to sign-extend
			sample = (int32(pcm[i]) | int32(pcm[i+1])<<8 | int32(pcm[i+2])<<16) << 8 >> 8
		case 32:
			sample = int32(binary.LittleEndian.Uint32(pcm[i:]))
		}
		dst = append(dst, float32(sample)/divisor)
	}
	return dst, nil
}
