package myaudio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/coughdetect/internal/conf"
	"github.com/tphakala/coughdetect/internal/errors"
)

// WAVHeaderSize is the size of the canonical RIFF/WAVE PCM header.
const WAVHeaderSize = 44

// WriteWAV writes normalized samples as a 16 kHz mono 16-bit PCM WAV file.
// Samples are clamped to [-1, 1]. Missing parent directories are created.
func WriteWAV(filePath string, samples []float32) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return errors.New(fmt.Errorf("failed to create directories: %w", err)).
			Component("myaudio").
			Category(errors.CategoryFileIO).
			Context("operation", "create_clip_dir").
			Build()
	}

	outFile, err := os.Create(filePath)
	if err != nil {
		return errors.New(fmt.Errorf("failed to create file: %w", err)).
			Component("myaudio").
			Category(errors.CategoryFileIO).
			Context("operation", "create_clip").
			Build()
	}

	enc := wav.NewEncoder(outFile, conf.SampleRate, conf.BitDepth, conf.NumChannels, 1)

	intSamples := make([]int, len(samples))
	for i, s := range samples {
		intSamples[i] = float32ToS16(s)
	}

	buf := &audio.IntBuffer{
		Data:           intSamples,
		Format:         &audio.Format{SampleRate: conf.SampleRate, NumChannels: conf.NumChannels},
		SourceBitDepth: conf.BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		_ = outFile.Close()
		_ = os.Remove(filePath)
		return errors.New(fmt.Errorf("failed to write to WAV encoder: %w", err)).
			Component("myaudio").
			Category(errors.CategoryFileIO).
			Context("operation", "encode_clip").
			Build()
	}

	// Close the encoder to patch the RIFF and data chunk sizes
	if err := enc.Close(); err != nil {
		_ = outFile.Close()
		_ = os.Remove(filePath)
		return errors.New(fmt.Errorf("failed to finalize WAV file: %w", err)).
			Component("myaudio").
			Category(errors.CategoryFileIO).
			Context("operation", "encode_clip").
			Build()
	}

	if err := outFile.Close(); err != nil {
		_ = os.Remove(filePath)
		return errors.New(fmt.Errorf("failed to close WAV file: %w", err)).
			Component("myaudio").
			Category(errors.CategoryFileIO).
			Context("operation", "close_clip").
			Build()
	}
	return nil
}

// ReadWAV decodes a 16 kHz mono 16-bit PCM WAV file to normalized samples.
func ReadWAV(filePath string) ([]float32, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryFileIO).
			Context("operation", "open_wav").
			Build()
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, errors.Newf("input is not a valid WAV audio file").
			Component("myaudio").
			Category(errors.CategoryValidation).
			Build()
	}

	if decoder.SampleRate != conf.SampleRate || decoder.NumChans != conf.NumChannels || decoder.BitDepth != conf.BitDepth {
		return nil, errors.Newf("unsupported WAV format: %d Hz, %d channels, %d bit; want %d Hz mono %d bit",
			decoder.SampleRate, decoder.NumChans, decoder.BitDepth, conf.SampleRate, conf.BitDepth).
			Component("myaudio").
			Category(errors.CategoryValidation).
			Build()
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to decode WAV data: %w", err)).
			Component("myaudio").
			Category(errors.CategoryFileIO).
			Context("operation", "decode_wav").
			Build()
	}

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / 32768.0
	}
	return samples, nil
}
