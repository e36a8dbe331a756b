// Package myaudio owns the audio side of the detection pipeline: microphone
// capture through miniaudio, conversion of signed 16-bit PCM to normalized
// float samples, the sliding window buffer feeding the classifier, signal
// level calculation and WAV clip encoding.
package myaudio
