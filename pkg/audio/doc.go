// Package audio provides the acoustic front-end.
//
// This package serves as an umbrella for audio-related sub-packages:
//
//   - wav: 16-bit PCM WAV decoding and encoding
//   - feature: spectrogram and MFCC extraction, one-shot and streaming
//   - resampler: sample-rate conversion ahead of feature extraction
//
// Example usage:
//
//	import "github.com/haivivi/earshot/pkg/audio/feature"
//
//	ex, err := feature.New(feature.DefaultSpectrogramConfig())
//	if err != nil {
//	    return err
//	}
//	m, err := ex.ExtractFile("clip.wav")
package audio
