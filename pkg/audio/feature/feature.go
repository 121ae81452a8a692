// Package feature converts PCM audio into acoustic feature matrices
// for speech recognition.
//
// Two transforms are supported. Spectrogram frames the waveform with a
// Hamming window and takes log-compressed STFT magnitudes. MFCC frames
// with a Hann window and maps the power spectrum through a mel
// filterbank and DCT-II to cepstral coefficients. Both end with
// log(1+x) compression and optional mean/std normalization.
//
// Default MFCC parameters match the reference Mandarin models:
//
//	SampleRate: 16000
//	WindowSize: 512
//	HopSize:    128
//	FFTSize:    512
//	NumMels:    128
//	NumCoeffs:  128
//
// The output matrix has shape (F, T) with F fixed by the transform and
// T = (samples - window)/hop + 1. Extraction is a pure function of the
// input samples and the configuration.
package feature

import (
	"fmt"
	"math"

	"github.com/haivivi/earshot/pkg/audio/resampler"
	"github.com/haivivi/earshot/pkg/audio/wav"
)

// Feature statistics computed over the reference Mandarin training
// corpus with the default MFCC front-end over raw int16 magnitudes.
const (
	DefaultMean float32 = -3.146301
	DefaultStd  float32 = 52.998405
)

// Transform selects the spectral front-end.
type Transform int

const (
	// Spectrogram produces log STFT magnitudes, F = FFTSize/2 + 1.
	Spectrogram Transform = iota
	// MFCC produces mel-frequency cepstral coefficients, F = NumCoeffs.
	MFCC
)

func (t Transform) String() string {
	switch t {
	case Spectrogram:
		return "spectrogram"
	case MFCC:
		return "mfcc"
	}
	return fmt.Sprintf("transform(%d)", int(t))
}

// ParseTransform maps a config string to a Transform.
func ParseTransform(s string) (Transform, error) {
	switch s {
	case "spectrogram":
		return Spectrogram, nil
	case "mfcc":
		return MFCC, nil
	}
	return 0, fmt.Errorf("feature: unknown transform %q", s)
}

// Config controls feature extraction parameters.
type Config struct {
	Transform   Transform
	SampleRate  int     // audio sample rate in Hz
	WindowSize  int     // window length in samples
	HopSize     int     // hop length in samples
	FFTSize     int     // FFT size; 0 rounds WindowSize up to a power of two
	NumMels     int     // mel filter count (MFCC)
	NumCoeffs   int     // cepstral coefficient count (MFCC); 0 means NumMels
	LowFreq     float64 // mel bank lower edge in Hz (MFCC)
	HighFreq    float64 // mel bank upper edge in Hz (MFCC); 0 means SampleRate/2
	PreEmphasis float64 // pre-emphasis coefficient; 0 disables
	Normalize   bool    // apply (x - Mean) / Std after log compression
	Mean        float32
	Std         float32
}

// DefaultSpectrogramConfig returns the log-spectrogram front-end used
// by the reference models: 20 ms Hamming windows with 10 ms hops.
func DefaultSpectrogramConfig() Config {
	return Config{
		Transform:  Spectrogram,
		SampleRate: 16000,
		WindowSize: 320,
		HopSize:    160,
		FFTSize:    512,
	}
}

// DefaultMFCCConfig returns the 128-coefficient MFCC front-end used by
// the reference models.
func DefaultMFCCConfig() Config {
	return Config{
		Transform:  MFCC,
		SampleRate: 16000,
		WindowSize: 512,
		HopSize:    128,
		FFTSize:    512,
		NumMels:    128,
		NumCoeffs:  128,
	}
}

// Extractor computes feature matrices from PCM samples. Safe for
// concurrent use; scratch buffers are allocated per call.
type Extractor struct {
	cfg     Config
	featDim int
	window  []float64
	melBank [][]float64 // MFCC only
	dct     [][]float64 // MFCC only
}

// New creates an Extractor with the given config.
func New(cfg Config) (*Extractor, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("feature: sample rate %d", cfg.SampleRate)
	}
	if cfg.WindowSize <= 0 || cfg.HopSize <= 0 {
		return nil, fmt.Errorf("feature: window %d hop %d", cfg.WindowSize, cfg.HopSize)
	}
	if cfg.FFTSize == 0 {
		cfg.FFTSize = nextPowerOfTwo(cfg.WindowSize)
	}
	if !isPowerOfTwo(cfg.FFTSize) || cfg.FFTSize < cfg.WindowSize {
		return nil, fmt.Errorf("feature: FFT size %d must be a power of two >= window %d", cfg.FFTSize, cfg.WindowSize)
	}
	if cfg.Normalize && cfg.Std == 0 {
		return nil, fmt.Errorf("feature: normalization requires nonzero std")
	}

	e := &Extractor{}
	switch cfg.Transform {
	case Spectrogram:
		e.featDim = cfg.FFTSize/2 + 1
		e.window = hammingWindow(cfg.WindowSize)
	case MFCC:
		if cfg.NumMels <= 0 {
			return nil, fmt.Errorf("feature: MFCC requires NumMels > 0")
		}
		if cfg.NumCoeffs == 0 {
			cfg.NumCoeffs = cfg.NumMels
		}
		if cfg.NumCoeffs > cfg.NumMels {
			return nil, fmt.Errorf("feature: NumCoeffs %d exceeds NumMels %d", cfg.NumCoeffs, cfg.NumMels)
		}
		if cfg.HighFreq == 0 {
			cfg.HighFreq = float64(cfg.SampleRate) / 2
		}
		e.featDim = cfg.NumCoeffs
		e.window = hannWindow(cfg.WindowSize)
		e.melBank = melFilterBank(cfg.NumMels, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq)
		e.dct = dctTable(cfg.NumCoeffs, cfg.NumMels)
	default:
		return nil, fmt.Errorf("feature: unknown transform %v", cfg.Transform)
	}
	e.cfg = cfg
	return e, nil
}

// Config returns the effective configuration after defaulting.
func (e *Extractor) Config() Config { return e.cfg }

// FeatureDim returns F, the fixed frequency dimension of extracted
// matrices.
func (e *Extractor) FeatureDim() int { return e.featDim }

// SampleRate returns the expected input sample rate.
func (e *Extractor) SampleRate() int { return e.cfg.SampleRate }

// Frames returns how many complete frames n samples yield.
func (e *Extractor) Frames(n int) int {
	if n < e.cfg.WindowSize {
		return 0
	}
	return (n-e.cfg.WindowSize)/e.cfg.HopSize + 1
}

// Extract computes the (F, T) feature matrix for a complete waveform.
// Waveforms shorter than one window fail with an error satisfying
// errors.Is(err, wav.ErrInvalidAudio).
func (e *Extractor) Extract(samples []float32) (*Matrix, error) {
	frames := e.Frames(len(samples))
	if frames == 0 {
		return nil, fmt.Errorf("feature: %d samples yield no frames (window %d): %w",
			len(samples), e.cfg.WindowSize, wav.ErrInvalidAudio)
	}

	m := NewMatrix(e.featDim, frames)
	re := make([]float64, e.cfg.FFTSize)
	im := make([]float64, e.cfg.FFTSize)
	vec := make([]float32, e.featDim)
	for t := 0; t < frames; t++ {
		e.frame(samples, t*e.cfg.HopSize, re, im)
		fft(re, im)
		e.spectrumToFeatures(re, im, vec)
		for f, v := range vec {
			m.Data[f*frames+t] = v
		}
	}
	return m, nil
}

// ExtractInt16 extracts features from raw 16-bit samples. Samples keep
// their int16 magnitude; the default normalization statistics were
// computed on that scale.
func (e *Extractor) ExtractInt16(samples []int16) (*Matrix, error) {
	pcm := make([]float32, len(samples))
	for i, s := range samples {
		pcm[i] = float32(s)
	}
	return e.Extract(pcm)
}

// ExtractFile decodes a WAV file, downmixes to mono, resamples to the
// configured rate when needed, and extracts features.
func (e *Extractor) ExtractFile(path string) (*Matrix, error) {
	a, err := wav.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	a = a.Mono()
	samples := a.Samples
	if a.SampleRate != e.cfg.SampleRate {
		samples, err = resampler.Resample(samples, a.SampleRate, e.cfg.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("feature: %s: %w", path, err)
		}
	}
	m, err := e.ExtractInt16(samples)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// frame loads one windowed frame starting at offset into re, zero-pads
// to the FFT size, and clears im.
func (e *Extractor) frame(samples []float32, offset int, re, im []float64) {
	cfg := e.cfg
	for i := 0; i < cfg.WindowSize; i++ {
		s := float64(samples[offset+i])
		if cfg.PreEmphasis != 0 && i > 0 {
			s -= cfg.PreEmphasis * float64(samples[offset+i-1])
		}
		re[i] = s * e.window[i]
	}
	for i := cfg.WindowSize; i < cfg.FFTSize; i++ {
		re[i] = 0
	}
	for i := range im {
		im[i] = 0
	}
}

// spectrumToFeatures reduces one FFT frame to the transform's feature
// vector, applying log(1+x) compression and normalization.
func (e *Extractor) spectrumToFeatures(re, im []float64, out []float32) {
	halfFFT := e.cfg.FFTSize/2 + 1
	switch e.cfg.Transform {
	case Spectrogram:
		for k := 0; k < halfFFT; k++ {
			mag := math.Sqrt(re[k]*re[k] + im[k]*im[k])
			out[k] = e.compress(mag)
		}
	case MFCC:
		power := make([]float64, halfFFT)
		for k := 0; k < halfFFT; k++ {
			power[k] = re[k]*re[k] + im[k]*im[k]
		}
		mel := make([]float64, e.cfg.NumMels)
		for m := range mel {
			sum := 0.0
			for k, w := range e.melBank[m] {
				sum += w * power[k]
			}
			// Log with floor to avoid -inf
			if sum < 1e-10 {
				sum = 1e-10
			}
			mel[m] = math.Log(sum)
		}
		for k := 0; k < e.cfg.NumCoeffs; k++ {
			sum := 0.0
			for n, w := range e.dct[k] {
				sum += w * mel[n]
			}
			out[k] = e.compress(math.Abs(sum))
		}
	}
}

// compress applies log(1+x) and the configured normalization to one
// magnitude value.
func (e *Extractor) compress(v float64) float32 {
	c := float32(math.Log1p(v))
	if e.cfg.Normalize {
		c = (c - e.cfg.Mean) / e.cfg.Std
	}
	return c
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
