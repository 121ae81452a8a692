// Package resampler converts PCM sample rates ahead of feature
// extraction.
//
// The acoustic front-end expects a fixed sample rate (16 kHz for the
// reference models). Audio arriving from files or streaming clients at
// other rates passes through a Converter first. Samples are 16-bit
// signed mono; stereo input should be downmixed before conversion.
package resampler

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Converter performs streaming sample-rate conversion on 16-bit mono
// PCM. It keeps filter state between calls so that chunked input
// produces the same sample sequence as one-shot input. Not safe for
// concurrent use.
type Converter struct {
	srcRate int
	dstRate int

	// nil when srcRate == dstRate
	rs resampling.Resampler
}

// New creates a Converter from srcRate to dstRate. Equal rates yield a
// passthrough converter.
func New(srcRate, dstRate int) (*Converter, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("resampler: invalid rates %d -> %d", srcRate, dstRate)
	}
	c := &Converter{srcRate: srcRate, dstRate: dstRate}
	if srcRate != dstRate {
		rs, err := newBackend(srcRate, dstRate)
		if err != nil {
			return nil, err
		}
		c.rs = rs
	}
	return c, nil
}

func newBackend(srcRate, dstRate int) (resampling.Resampler, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("resampler: %d -> %d: %w", srcRate, dstRate, err)
	}
	return rs, nil
}

// SourceRate returns the input sample rate.
func (c *Converter) SourceRate() int { return c.srcRate }

// TargetRate returns the output sample rate.
func (c *Converter) TargetRate() int { return c.dstRate }

// Convert pushes samples through the converter and returns whatever
// output is ready. A high-quality resampler carries filter delay, so a
// single call may return slightly fewer samples than the rate ratio
// suggests; the remainder surfaces on later calls.
func (c *Converter) Convert(in []int16) ([]int16, error) {
	if c.rs == nil {
		out := make([]int16, len(in))
		copy(out, in)
		return out, nil
	}
	if len(in) == 0 {
		return nil, nil
	}

	input := make([]float64, len(in))
	for i, s := range in {
		input[i] = float64(s) / 32768.0
	}
	output, err := c.rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resampler: %w", err)
	}

	out := make([]int16, len(output))
	for i, s := range output {
		switch {
		case s > 1.0:
			out[i] = 32767
		case s < -1.0:
			out[i] = -32768
		default:
			out[i] = int16(s * 32767.0)
		}
	}
	return out, nil
}

// Reset discards filter state so the next Convert starts a fresh
// stream. Call between independent utterances.
func (c *Converter) Reset() error {
	if c.rs == nil {
		return nil
	}
	rs, err := newBackend(c.srcRate, c.dstRate)
	if err != nil {
		return err
	}
	c.rs = rs
	return nil
}

// Resample converts a complete buffer in one shot, flushing the
// converter's filter delay with trailing silence so the output covers
// the whole input duration.
func Resample(in []int16, srcRate, dstRate int) ([]int16, error) {
	c, err := New(srcRate, dstRate)
	if err != nil {
		return nil, err
	}
	if c.rs == nil {
		return c.Convert(in)
	}

	want := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	out, err := c.Convert(in)
	if err != nil {
		return nil, err
	}
	// Push zeros until the delayed tail has drained.
	pad := make([]int16, 256)
	for i := 0; len(out) < want && i < 64; i++ {
		more, err := c.Convert(pad)
		if err != nil {
			return nil, err
		}
		out = append(out, more...)
	}
	if len(out) > want {
		out = out[:want]
	}
	return out, nil
}
