// Package batch collates variable-length utterances into fixed-shape
// model inputs.
//
// Samples keep their caller-supplied order: outputs line up with inputs
// index for index, and the per-sample length slices record how much of
// each padded row is real data. Everything beyond a sample's true
// length is zero.
package batch

import (
	"errors"
	"fmt"

	"github.com/haivivi/earshot/pkg/audio/feature"
)

// ErrShapeMismatch indicates samples with different feature
// dimensionality were collated together. The offending batch is
// rejected whole; other batches are unaffected.
var ErrShapeMismatch = errors.New("batch: feature dimension mismatch")

// Sample pairs one utterance's feature matrix with its encoded
// transcript. Labels may be empty.
type Sample struct {
	Features *feature.Matrix
	Labels   []int32
}

// Batch is the fixed-shape collation of a list of samples.
//
// Inputs has shape (Size, Freq, MaxTime) flattened row-major:
// Inputs[(i*Freq+f)*MaxTime+t]. Labels has shape (Size, MaxLabel):
// Labels[i*MaxLabel+l]. InputLengths[i] and LabelLengths[i] give the
// true extents of sample i; positions beyond them are zero.
type Batch struct {
	Inputs       []float32
	Labels       []int32
	InputLengths []int
	LabelLengths []int

	Size     int // number of samples
	Freq     int // feature dimension, constant across the batch
	MaxTime  int // longest sample's frame count
	MaxLabel int // longest label sequence
}

// Collate merges samples into one batch. Sample order is preserved.
func Collate(samples []Sample) (*Batch, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("batch: no samples")
	}

	freq := 0
	maxTime := 0
	maxLabel := 0
	for i, s := range samples {
		if s.Features == nil || s.Features.Time == 0 {
			return nil, fmt.Errorf("batch: sample %d has no frames", i)
		}
		if freq == 0 {
			freq = s.Features.Freq
		} else if s.Features.Freq != freq {
			return nil, fmt.Errorf("%w: sample %d has F=%d, batch has F=%d",
				ErrShapeMismatch, i, s.Features.Freq, freq)
		}
		if s.Features.Time > maxTime {
			maxTime = s.Features.Time
		}
		if len(s.Labels) > maxLabel {
			maxLabel = len(s.Labels)
		}
	}

	b := &Batch{
		Inputs:       make([]float32, len(samples)*freq*maxTime),
		Labels:       make([]int32, len(samples)*maxLabel),
		InputLengths: make([]int, len(samples)),
		LabelLengths: make([]int, len(samples)),
		Size:         len(samples),
		Freq:         freq,
		MaxTime:      maxTime,
		MaxLabel:     maxLabel,
	}
	for i, s := range samples {
		t := s.Features.Time
		for f := 0; f < freq; f++ {
			copy(b.Inputs[(i*freq+f)*maxTime:], s.Features.Data[f*t:(f+1)*t])
		}
		copy(b.Labels[i*maxLabel:], s.Labels)
		b.InputLengths[i] = t
		b.LabelLengths[i] = len(s.Labels)
	}
	return b, nil
}

// Input copies sample i's unpadded feature matrix back out.
func (b *Batch) Input(i int) *feature.Matrix {
	t := b.InputLengths[i]
	m := feature.NewMatrix(b.Freq, t)
	for f := 0; f < b.Freq; f++ {
		copy(m.Data[f*t:], b.Inputs[(i*b.Freq+f)*b.MaxTime:(i*b.Freq+f)*b.MaxTime+t])
	}
	return m
}

// Label copies sample i's unpadded label sequence back out.
func (b *Batch) Label(i int) []int32 {
	l := b.LabelLengths[i]
	out := make([]int32, l)
	copy(out, b.Labels[i*b.MaxLabel:i*b.MaxLabel+l])
	return out
}
