// Package infer drives an opaque acoustic model in single-shot and
// chunked streaming modes, threading recurrent state across chunk
// boundaries.
//
// The model itself (engine, weights, execution) lives behind the Model
// interface, typically an inference sidecar reached over HTTP. This
// package owns the tensors around the call: input layout, per-sample
// lengths, and the streaming session's recurrent state lifecycle.
package infer

import (
	"context"
	"fmt"
)

// Info describes a model's fixed contract. The layout of every tensor
// exchanged with the model is pinned by these numbers and must not be
// silently transposed.
type Info struct {
	Name       string `json:"name"`
	FeatureDim int    `json:"feature_dim"` // F, expected feature rows
	VocabSize  int    `json:"vocab_size"`  // V, output distribution width

	// Streaming models carry recurrent state shaped
	// (StateLayers, batch, StateSize).
	Streaming   bool `json:"streaming"`
	StateLayers int  `json:"state_layers"`
	StateSize   int  `json:"state_size"`
}

func (i Info) validate() error {
	if i.FeatureDim <= 0 {
		return fmt.Errorf("infer: model reports feature dim %d", i.FeatureDim)
	}
	if i.VocabSize <= 0 {
		return fmt.Errorf("infer: model reports vocab size %d", i.VocabSize)
	}
	if i.Streaming && (i.StateLayers <= 0 || i.StateSize <= 0) {
		return fmt.Errorf("infer: streaming model reports state shape (%d, _, %d)", i.StateLayers, i.StateSize)
	}
	return nil
}

// Input is one forward pass's input tensors. Features is (Batch, Freq,
// Time) row-major: Features[(b*Freq+f)*Time+t]. Lengths[b] gives the
// true frame count of sample b; frames beyond it are padding.
type Input struct {
	Features []float32
	Batch    int
	Freq     int
	Time     int
	Lengths  []int

	// State is the recurrent state fed to streaming models. Callers
	// of Session never set it; the session threads it.
	State *State
}

func (in *Input) validate(featureDim int) error {
	if in == nil {
		return fmt.Errorf("infer: nil input")
	}
	if in.Batch <= 0 || in.Freq <= 0 || in.Time <= 0 {
		return fmt.Errorf("infer: input shape (%d, %d, %d)", in.Batch, in.Freq, in.Time)
	}
	if in.Freq != featureDim {
		return fmt.Errorf("infer: input has F=%d, model expects F=%d", in.Freq, featureDim)
	}
	if len(in.Features) != in.Batch*in.Freq*in.Time {
		return fmt.Errorf("infer: input has %d values, want %d for shape (%d, %d, %d)",
			len(in.Features), in.Batch*in.Freq*in.Time, in.Batch, in.Freq, in.Time)
	}
	if len(in.Lengths) != in.Batch {
		return fmt.Errorf("infer: %d lengths for batch of %d", len(in.Lengths), in.Batch)
	}
	for b, l := range in.Lengths {
		if l <= 0 || l > in.Time {
			return fmt.Errorf("infer: sample %d length %d outside [1, %d]", b, l, in.Time)
		}
	}
	return nil
}

// Output is one forward pass's results. Probs is (Batch, Time, Vocab)
// row-major; Lengths[b] gives sample b's valid output frames.
type Output struct {
	Probs   []float32
	Batch   int
	Time    int
	Vocab   int
	Lengths []int

	// State is the advanced recurrent state from streaming models.
	// The session takes ownership and strips it before returning.
	State *State
}

// validate checks the model honored its contract for a given input
// batch size.
func (out *Output) validate(batch int, info Info, wantState bool) error {
	if out == nil {
		return fmt.Errorf("nil output")
	}
	if out.Batch != batch {
		return fmt.Errorf("output batch %d for input batch %d", out.Batch, batch)
	}
	if out.Time < 0 || out.Vocab != info.VocabSize {
		return fmt.Errorf("output shape (%d, %d, %d), model vocab is %d", out.Batch, out.Time, out.Vocab, info.VocabSize)
	}
	if len(out.Probs) != out.Batch*out.Time*out.Vocab {
		return fmt.Errorf("output has %d values, want %d for shape (%d, %d, %d)",
			len(out.Probs), out.Batch*out.Time*out.Vocab, out.Batch, out.Time, out.Vocab)
	}
	if len(out.Lengths) != out.Batch {
		return fmt.Errorf("output has %d lengths for batch of %d", len(out.Lengths), out.Batch)
	}
	for b, l := range out.Lengths {
		if l < 0 || l > out.Time {
			return fmt.Errorf("output sample %d length %d outside [0, %d]", b, l, out.Time)
		}
	}
	if wantState {
		if out.State == nil {
			return fmt.Errorf("streaming model returned no state")
		}
		if err := out.State.check(info.StateLayers, batch, info.StateSize); err != nil {
			return err
		}
	}
	return nil
}

// Model is the opaque acoustic model boundary. Forward must be safe
// for concurrent calls if the handle is shared across sessions.
type Model interface {
	// Forward runs one synchronous forward pass.
	Forward(ctx context.Context, in *Input) (*Output, error)
	// Info reports the model's fixed contract.
	Info() Info
}
