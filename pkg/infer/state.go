package infer

import "fmt"

// State is the recurrent state pair of a streaming model. H and C are
// each (Layers, Batch, Hidden) row-major: H[(l*Batch+b)*Hidden+h]. A
// State belongs to exactly one session; callers must not retain or
// mutate it.
type State struct {
	H      []float32
	C      []float32
	Layers int
	Batch  int
	Hidden int
}

// NewState returns a zero-initialized state of the given shape.
func NewState(layers, batch, hidden int) *State {
	n := layers * batch * hidden
	return &State{
		H:      make([]float32, n),
		C:      make([]float32, n),
		Layers: layers,
		Batch:  batch,
		Hidden: hidden,
	}
}

// Clone deep-copies the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := &State{
		H:      make([]float32, len(s.H)),
		C:      make([]float32, len(s.C)),
		Layers: s.Layers,
		Batch:  s.Batch,
		Hidden: s.Hidden,
	}
	copy(out.H, s.H)
	copy(out.C, s.C)
	return out
}

// check verifies the state matches an expected shape.
func (s *State) check(layers, batch, hidden int) error {
	if s == nil {
		return fmt.Errorf("nil state")
	}
	if s.Layers != layers || s.Batch != batch || s.Hidden != hidden {
		return fmt.Errorf("state shape (%d, %d, %d), want (%d, %d, %d)",
			s.Layers, s.Batch, s.Hidden, layers, batch, hidden)
	}
	n := layers * batch * hidden
	if len(s.H) != n || len(s.C) != n {
		return fmt.Errorf("state tensors have %d/%d values, want %d", len(s.H), len(s.C), n)
	}
	return nil
}
