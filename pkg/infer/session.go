package infer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Session drives one model handle through single-shot and chunked
// inference. A session is either Idle (no state held) or Active (state
// carried from a prior chunk of the current utterance).
//
// A session holds exactly one in-flight utterance: chunks of two
// utterances must never interleave on the same session. Calls are
// serialized internally, which also guarantees in-order state
// threading. Concurrent utterances need one session each; the model
// handle may be shared when the backend supports concurrent calls.
//
// Reset must be called between utterances. A session that carries one
// utterance's state into the next does not crash; it silently decodes
// worse, which is why the contract is strict.
type Session struct {
	model Model
	info  Info
	log   *slog.Logger

	mu    sync.Mutex
	state *State // nil when Idle
}

// Option configures a Session.
type Option func(*Session)

// WithLogger routes session diagnostics to log instead of
// slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// NewSession wraps a model handle. The model's reported contract is
// validated here: a backend that is unreachable or cannot describe
// itself fails at construction, never at first inference.
func NewSession(model Model, opts ...Option) (*Session, error) {
	if model == nil {
		return nil, fmt.Errorf("infer: nil model")
	}
	info := model.Info()
	if err := info.validate(); err != nil {
		return nil, err
	}
	s := &Session{model: model, info: info, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Info returns the wrapped model's contract.
func (s *Session) Info() Info { return s.info }

// Active reports whether the session holds state from a prior chunk.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != nil
}

// Reset clears held state unconditionally and is safe to call
// redundantly. Call it between utterances, including after abandoning
// an utterance mid-stream.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
}

// Predict runs exactly one forward pass over a complete batched
// utterance. Streaming models are fed a fresh zero state; the
// session's own streaming state is neither read nor written. Callers
// must leave in.State nil.
func (s *Session) Predict(ctx context.Context, in *Input) (*Output, error) {
	if err := in.validate(s.info.FeatureDim); err != nil {
		return nil, err
	}
	if in.State != nil {
		return nil, fmt.Errorf("infer: caller must not supply state")
	}

	s.mu.Lock()
	active := s.state != nil
	s.mu.Unlock()
	if active {
		s.log.Warn("predict during active chunk stream, streaming state untouched",
			"model", s.info.Name, "batch", in.Batch)
	}

	call := *in
	if s.info.Streaming {
		call.State = NewState(s.info.StateLayers, in.Batch, s.info.StateSize)
	}
	out, err := s.model.Forward(ctx, &call)
	if err != nil {
		return nil, &ModelError{Op: "forward", Err: err}
	}
	if err := out.validate(in.Batch, s.info, s.info.Streaming); err != nil {
		return nil, &ModelError{Op: "forward", Err: err}
	}
	out.State = nil
	return out, nil
}

// PredictChunk advances the current utterance by one chunk. The first
// chunk after construction or Reset zero-initializes recurrent state
// shaped (layers, batch, hidden) from the chunk's batch size; each
// successful call replaces the held state with the model's returned
// state. Later chunks must keep the first chunk's batch size or fail
// with ErrStateShape. Chunks must arrive in temporal order; the
// session cannot detect reordering. On any model failure the held
// state is exactly what it was before the call.
func (s *Session) PredictChunk(ctx context.Context, chunk *Input) (*Output, error) {
	if !s.info.Streaming {
		return nil, fmt.Errorf("infer: model %q does not support chunked inference", s.info.Name)
	}
	if err := chunk.validate(s.info.FeatureDim); err != nil {
		return nil, err
	}
	if chunk.State != nil {
		return nil, fmt.Errorf("infer: caller must not supply state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var st *State
	if s.state == nil {
		st = NewState(s.info.StateLayers, chunk.Batch, s.info.StateSize)
	} else {
		if s.state.Batch != chunk.Batch {
			return nil, fmt.Errorf("%w: utterance began with batch %d, this chunk has batch %d",
				ErrStateShape, s.state.Batch, chunk.Batch)
		}
		// The model only borrows the state for this call.
		st = s.state.Clone()
	}

	call := *chunk
	call.State = st
	out, err := s.model.Forward(ctx, &call)
	if err != nil {
		return nil, &ModelError{Op: "forward", Err: err}
	}
	if err := out.validate(chunk.Batch, s.info, true); err != nil {
		return nil, &ModelError{Op: "forward", Err: err}
	}

	s.state = out.State
	out.State = nil
	return out, nil
}
