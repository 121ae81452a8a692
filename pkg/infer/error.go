package infer

import (
	"errors"
	"fmt"
)

// ErrStateShape indicates chunk batch size changed mid-utterance
// without a reset. This is a caller-contract violation: the session
// never coerces state by reshaping.
var ErrStateShape = errors.New("infer: chunk batch size changed without reset")

// ModelError wraps a failure of the underlying model: the call itself
// failed, or the model returned malformed output. Session state is
// always left as it was before the failing call.
type ModelError struct {
	Op  string // the operation that failed, e.g. "forward"
	Err error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("infer: model %s: %v", e.Op, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

func modelErrorf(op, format string, args ...any) *ModelError {
	return &ModelError{Op: op, Err: fmt.Errorf(format, args...)}
}
