package executor

import (
	"context"
	"errors"
)

// Executor performs the actual document operation for one job type. It is a
// pure function from the orchestrator's point of view: document reference and
// options in, JSON payload or error out.
//
// Executors must tolerate being invoked more than once for the same document
// (at-least-once retry semantics) and should respect ctx, which carries the
// per-task timeout.
type Executor interface {
	Execute(ctx context.Context, documentRef string, options map[string]any) ([]byte, error)
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, documentRef string, options map[string]any) ([]byte, error)

func (f Func) Execute(ctx context.Context, documentRef string, options map[string]any) ([]byte, error) {
	return f(ctx, documentRef, options)
}

// permanentError marks a failure that retrying cannot fix (bad input,
// unsupported format). The pool fails the task immediately instead of
// burning attempts.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the pool skips retries for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked
// non-retryable.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
