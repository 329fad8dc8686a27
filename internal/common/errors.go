package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	// ErrQueueFull is the backpressure signal: the queue store is at
	// capacity and the submission was rejected. Recoverable; callers
	// retry later or shed load.
	ErrQueueFull = errors.New("queue full")

	// ErrNotRunning is returned for API calls made outside the RUNNING
	// lifecycle state.
	ErrNotRunning = errors.New("orchestrator not running")

	ErrJobNotFound     = errors.New("job not found")
	ErrTaskNotFound    = errors.New("task not found")
	ErrDuplicateJob    = errors.New("job already exists")
	ErrUnknownJobType  = errors.New("no executor registered for job type")
	ErrInvalidInput    = errors.New("invalid input")
	ErrResultsPending  = errors.New("job results not available until terminal")

	// ErrShutdownTimeout means drain exceeded its deadline; in-flight
	// tasks were abandoned and reported as failed.
	ErrShutdownTimeout = errors.New("shutdown drain timed out")

	// ErrJobTimeout is recorded on jobs whose running tasks exceeded the
	// configured job timeout.
	ErrJobTimeout = errors.New("job timed out")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
