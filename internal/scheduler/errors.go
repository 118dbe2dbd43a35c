package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrInvariant marks a broken engine invariant. Such errors are never
	// retried by the backtracking search.
	ErrInvariant = errors.New("scheduler: invariant violation")
	// ErrUnsupported marks request shapes the engine cannot allocate yet.
	ErrUnsupported = errors.New("scheduler: unsupported")
	// ErrInvalidRequest marks a request the engine cannot interpret.
	ErrInvalidRequest = errors.New("scheduler: invalid request")
)

// SchedulerError is an expected allocation failure. Report explains why no
// candidate satisfied the request.
type SchedulerError struct {
	Report *Report
}

func newSchedulerError(report *Report) *SchedulerError {
	return &SchedulerError{Report: report}
}

// Error implements the error interface.
func (e *SchedulerError) Error() string {
	if e == nil || e.Report == nil {
		return "scheduler: allocation failed"
	}
	return "scheduler: allocation failed: " + e.Report.String()
}

// InvariantError describes a violated invariant. It matches ErrInvariant and
// the wrapped cause, if any.
type InvariantError struct {
	Message string
	Err     error
}

func invariantf(format string, args ...any) error {
	return &InvariantError{Message: fmt.Sprintf(format, args...)}
}

func invariantWrap(err error, format string, args ...any) error {
	return &InvariantError{Message: fmt.Sprintf(format, args...), Err: err}
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", ErrInvariant, e.Message, e.Err)
	}
	return fmt.Sprintf("%v: %s", ErrInvariant, e.Message)
}

// Unwrap exposes ErrInvariant and the cause to errors.Is.
func (e *InvariantError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvariant, e.Err}
	}
	return []error{ErrInvariant}
}

func unsupportedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, fmt.Sprintf(format, args...))
}

// AsSchedulerError returns the allocation failure carried by err.
func AsSchedulerError(err error) (*SchedulerError, bool) {
	var schedulerErr *SchedulerError
	if errors.As(err, &schedulerErr) {
		return schedulerErr, true
	}
	return nil, false
}
