package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrConflict is returned when a record with the same identifier exists.
	ErrConflict = errors.New("persistence: conflict")
	// ErrBusy is returned for transient storage contention. Callers may retry.
	ErrBusy = errors.New("persistence: busy")
)
