package application

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/example/reservation-scheduler/internal/logging"
	"github.com/example/reservation-scheduler/internal/persistence"
	"github.com/example/reservation-scheduler/internal/scheduler"
)

// serviceLogger prefers the logger carried by ctx over base and tags it with
// the service and operation.
func serviceLogger(ctx context.Context, base zerolog.Logger, serviceName, operation string, fields map[string]any) zerolog.Logger {
	logger, ok := logging.FromContext(ctx)
	if !ok {
		logger = base
	}
	builder := logger.With().Str("service", serviceName)
	if operation != "" {
		builder = builder.Str("operation", operation)
	}
	if len(fields) > 0 {
		builder = builder.Fields(fields)
	}
	return builder.Logger()
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}
	if _, ok := scheduler.AsSchedulerError(err); ok {
		return "allocation_failed"
	}
	switch {
	case errors.Is(err, scheduler.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, scheduler.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, scheduler.ErrInvariant):
		return "invariant"
	case errors.Is(err, persistence.ErrNotFound):
		return "not_found"
	case errors.Is(err, persistence.ErrConflict):
		return "conflict"
	case errors.Is(err, persistence.ErrBusy):
		return "busy"
	}
	return "unexpected"
}
