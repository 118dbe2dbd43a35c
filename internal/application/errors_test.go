package application

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/reservation-scheduler/internal/persistence"
	"github.com/example/reservation-scheduler/internal/scheduler"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var err *ValidationError
	assert.Empty(t, err.Error())
	assert.Equal(t, "validation failed", (&ValidationError{}).Error())

	withFields := &ValidationError{}
	withFields.add("slot", "is required")
	withFields.add("priority", "must not be negative")
	assert.Equal(t, "validation failed: priority: must not be negative; slot: is required", withFields.Error())
}

func TestValidationError_HasErrors(t *testing.T) {
	t.Parallel()

	var nilErr *ValidationError
	assert.False(t, nilErr.HasErrors())
	assert.False(t, (&ValidationError{}).HasErrors())
	assert.True(t, (&ValidationError{FieldErrors: map[string]string{"field": "bad"}}).HasErrors())
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation", &ValidationError{FieldErrors: map[string]string{"slot": "is required"}}, "validation"},
		{"allocation", &scheduler.SchedulerError{Report: scheduler.NewReport(scheduler.ReportResourceNotFound)}, "allocation_failed"},
		{"invalid request", fmt.Errorf("wrap: %w", scheduler.ErrInvalidRequest), "invalid_request"},
		{"unsupported", fmt.Errorf("wrap: %w", scheduler.ErrUnsupported), "unsupported"},
		{"invariant", fmt.Errorf("wrap: %w", scheduler.ErrInvariant), "invariant"},
		{"not found", fmt.Errorf("wrap: %w", persistence.ErrNotFound), "not_found"},
		{"conflict", persistence.ErrConflict, "conflict"},
		{"busy", persistence.ErrBusy, "busy"},
		{"other", errors.New("boom"), "unexpected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ErrorKind(tt.err))
		})
	}
}
