package scheduler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportTree(t *testing.T) {
	root := NewReport(ReportAllocatingRoom, "participants", "5", "dangling")
	child := NewReport(ReportResourceRoomCapacityExceeded, "resource", "mcu")
	root.addChild(child)
	root.addChild(root)
	root.addChild(nil)

	assert.Equal(t, "allocating-room (participants=5)", root.String())
	assert.Equal(t, "5", root.Attr("participants"))
	assert.Empty(t, root.Attr("dangling"))
	assert.False(t, root.IsError())
	assert.True(t, child.IsError())
	assert.Same(t, child, root.Find(ReportResourceRoomCapacityExceeded))
	assert.Nil(t, root.Find(ReportValueInvalid))
	assert.Len(t, root.Children(), 1)
	assert.Equal(t, "- allocating-room (participants=5)\n  -! resource-room-capacity-exceeded (resource=mcu)", root.Tree())
}

func TestErrorClassification(t *testing.T) {
	failure := newSchedulerError(NewReport(ReportValueInvalid, "value", "x"))
	assert.Equal(t, "scheduler: allocation failed: value-invalid (value=x)", failure.Error())

	got, ok := AsSchedulerError(fmt.Errorf("allocate: %w", failure))
	require.True(t, ok)
	assert.Same(t, failure, got)

	cause := errors.New("boom")
	invariant := invariantWrap(cause, "state of %s", "r1")
	assert.ErrorIs(t, invariant, ErrInvariant)
	assert.ErrorIs(t, invariant, cause)
	assert.Equal(t, "scheduler: invariant violation: state of r1: boom", invariant.Error())

	tests := []struct {
		err  error
		want string
	}{
		{nil, "allocated"},
		{failure, "failed"},
		{invariant, "invariant"},
		{unsupportedf("foreign room"), "unsupported"},
		{fmt.Errorf("%w: bad", ErrInvalidRequest), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Outcome(tt.err))
	}
}
