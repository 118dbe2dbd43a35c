package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/reservation-scheduler/internal/booking"
	"github.com/example/reservation-scheduler/internal/testfixtures"
)

func TestResourceBooksParents(t *testing.T) {
	h := newHarness(t)
	h.catalog.Device("room-hw", nil)
	h.catalog.Device("cam", nil, testfixtures.WithParent("room-hw"))
	slot := testfixtures.Hours(10, 12)

	result := h.mustAllocate(Request{ID: "req-1", Slot: slot, Specification: ResourceSpecification{ResourceID: "cam"}})
	assert.Equal(t, "cam", result.Reservation.Resource.ResourceID)
	parents := childrenOfKind(result.Reservation, booking.KindResource)
	require.Len(t, parents, 1)
	assert.Equal(t, "room-hw", parents[0].Resource.ResourceID)

	_, err := h.allocate(Request{ID: "req-2", Slot: slot, Specification: ResourceSpecification{ResourceID: "room-hw"}})
	failure := requireFailure(t, err, ReportResourceAlreadyAllocated)
	assert.Equal(t, "room-hw", failure.Report.Find(ReportResourceAlreadyAllocated).Attr("resource"))
}

func TestResourceCollidesWithRooms(t *testing.T) {
	h := newHarness(t)
	h.catalog.Device("mcu", h323, testfixtures.WithRoomProvider(10))
	slot := testfixtures.Hours(10, 12)
	h.mustAllocate(Request{ID: "req-1", Slot: slot, Specification: h323Room(2)})

	_, err := h.allocate(Request{ID: "req-2", Slot: slot, Specification: ResourceSpecification{ResourceID: "mcu"}})
	failure := requireFailure(t, err, ReportResourceAlreadyAllocated)
	assert.Equal(t, "mcu", failure.Report.Find(ReportResourceAlreadyAllocated).Attr("resource"))
}

func TestResourceCollisionPolicy(t *testing.T) {
	slot := testfixtures.Hours(10, 12)
	spec := ResourceSpecification{ResourceID: "cam"}

	t.Run("higher priority forces reallocation", func(t *testing.T) {
		h := newHarness(t)
		h.catalog.Device("cam", nil)
		h.mustAllocate(Request{ID: "req-1", Slot: slot, Specification: spec})

		result := h.mustAllocate(Request{ID: "req-2", Slot: slot, Specification: spec, Priority: 5})
		assert.Equal(t, []Reallocation{{RequestID: "req-1", Forced: true}}, result.Reallocations)
		assert.NotNil(t, findReport(result.Reports, ReportReallocatingReservationRequests))
	})

	t.Run("maintenance asks for reallocation", func(t *testing.T) {
		h := newHarness(t)
		h.catalog.Device("cam", nil)
		h.mustAllocate(Request{ID: "req-1", Slot: slot, Specification: spec})

		result := h.mustAllocate(Request{ID: "req-2", Slot: slot, Specification: spec, Purpose: booking.PurposeMaintenance})
		assert.Equal(t, []Reallocation{{RequestID: "req-1"}}, result.Reallocations)
		assert.NotNil(t, findReport(result.Reports, ReportCollidingReservations))
	})

	t.Run("equal priority fails", func(t *testing.T) {
		h := newHarness(t)
		h.catalog.Device("cam", nil)
		h.mustAllocate(Request{ID: "req-1", Slot: slot, Specification: spec, Priority: 5})

		_, err := h.allocate(Request{ID: "req-2", Slot: slot, Specification: spec, Priority: 5})
		requireFailure(t, err, ReportResourceAlreadyAllocated)
	})

	t.Run("maintenance blocks", func(t *testing.T) {
		h := newHarness(t)
		h.catalog.Device("cam", nil)
		h.mustAllocate(Request{ID: "req-1", Slot: slot, Specification: spec, Purpose: booking.PurposeMaintenance})

		_, err := h.allocate(Request{ID: "req-2", Slot: slot, Specification: spec})
		requireFailure(t, err, ReportResourceUnderMaintenance)
	})
}

func TestResourceAvailability(t *testing.T) {
	h := newHarness(t)
	h.catalog.Device("retired", nil, testfixtures.NotAllocatable())
	h.catalog.Device("soon", nil, testfixtures.WithMaximumFuture(24*time.Hour))

	_, err := h.allocate(Request{ID: "req-1", Slot: testfixtures.Hours(10, 12), Specification: ResourceSpecification{ResourceID: "retired"}})
	requireFailure(t, err, ReportResourceNotAllocatable)

	h.mustAllocate(Request{ID: "req-2", Slot: testfixtures.Hours(10, 12), Specification: ResourceSpecification{ResourceID: "soon"}})
	_, err = h.allocate(Request{ID: "req-3", Slot: testfixtures.Hours(20, 22), Specification: ResourceSpecification{ResourceID: "soon"}})
	requireFailure(t, err, ReportResourceNotAvailable)

	_, err = h.allocate(Request{ID: "req-4", Slot: testfixtures.Hours(10, 12), Specification: ResourceSpecification{ResourceID: "missing"}})
	requireFailure(t, err, ReportResourceNotFound)
}

func TestResourceRequestedTwice(t *testing.T) {
	h := newHarness(t)
	cam := h.catalog.Device("cam", nil)
	slot := testfixtures.Hours(10, 12)
	sc := h.context()

	_, err := NewResourceReservationTask(sc, slot, cam).Perform(nil)
	require.NoError(t, err)
	_, err = NewResourceReservationTask(sc, slot, cam).Perform(nil)
	requireFailure(t, err, ReportResourceMultipleRequested)
}
