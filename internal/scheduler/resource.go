package scheduler

import (
	"github.com/example/reservation-scheduler/internal/booking"
)

// ResourceReservationTask books a whole device and, transitively, its
// parent devices.
type ResourceReservationTask struct {
	Task
	resource *booking.DeviceResource
}

// NewResourceReservationTask returns a task booking resource in slot.
func NewResourceReservationTask(sc *Context, slot booking.Slot, resource *booking.DeviceResource) *ResourceReservationTask {
	t := &ResourceReservationTask{resource: resource}
	t.init(sc, slot, t)
	return t
}

func (t *ResourceReservationTask) createMainReport() *Report {
	return NewReport(ReportAllocatingResource, "resource", t.resource.ID)
}

func (t *ResourceReservationTask) allocateReservation(*booking.Reservation) (*booking.Reservation, error) {
	resourceID := t.resource.ID
	state := t.state()
	if state.ContainsReferencedResource(resourceID) {
		return nil, fail(ReportResourceMultipleRequested, "resource", resourceID)
	}
	if report := t.sc.checkResource(resourceID, t.slot, true); report != nil {
		return nil, newSchedulerError(report)
	}

	available := state.AvailableReservations(booking.KindResource, resourceID, t.slot)
	sortAvailableReservations(t.slot, available)
	for _, candidate := range available {
		if candidate.Type == booking.Reusable && candidate.Original.Slot.Contains(t.slot) {
			return t.reuse(candidate)
		}
	}

	colliding, err := t.collisions()
	if err != nil {
		return nil, err
	}
	if err := t.sc.DetectCollisions(&t.Task, colliding); err != nil {
		return nil, err
	}
	if err := state.AddReferencedResource(resourceID); err != nil {
		return nil, err
	}
	reservation := booking.NewResourceReservation(t.sc.newID(), t.slot, resourceID)

	if parentID := t.resource.ParentID; parentID != "" && !state.ContainsReferencedResource(parentID) {
		parent, ok := t.sc.cache.Resource(parentID)
		if !ok {
			return nil, fail(ReportResourceNotFound, "resource", parentID)
		}
		if _, err := t.addChildReservation(NewResourceReservationTask(t.sc, t.slot, parent)); err != nil {
			return nil, err
		}
	}
	return reservation, nil
}

// collisions returns reservations of other requests occupying the device:
// bookings of the device itself, rooms on its room provider and recordings
// on its recorder.
func (t *ResourceReservationTask) collisions() ([]*booking.Reservation, error) {
	type target struct {
		kind booking.Kind
		id   string
	}
	targets := []target{{booking.KindResource, t.resource.ID}}
	if provider := t.resource.RoomProvider; provider != nil {
		targets = append(targets, target{booking.KindRoom, provider.ID})
	}
	if recording := t.resource.Recording; recording != nil {
		targets = append(targets, target{booking.KindRecordingService, recording.ID})
	}

	var colliding []*booking.Reservation
	for _, tg := range targets {
		reservations, err := t.sc.reservations(tg.kind, tg.id, t.slot)
		if err != nil {
			return nil, err
		}
		for _, reservation := range reservations {
			if t.state().IsAllocated(reservation) {
				continue
			}
			colliding = append(colliding, reservation)
		}
	}
	return colliding, nil
}
