package scheduler

import (
	"errors"
	"fmt"

	"github.com/example/reservation-scheduler/internal/booking"
)

// ValueReservationTask allocates one unique value from a value provider.
type ValueReservationTask struct {
	Task
	provider  *booking.ValueProvider
	requested string
}

// NewValueReservationTask returns a task allocating a value of provider in
// slot. A non-empty requested value must be allocated exactly.
func NewValueReservationTask(sc *Context, slot booking.Slot, provider *booking.ValueProvider, requested string) *ValueReservationTask {
	t := &ValueReservationTask{provider: provider, requested: requested}
	t.init(sc, slot, t)
	return t
}

func (t *ValueReservationTask) createMainReport() *Report {
	return NewReport(ReportAllocatingValue, "provider", t.provider.ID, "value", t.requested)
}

func (t *ValueReservationTask) allocateReservation(*booking.Reservation) (*booking.Reservation, error) {
	persisted, err := t.sc.reservations(booking.KindValue, t.provider.ID, t.slot)
	if err != nil {
		return nil, err
	}
	used := make(map[string]struct{}, len(persisted))
	for _, reservation := range persisted {
		used[reservation.Value.Value] = struct{}{}
	}

	available := t.state().AvailableReservations(booking.KindValue, t.provider.ID, t.slot)
	sortAvailableReservations(t.slot, available)
	for _, candidate := range available {
		target := candidate.Target()
		value := target.Value.Value
		if t.requested != "" && value != t.requested {
			continue
		}
		if candidate.Type == booking.Reusable {
			if candidate.Original.Slot.Contains(t.slot) {
				return t.reuse(candidate)
			}
			continue
		}
		if _, taken := used[value]; taken {
			continue
		}
		if err := t.state().RemoveAvailableReservation(candidate); err != nil {
			return nil, err
		}
		t.addReport(NewReport(ReportReservationReusing, "reservation", target.ID))
		return booking.NewValueReservation(target.ID, t.slot, t.provider.ID, value), nil
	}

	var value string
	if t.requested != "" {
		value, err = t.provider.GenerateRequestedValue(used, t.requested)
	} else {
		value, err = t.provider.GenerateValue(used)
	}
	switch {
	case err == nil:
	case errors.Is(err, booking.ErrValueInvalid):
		return nil, fail(ReportValueInvalid, "value", t.requested)
	case errors.Is(err, booking.ErrValueAlreadyAllocated):
		return nil, fail(ReportValueAlreadyAllocated, "value", t.requested)
	case errors.Is(err, booking.ErrNoAvailableValue):
		return nil, fail(ReportValueNotAvailable, "provider", t.provider.ID)
	default:
		return nil, fmt.Errorf("generate value of %s: %w", t.provider.ID, err)
	}
	return booking.NewValueReservation(t.sc.newID(), t.slot, t.provider.ID, value), nil
}
