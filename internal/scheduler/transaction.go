package scheduler

import (
	"github.com/example/reservation-scheduler/internal/booking"
)

// transaction holds the reservations of one kind that the current attempt
// allocated or may take over, keyed by target identifier.
type transaction struct {
	allocated map[string][]*booking.Reservation
	available map[string][]*booking.AvailableReservation
}

func newTransaction() *transaction {
	return &transaction{
		allocated: make(map[string][]*booking.Reservation),
		available: make(map[string][]*booking.AvailableReservation),
	}
}

func (t *transaction) addAllocated(targetID string, reservation *booking.Reservation) {
	t.allocated[targetID] = append(t.allocated[targetID], reservation)
}

func (t *transaction) removeAllocated(targetID string, reservation *booking.Reservation) {
	t.allocated[targetID] = removeReservation(t.allocated[targetID], reservation)
	if len(t.allocated[targetID]) == 0 {
		delete(t.allocated, targetID)
	}
}

func (t *transaction) addAvailable(targetID string, available *booking.AvailableReservation) {
	t.available[targetID] = append(t.available[targetID], available)
}

func (t *transaction) removeAvailable(targetID string, available *booking.AvailableReservation) {
	entries := t.available[targetID]
	for i, entry := range entries {
		if entry == available {
			entries = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(t.available, targetID)
		return
	}
	t.available[targetID] = entries
}

// apply reconciles persisted reservations with the attempt: reservations
// the attempt may take over no longer count, reservations it allocated do.
func (t *transaction) apply(targetID string, slot booking.Slot, persisted []*booking.Reservation) []*booking.Reservation {
	released := make(map[string]struct{})
	for _, available := range t.available[targetID] {
		released[available.Target().ID] = struct{}{}
	}
	out := make([]*booking.Reservation, 0, len(persisted))
	seen := make(map[string]struct{}, len(persisted))
	for _, reservation := range persisted {
		if _, ok := released[reservation.ID]; ok {
			continue
		}
		if _, dup := seen[reservation.ID]; dup {
			continue
		}
		seen[reservation.ID] = struct{}{}
		out = append(out, reservation)
	}
	for _, reservation := range t.allocated[targetID] {
		if !reservation.Slot.Overlaps(slot) {
			continue
		}
		if _, dup := seen[reservation.ID]; dup {
			continue
		}
		seen[reservation.ID] = struct{}{}
		out = append(out, reservation)
	}
	return out
}

// release drops persisted reservations the attempt may take over, whatever
// their target.
func (t *transaction) release(persisted []*booking.Reservation) []*booking.Reservation {
	released := make(map[string]struct{})
	for _, entries := range t.available {
		for _, available := range entries {
			released[available.Target().ID] = struct{}{}
		}
	}
	out := make([]*booking.Reservation, 0, len(persisted))
	for _, reservation := range persisted {
		if _, ok := released[reservation.ID]; !ok {
			out = append(out, reservation)
		}
	}
	return out
}

func (t *transaction) availableIn(targetID string, slot booking.Slot) []*booking.AvailableReservation {
	var out []*booking.AvailableReservation
	for _, available := range t.available[targetID] {
		if available.Original.Slot.Overlaps(slot) {
			out = append(out, available)
		}
	}
	return out
}

func removeReservation(list []*booking.Reservation, reservation *booking.Reservation) []*booking.Reservation {
	for i, item := range list {
		if item == reservation {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
