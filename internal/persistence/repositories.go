package persistence

import (
	"context"

	"github.com/example/reservation-scheduler/internal/booking"
)

// ReservationFilter selects reservations of one kind consuming one target
// (room provider, value provider, resource or recording capability) that
// overlap Slot.
type ReservationFilter struct {
	Kind     booking.Kind
	TargetID string
	Slot     booking.Slot
}

// ReservationLookup answers the capacity questions of the scheduler.
// Returned reservations keep their parent links and must be treated as
// read-only.
type ReservationLookup interface {
	ListReservations(ctx context.Context, filter ReservationFilter) ([]*booking.Reservation, error)
	// ListEndpointUsages returns room reservations whose executable reuses
	// the endpoint within slot.
	ListEndpointUsages(ctx context.Context, endpointID string, slot booking.Slot) ([]*booking.Reservation, error)
}

// ReservationRepository persists committed reservation trees.
type ReservationRepository interface {
	ReservationLookup
	// SaveReservation stores the whole tree rooted at top atomically,
	// replacing a previously stored tree with the same root identifier.
	SaveReservation(ctx context.Context, top *booking.Reservation) error
	// ReplaceReservation removes the tree rooted at previousID and stores
	// top in one atomic step. On error both trees are left as they were.
	// An empty or unknown previousID makes it a SaveReservation.
	ReplaceReservation(ctx context.Context, previousID string, top *booking.Reservation) error
	// GetReservation loads the full tree rooted at id.
	GetReservation(ctx context.Context, id string) (*booking.Reservation, error)
	// ListRequestReservations loads the top-level trees allocated for a
	// reservation request.
	ListRequestReservations(ctx context.Context, requestID string) ([]*booking.Reservation, error)
	// DeleteReservation removes the tree rooted at id.
	DeleteReservation(ctx context.Context, id string) error
}
