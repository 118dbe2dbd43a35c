package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/example/reservation-scheduler/internal/booking"
	"github.com/example/reservation-scheduler/internal/persistence"
)

// Store keeps committed reservation trees in memory. It backs unit tests and
// dry runs of the CLI.
type Store struct {
	mu    sync.RWMutex
	tops  map[string]*booking.Reservation
	nodes map[string]*booking.Reservation
	// topOf maps every node identifier to its tree root.
	topOf map[string]string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		tops:  make(map[string]*booking.Reservation),
		nodes: make(map[string]*booking.Reservation),
		topOf: make(map[string]string),
	}
}

var _ persistence.ReservationRepository = (*Store)(nil)

// SaveReservation stores the tree rooted at top.
func (s *Store) SaveReservation(ctx context.Context, top *booking.Reservation) error {
	return s.ReplaceReservation(ctx, "", top)
}

// ReplaceReservation stores top in place of the tree rooted at previousID.
// Conflicts are detected before anything is removed.
func (s *Store) ReplaceReservation(ctx context.Context, previousID string, top *booking.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var conflict bool
	top.Walk(func(r *booking.Reservation) {
		if owner, ok := s.topOf[r.ID]; ok && owner != top.ID && owner != previousID {
			conflict = true
		}
	})
	if conflict {
		return persistence.ErrConflict
	}

	if previousID != "" {
		s.deleteLocked(previousID)
	}
	s.deleteLocked(top.ID)
	s.tops[top.ID] = top
	top.Walk(func(r *booking.Reservation) {
		s.nodes[r.ID] = r
		s.topOf[r.ID] = top.ID
	})
	return nil
}

// GetReservation returns the tree rooted at id.
func (s *Store) GetReservation(ctx context.Context, id string) (*booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	top, ok := s.tops[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return top, nil
}

// ListRequestReservations returns the trees of a request ordered by slot.
func (s *Store) ListRequestReservations(ctx context.Context, requestID string) ([]*booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*booking.Reservation
	for _, top := range s.tops {
		if top.RequestID == requestID {
			out = append(out, top)
		}
	}
	sortBySlot(out)
	return out, nil
}

// DeleteReservation removes the tree rooted at id.
func (s *Store) DeleteReservation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tops[id]; !ok {
		return persistence.ErrNotFound
	}
	s.deleteLocked(id)
	return nil
}

func (s *Store) deleteLocked(topID string) {
	top, ok := s.tops[topID]
	if !ok {
		return
	}
	top.Walk(func(r *booking.Reservation) {
		delete(s.nodes, r.ID)
		delete(s.topOf, r.ID)
	})
	delete(s.tops, topID)
}

// ListReservations returns reservations matching filter ordered by slot.
func (s *Store) ListReservations(ctx context.Context, filter persistence.ReservationFilter) ([]*booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*booking.Reservation
	for _, r := range s.nodes {
		if r.Kind != filter.Kind || r.TargetID() != filter.TargetID {
			continue
		}
		if !r.Slot.Overlaps(filter.Slot) {
			continue
		}
		out = append(out, r)
	}
	sortBySlot(out)
	return out, nil
}

// ListEndpointUsages returns room reservations reusing endpointID in slot.
func (s *Store) ListEndpointUsages(ctx context.Context, endpointID string, slot booking.Slot) ([]*booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*booking.Reservation
	for _, r := range s.nodes {
		if r.Kind != booking.KindRoom || r.Executable == nil {
			continue
		}
		if r.Executable.Kind != booking.EndpointUsed || r.Executable.ReusedID != endpointID {
			continue
		}
		if r.Slot.Overlaps(slot) {
			out = append(out, r)
		}
	}
	sortBySlot(out)
	return out, nil
}

func sortBySlot(reservations []*booking.Reservation) {
	sort.Slice(reservations, func(i, j int) bool {
		if !reservations[i].Slot.Start.Equal(reservations[j].Slot.Start) {
			return reservations[i].Slot.Start.Before(reservations[j].Slot.Start)
		}
		return reservations[i].ID < reservations[j].ID
	})
}
