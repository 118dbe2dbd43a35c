package scheduler

import (
	"slices"
	"sort"

	"github.com/example/reservation-scheduler/internal/booking"
)

// State is the working set of one allocation attempt: reservations allocated
// so far, persisted reservations the attempt may take over, and resources
// already referenced. Every mutation is recorded in the innermost open
// savepoint. A State is owned by a single attempt and is not safe for
// concurrent use.
type State struct {
	referencedResources map[string]struct{}
	allocated           map[*booking.Reservation]struct{}
	allocatedOrder      []*booking.Reservation
	// available is keyed by the original reservation.
	available            map[*booking.Reservation]*booking.AvailableReservation
	availableExecutables []*booking.AvailableExecutable
	// executableOffers keeps the first offer position of every endpoint so a
	// reverted removal puts it back where it was.
	executableOffers map[*booking.RoomEndpoint]int
	transactions     map[booking.Kind]*transaction

	savepoints []*Savepoint
	replaying  bool
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		referencedResources: make(map[string]struct{}),
		allocated:           make(map[*booking.Reservation]struct{}),
		available:           make(map[*booking.Reservation]*booking.AvailableReservation),
		executableOffers:    make(map[*booking.RoomEndpoint]int),
		transactions:        make(map[booking.Kind]*transaction),
	}
}

func (s *State) transaction(kind booking.Kind) *transaction {
	t, ok := s.transactions[kind]
	if !ok {
		t = newTransaction()
		s.transactions[kind] = t
	}
	return t
}

// AddReferencedResource marks resourceID as used by the attempt.
func (s *State) AddReferencedResource(resourceID string) error {
	if _, ok := s.referencedResources[resourceID]; ok {
		return nil
	}
	s.referencedResources[resourceID] = struct{}{}
	return s.record(objectReferencedResource, resourceID, transitionAdded)
}

// RemoveReferencedResource reverses AddReferencedResource.
func (s *State) RemoveReferencedResource(resourceID string) error {
	if _, ok := s.referencedResources[resourceID]; !ok {
		return nil
	}
	delete(s.referencedResources, resourceID)
	return s.record(objectReferencedResource, resourceID, transitionRemoved)
}

// ContainsReferencedResource reports whether resourceID was referenced.
func (s *State) ContainsReferencedResource(resourceID string) bool {
	_, ok := s.referencedResources[resourceID]
	return ok
}

// AddAllocatedReservation records reservation as capacity consumed by the
// attempt. Adding a reservation twice is a no-op.
func (s *State) AddAllocatedReservation(reservation *booking.Reservation) error {
	if _, ok := s.allocated[reservation]; ok {
		return nil
	}
	s.allocated[reservation] = struct{}{}
	s.allocatedOrder = append(s.allocatedOrder, reservation)
	if targetID := reservation.TargetID(); targetID != "" {
		s.transaction(reservation.Kind).addAllocated(targetID, reservation)
	}
	return s.record(objectAllocatedReservation, reservation, transitionAdded)
}

// RemoveAllocatedReservation reverses AddAllocatedReservation.
func (s *State) RemoveAllocatedReservation(reservation *booking.Reservation) error {
	if _, ok := s.allocated[reservation]; !ok {
		return nil
	}
	delete(s.allocated, reservation)
	s.allocatedOrder = removeReservation(s.allocatedOrder, reservation)
	if targetID := reservation.TargetID(); targetID != "" {
		s.transaction(reservation.Kind).removeAllocated(targetID, reservation)
	}
	return s.record(objectAllocatedReservation, reservation, transitionRemoved)
}

// IsAllocated reports whether the attempt allocated reservation.
func (s *State) IsAllocated(reservation *booking.Reservation) bool {
	_, ok := s.allocated[reservation]
	return ok
}

// AllocatedReservations returns the allocated reservations in insertion
// order.
func (s *State) AllocatedReservations() []*booking.Reservation {
	out := make([]*booking.Reservation, len(s.allocatedOrder))
	copy(out, s.allocatedOrder)
	return out
}

// AddAvailableReservation offers original and, recursively, its children to
// the attempt. Offering the same reservation again with the same type
// returns the existing entry; with another type it is an invariant
// violation.
func (s *State) AddAvailableReservation(original *booking.Reservation, availableType booking.AvailableType) (*booking.AvailableReservation, error) {
	if existing, ok := s.available[original]; ok {
		if existing.Type != availableType {
			return nil, invariantf("reservation %s already available as %s, offered as %s", original.ID, existing.Type, availableType)
		}
		return existing, nil
	}
	available := &booking.AvailableReservation{Original: original, Type: availableType}
	if err := s.addAvailable(available, true); err != nil {
		return nil, err
	}
	return available, nil
}

func (s *State) addAvailable(available *booking.AvailableReservation, withChildren bool) error {
	original := available.Original
	if _, ok := s.available[original]; ok {
		return nil
	}
	s.available[original] = available
	if err := s.record(objectAvailableReservation, available, transitionAdded); err != nil {
		return err
	}

	target := available.Target()
	if available.Type == booking.Reusable && target.Executable != nil && s.availableExecutable(target.Executable) < 0 {
		s.insertAvailableExecutable(&booking.AvailableExecutable{
			Endpoint:  target.Executable,
			Available: available,
		})
	}
	if targetID := target.TargetID(); targetID != "" {
		s.transaction(target.Kind).addAvailable(targetID, available)
	}

	if !withChildren {
		return nil
	}
	for _, child := range original.Children() {
		if _, err := s.AddAvailableReservation(child, available.Type); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAvailableReservation withdraws an available reservation because the
// attempt consumed it. Its children are withdrawn too, and so is its parent
// unless the parent may be reallocated.
func (s *State) RemoveAvailableReservation(available *booking.AvailableReservation) error {
	return s.removeAvailable(available, true, true)
}

func (s *State) removeAvailable(available *booking.AvailableReservation, removeParent, removeChildren bool) error {
	original := available.Original
	stored, ok := s.available[original]
	if !ok {
		return nil
	}
	delete(s.available, original)
	if err := s.record(objectAvailableReservation, stored, transitionRemoved); err != nil {
		return err
	}

	target := stored.Target()
	if target.Executable != nil {
		if i := s.availableExecutable(target.Executable); i >= 0 {
			s.availableExecutables = append(s.availableExecutables[:i:i], s.availableExecutables[i+1:]...)
		}
	}
	if targetID := target.TargetID(); targetID != "" {
		s.transaction(target.Kind).removeAvailable(targetID, stored)
	}

	if removeParent && !stored.Modifiable() {
		if parent := original.Parent(); parent != nil {
			if parentAvailable, ok := s.available[parent]; ok {
				if err := s.removeAvailable(parentAvailable, true, false); err != nil {
					return err
				}
			}
		}
	}
	if removeChildren {
		for _, child := range original.Children() {
			childAvailable, ok := s.available[child]
			if !ok {
				if stored.Modifiable() {
					continue
				}
				return invariantf("child %s of available reservation %s is not available", child.ID, original.ID)
			}
			if err := s.removeAvailable(childAvailable, false, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *State) insertAvailableExecutable(executable *booking.AvailableExecutable) {
	offer, ok := s.executableOffers[executable.Endpoint]
	if !ok {
		offer = len(s.executableOffers)
		s.executableOffers[executable.Endpoint] = offer
	}
	i := sort.Search(len(s.availableExecutables), func(i int) bool {
		return s.executableOffers[s.availableExecutables[i].Endpoint] > offer
	})
	s.availableExecutables = slices.Insert(s.availableExecutables, i, executable)
}

func (s *State) availableExecutable(endpoint *booking.RoomEndpoint) int {
	for i, executable := range s.availableExecutables {
		if executable.Endpoint == endpoint {
			return i
		}
	}
	return -1
}

// AvailableExecutables returns the reusable room endpoints in the order they
// were offered.
func (s *State) AvailableExecutables() []*booking.AvailableExecutable {
	out := make([]*booking.AvailableExecutable, len(s.availableExecutables))
	copy(out, s.availableExecutables)
	return out
}

// AvailableReservations returns available reservations of kind for targetID
// whose original slot overlaps slot.
func (s *State) AvailableReservations(kind booking.Kind, targetID string, slot booking.Slot) []*booking.AvailableReservation {
	t, ok := s.transactions[kind]
	if !ok {
		return nil
	}
	return t.availableIn(targetID, slot)
}

// ApplyReservations reconciles persisted reservations of kind for targetID
// with the attempt. The input slice is not modified.
func (s *State) ApplyReservations(kind booking.Kind, targetID string, slot booking.Slot, persisted []*booking.Reservation) []*booking.Reservation {
	t, ok := s.transactions[kind]
	if !ok {
		out := make([]*booking.Reservation, len(persisted))
		copy(out, persisted)
		return out
	}
	return t.apply(targetID, slot, persisted)
}

// ApplyAvailableReservations drops persisted reservations of kind that the
// attempt may take over.
func (s *State) ApplyAvailableReservations(kind booking.Kind, persisted []*booking.Reservation) []*booking.Reservation {
	t, ok := s.transactions[kind]
	if !ok {
		out := make([]*booking.Reservation, len(persisted))
		copy(out, persisted)
		return out
	}
	return t.release(persisted)
}

// Snapshot is a comparable summary of a State.
type Snapshot struct {
	ReferencedResources   []string
	AllocatedReservations []string
	AvailableReservations []string
	AvailableExecutables  []string
}

// Snapshot summarises the observable state with sorted identifiers.
func (s *State) Snapshot() Snapshot {
	var snapshot Snapshot
	for id := range s.referencedResources {
		snapshot.ReferencedResources = append(snapshot.ReferencedResources, id)
	}
	for reservation := range s.allocated {
		snapshot.AllocatedReservations = append(snapshot.AllocatedReservations, reservation.ID)
	}
	for original, available := range s.available {
		snapshot.AvailableReservations = append(snapshot.AvailableReservations, original.ID+":"+available.Type.String())
	}
	for _, executable := range s.availableExecutables {
		snapshot.AvailableExecutables = append(snapshot.AvailableExecutables, executable.Endpoint.ID)
	}
	sort.Strings(snapshot.ReferencedResources)
	sort.Strings(snapshot.AllocatedReservations)
	sort.Strings(snapshot.AvailableReservations)
	sort.Strings(snapshot.AvailableExecutables)
	return snapshot
}
