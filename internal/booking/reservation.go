package booking

import (
	"errors"
	"fmt"
)

var (
	// ErrSlotNotContained is returned when a child slot exceeds its parent.
	ErrSlotNotContained = errors.New("booking: child slot not contained in parent slot")
	// ErrChildOwned is returned when a reservation already has another parent.
	ErrChildOwned = errors.New("booking: reservation already has a parent")
)

// Kind discriminates the concrete type of a reservation.
type Kind string

const (
	KindPlain            Kind = "reservation"
	KindRoom             Kind = "room"
	KindAlias            Kind = "alias"
	KindValue            Kind = "value"
	KindResource         Kind = "resource"
	KindRecordingService Kind = "recording_service"
	KindExisting         Kind = "existing"
)

// Purpose is the purpose of the reservation request that owns a reservation.
type Purpose string

const (
	PurposeScience     Purpose = "SCIENCE"
	PurposeEducation   Purpose = "EDUCATION"
	PurposeMaintenance Purpose = "MAINTENANCE"
)

// RoomAllocation is the payload of a room reservation.
type RoomAllocation struct {
	ProviderID   string
	LicenseCount int
}

// AliasAllocation is the payload of an alias reservation.
type AliasAllocation struct {
	ProviderID string
	Value      string
	Aliases    []Alias
}

// ValueAllocation is the payload of a value reservation.
type ValueAllocation struct {
	ProviderID string
	Value      string
}

// ResourceAllocation is the payload of a resource reservation.
type ResourceAllocation struct {
	ResourceID string
}

// RecordingAllocation is the payload of a recording service reservation.
type RecordingAllocation struct {
	CapabilityID string
	Service      *ExecutableService
}

// Reservation is a node of an allocated reservation tree.
type Reservation struct {
	ID   string
	Kind Kind
	Slot Slot

	RequestID string
	Priority  int
	Purpose   Purpose

	Executable *RoomEndpoint

	Room      *RoomAllocation
	Alias     *AliasAllocation
	Value     *ValueAllocation
	Resource  *ResourceAllocation
	Recording *RecordingAllocation
	// Reused is the reservation an existing reservation points at. Loaded
	// reservations may only carry ReusedID.
	Reused   *Reservation
	ReusedID string

	parent   *Reservation
	children []*Reservation
}

// NewReservation returns a plain reservation.
func NewReservation(id string, slot Slot) *Reservation {
	return &Reservation{ID: id, Kind: KindPlain, Slot: slot}
}

// NewRoomReservation returns a reservation consuming licenseCount licenses.
func NewRoomReservation(id string, slot Slot, providerID string, licenseCount int) *Reservation {
	return &Reservation{
		ID:   id,
		Kind: KindRoom,
		Slot: slot,
		Room: &RoomAllocation{ProviderID: providerID, LicenseCount: licenseCount},
	}
}

// NewAliasReservation returns an alias reservation rendering provider's
// templates with value.
func NewAliasReservation(id string, slot Slot, provider *AliasProviderCapability, value string) *Reservation {
	return &Reservation{
		ID:   id,
		Kind: KindAlias,
		Slot: slot,
		Alias: &AliasAllocation{
			ProviderID: provider.ID,
			Value:      value,
			Aliases:    provider.RenderAliases(value),
		},
	}
}

// NewValueReservation returns a value reservation.
func NewValueReservation(id string, slot Slot, providerID, value string) *Reservation {
	return &Reservation{
		ID:    id,
		Kind:  KindValue,
		Slot:  slot,
		Value: &ValueAllocation{ProviderID: providerID, Value: value},
	}
}

// NewResourceReservation returns a resource reservation.
func NewResourceReservation(id string, slot Slot, resourceID string) *Reservation {
	return &Reservation{
		ID:       id,
		Kind:     KindResource,
		Slot:     slot,
		Resource: &ResourceAllocation{ResourceID: resourceID},
	}
}

// NewRecordingServiceReservation returns a reservation for one recorder
// license.
func NewRecordingServiceReservation(id string, slot Slot, capabilityID string, service *ExecutableService) *Reservation {
	return &Reservation{
		ID:        id,
		Kind:      KindRecordingService,
		Slot:      slot,
		Recording: &RecordingAllocation{CapabilityID: capabilityID, Service: service},
	}
}

// NewExistingReservation returns a reservation that reuses reused.
func NewExistingReservation(id string, slot Slot, reused *Reservation) *Reservation {
	return &Reservation{ID: id, Kind: KindExisting, Slot: slot, Reused: reused, ReusedID: reused.ID}
}

// Parent returns the owning reservation or nil.
func (r *Reservation) Parent() *Reservation {
	return r.parent
}

// Top returns the root of the tree r belongs to.
func (r *Reservation) Top() *Reservation {
	top := r
	for top.parent != nil {
		top = top.parent
	}
	return top
}

// Children returns a copy of the child list.
func (r *Reservation) Children() []*Reservation {
	out := make([]*Reservation, len(r.children))
	copy(out, r.children)
	return out
}

// AddChild attaches child. The child slot must lie within r.Slot and the
// child must not belong to another reservation.
func (r *Reservation) AddChild(child *Reservation) error {
	if child.parent != nil && child.parent != r {
		return fmt.Errorf("%w: %s", ErrChildOwned, child.ID)
	}
	if !r.Slot.Contains(child.Slot) {
		return fmt.Errorf("%w: %s (%s) in %s (%s)", ErrSlotNotContained, child.ID, child.Slot, r.ID, r.Slot)
	}
	if child.parent == r {
		return nil
	}
	child.parent = r
	r.children = append(r.children, child)
	return nil
}

// DetachChildren removes and returns the children of r.
func (r *Reservation) DetachChildren() []*Reservation {
	children := r.children
	r.children = nil
	for _, child := range children {
		child.parent = nil
	}
	return children
}

// Target returns the reservation that actually holds capacity: for existing
// reservations the reused one, otherwise r itself.
func (r *Reservation) Target() *Reservation {
	if r.Kind == KindExisting && r.Reused != nil {
		return r.Reused.Target()
	}
	return r
}

// TargetID returns the identifier of the provider, value provider, resource or
// recording capability the reservation consumes.
func (r *Reservation) TargetID() string {
	switch r.Kind {
	case KindRoom:
		return r.Room.ProviderID
	case KindAlias:
		return r.Alias.ProviderID
	case KindValue:
		return r.Value.ProviderID
	case KindResource:
		return r.Resource.ResourceID
	case KindRecordingService:
		return r.Recording.CapabilityID
	default:
		return ""
	}
}

// LicenseCount returns the licenses consumed by a room reservation.
func (r *Reservation) LicenseCount() int {
	if r.Kind == KindRoom && r.Room != nil {
		return r.Room.LicenseCount
	}
	return 0
}

// Aliases returns the aliases of the target alias reservation.
func (r *Reservation) Aliases() []Alias {
	target := r.Target()
	if target.Kind != KindAlias || target.Alias == nil {
		return nil
	}
	out := make([]Alias, len(target.Alias.Aliases))
	copy(out, target.Alias.Aliases)
	return out
}

// Walk visits r and its descendants depth first.
func (r *Reservation) Walk(fn func(*Reservation)) {
	fn(r)
	for _, child := range r.children {
		child.Walk(fn)
	}
}

// WithSlot returns a detached copy of r with another slot. Children are not
// copied.
func (r *Reservation) WithSlot(slot Slot) *Reservation {
	clone := *r
	clone.Slot = slot
	clone.parent = nil
	clone.children = nil
	return &clone
}

func (r *Reservation) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}
