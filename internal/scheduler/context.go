package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/reservation-scheduler/internal/booking"
	"github.com/example/reservation-scheduler/internal/persistence"
)

// CapacityCache answers catalog and availability questions. *cache.Cache
// satisfies it.
type CapacityCache interface {
	Resource(id string) (*booking.DeviceResource, bool)
	RoomProviders() []*booking.RoomProviderCapability
	AliasProviders() []*booking.AliasProviderCapability
	RecordingCapabilities() []*booking.RecordingCapability
	ValueProvider(id string) (*booking.ValueProvider, bool)
	CheckResourceAvailable(resourceID string, slot booking.Slot, now time.Time) error
	CheckResourceAvailableByParent(resourceID string, slot booking.Slot, now time.Time) error
	RoomReservationMaximumDuration() time.Duration
}

// Reallocation is a reservation request whose allocation collides with the
// current one and has to be allocated again.
type Reallocation struct {
	RequestID string
	// Forced is set when the current request outranks the colliding one.
	// Otherwise the reallocation is only attempted.
	Forced bool
}

// Context is the request scoped environment shared by the task tree of one
// allocation attempt.
type Context struct {
	ctx    context.Context
	cache  CapacityCache
	lookup persistence.ReservationLookup
	state  *State

	Logger zerolog.Logger

	RequestID   string
	Description string
	UserID      string
	Priority    int
	Purpose     booking.Purpose
	// ExecutableAllowed enables room endpoint allocation.
	ExecutableAllowed bool
	// MaximumDurationRestricted enables the room duration limit.
	MaximumDurationRestricted bool
	// Now is the request time used for maximum future checks.
	Now time.Time
	// NewID generates reservation, endpoint and service identifiers.
	NewID func() string

	reallocations []Reallocation
}

// NewContext returns a context with an empty state.
func NewContext(ctx context.Context, cache CapacityCache, lookup persistence.ReservationLookup) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{
		ctx:               ctx,
		cache:             cache,
		lookup:            lookup,
		state:             NewState(),
		Logger:            zerolog.Nop(),
		Purpose:           booking.PurposeScience,
		ExecutableAllowed: true,
		Now:               time.Now().UTC(),
		NewID:             uuid.NewString,
	}
}

// State returns the working set of the attempt.
func (c *Context) State() *State {
	return c.state
}

// Cache returns the capacity cache.
func (c *Context) Cache() CapacityCache {
	return c.cache
}

// Reallocations returns the colliding requests found so far.
func (c *Context) Reallocations() []Reallocation {
	out := make([]Reallocation, len(c.reallocations))
	copy(out, c.reallocations)
	return out
}

func (c *Context) addReallocation(requestID string, forced bool) {
	for i, existing := range c.reallocations {
		if existing.RequestID == requestID {
			c.reallocations[i].Forced = existing.Forced || forced
			return
		}
	}
	c.reallocations = append(c.reallocations, Reallocation{RequestID: requestID, Forced: forced})
}

func (c *Context) newID() string {
	if c.NewID == nil {
		return uuid.NewString()
	}
	return c.NewID()
}

// reservations returns persisted reservations of kind on targetID reconciled
// with the attempt.
func (c *Context) reservations(kind booking.Kind, targetID string, slot booking.Slot) ([]*booking.Reservation, error) {
	persisted, err := c.lookup.ListReservations(c.ctx, persistence.ReservationFilter{Kind: kind, TargetID: targetID, Slot: slot})
	if err != nil {
		return nil, fmt.Errorf("list %s reservations of %s: %w", kind, targetID, err)
	}
	return c.state.ApplyReservations(kind, targetID, slot, persisted), nil
}

// AvailableRoom computes the free licenses of provider in slot. An
// unavailable device has none.
func (c *Context) AvailableRoom(provider *booking.RoomProviderCapability, slot booking.Slot) (booking.AvailableRoom, error) {
	used := provider.LicenseCount
	if c.cache.CheckResourceAvailable(provider.ResourceID, slot, c.Now) == nil {
		rooms, err := c.reservations(booking.KindRoom, provider.ID, slot)
		if err != nil {
			return booking.AvailableRoom{}, err
		}
		used = licensePeak(slot, rooms, (*booking.Reservation).LicenseCount)
	}
	room, err := booking.NewAvailableRoom(provider, used)
	if err != nil {
		return booking.AvailableRoom{}, invariantWrap(err, "available room of %s", provider.ID)
	}
	return room, nil
}

// licensePeak returns the largest weight in use at any instant of slot.
func licensePeak(slot booking.Slot, reservations []*booking.Reservation, weight func(*booking.Reservation) int) int {
	type event struct {
		at    time.Time
		delta int
	}
	events := make([]event, 0, 2*len(reservations))
	for _, reservation := range reservations {
		if !reservation.Slot.Overlaps(slot) {
			continue
		}
		w := weight(reservation)
		if w == 0 {
			continue
		}
		start, end := reservation.Slot.Start, reservation.Slot.End
		if start.Before(slot.Start) {
			start = slot.Start
		}
		if end.After(slot.End) {
			end = slot.End
		}
		events = append(events, event{at: start, delta: w}, event{at: end, delta: -w})
	}
	// Slots are half-open, so an end releases capacity before a start at the
	// same instant claims it.
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].at.Equal(events[j].at) {
			return events[i].at.Before(events[j].at)
		}
		return events[i].delta < events[j].delta
	})
	peak, current := 0, 0
	for _, e := range events {
		current += e.delta
		if current > peak {
			peak = current
		}
	}
	return peak
}

// checkResource converts a cache availability failure into a report.
func (c *Context) checkResource(resourceID string, slot booking.Slot, byParent bool) *Report {
	var err error
	if byParent {
		err = c.cache.CheckResourceAvailableByParent(resourceID, slot, c.Now)
	} else {
		err = c.cache.CheckResourceAvailable(resourceID, slot, c.Now)
	}
	if err == nil {
		return nil
	}
	return unavailableReport(resourceID, err)
}

// DetectCollisions decides what happens when reservations of other requests
// occupy the capacity task needs. A higher priority forces those requests to
// be reallocated and a maintenance request asks for it; otherwise the
// collision is an allocation failure.
func (c *Context) DetectCollisions(task *Task, colliding []*booking.Reservation) error {
	if len(colliding) == 0 {
		return nil
	}
	if c.hasHigherPriority(colliding) {
		ids := make([]string, 0, len(colliding))
		for _, reservation := range colliding {
			c.addReallocation(reservation.Top().RequestID, true)
			ids = append(ids, reservation.ID)
		}
		task.addReport(NewReport(ReportReallocatingReservationRequests, "reservations", strings.Join(ids, ",")))
		return nil
	}
	if c.Purpose == booking.PurposeMaintenance {
		pairs := make([]string, 0, len(colliding))
		for _, reservation := range colliding {
			requestID := reservation.Top().RequestID
			c.addReallocation(requestID, false)
			pairs = append(pairs, reservation.ID+"="+requestID)
		}
		task.addReport(NewReport(ReportCollidingReservations, "reservations", strings.Join(pairs, ",")))
		return nil
	}

	first := colliding[0]
	resourceID := allocatedResourceID(c.cache, first)
	if first.Top().Purpose == booking.PurposeMaintenance {
		return newSchedulerError(NewReport(ReportResourceUnderMaintenance,
			"resource", resourceID, "slot", first.Slot.String()))
	}
	return newSchedulerError(NewReport(ReportResourceAlreadyAllocated,
		"resource", resourceID, "slot", first.Slot.String()))
}

func (c *Context) hasHigherPriority(reservations []*booking.Reservation) bool {
	for _, reservation := range reservations {
		if c.Priority <= reservation.Top().Priority {
			return false
		}
	}
	return true
}

// allocatedResourceID names the device a reservation occupies.
func allocatedResourceID(cache CapacityCache, reservation *booking.Reservation) string {
	switch reservation.Kind {
	case booking.KindResource:
		return reservation.Resource.ResourceID
	case booking.KindRoom:
		for _, provider := range cache.RoomProviders() {
			if provider.ID == reservation.Room.ProviderID {
				return provider.ResourceID
			}
		}
	case booking.KindRecordingService:
		for _, capability := range cache.RecordingCapabilities() {
			if capability.ID == reservation.Recording.CapabilityID {
				return capability.ResourceID
			}
		}
	}
	return reservation.TargetID()
}

func formatDuration(d time.Duration) string {
	return strconv.FormatFloat(d.Minutes(), 'f', -1, 64) + "m"
}
