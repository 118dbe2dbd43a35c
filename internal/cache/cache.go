package cache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/reservation-scheduler/internal/booking"
)

var (
	// ErrDuplicate is returned when an identifier is registered twice.
	ErrDuplicate = errors.New("cache: duplicate identifier")
	// ErrUnknownValueProvider is returned when an alias provider references a
	// value provider that was not registered first.
	ErrUnknownValueProvider = errors.New("cache: unknown value provider")
)

// Reason explains why a resource cannot be allocated.
type Reason string

const (
	ReasonNotFound       Reason = "not_found"
	ReasonNotAllocatable Reason = "not_allocatable"
	ReasonMaximumFuture  Reason = "maximum_future"
)

// UnavailableError reports a resource that cannot be allocated in a slot.
type UnavailableError struct {
	ResourceID string
	Reason     Reason
	// Limit is the latest allowed end for ReasonMaximumFuture.
	Limit time.Time
}

func (e *UnavailableError) Error() string {
	if e.Reason == ReasonMaximumFuture {
		return fmt.Sprintf("cache: resource %s unavailable after %s", e.ResourceID, e.Limit.Format(time.RFC3339))
	}
	return fmt.Sprintf("cache: resource %s unavailable (%s)", e.ResourceID, e.Reason)
}

// Cache is the in-memory catalog of device resources and their capabilities.
// It answers availability questions for the scheduler. Reads are safe for
// concurrent allocation attempts.
type Cache struct {
	mu              sync.RWMutex
	resources       map[string]*booking.DeviceResource
	order           []string
	valueProviders  map[string]*booking.ValueProvider
	roomMaxDuration time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithRoomReservationMaximumDuration bounds the length of room reservations.
func WithRoomReservationMaximumDuration(d time.Duration) Option {
	return func(c *Cache) {
		c.roomMaxDuration = d
	}
}

// New returns an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		resources:      make(map[string]*booking.DeviceResource),
		valueProviders: make(map[string]*booking.ValueProvider),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddValueProvider registers a value provider.
func (c *Cache) AddValueProvider(provider *booking.ValueProvider) error {
	if err := provider.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.valueProviders[provider.ID]; ok {
		return fmt.Errorf("%w: value provider %s", ErrDuplicate, provider.ID)
	}
	c.valueProviders[provider.ID] = provider
	return nil
}

// AddResource registers a device resource. Capability resource identifiers are
// bound to the resource.
func (c *Cache) AddResource(resource *booking.DeviceResource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.resources[resource.ID]; ok {
		return fmt.Errorf("%w: resource %s", ErrDuplicate, resource.ID)
	}
	if resource.RoomProvider != nil {
		resource.RoomProvider.ResourceID = resource.ID
	}
	if resource.Recording != nil {
		resource.Recording.ResourceID = resource.ID
	}
	for _, aliasProvider := range resource.AliasProviders {
		if _, ok := c.valueProviders[aliasProvider.ValueProviderID]; !ok {
			return fmt.Errorf("%w: %s referenced by %s", ErrUnknownValueProvider, aliasProvider.ValueProviderID, aliasProvider.ID)
		}
		aliasProvider.ResourceID = resource.ID
	}
	c.resources[resource.ID] = resource
	c.order = append(c.order, resource.ID)
	return nil
}

// Resource returns a registered resource.
func (c *Cache) Resource(id string) (*booking.DeviceResource, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resource, ok := c.resources[id]
	return resource, ok
}

// Resources returns the resources in registration order.
func (c *Cache) Resources() []*booking.DeviceResource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*booking.DeviceResource, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.resources[id])
	}
	return out
}

// ValueProvider returns a registered value provider.
func (c *Cache) ValueProvider(id string) (*booking.ValueProvider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	provider, ok := c.valueProviders[id]
	return provider, ok
}

// RoomProviders returns every room provider capability in registration order.
func (c *Cache) RoomProviders() []*booking.RoomProviderCapability {
	var out []*booking.RoomProviderCapability
	for _, resource := range c.Resources() {
		if resource.RoomProvider != nil {
			out = append(out, resource.RoomProvider)
		}
	}
	return out
}

// AliasProviders returns every alias provider capability in registration
// order.
func (c *Cache) AliasProviders() []*booking.AliasProviderCapability {
	var out []*booking.AliasProviderCapability
	for _, resource := range c.Resources() {
		out = append(out, resource.AliasProviders...)
	}
	return out
}

// RecordingCapabilities returns every recording capability in registration
// order.
func (c *Cache) RecordingCapabilities() []*booking.RecordingCapability {
	var out []*booking.RecordingCapability
	for _, resource := range c.Resources() {
		if resource.Recording != nil {
			out = append(out, resource.Recording)
		}
	}
	return out
}

// RoomReservationMaximumDuration returns the room duration limit, zero for
// none.
func (c *Cache) RoomReservationMaximumDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomMaxDuration
}

// CheckResourceAvailable reports whether the resource may be allocated in slot
// for a request made at now.
func (c *Cache) CheckResourceAvailable(resourceID string, slot booking.Slot, now time.Time) error {
	resource, ok := c.Resource(resourceID)
	if !ok {
		return &UnavailableError{ResourceID: resourceID, Reason: ReasonNotFound}
	}
	if !resource.Allocatable {
		return &UnavailableError{ResourceID: resourceID, Reason: ReasonNotAllocatable}
	}
	if resource.MaximumFuture > 0 && !now.IsZero() {
		limit := now.Add(resource.MaximumFuture)
		if slot.End.After(limit) {
			return &UnavailableError{ResourceID: resourceID, Reason: ReasonMaximumFuture, Limit: limit}
		}
	}
	return nil
}

// CheckResourceAvailableByParent checks the resource and all of its parents.
func (c *Cache) CheckResourceAvailableByParent(resourceID string, slot booking.Slot, now time.Time) error {
	seen := make(map[string]struct{})
	for id := resourceID; id != ""; {
		if _, loop := seen[id]; loop {
			break
		}
		seen[id] = struct{}{}
		if err := c.CheckResourceAvailable(id, slot, now); err != nil {
			return err
		}
		resource, _ := c.Resource(id)
		id = resource.ParentID
	}
	return nil
}
