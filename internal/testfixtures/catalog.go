package testfixtures

import (
	"strconv"
	"testing"
	"time"

	"github.com/example/reservation-scheduler/internal/booking"
	"github.com/example/reservation-scheduler/internal/cache"
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Hours returns the slot from fromHour to toHour counted from the start of
// the day after ReferenceTime.
func Hours(fromHour, toHour int) booking.Slot {
	day := referenceTime.Truncate(24 * time.Hour).Add(24 * time.Hour)
	return booking.MustSlot(day.Add(time.Duration(fromHour)*time.Hour), day.Add(time.Duration(toHour)*time.Hour))
}

// Catalog registers deterministic devices in a cache and fails the test on
// registration errors.
type Catalog struct {
	tb    testing.TB
	Cache *cache.Cache
}

// NewCatalog returns an empty catalog.
func NewCatalog(tb testing.TB, opts ...cache.Option) *Catalog {
	return &Catalog{tb: tb, Cache: cache.New(opts...)}
}

// ValueProvider registers a value provider with patterns.
func (c *Catalog) ValueProvider(id string, patterns ...string) *booking.ValueProvider {
	c.tb.Helper()
	provider := &booking.ValueProvider{ID: id, Patterns: patterns}
	if err := c.Cache.AddValueProvider(provider); err != nil {
		c.tb.Fatalf("add value provider %s: %v", id, err)
	}
	return provider
}

// DeviceOption configures a device before registration.
type DeviceOption func(*booking.DeviceResource)

// WithRoomProvider gives the device a room provider "<id>-room".
func WithRoomProvider(licenses int, requiredAliasTypes ...booking.AliasType) DeviceOption {
	return func(r *booking.DeviceResource) {
		r.RoomProvider = &booking.RoomProviderCapability{
			ID:                 r.ID + "-room",
			LicenseCount:       licenses,
			RequiredAliasTypes: requiredAliasTypes,
		}
	}
}

// WithMaxLicencesPerRoom limits single rooms of the device.
func WithMaxLicencesPerRoom(limit int) DeviceOption {
	return func(r *booking.DeviceResource) {
		if r.RoomProvider != nil {
			r.RoomProvider.MaxLicencesPerRoom = limit
		}
	}
}

// WithRoomRecordable makes rooms of the device record on the device itself.
func WithRoomRecordable() DeviceOption {
	return func(r *booking.DeviceResource) {
		if r.RoomProvider != nil {
			r.RoomProvider.RoomRecordable = true
		}
		if r.Recording == nil {
			r.Recording = &booking.RecordingCapability{ID: r.ID + "-rec"}
		}
	}
}

// WithRecording gives the device a recorder "<id>-rec". Zero licenses means
// unlimited.
func WithRecording(licenses int) DeviceOption {
	return func(r *booking.DeviceResource) {
		r.Recording = &booking.RecordingCapability{ID: r.ID + "-rec", LicenseCount: licenses}
	}
}

// WithAliasProvider adds an alias provider "<id>-alias-<n>" backed by
// valueProviderID rendering one alias per type.
func WithAliasProvider(valueProviderID string, restricted bool, types ...booking.AliasType) DeviceOption {
	return func(r *booking.DeviceResource) {
		templates := make([]booking.AliasTemplate, 0, len(types))
		for _, aliasType := range types {
			templates = append(templates, booking.AliasTemplate{Type: aliasType, Pattern: string(aliasType) + ":{value}"})
		}
		r.AliasProviders = append(r.AliasProviders, &booking.AliasProviderCapability{
			ID:                   r.ID + "-alias-" + strconv.Itoa(len(r.AliasProviders)),
			Aliases:              templates,
			ValueProviderID:      valueProviderID,
			RestrictedToResource: restricted,
		})
	}
}

// WithPermanentRooms makes every alias provider of the device establish a
// permanent room.
func WithPermanentRooms() DeviceOption {
	return func(r *booking.DeviceResource) {
		for _, provider := range r.AliasProviders {
			provider.PermanentRoom = true
		}
	}
}

// WithParent sets the parent device.
func WithParent(parentID string) DeviceOption {
	return func(r *booking.DeviceResource) { r.ParentID = parentID }
}

// WithMaximumFuture bounds how far ahead the device may be booked.
func WithMaximumFuture(d time.Duration) DeviceOption {
	return func(r *booking.DeviceResource) { r.MaximumFuture = d }
}

// NotAllocatable withdraws the device from scheduling.
func NotAllocatable() DeviceOption {
	return func(r *booking.DeviceResource) { r.Allocatable = false }
}

// Device registers an allocatable device supporting technologies.
func (c *Catalog) Device(id string, technologies []booking.Technology, opts ...DeviceOption) *booking.DeviceResource {
	c.tb.Helper()
	resource := &booking.DeviceResource{
		ID:           id,
		Name:         id,
		Technologies: booking.NewTechnologySet(technologies...),
		Allocatable:  true,
	}
	for _, opt := range opts {
		opt(resource)
	}
	if err := c.Cache.AddResource(resource); err != nil {
		c.tb.Fatalf("add resource %s: %v", id, err)
	}
	return resource
}
