// Package scenario reads YAML files describing a device catalog and the
// reservation requests to allocate against it.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/reservation-scheduler/internal/booking"
	"github.com/example/reservation-scheduler/internal/cache"
)

// ErrInvalid is wrapped by every validation failure of a scenario.
var ErrInvalid = errors.New("scenario: invalid")

// Scenario is the root document.
type Scenario struct {
	// RoomMaxDuration limits restricted room requests, as a Go duration.
	RoomMaxDuration string          `yaml:"room_max_duration"`
	ValueProviders  []ValueProvider `yaml:"value_providers"`
	Devices         []Device        `yaml:"devices"`
	Requests        []Request       `yaml:"requests"`
}

// ValueProvider is a pool of values such as phone numbers.
type ValueProvider struct {
	ID                     string   `yaml:"id"`
	Patterns               []string `yaml:"patterns"`
	AllowAnyRequestedValue bool     `yaml:"allow_any_requested_value"`
}

// Device is a schedulable device with its capabilities.
type Device struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Parent       string   `yaml:"parent"`
	Technologies []string `yaml:"technologies"`
	// Allocatable defaults to true.
	Allocatable   *bool  `yaml:"allocatable"`
	MaximumFuture string `yaml:"maximum_future"`
	Terminal      bool   `yaml:"terminal"`

	RoomProvider   *RoomProvider   `yaml:"room_provider"`
	AliasProviders []AliasProvider `yaml:"alias_providers"`
	Recording      *Recording      `yaml:"recording"`
}

// RoomProvider hosts virtual rooms.
type RoomProvider struct {
	Licenses           int      `yaml:"licenses"`
	MaxLicencesPerRoom int      `yaml:"max_licences_per_room"`
	RequiredAliasTypes []string `yaml:"required_alias_types"`
	Recordable         bool     `yaml:"recordable"`
}

// AliasProvider renders aliases from values of a value provider.
type AliasProvider struct {
	ID            string          `yaml:"id"`
	ValueProvider string          `yaml:"value_provider"`
	Aliases       []AliasTemplate `yaml:"aliases"`
	Restricted    bool            `yaml:"restricted"`
	PermanentRoom bool            `yaml:"permanent_room"`
}

// AliasTemplate renders one alias; "{value}" in Pattern is replaced.
type AliasTemplate struct {
	Type    string `yaml:"type"`
	Pattern string `yaml:"pattern"`
}

// Recording is a recorder. Zero licenses means unlimited.
type Recording struct {
	Licenses int `yaml:"licenses"`
}

// Load reads and validates the scenario at path.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Parse decodes and validates a scenario held in memory.
func Parse(data []byte) (*Scenario, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads one scenario document. Unknown keys are rejected.
func Decode(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var s Scenario
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalid)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the references between the entries of the scenario.
func (s *Scenario) Validate() error {
	if _, err := parseOptionalDuration(s.RoomMaxDuration); err != nil {
		return invalidf("room_max_duration: %v", err)
	}
	values := make(map[string]struct{}, len(s.ValueProviders))
	for i, provider := range s.ValueProviders {
		if provider.ID == "" {
			return invalidf("value_providers[%d]: id is required", i)
		}
		if _, ok := values[provider.ID]; ok {
			return invalidf("value_providers[%d]: duplicate id %s", i, provider.ID)
		}
		values[provider.ID] = struct{}{}
	}
	devices := make(map[string]struct{}, len(s.Devices))
	for _, device := range s.Devices {
		devices[device.ID] = struct{}{}
	}
	for i, device := range s.Devices {
		if device.ID == "" {
			return invalidf("devices[%d]: id is required", i)
		}
		if device.Parent != "" {
			if _, ok := devices[device.Parent]; !ok {
				return invalidf("devices[%d]: unknown parent %s", i, device.Parent)
			}
		}
		if _, err := technologySet(device.Technologies); err != nil {
			return invalidf("devices[%d]: %v", i, err)
		}
		if _, err := parseOptionalDuration(device.MaximumFuture); err != nil {
			return invalidf("devices[%d]: maximum_future: %v", i, err)
		}
		if room := device.RoomProvider; room != nil {
			if room.Licenses < 0 || room.MaxLicencesPerRoom < 0 {
				return invalidf("devices[%d]: room_provider: negative licenses", i)
			}
			if _, err := aliasTypes(room.RequiredAliasTypes); err != nil {
				return invalidf("devices[%d]: room_provider: %v", i, err)
			}
		}
		for j, provider := range device.AliasProviders {
			if _, ok := values[provider.ValueProvider]; !ok {
				return invalidf("devices[%d].alias_providers[%d]: unknown value provider %q", i, j, provider.ValueProvider)
			}
			if len(provider.Aliases) == 0 {
				return invalidf("devices[%d].alias_providers[%d]: aliases are required", i, j)
			}
			for _, template := range provider.Aliases {
				if _, err := aliasType(template.Type); err != nil {
					return invalidf("devices[%d].alias_providers[%d]: %v", i, j, err)
				}
			}
		}
		if device.Recording != nil && device.Recording.Licenses < 0 {
			return invalidf("devices[%d]: recording: negative licenses", i)
		}
	}

	requests := make(map[string]struct{}, len(s.Requests))
	for i, request := range s.Requests {
		if request.ID == "" {
			return invalidf("requests[%d]: id is required", i)
		}
		if _, ok := requests[request.ID]; ok {
			return invalidf("requests[%d]: duplicate id %s", i, request.ID)
		}
		for _, reused := range request.Reuse {
			if _, ok := requests[reused]; !ok {
				return invalidf("requests[%d]: reuse of %s which is not an earlier request", i, reused)
			}
		}
		if request.Room != nil && request.Room.ReuseRoomOf != "" {
			if _, ok := requests[request.Room.ReuseRoomOf]; !ok {
				return invalidf("requests[%d]: reuse_room_of %s is not an earlier request", i, request.Room.ReuseRoomOf)
			}
		}
		requests[request.ID] = struct{}{}
		if _, err := request.Specification(); err != nil {
			return invalidf("requests[%d]: %v", i, err)
		}
		if _, err := request.Slot(); err != nil {
			return invalidf("requests[%d]: %v", i, err)
		}
		if _, err := request.Rule(); err != nil {
			return invalidf("requests[%d]: periodic: %v", i, err)
		}
	}
	return nil
}

// BuildCache registers the value providers and devices in a new cache.
func (s *Scenario) BuildCache(opts ...cache.Option) (*cache.Cache, error) {
	maximum, err := parseOptionalDuration(s.RoomMaxDuration)
	if err != nil {
		return nil, invalidf("room_max_duration: %v", err)
	}
	if maximum > 0 {
		opts = append(opts, cache.WithRoomReservationMaximumDuration(maximum))
	}
	c := cache.New(opts...)
	for _, provider := range s.ValueProviders {
		if err := c.AddValueProvider(&booking.ValueProvider{
			ID:                     provider.ID,
			Patterns:               provider.Patterns,
			AllowAnyRequestedValue: provider.AllowAnyRequestedValue,
		}); err != nil {
			return nil, fmt.Errorf("value provider %s: %w", provider.ID, err)
		}
	}
	for _, device := range s.Devices {
		resource, err := device.resource()
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", device.ID, err)
		}
		if err := c.AddResource(resource); err != nil {
			return nil, fmt.Errorf("device %s: %w", device.ID, err)
		}
	}
	return c, nil
}

func (d Device) resource() (*booking.DeviceResource, error) {
	technologies, err := technologySet(d.Technologies)
	if err != nil {
		return nil, err
	}
	maximumFuture, err := parseOptionalDuration(d.MaximumFuture)
	if err != nil {
		return nil, err
	}
	resource := &booking.DeviceResource{
		ID:            d.ID,
		Name:          d.Name,
		ParentID:      d.Parent,
		Technologies:  technologies,
		Allocatable:   d.Allocatable == nil || *d.Allocatable,
		MaximumFuture: maximumFuture,
		Terminal:      d.Terminal,
	}
	if d.Recording != nil || (d.RoomProvider != nil && d.RoomProvider.Recordable) {
		licenses := 0
		if d.Recording != nil {
			licenses = d.Recording.Licenses
		}
		resource.Recording = &booking.RecordingCapability{ID: d.ID + "-rec", LicenseCount: licenses}
	}
	if room := d.RoomProvider; room != nil {
		required, err := aliasTypes(room.RequiredAliasTypes)
		if err != nil {
			return nil, err
		}
		resource.RoomProvider = &booking.RoomProviderCapability{
			ID:                 d.ID + "-room",
			LicenseCount:       room.Licenses,
			MaxLicencesPerRoom: room.MaxLicencesPerRoom,
			RequiredAliasTypes: required,
			RoomRecordable:     room.Recordable,
		}
	}
	for i, provider := range d.AliasProviders {
		id := provider.ID
		if id == "" {
			id = d.ID + "-alias-" + strconv.Itoa(i)
		}
		templates := make([]booking.AliasTemplate, 0, len(provider.Aliases))
		for _, template := range provider.Aliases {
			aliasType, err := aliasType(template.Type)
			if err != nil {
				return nil, err
			}
			templates = append(templates, booking.AliasTemplate{Type: aliasType, Pattern: template.Pattern})
		}
		resource.AliasProviders = append(resource.AliasProviders, &booking.AliasProviderCapability{
			ID:                   id,
			Aliases:              templates,
			ValueProviderID:      provider.ValueProvider,
			RestrictedToResource: provider.Restricted,
			PermanentRoom:        provider.PermanentRoom,
		})
	}
	return resource, nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}
