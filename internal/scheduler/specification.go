package scheduler

import (
	"github.com/example/reservation-scheduler/internal/booking"
)

// Specification describes what a reservation request asks for.
type Specification interface {
	SpecificationName() string
}

// TaskProvider is a specification the engine can allocate directly.
type TaskProvider interface {
	Specification
	CreateTask(sc *Context, slot booking.Slot) (ReservationTask, error)
}

// RoomSpecification requests a virtual room.
type RoomSpecification struct {
	// ParticipantCount is nil for a room without capacity, such as a
	// permanent room placeholder.
	ParticipantCount *int
	// Technologies lists acceptable technology combinations. Empty means
	// whatever the chosen device supports.
	Technologies []booking.TechnologySet
	RoomSettings []booking.RoomSetting
	Aliases      []AliasSpecification
	Services     []Specification

	// ResourceID pins the device hosting the room.
	ResourceID string
	// ReusedEndpoint pins a room of another allocation to be reused.
	ReusedEndpoint *booking.RoomEndpoint

	MinutesBefore int
	MinutesAfter  int

	MeetingName                    string
	MeetingDescription             string
	Participants                   []booking.Participant
	ParticipantNotificationEnabled bool

	// WithoutRoomEndpoint books licenses only.
	WithoutRoomEndpoint bool
}

func (RoomSpecification) SpecificationName() string { return "room" }

// CreateTask implements TaskProvider.
func (s RoomSpecification) CreateTask(sc *Context, slot booking.Slot) (ReservationTask, error) {
	task, err := NewRoomReservationTask(sc, slot, s)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// AliasSpecification requests aliases of the given technologies or types.
type AliasSpecification struct {
	Technologies booking.TechnologySet
	AliasTypes   []booking.AliasType
	// Value requests a concrete value from the value provider.
	Value string
	// ProviderIDs limits the alias provider capabilities considered.
	ProviderIDs []string
	// PermanentRoom asks providers with permanent rooms to establish one.
	PermanentRoom bool
}

func (AliasSpecification) SpecificationName() string { return "alias" }

// CreateTask implements TaskProvider.
func (s AliasSpecification) CreateTask(sc *Context, slot booking.Slot) (ReservationTask, error) {
	request, err := s.request(sc)
	if err != nil {
		return nil, err
	}
	return NewAliasReservationTask(sc, slot, request), nil
}

func (s AliasSpecification) request(sc *Context) (AliasRequest, error) {
	request := AliasRequest{
		Technologies:  s.Technologies,
		AliasTypes:    s.AliasTypes,
		Value:         s.Value,
		PermanentRoom: s.PermanentRoom,
	}
	if len(s.ProviderIDs) == 0 {
		return request, nil
	}
	byID := make(map[string]*booking.AliasProviderCapability)
	for _, provider := range sc.cache.AliasProviders() {
		byID[provider.ID] = provider
	}
	for _, id := range s.ProviderIDs {
		provider, ok := byID[id]
		if !ok {
			return AliasRequest{}, fail(ReportResourceNotFound, "provider", id)
		}
		request.Providers = append(request.Providers, provider)
	}
	return request, nil
}

// satisfiedBy reports whether aliases already provide what s asks for. A
// requested value is never satisfied implicitly.
func (s AliasSpecification) satisfiedBy(aliases []booking.Alias) bool {
	if s.Value != "" || len(aliases) == 0 {
		return false
	}
	types := make(booking.AliasTypeSet, len(aliases))
	technologies := make([]booking.Technology, 0, len(aliases))
	for _, alias := range aliases {
		types[alias.Type] = struct{}{}
		technologies = append(technologies, alias.Technology())
	}
	switch {
	case len(s.AliasTypes) > 0:
		for _, aliasType := range s.AliasTypes {
			if !types.Contains(aliasType) {
				return false
			}
		}
		return true
	case !s.Technologies.IsEmpty():
		return booking.NewTechnologySet(technologies...).ContainsAll(s.Technologies)
	default:
		return false
	}
}

// AliasSetSpecification requests several aliases at once.
type AliasSetSpecification struct {
	Aliases []AliasSpecification
	// SharedExecutable makes aliases join the permanent room created by the
	// first permanent room provider of the set.
	SharedExecutable bool
}

func (AliasSetSpecification) SpecificationName() string { return "alias-set" }

// CreateTask implements TaskProvider.
func (s AliasSetSpecification) CreateTask(sc *Context, slot booking.Slot) (ReservationTask, error) {
	requests, err := aliasRequests(sc, s.Aliases)
	if err != nil {
		return nil, err
	}
	return NewAliasSetReservationTask(sc, slot, requests, s.SharedExecutable), nil
}

// AliasGroupSpecification is an alias set served by a single device.
type AliasGroupSpecification struct {
	Aliases []AliasSpecification
}

func (AliasGroupSpecification) SpecificationName() string { return "alias-group" }

// CreateTask implements TaskProvider.
func (s AliasGroupSpecification) CreateTask(sc *Context, slot booking.Slot) (ReservationTask, error) {
	requests, err := aliasRequests(sc, s.Aliases)
	if err != nil {
		return nil, err
	}
	task, err := NewAliasGroupReservationTask(sc, slot, requests)
	if err != nil {
		return nil, err
	}
	return task, nil
}

func aliasRequests(sc *Context, specifications []AliasSpecification) ([]AliasRequest, error) {
	requests := make([]AliasRequest, 0, len(specifications))
	for _, specification := range specifications {
		request, err := specification.request(sc)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	return requests, nil
}

// ValueSpecification requests a value from a value provider.
type ValueSpecification struct {
	ValueProviderID string
	Value           string
}

func (ValueSpecification) SpecificationName() string { return "value" }

// CreateTask implements TaskProvider.
func (s ValueSpecification) CreateTask(sc *Context, slot booking.Slot) (ReservationTask, error) {
	provider, ok := sc.cache.ValueProvider(s.ValueProviderID)
	if !ok {
		return nil, fail(ReportResourceNotFound, "provider", s.ValueProviderID)
	}
	return NewValueReservationTask(sc, slot, provider, s.Value), nil
}

// ResourceSpecification books a device.
type ResourceSpecification struct {
	ResourceID string
}

func (ResourceSpecification) SpecificationName() string { return "resource" }

// CreateTask implements TaskProvider.
func (s ResourceSpecification) CreateTask(sc *Context, slot booking.Slot) (ReservationTask, error) {
	resource, ok := sc.cache.Resource(s.ResourceID)
	if !ok {
		return nil, fail(ReportResourceNotFound, "resource", s.ResourceID)
	}
	return NewResourceReservationTask(sc, slot, resource), nil
}

// RecordingServiceSpecification requests recording of a room. As a room
// service Endpoint is left empty and filled with the allocated room.
type RecordingServiceSpecification struct {
	Enabled bool
	// ResourceID pins the recording device.
	ResourceID string
	Endpoint   *booking.RoomEndpoint
}

func (RecordingServiceSpecification) SpecificationName() string { return "recording-service" }

// CreateTask implements TaskProvider.
func (s RecordingServiceSpecification) CreateTask(sc *Context, slot booking.Slot) (ReservationTask, error) {
	if s.Endpoint == nil {
		return nil, fail(ReportRoomExecutableNotExists)
	}
	return NewRecordingServiceReservationTask(sc, slot, s), nil
}
