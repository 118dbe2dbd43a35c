package scenario

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/reservation-scheduler/internal/application"
	"github.com/example/reservation-scheduler/internal/booking"
	"github.com/example/reservation-scheduler/internal/recurrence"
	"github.com/example/reservation-scheduler/internal/scheduler"
)

// Request is one reservation request. Exactly one specification key is set.
type Request struct {
	ID          string    `yaml:"id"`
	Start       time.Time `yaml:"start"`
	End         time.Time `yaml:"end"`
	Description string    `yaml:"description"`
	User        string    `yaml:"user"`
	Priority    int       `yaml:"priority"`
	Purpose     string    `yaml:"purpose"`
	// RestrictDuration applies the room maximum duration.
	RestrictDuration bool `yaml:"restrict_duration"`
	// Reuse lists earlier requests whose reservations may be shared.
	Reuse    []string  `yaml:"reuse"`
	Periodic *Periodic `yaml:"periodic"`

	Room       *Room     `yaml:"room"`
	Alias      *Alias    `yaml:"alias"`
	AliasSet   *AliasSet `yaml:"alias_set"`
	AliasGroup *AliasSet `yaml:"alias_group"`
	Value      *Value    `yaml:"value"`
	Resource   *Resource `yaml:"resource"`
}

// Periodic repeats the request slot.
type Periodic struct {
	Frequency string    `yaml:"frequency"`
	Interval  int       `yaml:"interval"`
	Weekdays  []string  `yaml:"weekdays"`
	Until     time.Time `yaml:"until"`
	Count     int       `yaml:"count"`
}

// Room requests a virtual room.
type Room struct {
	Participants *int       `yaml:"participants"`
	Technologies [][]string `yaml:"technologies"`
	Resource     string     `yaml:"resource"`
	Aliases      []Alias    `yaml:"aliases"`
	Record       *Record    `yaml:"record"`
	// ReuseRoomOf names an earlier request whose room is reused.
	ReuseRoomOf   string `yaml:"reuse_room_of"`
	MinutesBefore int    `yaml:"minutes_before"`
	MinutesAfter  int    `yaml:"minutes_after"`
	MeetingName   string `yaml:"meeting_name"`
}

// Record asks for recording of a room.
type Record struct {
	Enabled  bool   `yaml:"enabled"`
	Resource string `yaml:"resource"`
}

// Alias requests aliases by technology, type or provider.
type Alias struct {
	Technologies  []string `yaml:"technologies"`
	Types         []string `yaml:"types"`
	Value         string   `yaml:"value"`
	Providers     []string `yaml:"providers"`
	PermanentRoom bool     `yaml:"permanent_room"`
}

// AliasSet requests several aliases at once.
type AliasSet struct {
	Aliases []Alias `yaml:"aliases"`
	Shared  bool    `yaml:"shared"`
}

// Value requests a value of a value provider.
type Value struct {
	Provider string `yaml:"provider"`
	Value    string `yaml:"value"`
}

// Resource books a device.
type Resource struct {
	ID string `yaml:"id"`
}

// Resolver returns the committed reservations of an earlier request.
type Resolver func(requestID string) ([]*booking.Reservation, error)

// Slot returns the requested slot, the first one for periodic requests.
func (r Request) Slot() (booking.Slot, error) {
	return booking.NewSlot(r.Start.UTC(), r.End.UTC())
}

// Rule returns the recurrence rule or nil for a single request.
func (r Request) Rule() (*recurrence.Rule, error) {
	if r.Periodic == nil {
		return nil, nil
	}
	frequency, err := recurrence.ParseFrequency(strings.ToLower(r.Periodic.Frequency))
	if err != nil {
		return nil, err
	}
	rule := &recurrence.Rule{
		Frequency: frequency,
		Interval:  r.Periodic.Interval,
		Until:     r.Periodic.Until,
		Count:     r.Periodic.Count,
	}
	for _, name := range r.Periodic.Weekdays {
		weekday, ok := weekdays[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		rule.Weekdays = append(rule.Weekdays, weekday)
	}
	if rule.Until.IsZero() && rule.Count <= 0 {
		return nil, recurrence.ErrInvalidWindow
	}
	return rule, nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// Specification converts the request body. A reused room is left empty.
func (r Request) Specification() (scheduler.Specification, error) {
	var specs []scheduler.Specification
	if r.Room != nil {
		spec, err := r.Room.specification()
		if err != nil {
			return nil, fmt.Errorf("room: %w", err)
		}
		specs = append(specs, spec)
	}
	if r.Alias != nil {
		spec, err := r.Alias.specification()
		if err != nil {
			return nil, fmt.Errorf("alias: %w", err)
		}
		specs = append(specs, spec)
	}
	if r.AliasSet != nil {
		aliases, err := aliasSpecifications(r.AliasSet.Aliases)
		if err != nil {
			return nil, fmt.Errorf("alias_set: %w", err)
		}
		specs = append(specs, scheduler.AliasSetSpecification{Aliases: aliases, SharedExecutable: r.AliasSet.Shared})
	}
	if r.AliasGroup != nil {
		aliases, err := aliasSpecifications(r.AliasGroup.Aliases)
		if err != nil {
			return nil, fmt.Errorf("alias_group: %w", err)
		}
		specs = append(specs, scheduler.AliasGroupSpecification{Aliases: aliases})
	}
	if r.Value != nil {
		specs = append(specs, scheduler.ValueSpecification{ValueProviderID: r.Value.Provider, Value: r.Value.Value})
	}
	if r.Resource != nil {
		specs = append(specs, scheduler.ResourceSpecification{ResourceID: r.Resource.ID})
	}
	switch len(specs) {
	case 0:
		return nil, errors.New("no specification")
	case 1:
		return specs[0], nil
	default:
		return nil, fmt.Errorf("%d specifications, expected one", len(specs))
	}
}

// AllocateInput builds the service input, resolving reused requests through
// resolve.
func (r Request) AllocateInput(resolve Resolver) (application.AllocateInput, error) {
	slot, err := r.Slot()
	if err != nil {
		return application.AllocateInput{}, err
	}
	spec, err := r.Specification()
	if err != nil {
		return application.AllocateInput{}, err
	}
	input := application.AllocateInput{
		RequestID:                 r.ID,
		Slot:                      slot,
		Specification:             spec,
		Description:               r.Description,
		UserID:                    r.User,
		Priority:                  r.Priority,
		Purpose:                   booking.Purpose(strings.ToUpper(r.Purpose)),
		MaximumDurationRestricted: r.RestrictDuration,
	}
	if resolve == nil && (len(r.Reuse) > 0 || (r.Room != nil && r.Room.ReuseRoomOf != "")) {
		return application.AllocateInput{}, errors.New("reuse requires a resolver")
	}
	for _, requestID := range r.Reuse {
		reservations, err := resolve(requestID)
		if err != nil {
			return application.AllocateInput{}, fmt.Errorf("reuse %s: %w", requestID, err)
		}
		for _, reservation := range reservations {
			input.ReusedReservationIDs = append(input.ReusedReservationIDs, reservation.ID)
		}
	}
	if room, ok := spec.(scheduler.RoomSpecification); ok && r.Room.ReuseRoomOf != "" {
		reservations, err := resolve(r.Room.ReuseRoomOf)
		if err != nil {
			return application.AllocateInput{}, fmt.Errorf("reuse room of %s: %w", r.Room.ReuseRoomOf, err)
		}
		for _, reservation := range reservations {
			if endpoint := reservation.Target().Executable; endpoint != nil {
				room.ReusedEndpoint = endpoint
				break
			}
		}
		if room.ReusedEndpoint == nil {
			return application.AllocateInput{}, fmt.Errorf("request %s has no room", r.Room.ReuseRoomOf)
		}
		input.Specification = room
	}
	return input, nil
}

func (r Room) specification() (scheduler.RoomSpecification, error) {
	spec := scheduler.RoomSpecification{
		ParticipantCount: r.Participants,
		ResourceID:       r.Resource,
		MinutesBefore:    r.MinutesBefore,
		MinutesAfter:     r.MinutesAfter,
		MeetingName:      r.MeetingName,
	}
	if r.Participants != nil && *r.Participants < 0 {
		return spec, errors.New("negative participants")
	}
	for _, names := range r.Technologies {
		set, err := technologySet(names)
		if err != nil {
			return spec, err
		}
		spec.Technologies = append(spec.Technologies, set)
	}
	aliases, err := aliasSpecifications(r.Aliases)
	if err != nil {
		return spec, err
	}
	spec.Aliases = aliases
	if r.Record != nil {
		spec.Services = append(spec.Services, scheduler.RecordingServiceSpecification{
			Enabled:    r.Record.Enabled,
			ResourceID: r.Record.Resource,
		})
	}
	return spec, nil
}

func (a Alias) specification() (scheduler.AliasSpecification, error) {
	technologies, err := technologySet(a.Technologies)
	if err != nil {
		return scheduler.AliasSpecification{}, err
	}
	types, err := aliasTypes(a.Types)
	if err != nil {
		return scheduler.AliasSpecification{}, err
	}
	return scheduler.AliasSpecification{
		Technologies:  technologies,
		AliasTypes:    types,
		Value:         a.Value,
		ProviderIDs:   a.Providers,
		PermanentRoom: a.PermanentRoom,
	}, nil
}

func aliasSpecifications(aliases []Alias) ([]scheduler.AliasSpecification, error) {
	specs := make([]scheduler.AliasSpecification, 0, len(aliases))
	for _, alias := range aliases {
		spec, err := alias.specification()
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

var knownTechnologies = map[booking.Technology]struct{}{
	booking.TechnologyH323: {}, booking.TechnologySIP: {}, booking.TechnologyAdobeConnect: {},
	booking.TechnologyWebRTC: {}, booking.TechnologyFreePBX: {},
}

func technologySet(names []string) (booking.TechnologySet, error) {
	technologies := make([]booking.Technology, 0, len(names))
	for _, name := range names {
		technology := booking.Technology(strings.ToUpper(name))
		if _, ok := knownTechnologies[technology]; !ok {
			return booking.TechnologySet{}, fmt.Errorf("unknown technology %q", name)
		}
		technologies = append(technologies, technology)
	}
	return booking.NewTechnologySet(technologies...), nil
}

var knownAliasTypes = map[booking.AliasType]struct{}{
	booking.AliasH323E164: {}, booking.AliasH323URI: {}, booking.AliasH323IP: {},
	booking.AliasSIPURI: {}, booking.AliasSIPIP: {}, booking.AliasRoomName: {},
	booking.AliasAdobeConnectURI: {}, booking.AliasWebClientURI: {},
}

func aliasType(name string) (booking.AliasType, error) {
	aliasType := booking.AliasType(strings.ToUpper(name))
	if _, ok := knownAliasTypes[aliasType]; !ok {
		return "", fmt.Errorf("unknown alias type %q", name)
	}
	return aliasType, nil
}

func aliasTypes(names []string) ([]booking.AliasType, error) {
	var types []booking.AliasType
	for _, name := range names {
		aliasType, err := aliasType(name)
		if err != nil {
			return nil, err
		}
		types = append(types, aliasType)
	}
	return types, nil
}
