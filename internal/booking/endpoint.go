package booking

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyTechnologies is returned for a room configuration without
	// technologies.
	ErrEmptyTechnologies = errors.New("booking: room configuration requires technologies")
	// ErrEndpointUnsupported is returned when an endpoint kind cannot perform
	// an operation.
	ErrEndpointUnsupported = errors.New("booking: operation not supported for endpoint kind")
)

// EndpointKind discriminates room endpoints.
type EndpointKind int

const (
	// EndpointResource is a room hosted on a local room provider.
	EndpointResource EndpointKind = iota + 1
	// EndpointUsed reuses another room endpoint, optionally adding licenses.
	EndpointUsed
	// EndpointForeign is a placeholder for a room held by another domain.
	EndpointForeign
)

func (k EndpointKind) String() string {
	switch k {
	case EndpointResource:
		return "resource"
	case EndpointUsed:
		return "used"
	case EndpointForeign:
		return "foreign"
	default:
		return fmt.Sprintf("EndpointKind(%d)", int(k))
	}
}

// ExecutableState is the lifecycle state of an executable.
type ExecutableState string

const (
	StateNotStarted ExecutableState = "NOT_STARTED"
	StateStarted    ExecutableState = "STARTED"
	StateStopped    ExecutableState = "STOPPED"
)

// RoomSetting carries technology specific room parameters.
type RoomSetting struct {
	Technology   Technology
	PIN          string
	AccessMode   string
	ListedPublic bool
}

// RoomConfiguration is the capacity and settings a room endpoint consumes.
type RoomConfiguration struct {
	technologies TechnologySet
	LicenseCount int
	settings     []RoomSetting
}

// NewRoomConfiguration validates technologies and copies settings.
func NewRoomConfiguration(technologies TechnologySet, licenseCount int, settings []RoomSetting) (RoomConfiguration, error) {
	if technologies.IsEmpty() {
		return RoomConfiguration{}, ErrEmptyTechnologies
	}
	cfg := RoomConfiguration{technologies: technologies, LicenseCount: licenseCount}
	if len(settings) > 0 {
		cfg.settings = make([]RoomSetting, len(settings))
		copy(cfg.settings, settings)
	}
	return cfg, nil
}

// Technologies returns the configured technologies.
func (c RoomConfiguration) Technologies() TechnologySet {
	return c.technologies
}

// Settings returns a copy of the room settings.
func (c RoomConfiguration) Settings() []RoomSetting {
	out := make([]RoomSetting, len(c.settings))
	copy(out, c.settings)
	return out
}

// IsZero reports whether the configuration was never set.
func (c RoomConfiguration) IsZero() bool {
	return c.technologies.IsEmpty()
}

// Participant is a person configured for a room.
type Participant struct {
	UserID string
	Name   string
	Role   string
}

// NotificationState tracks what participants were told about a room.
type NotificationState struct {
	ID       string
	Notified []string
}

// RoomEndpoint is the executable a room reservation produces. Behaviour that
// differs by Kind is dispatched explicitly in each method.
type RoomEndpoint struct {
	ID   string
	Kind EndpointKind

	// EndpointResource
	ResourceID string
	ProviderID string
	roomID     string

	// EndpointUsed
	Reused   *RoomEndpoint
	ReusedID string

	// EndpointForeign
	ForeignDomain    string
	ForeignRequestID string

	Configuration RoomConfiguration

	Slot          Slot
	MinutesBefore int
	MinutesAfter  int

	MeetingName        string
	MeetingDescription string
	RoomDescription    string

	participants                   []Participant
	ParticipantNotificationEnabled bool
	NotificationState              *NotificationState

	State    ExecutableState
	Modified bool

	assignedAliases    []Alias
	services           []*ExecutableService
	recordingFolderIDs map[string]string

	MigrateFrom *RoomEndpoint
}

// NewResourceRoomEndpoint returns a room hosted on provider.
func NewResourceRoomEndpoint(id string, provider *RoomProviderCapability, cfg RoomConfiguration) *RoomEndpoint {
	return &RoomEndpoint{
		ID:            id,
		Kind:          EndpointResource,
		ResourceID:    provider.ResourceID,
		ProviderID:    provider.ID,
		Configuration: cfg,
	}
}

// NewUsedRoomEndpoint returns an endpoint reusing reused with cfg as the
// additional capacity.
func NewUsedRoomEndpoint(id string, reused *RoomEndpoint, cfg RoomConfiguration) *RoomEndpoint {
	return &RoomEndpoint{
		ID:            id,
		Kind:          EndpointUsed,
		Reused:        reused,
		ReusedID:      reused.ID,
		Configuration: cfg,
	}
}

// NewForeignRoomEndpoint returns a placeholder for a room of another domain.
func NewForeignRoomEndpoint(id, domain, requestID string) *RoomEndpoint {
	return &RoomEndpoint{ID: id, Kind: EndpointForeign, ForeignDomain: domain, ForeignRequestID: requestID}
}

// DeviceResourceID returns the device hosting the room.
func (e *RoomEndpoint) DeviceResourceID() string {
	switch e.Kind {
	case EndpointResource:
		return e.ResourceID
	case EndpointUsed:
		if e.Reused != nil {
			return e.Reused.DeviceResourceID()
		}
		return ""
	default:
		return ""
	}
}

// RoomID returns the device side room identifier once the room exists.
func (e *RoomEndpoint) RoomID() string {
	switch e.Kind {
	case EndpointResource:
		return e.roomID
	case EndpointUsed:
		if e.Reused != nil {
			return e.Reused.RoomID()
		}
		return ""
	default:
		return ""
	}
}

// SetRoomID records the device side room identifier.
func (e *RoomEndpoint) SetRoomID(roomID string) error {
	if e.Kind != EndpointResource {
		return fmt.Errorf("%w: set room id on %s endpoint", ErrEndpointUnsupported, e.Kind)
	}
	e.roomID = roomID
	return nil
}

// Technologies returns the technologies the room supports.
func (e *RoomEndpoint) Technologies() TechnologySet {
	if e.Kind == EndpointUsed && e.Reused != nil {
		return e.Reused.Technologies()
	}
	return e.Configuration.Technologies()
}

// LicenseCount returns the total licenses available in the room.
func (e *RoomEndpoint) LicenseCount() int {
	if e.Kind == EndpointUsed && e.Reused != nil {
		return e.Reused.LicenseCount() + e.Configuration.LicenseCount
	}
	return e.Configuration.LicenseCount
}

// Aliases returns the aliases the room is reachable by.
func (e *RoomEndpoint) Aliases() []Alias {
	var aliases []Alias
	if e.Kind == EndpointUsed && e.Reused != nil {
		aliases = append(aliases, e.Reused.Aliases()...)
	}
	return append(aliases, e.assignedAliases...)
}

// AssignedAliases returns the aliases assigned directly to e.
func (e *RoomEndpoint) AssignedAliases() []Alias {
	out := make([]Alias, len(e.assignedAliases))
	copy(out, e.assignedAliases)
	return out
}

// AddAssignedAlias assigns alias unless the room already carries it.
func (e *RoomEndpoint) AddAssignedAlias(alias Alias) {
	for _, existing := range e.Aliases() {
		if existing == alias {
			return
		}
	}
	e.assignedAliases = append(e.assignedAliases, alias)
}

// Participants returns a copy of the participants.
func (e *RoomEndpoint) Participants() []Participant {
	out := make([]Participant, len(e.participants))
	copy(out, e.participants)
	return out
}

// SetParticipants replaces the participants with a copy.
func (e *RoomEndpoint) SetParticipants(participants []Participant) {
	e.participants = make([]Participant, len(participants))
	copy(e.participants, participants)
}

// Services returns a copy of the attached services.
func (e *RoomEndpoint) Services() []*ExecutableService {
	out := make([]*ExecutableService, len(e.services))
	copy(out, e.services)
	return out
}

// AddService attaches service.
func (e *RoomEndpoint) AddService(service *ExecutableService) {
	service.EndpointID = e.ID
	e.services = append(e.services, service)
}

// RecordingFolderIDs returns a copy of the recording folders by capability.
func (e *RoomEndpoint) RecordingFolderIDs() map[string]string {
	out := make(map[string]string, len(e.recordingFolderIDs))
	for k, v := range e.recordingFolderIDs {
		out[k] = v
	}
	return out
}

// PutRecordingFolderID records the folder used by a recording capability.
func (e *RoomEndpoint) PutRecordingFolderID(capabilityID, folderID string) {
	if e.recordingFolderIDs == nil {
		e.recordingFolderIDs = make(map[string]string)
	}
	e.recordingFolderIDs[capabilityID] = folderID
}

// ModifyRoom replaces the room configuration. A started room is flagged as
// modified so the executor pushes the change.
func (e *RoomEndpoint) ModifyRoom(cfg RoomConfiguration) error {
	switch e.Kind {
	case EndpointResource, EndpointUsed:
		if cfg.IsZero() {
			return ErrEmptyTechnologies
		}
		e.Configuration = cfg
		if e.State == StateStarted {
			e.Modified = true
		}
		return nil
	default:
		return fmt.Errorf("%w: modify %s endpoint", ErrEndpointUnsupported, e.Kind)
	}
}

// Start marks the room as running.
func (e *RoomEndpoint) Start() error {
	if e.Kind == EndpointForeign {
		return fmt.Errorf("%w: start %s endpoint", ErrEndpointUnsupported, e.Kind)
	}
	e.State = StateStarted
	e.Modified = false
	return nil
}

// Stop marks the room as stopped.
func (e *RoomEndpoint) Stop() error {
	if e.Kind == EndpointForeign {
		return fmt.Errorf("%w: stop %s endpoint", ErrEndpointUnsupported, e.Kind)
	}
	e.State = StateStopped
	return nil
}

// ServiceKind identifies an executable service.
type ServiceKind string

const ServiceRecording ServiceKind = "RECORDING"

// ServiceState is the lifecycle state of an executable service.
type ServiceState string

const (
	ServiceNotActive ServiceState = "NOT_ACTIVE"
	ServicePrepared  ServiceState = "PREPARED"
	ServiceActive    ServiceState = "ACTIVE"
)

// ExecutableService is a service (recording) attached to a room endpoint.
type ExecutableService struct {
	ID                    string
	Kind                  ServiceKind
	State                 ServiceState
	Slot                  Slot
	RecordingCapabilityID string
	EndpointID            string
}

// IsActive reports whether the service currently runs.
func (s *ExecutableService) IsActive() bool {
	return s.State == ServiceActive
}

// Migrate takes over the running state of old. It returns false when old
// cannot be continued by s.
func (s *ExecutableService) Migrate(old *ExecutableService) bool {
	if old.Kind != s.Kind {
		return false
	}
	if s.Kind == ServiceRecording && old.RecordingCapabilityID != s.RecordingCapabilityID {
		return false
	}
	s.State = old.State
	return true
}
