package scheduler

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/example/reservation-scheduler/internal/booking"
)

// RoomReservationTask allocates licenses on a room provider and, unless
// disabled, the room endpoint with its aliases and services.
type RoomReservationTask struct {
	Task
	specification RoomSpecification
	technologies  []booking.TechnologySet
}

// NewRoomReservationTask returns a task allocating specification. The slot
// is widened by the requested minutes before and after.
func NewRoomReservationTask(sc *Context, slot booking.Slot, specification RoomSpecification) (*RoomReservationTask, error) {
	if count := specification.ParticipantCount; count != nil && *count < 0 {
		return nil, fmt.Errorf("%w: negative participant count %d", ErrInvalidRequest, *count)
	}
	for i, technologies := range specification.Technologies {
		if technologies.IsEmpty() {
			return nil, fmt.Errorf("%w: technology variant %d is empty", ErrInvalidRequest, i)
		}
	}
	t := &RoomReservationTask{specification: specification, technologies: specification.Technologies}
	extended := slot.Extend(
		time.Duration(specification.MinutesBefore)*time.Minute,
		time.Duration(specification.MinutesAfter)*time.Minute)
	t.init(sc, extended, t)
	return t, nil
}

func (t *RoomReservationTask) createMainReport() *Report {
	participants := ""
	if count := t.specification.ParticipantCount; count != nil {
		participants = strconv.Itoa(*count)
	}
	return NewReport(ReportAllocatingRoom,
		"technologies", technologyVariants(t.technologies),
		"participants", participants,
		"resource", t.specification.ResourceID)
}

// roomProvider is a room provider able to serve at least one variant.
type roomProvider struct {
	capability *booking.RoomProviderCapability
	device     *booking.DeviceResource
	room       booking.AvailableRoom
	// endpoints are reusable rooms on the device.
	endpoints []*booking.AvailableExecutable
}

// roomProviderVariant is one technology combination on one provider.
type roomProviderVariant struct {
	provider     *roomProvider
	technologies booking.TechnologySet
	licenseCount int
	// reusable is the smallest reusable room too small for the variant,
	// which is then topped up.
	reusable *booking.AvailableExecutable
}

func (t *RoomReservationTask) allocateReservation(current *booking.Reservation) (*booking.Reservation, error) {
	if current != nil && current.Target().Executable != nil && current.Target().Executable.Kind == booking.EndpointForeign {
		return nil, unsupportedf("reallocation of foreign room %s", current.Target().Executable.ID)
	}
	pinned, err := t.pinnedProvider()
	if err != nil {
		return nil, err
	}
	if t.specification.ParticipantCount != nil && t.sc.MaximumDurationRestricted {
		if err := checkMaximumDuration(t.slot, t.sc.cache.RoomReservationMaximumDuration()); err != nil {
			return nil, err
		}
	}

	variants, err := t.variants(pinned)
	if err != nil {
		return nil, err
	}
	rankRoomProviderVariants(variants)
	t.addReport(NewReport(ReportSortingResources))

	for _, variant := range variants {
		reservation, err := t.attempt(func() (*booking.Reservation, error) {
			return t.allocateVariant(variant)
		})
		if err == nil {
			return reservation, nil
		}
		if _, ok := AsSchedulerError(err); !ok {
			return nil, err
		}
		t.sc.Logger.Debug().
			Str("resource", variant.provider.device.ID).
			Str("technologies", variant.technologies.String()).
			Int("licenses", variant.licenseCount).
			Msg("room variant rejected")
	}
	return nil, t.failed()
}

// pinnedProvider resolves the provider fixed by a reused endpoint or a
// requested device.
func (t *RoomReservationTask) pinnedProvider() (*booking.RoomProviderCapability, error) {
	spec := t.specification
	if reused := spec.ReusedEndpoint; reused != nil {
		if reused.Kind == booking.EndpointForeign {
			return nil, unsupportedf("reuse of foreign room %s", reused.ID)
		}
		resourceID := reused.DeviceResourceID()
		resource, ok := t.sc.cache.Resource(resourceID)
		if !ok || resource.RoomProvider == nil {
			return nil, fail(ReportResourceNotFound, "resource", resourceID)
		}
		t.technologies = []booking.TechnologySet{reused.Technologies()}
		return resource.RoomProvider, nil
	}
	if spec.ResourceID == "" {
		return nil, nil
	}
	resource, ok := t.sc.cache.Resource(spec.ResourceID)
	if !ok || resource.RoomProvider == nil {
		return nil, fail(ReportResourceNotFound, "resource", spec.ResourceID)
	}
	return resource.RoomProvider, nil
}

// variants enumerates the provider variants with enough free licenses.
func (t *RoomReservationTask) variants(pinned *booking.RoomProviderCapability) ([]*roomProviderVariant, error) {
	capabilities := t.sc.cache.RoomProviders()
	if pinned != nil {
		capabilities = []*booking.RoomProviderCapability{pinned}
	}
	executables := t.state().AvailableExecutables()

	t.beginReport(NewReport(ReportFindingAvailableResource))
	var variants []*roomProviderVariant
	for _, capability := range capabilities {
		device, ok := t.sc.cache.Resource(capability.ResourceID)
		if !ok {
			continue
		}
		candidates := t.technologies
		if len(candidates) == 0 {
			candidates = []booking.TechnologySet{device.Technologies}
		}
		var supported []booking.TechnologySet
		for _, technologies := range candidates {
			if !technologies.IsEmpty() && device.HasTechnologies(technologies) {
				supported = append(supported, technologies)
			}
		}
		if len(supported) == 0 {
			continue
		}
		if report := t.sc.checkResource(device.ID, t.slot, false); report != nil {
			t.addReport(report)
			continue
		}
		room, err := t.sc.AvailableRoom(capability, t.slot)
		if err != nil {
			t.endReport()
			return nil, err
		}

		provider := &roomProvider{capability: capability, device: device, room: room}
		var own []*roomProviderVariant
		for _, technologies := range supported {
			licenseCount := computeLicenseCount(t.specification.ParticipantCount, technologies)
			if licenseCount > room.AvailableLicenseCount {
				t.addReport(NewReport(ReportResourceRoomCapacityExceeded, "resource", device.ID,
					"available", strconv.Itoa(room.AvailableLicenseCount),
					"maximum", strconv.Itoa(room.MaximumLicenseCount)))
				continue
			}
			if room.MaxLicencesPerRoom > 0 && licenseCount > room.MaxLicencesPerRoom {
				t.addReport(NewReport(ReportResourceSingleRoomLimitExceeded, "resource", device.ID,
					"maximum", strconv.Itoa(room.MaxLicencesPerRoom)))
				continue
			}
			own = append(own, &roomProviderVariant{provider: provider, technologies: technologies, licenseCount: licenseCount})
		}
		if len(own) == 0 {
			continue
		}
		t.addReport(NewReport(ReportResource, "resource", device.ID))
		for _, executable := range executables {
			if executable.Endpoint.DeviceResourceID() == device.ID {
				provider.endpoints = append(provider.endpoints, executable)
			}
		}
		sortAvailableExecutables(t.slot, provider.endpoints)
		variants = append(variants, own...)
	}
	t.endReport()

	if len(variants) == 0 {
		return nil, fail(ReportResourceNotFound, "technologies", technologyVariants(t.technologies))
	}
	return variants, nil
}

// computeLicenseCount is the number of licenses a room for participants
// consumes with the given technologies.
func computeLicenseCount(participants *int, _ booking.TechnologySet) int {
	if participants == nil {
		return 0
	}
	return *participants
}

// rankRoomProviderVariants orders variants by preference. Between providers:
// reusable endpoints first, then fuller providers, then bigger ones. Within
// the same provider, and as the last criterion, fewer licenses win. Ties keep
// their order.
func rankRoomProviderVariants(variants []*roomProviderVariant) {
	slices.SortStableFunc(variants, compareRoomProviderVariants)
}

func compareRoomProviderVariants(a, b *roomProviderVariant) int {
	if a.provider != b.provider {
		aReusable, bReusable := len(a.provider.endpoints) > 0, len(b.provider.endpoints) > 0
		if aReusable != bReusable {
			if aReusable {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(b.provider.room.FullnessRatio(), a.provider.room.FullnessRatio()); c != 0 {
			return c
		}
		if c := cmp.Compare(b.provider.room.MaximumLicenseCount, a.provider.room.MaximumLicenseCount); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.licenseCount, b.licenseCount)
}

func (t *RoomReservationTask) allocateVariant(variant *roomProviderVariant) (*booking.Reservation, error) {
	t.beginReport(NewReport(ReportAllocatingResource,
		"resource", variant.provider.device.ID, "technologies", variant.technologies.String()))
	reservation, err := t.allocateVariantReservation(variant)
	if err != nil {
		if schedulerErr, ok := AsSchedulerError(err); ok {
			t.endReportError(schedulerErr.Report)
		} else {
			t.endReport()
		}
		return nil, err
	}
	t.endReport()
	return reservation, nil
}

func (t *RoomReservationTask) allocateVariantReservation(variant *roomProviderVariant) (*booking.Reservation, error) {
	spec := t.specification
	provider := variant.provider
	variant.reusable = nil

	if !spec.WithoutRoomEndpoint {
		for _, executable := range provider.endpoints {
			available := executable.Available
			if available.Type != booking.Reusable || !available.Original.Slot.Contains(t.slot) {
				continue
			}
			endpoint := executable.Endpoint
			if spec.ReusedEndpoint != nil && endpoint.ID != spec.ReusedEndpoint.ID {
				continue
			}
			if !endpoint.Technologies().ContainsAll(variant.technologies) {
				continue
			}
			if endpoint.LicenseCount() < variant.licenseCount {
				if variant.reusable == nil || endpoint.LicenseCount() < variant.reusable.Endpoint.LicenseCount() {
					variant.reusable = executable
				}
				continue
			}
			t.addReport(NewReport(ReportExecutableReusing, "executable", endpoint.ID))
			return t.reuse(available)
		}
	}

	allocateEndpoint := !spec.WithoutRoomEndpoint && t.sc.ExecutableAllowed
	licenseCount := variant.licenseCount
	if allocateEndpoint && variant.reusable != nil {
		licenseCount -= variant.reusable.Endpoint.LicenseCount()
	}
	var reservation *booking.Reservation
	if licenseCount > 0 {
		reservation = booking.NewRoomReservation(t.sc.newID(), t.slot, provider.capability.ID, licenseCount)
	} else {
		reservation = booking.NewReservation(t.sc.newID(), t.slot)
	}
	if !allocateEndpoint {
		return reservation, nil
	}

	endpoint, err := t.allocateRoomEndpoint(variant, licenseCount)
	if err != nil {
		return nil, err
	}
	endpoint.Slot = t.slot
	endpoint.MinutesBefore = spec.MinutesBefore
	endpoint.MinutesAfter = spec.MinutesAfter
	endpoint.MeetingName = spec.MeetingName
	endpoint.MeetingDescription = spec.MeetingDescription
	endpoint.RoomDescription = t.sc.Description
	endpoint.SetParticipants(spec.Participants)
	endpoint.ParticipantNotificationEnabled = spec.ParticipantNotificationEnabled

	if err := t.allocateAliases(provider, endpoint); err != nil {
		return nil, err
	}

	switch endpoint.State {
	case "":
		endpoint.State = booking.StateNotStarted
	case booking.StateStarted:
		endpoint.Modified = true
	}

	if variant.licenseCount > 0 {
		if err := t.allocateServices(provider, reservation, endpoint); err != nil {
			return nil, err
		}
	}
	reservation.Executable = endpoint
	return reservation, nil
}

// allocateRoomEndpoint tops up a reusable room, reuses the requested room or
// creates a new one on the provider.
func (t *RoomReservationTask) allocateRoomEndpoint(variant *roomProviderVariant, licenseCount int) (*booking.RoomEndpoint, error) {
	device := variant.provider.device
	cfg, err := booking.NewRoomConfiguration(variant.technologies, licenseCount, t.specification.RoomSettings)
	if err != nil {
		return nil, invariantWrap(err, "room configuration on %s", device.ID)
	}

	if reusable := variant.reusable; reusable != nil {
		t.addReport(NewReport(ReportReservationReusing, "reservation", reusable.Original().ID))
		if _, err := t.addExistingChild(reusable.Original()); err != nil {
			return nil, err
		}
		if err := t.state().RemoveAvailableReservation(reusable.Available); err != nil {
			return nil, err
		}
		t.addReport(NewReport(ReportExecutableReusing, "executable", reusable.Endpoint.ID))
		return booking.NewUsedRoomEndpoint(t.sc.newID(), reusable.Endpoint, cfg), nil
	}

	if reused := t.specification.ReusedEndpoint; reused != nil {
		if !reused.Slot.IsZero() && !reused.Slot.Contains(t.slot) {
			return nil, fail(ReportExecutableInvalidSlot, "executable", reused.ID, "slot", reused.Slot.String())
		}
		usages, err := t.sc.lookup.ListEndpointUsages(t.sc.ctx, reused.ID, t.slot)
		if err != nil {
			return nil, fmt.Errorf("list usages of %s: %w", reused.ID, err)
		}
		usages = t.state().ApplyAvailableReservations(booking.KindRoom, usages)
		if len(usages) > 0 {
			usage := usages[0]
			return nil, fail(ReportExecutableAlreadyUsed, "executable", reused.ID,
				"request", usage.Top().RequestID, "slot", usage.Slot.String())
		}
		t.addReport(NewReport(ReportExecutableReusing, "executable", reused.ID))
		return booking.NewUsedRoomEndpoint(t.sc.newID(), reused, cfg), nil
	}

	t.addReport(NewReport(ReportAllocatingExecutable, "resource", device.ID))
	return booking.NewResourceRoomEndpoint(t.sc.newID(), variant.provider.capability, cfg), nil
}

// allocateAliases allocates the requested aliases and then one alias for
// each required type the room still lacks.
func (t *RoomReservationTask) allocateAliases(provider *roomProvider, endpoint *booking.RoomEndpoint) error {
	deviceID := provider.device.ID
	for _, specification := range t.specification.Aliases {
		if specification.satisfiedBy(endpoint.Aliases()) {
			continue
		}
		request, err := specification.request(t.sc)
		if err != nil {
			return err
		}
		request.TargetResourceID = deviceID
		request.Endpoint = endpoint
		request.PermanentRoom = false
		if _, err := t.addChildReservationOf(NewAliasReservationTask(t.sc, t.slot, request), booking.KindAlias); err != nil {
			return err
		}
	}

	missing := provider.capability.RequiredAliasTypesFor(endpoint.Technologies())
	removeAssigned(missing, endpoint)
	for len(missing) > 0 {
		aliasType := missing.Sorted()[0]
		request := AliasRequest{
			AliasTypes:       []booking.AliasType{aliasType},
			TargetResourceID: deviceID,
			Endpoint:         endpoint,
		}
		if _, err := t.addChildReservationOf(NewAliasReservationTask(t.sc, t.slot, request), booking.KindAlias); err != nil {
			return err
		}
		removeAssigned(missing, endpoint)
		if missing.Contains(aliasType) {
			return invariantf("allocating a %s alias for room %s assigned none", aliasType, endpoint.ID)
		}
	}
	return nil
}

func removeAssigned(missing booking.AliasTypeSet, endpoint *booking.RoomEndpoint) {
	for _, alias := range endpoint.Aliases() {
		delete(missing, alias.Type)
	}
}

// allocateServices attaches the automatic recording of recordable providers
// and allocates the requested services. The room reservation counts as
// allocated meanwhile so that service rooms see its licenses.
func (t *RoomReservationTask) allocateServices(provider *roomProvider, reservation *booking.Reservation, endpoint *booking.RoomEndpoint) error {
	var automatic *booking.ExecutableService
	if provider.capability.RoomRecordable {
		recording := provider.device.Recording
		if recording == nil {
			return invariantf("recordable room provider %s has no recording capability", provider.capability.ID)
		}
		automatic = &booking.ExecutableService{
			ID:                    t.sc.newID(),
			Kind:                  booking.ServiceRecording,
			State:                 booking.ServiceNotActive,
			Slot:                  t.slot,
			RecordingCapabilityID: recording.ID,
		}
		endpoint.AddService(automatic)
	}

	state := t.state()
	if err := state.AddAllocatedReservation(reservation); err != nil {
		return err
	}
	err := t.allocateRequestedServices(endpoint, automatic)
	if removeErr := state.RemoveAllocatedReservation(reservation); err == nil {
		err = removeErr
	}
	return err
}

func (t *RoomReservationTask) allocateRequestedServices(endpoint *booking.RoomEndpoint, automatic *booking.ExecutableService) error {
	for _, service := range t.specification.Services {
		switch s := service.(type) {
		case RecordingServiceSpecification:
			if automatic != nil {
				if s.Enabled {
					automatic.State = booking.ServicePrepared
				}
				continue
			}
			s.Endpoint = endpoint
			if _, err := t.addChildReservation(NewRecordingServiceReservationTask(t.sc, t.slot, s)); err != nil {
				return err
			}
		case TaskProvider:
			task, err := s.CreateTask(t.sc, t.slot)
			if err != nil {
				return err
			}
			if _, err := t.addChildReservation(task); err != nil {
				return err
			}
		default:
			return fail(ReportSpecificationNotAllocatable, "specification", service.SpecificationName())
		}
	}
	return nil
}

// migrateReservation carries the running state of the previous room over to
// its replacement.
func (t *RoomReservationTask) migrateReservation(old, replacement *booking.Reservation) error {
	from, to := old.Target().Executable, replacement.Target().Executable
	if from == nil || to == nil || from == to {
		return nil
	}
	if from.Kind == booking.EndpointForeign {
		if to.Kind == booking.EndpointResource {
			return unsupportedf("migrate foreign room %s to %s", from.ID, to.ID)
		}
		return nil
	}
	if from.DeviceResourceID() != to.DeviceResourceID() {
		if from.State == booking.StateStarted {
			return unsupportedf("migrate started room %s from %s to %s", from.ID, from.DeviceResourceID(), to.DeviceResourceID())
		}
		return nil
	}

	to.MigrateFrom = from
	if from.NotificationState != nil {
		to.NotificationState = from.NotificationState
	}
	if from.State == booking.StateStarted {
		to.State = booking.StateStarted
		to.Modified = true
		if roomID := from.RoomID(); roomID != "" && to.Kind == booking.EndpointResource {
			if err := to.SetRoomID(roomID); err != nil {
				return err
			}
		}
	}
	for capabilityID, folderID := range from.RecordingFolderIDs() {
		to.PutRecordingFolderID(capabilityID, folderID)
	}

	candidates := to.Services()
	for _, service := range from.Services() {
		if !service.IsActive() {
			continue
		}
		for i, candidate := range candidates {
			if candidate.Migrate(service) {
				candidates = append(candidates[:i:i], candidates[i+1:]...)
				break
			}
		}
	}
	return nil
}

func technologyVariants(variants []booking.TechnologySet) string {
	parts := make([]string, 0, len(variants))
	for _, technologies := range variants {
		parts = append(parts, technologies.String())
	}
	return strings.Join(parts, "|")
}
