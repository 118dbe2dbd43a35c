package scheduler

import (
	"cmp"
	"slices"
	"strconv"

	"github.com/example/reservation-scheduler/internal/booking"
)

// RecordingServiceReservationTask allocates a recorder license for a room
// endpoint and attaches the recording service to it.
type RecordingServiceReservationTask struct {
	Task
	specification RecordingServiceSpecification
}

// NewRecordingServiceReservationTask returns a task recording
// specification.Endpoint in slot.
func NewRecordingServiceReservationTask(sc *Context, slot booking.Slot, specification RecordingServiceSpecification) *RecordingServiceReservationTask {
	t := &RecordingServiceReservationTask{specification: specification}
	t.init(sc, slot, t)
	return t
}

func (t *RecordingServiceReservationTask) createMainReport() *Report {
	endpointID := ""
	if t.specification.Endpoint != nil {
		endpointID = t.specification.Endpoint.ID
	}
	return NewReport(ReportAllocatingRecordingService,
		"executable", endpointID, "enabled", strconv.FormatBool(t.specification.Enabled))
}

type recorder struct {
	capability *booking.RecordingCapability
	resource   *booking.DeviceResource
	fullness   float64
}

func (t *RecordingServiceReservationTask) allocateReservation(*booking.Reservation) (*booking.Reservation, error) {
	endpoint := t.specification.Endpoint
	if endpoint == nil {
		return nil, fail(ReportRoomExecutableNotExists)
	}
	if !endpoint.Slot.IsZero() && !endpoint.Slot.Contains(t.slot) {
		return nil, fail(ReportExecutableServiceInvalidSlot,
			"executable", endpoint.ID, "slot", endpoint.Slot.String())
	}

	technologies := endpoint.Technologies()
	if device, ok := t.sc.cache.Resource(endpoint.DeviceResourceID()); ok {
		switch {
		case device.Recording != nil && device.Recording.LicenseCount == 0:
			return nil, fail(ReportRoomEndpointAlwaysRecordable, "executable", endpoint.ID)
		case device.Recording == nil && device.RoomProvider != nil:
			// An external recorder joins the room as one more participant.
			one := 1
			room := RoomSpecification{
				ParticipantCount:    &one,
				Technologies:        []booking.TechnologySet{technologies},
				ResourceID:          device.ID,
				WithoutRoomEndpoint: true,
			}
			task, err := NewRoomReservationTask(t.sc, t.slot, room)
			if err != nil {
				return nil, err
			}
			if _, err := t.addChildReservationOf(task, booking.KindRoom); err != nil {
				return nil, err
			}
		}
	}

	recorders, err := t.recorders(technologies)
	if err != nil {
		return nil, err
	}
	if len(recorders) == 0 {
		return nil, fail(ReportResourceNotFound, "technologies", technologies.String())
	}
	slices.SortStableFunc(recorders, func(a, b *recorder) int { return cmp.Compare(b.fullness, a.fullness) })

	for _, candidate := range recorders {
		if report := t.sc.checkResource(candidate.resource.ID, t.slot, false); report != nil {
			t.addReport(report)
			continue
		}
		state := booking.ServiceNotActive
		if t.specification.Enabled {
			state = booking.ServicePrepared
		}
		service := &booking.ExecutableService{
			ID:                    t.sc.newID(),
			Kind:                  booking.ServiceRecording,
			State:                 state,
			Slot:                  t.slot,
			RecordingCapabilityID: candidate.capability.ID,
		}
		endpoint.AddService(service)
		t.addReport(NewReport(ReportAllocatingResource, "resource", candidate.resource.ID))
		return booking.NewRecordingServiceReservation(t.sc.newID(), t.slot, candidate.capability.ID, service), nil
	}
	return nil, t.failed()
}

// recorders returns recording devices supporting the room technologies that
// have a free license throughout the slot.
func (t *RecordingServiceReservationTask) recorders(technologies booking.TechnologySet) ([]*recorder, error) {
	t.beginReport(NewReport(ReportFindingAvailableResource))
	defer t.endReport()

	var out []*recorder
	for _, capability := range t.sc.cache.RecordingCapabilities() {
		if pinned := t.specification.ResourceID; pinned != "" && capability.ResourceID != pinned {
			continue
		}
		resource, ok := t.sc.cache.Resource(capability.ResourceID)
		if !ok || !resource.Technologies.ContainsAny(technologies) {
			continue
		}
		candidate := &recorder{capability: capability, resource: resource}
		if capability.LicenseCount > 0 {
			reservations, err := t.sc.reservations(booking.KindRecordingService, capability.ID, t.slot)
			if err != nil {
				return nil, err
			}
			used := licensePeak(t.slot, reservations, func(*booking.Reservation) int { return 1 })
			available := capability.LicenseCount - used
			if available <= 0 {
				t.addReport(NewReport(ReportResourceRecordingCapacityExceeded,
					"resource", resource.ID, "maximum", strconv.Itoa(capability.LicenseCount)))
				continue
			}
			candidate.fullness = float64(used) / float64(capability.LicenseCount)
		}
		t.addReport(NewReport(ReportResource, "resource", resource.ID))
		out = append(out, candidate)
	}
	return out, nil
}
