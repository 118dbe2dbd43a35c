package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/reservation-scheduler/internal/booking"
	"github.com/example/reservation-scheduler/internal/testfixtures"
)

func recordedRoom(participants int, recording RecordingServiceSpecification) RoomSpecification {
	spec := h323Room(participants)
	spec.Services = []Specification{recording}
	return spec
}

func TestRecordableRoomProvider(t *testing.T) {
	h := newHarness(t)
	h.catalog.Device("mcu", h323, testfixtures.WithRoomProvider(10), testfixtures.WithRoomRecordable())

	spec := recordedRoom(4, RecordingServiceSpecification{Enabled: true})
	result := h.mustAllocate(Request{ID: "req-1", Slot: testfixtures.Hours(10, 12), Specification: spec})

	assert.Empty(t, result.Reservation.Children())
	services := result.Reservation.Executable.Services()
	require.Len(t, services, 1)
	assert.Equal(t, booking.ServicePrepared, services[0].State)
	assert.Equal(t, "mcu-rec", services[0].RecordingCapabilityID)
}

func TestExternalRecorder(t *testing.T) {
	h := newHarness(t)
	h.catalog.Device("mcu", h323, testfixtures.WithRoomProvider(10))
	h.catalog.Device("rec", h323, testfixtures.WithRecording(1))
	slot := testfixtures.Hours(10, 12)

	result := h.mustAllocate(Request{ID: "req-1", Slot: slot, Specification: recordedRoom(5, RecordingServiceSpecification{Enabled: true})})
	recordings := childrenOfKind(result.Reservation, booking.KindRecordingService)
	require.Len(t, recordings, 1)
	assert.Equal(t, "rec-rec", recordings[0].Recording.CapabilityID)
	assert.Equal(t, booking.ServicePrepared, recordings[0].Recording.Service.State)

	// The recorder joins the room as a participant.
	seats := childrenOfKind(recordings[0], booking.KindRoom)
	require.Len(t, seats, 1)
	assert.Equal(t, 1, seats[0].LicenseCount())
	assert.Nil(t, seats[0].Executable)

	services := result.Reservation.Executable.Services()
	require.Len(t, services, 1)
	assert.Same(t, recordings[0].Recording.Service, services[0])
	assert.Equal(t, result.Reservation.Executable.ID, services[0].EndpointID)

	_, err := h.allocate(Request{ID: "req-2", Slot: slot, Specification: recordedRoom(3, RecordingServiceSpecification{})})
	requireFailure(t, err, ReportResourceRecordingCapacityExceeded)
}

func TestRecorderPreference(t *testing.T) {
	h := newHarness(t)
	h.catalog.Device("mcu", h323, testfixtures.WithRoomProvider(10))
	h.catalog.Device("rec1", h323, testfixtures.WithRecording(2))
	h.catalog.Device("rec2", h323, testfixtures.WithRecording(2))
	slot := testfixtures.Hours(10, 12)

	pinned := recordedRoom(2, RecordingServiceSpecification{ResourceID: "rec1"})
	h.mustAllocate(Request{ID: "req-1", Slot: slot, Specification: pinned})

	result := h.mustAllocate(Request{ID: "req-2", Slot: slot, Specification: recordedRoom(2, RecordingServiceSpecification{})})
	services := result.Reservation.Executable.Services()
	require.Len(t, services, 1)
	assert.Equal(t, "rec1-rec", services[0].RecordingCapabilityID)
	assert.Equal(t, booking.ServiceNotActive, services[0].State)
}

func TestRecordingServiceChecks(t *testing.T) {
	h := newHarness(t)
	mcu := h.catalog.Device("mcu", h323, testfixtures.WithRoomProvider(10), testfixtures.WithRoomRecordable())
	slot := testfixtures.Hours(10, 12)
	cfg, err := booking.NewRoomConfiguration(booking.NewTechnologySet(h323...), 2, nil)
	require.NoError(t, err)

	endpoint := booking.NewResourceRoomEndpoint("room-1", mcu.RoomProvider, cfg)
	_, err = NewRecordingServiceReservationTask(h.context(), slot, RecordingServiceSpecification{Endpoint: endpoint}).Perform(nil)
	requireFailure(t, err, ReportRoomEndpointAlwaysRecordable)

	endpoint.Slot = testfixtures.Hours(10, 11)
	_, err = NewRecordingServiceReservationTask(h.context(), slot, RecordingServiceSpecification{Endpoint: endpoint}).Perform(nil)
	requireFailure(t, err, ReportExecutableServiceInvalidSlot)

	_, err = h.allocate(Request{ID: "req-1", Slot: slot, Specification: RecordingServiceSpecification{}})
	requireFailure(t, err, ReportRoomExecutableNotExists)
	assert.Equal(t, "failed", Outcome(err))
}
