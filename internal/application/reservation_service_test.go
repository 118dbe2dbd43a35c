package application

import (
	"bytes"
	"context"
	"errors"
	"maps"
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/reservation-scheduler/internal/booking"
	"github.com/example/reservation-scheduler/internal/logging"
	"github.com/example/reservation-scheduler/internal/persistence/memory"
	"github.com/example/reservation-scheduler/internal/recurrence"
	"github.com/example/reservation-scheduler/internal/scheduler"
	"github.com/example/reservation-scheduler/internal/testfixtures"
)

type serviceHarness struct {
	store   *memory.Store
	clock   *testfixtures.Clock
	service *ReservationService
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()
	catalog := testfixtures.NewCatalog(t)
	catalog.Device("mcu", []booking.Technology{booking.TechnologyH323}, testfixtures.WithRoomProvider(10))
	store := memory.New()
	clock := testfixtures.NewClock(time.Time{})
	ids := testfixtures.NewIDGenerator("")
	engine := scheduler.New(catalog.Cache, store,
		scheduler.WithClock(clock.Now), scheduler.WithIDGenerator(ids.Next), scheduler.WithCommitRetry(1, time.Millisecond))
	return &serviceHarness{
		store:   store,
		clock:   clock,
		service: NewReservationService(engine, store, clock.Now),
	}
}

func room(participants int) scheduler.RoomSpecification {
	return scheduler.RoomSpecification{
		ParticipantCount: &participants,
		Technologies:     []booking.TechnologySet{booking.NewTechnologySet(booking.TechnologyH323)},
	}
}

type allocatorStub struct {
	err   error
	calls []scheduler.Request
}

func (a *allocatorStub) Allocate(ctx context.Context, req scheduler.Request) (*scheduler.Result, error) {
	a.calls = append(a.calls, req)
	if a.err != nil {
		return nil, a.err
	}
	return &scheduler.Result{Reservation: booking.NewReservation("r-"+req.ID, req.Slot)}, nil
}

func TestReservationService_AllocateValidation(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	_, err := h.service.Allocate(ctx, AllocateInput{Priority: -1, Purpose: "PARTY"})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, []string{"priority", "purpose", "request_id", "slot", "specification"}, sortedFields(vErr))

	past := booking.MustSlot(testfixtures.ReferenceTime().Add(-2*time.Hour), testfixtures.ReferenceTime().Add(-time.Hour))
	_, err = h.service.Allocate(ctx, AllocateInput{RequestID: "req-1", Slot: past, Specification: room(2)})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "lies in the past", vErr.FieldErrors["slot"])
}

func TestReservationService_AllocateReplacesCurrentAllocation(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	first, err := h.service.Allocate(ctx, AllocateInput{RequestID: "req-1", Slot: testfixtures.Hours(10, 12), Specification: room(8)})
	require.NoError(t, err)
	second, err := h.service.Allocate(ctx, AllocateInput{RequestID: "req-1", Slot: testfixtures.Hours(10, 12), Specification: room(10)})
	require.NoError(t, err)
	assert.NotEqual(t, first.Reservation.ID, second.Reservation.ID)

	current, err := h.store.ListRequestReservations(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, 10, current[0].LicenseCount())

	_, err = h.service.Allocate(ctx, AllocateInput{RequestID: "req-2", Slot: testfixtures.Hours(11, 12), Specification: room(1)})
	assert.Equal(t, "allocation_failed", ErrorKind(err))
}

func TestReservationService_ReusedReservations(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()
	slot := testfixtures.Hours(10, 12)

	permanent, err := h.service.Allocate(ctx, AllocateInput{RequestID: "req-1", Slot: slot, Specification: room(6)})
	require.NoError(t, err)

	result, err := h.service.Allocate(ctx, AllocateInput{
		RequestID:            "req-2",
		Slot:                 slot,
		Specification:        room(4),
		ReusedReservationIDs: []string{permanent.Reservation.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, booking.KindExisting, result.Reservation.Kind)

	_, err = h.service.Allocate(ctx, AllocateInput{
		RequestID:            "req-3",
		Slot:                 slot,
		Specification:        room(1),
		ReusedReservationIDs: []string{"missing"},
	})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors["reused_reservation_ids"], "missing")

	_, err = h.service.Allocate(ctx, AllocateInput{
		RequestID:            "req-1",
		Slot:                 slot,
		Specification:        room(6),
		ReusedReservationIDs: []string{permanent.Reservation.ID},
	})
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors["reused_reservation_ids"], "request itself")
}

func TestReservationService_AllocatePeriodic(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	_, err := h.service.Allocate(ctx, AllocateInput{RequestID: "block", Slot: testfixtures.Hours(34, 36), Specification: room(8)})
	require.NoError(t, err)

	result, err := h.service.AllocatePeriodic(ctx, PeriodicInput{
		AllocateInput: AllocateInput{RequestID: "daily", Slot: testfixtures.Hours(10, 12), Specification: room(5)},
		Rule:          recurrence.Rule{Frequency: recurrence.FrequencyDaily, Count: 3},
	})
	require.NoError(t, err)
	require.Len(t, result.Occurrences, 3)
	assert.Equal(t, 1, result.Failed())

	ids := make([]string, 0, len(result.Occurrences))
	for _, occurrence := range result.Occurrences {
		ids = append(ids, occurrence.RequestID)
	}
	assert.Equal(t, []string{"daily-0", "daily-1", "daily-2"}, ids)
	assert.NoError(t, result.Occurrences[0].Err)
	assert.Equal(t, testfixtures.Hours(58, 60), result.Occurrences[2].Slot)
	assert.Equal(t, "allocation_failed", ErrorKind(result.Occurrences[1].Err))
	assert.Nil(t, result.Occurrences[1].Result)

	stored, err := h.store.ListRequestReservations(ctx, "daily-2")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestReservationService_AllocatePeriodicErrors(t *testing.T) {
	ctx := context.Background()
	stub := &allocatorStub{}
	service := NewReservationService(stub, nil, testfixtures.NewClock(time.Time{}).Now)
	input := PeriodicInput{
		AllocateInput: AllocateInput{RequestID: "weekly", Slot: testfixtures.Hours(10, 12), Specification: room(2)},
		Rule:          recurrence.Rule{Frequency: recurrence.FrequencyWeekly},
	}

	_, err := service.AllocatePeriodic(ctx, input)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors, "rule")
	assert.Empty(t, stub.calls)

	input.Rule.Count = 2
	stub.err = errors.New("store down")
	result, err := service.AllocatePeriodic(ctx, input)
	assert.Nil(t, result)
	assert.ErrorContains(t, err, "occurrence weekly-0")
	assert.Len(t, stub.calls, 1)

	stub.err = nil
	result, err = service.AllocatePeriodic(ctx, input)
	require.NoError(t, err)
	require.Len(t, result.Occurrences, 2)
	assert.Equal(t, 7*24*time.Hour, result.Occurrences[1].Slot.Start.Sub(result.Occurrences[0].Slot.Start))
}

func TestReservationService_Release(t *testing.T) {
	h := newServiceHarness(t)
	ctx := context.Background()

	_, err := h.service.Allocate(ctx, AllocateInput{RequestID: "req-1", Slot: testfixtures.Hours(10, 12), Specification: room(10)})
	require.NoError(t, err)

	released, err := h.service.Release(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	current, err := h.store.ListRequestReservations(ctx, "req-1")
	require.NoError(t, err)
	assert.Empty(t, current)

	_, err = h.service.Allocate(ctx, AllocateInput{RequestID: "req-2", Slot: testfixtures.Hours(10, 12), Specification: room(10)})
	assert.NoError(t, err)

	_, err = h.service.Release(ctx, " ")
	assert.Equal(t, "validation", ErrorKind(err))
}

func TestReservationService_LogsThroughContextLogger(t *testing.T) {
	var buf bytes.Buffer
	ctx := logging.ContextWithLogger(context.Background(), zerolog.New(&buf))
	stub := &allocatorStub{}
	service := NewReservationService(stub, nil, testfixtures.NewClock(time.Time{}).Now)

	_, err := service.Allocate(ctx, AllocateInput{RequestID: "req-1"})
	require.Error(t, err)
	assert.Contains(t, buf.String(), `"service":"ReservationService"`)
	assert.Contains(t, buf.String(), `"operation":"Allocate"`)
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
	assert.Contains(t, buf.String(), `"error_kind":"validation"`)

	buf.Reset()
	_, err = service.Allocate(ctx, AllocateInput{RequestID: "req-1", Slot: testfixtures.Hours(10, 12), Specification: room(2)})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"reservation_id":"r-req-1"`)
}

func sortedFields(vErr *ValidationError) []string {
	return slices.Sorted(maps.Keys(vErr.FieldErrors))
}
