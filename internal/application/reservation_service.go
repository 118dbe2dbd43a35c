package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/reservation-scheduler/internal/booking"
	"github.com/example/reservation-scheduler/internal/logging"
	"github.com/example/reservation-scheduler/internal/persistence"
	"github.com/example/reservation-scheduler/internal/recurrence"
	"github.com/example/reservation-scheduler/internal/scheduler"
)

// Allocator commits allocations. *scheduler.Scheduler implements it.
type Allocator interface {
	Allocate(ctx context.Context, req scheduler.Request) (*scheduler.Result, error)
}

// ReservationRepository is the part of the store the service reads and
// releases reservations through.
type ReservationRepository interface {
	GetReservation(ctx context.Context, id string) (*booking.Reservation, error)
	ListRequestReservations(ctx context.Context, requestID string) ([]*booking.Reservation, error)
	DeleteReservation(ctx context.Context, id string) error
}

// AllocateInput describes one reservation request.
type AllocateInput struct {
	RequestID     string
	Slot          booking.Slot
	Specification scheduler.Specification

	Description string
	UserID      string
	Priority    int
	Purpose     booking.Purpose
	// MaximumDurationRestricted applies the room duration limit.
	MaximumDurationRestricted bool
	// ReusedReservationIDs name committed reservations the request may share.
	ReusedReservationIDs []string
}

// PeriodicInput is a request repeated by a recurrence rule. Slot is the
// first occurrence.
type PeriodicInput struct {
	AllocateInput
	Rule  recurrence.Rule
	Range recurrence.GenerateOptions
}

// OccurrenceResult is the outcome of one occurrence of a periodic request.
// Err holds the allocation failure when Result is nil.
type OccurrenceResult struct {
	RequestID string
	Slot      booking.Slot
	Result    *scheduler.Result
	Err       error
}

// PeriodicResult lists the occurrences in chronological order.
type PeriodicResult struct {
	Occurrences []OccurrenceResult
}

// Failed counts the occurrences that could not be allocated.
func (r *PeriodicResult) Failed() int {
	failed := 0
	for _, occurrence := range r.Occurrences {
		if occurrence.Err != nil {
			failed++
		}
	}
	return failed
}

// ReservationService validates reservation requests and hands them to the
// scheduler, replacing earlier allocations of the same request.
type ReservationService struct {
	allocator    Allocator
	reservations ReservationRepository
	recurrence   *recurrence.Engine
	now          func() time.Time
	logger       zerolog.Logger
}

// NewReservationService constructs a reservation service with the provided dependencies.
func NewReservationService(allocator Allocator, reservations ReservationRepository, now func() time.Time) *ReservationService {
	return NewReservationServiceWithLogger(allocator, reservations, now, zerolog.Nop())
}

// NewReservationServiceWithLogger constructs a reservation service with a specified logger.
func NewReservationServiceWithLogger(allocator Allocator, reservations ReservationRepository, now func() time.Time, logger zerolog.Logger) *ReservationService {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &ReservationService{
		allocator:    allocator,
		reservations: reservations,
		recurrence:   recurrence.NewEngine(time.UTC),
		now:          now,
		logger:       logger,
	}
}

// WithLocation makes periodic requests repeat wall clock times of loc.
func (s *ReservationService) WithLocation(loc *time.Location) *ReservationService {
	s.recurrence = recurrence.NewEngine(loc)
	return s
}

func (s *ReservationService) loggerWith(ctx context.Context, operation string, fields map[string]any) zerolog.Logger {
	return serviceLogger(ctx, s.logger, "ReservationService", operation, fields)
}

// Allocate validates input and allocates it, replacing the current
// allocation of the request.
func (s *ReservationService) Allocate(ctx context.Context, input AllocateInput) (result *scheduler.Result, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Allocate", map[string]any{"request_id": input.RequestID})
	defer func() {
		if err != nil {
			logger.Warn().Err(err).Str("error_kind", ErrorKind(err)).Msg("failed to allocate reservation request")
			return
		}
		logger.Info().Str("reservation_id", result.Reservation.ID).Msg("reservation request allocated")
	}()

	vErr := validateAllocateInput(input)
	if !input.Slot.IsZero() && !input.Slot.End.After(s.now()) {
		vErr.add("slot", "lies in the past")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}
	req, err := s.request(ctx, input)
	if err != nil {
		return
	}
	result, err = s.allocator.Allocate(logging.ContextWithLogger(ctx, logger), req)
	return
}

// AllocatePeriodic expands input.Rule into occurrences and allocates each
// one as a request of its own, identified by the request ID and the
// occurrence index. Allocation failures are kept per occurrence; other
// errors stop the expansion.
func (s *ReservationService) AllocatePeriodic(ctx context.Context, input PeriodicInput) (result *PeriodicResult, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "AllocatePeriodic", map[string]any{"request_id": input.RequestID})
	defer func() {
		if err != nil {
			logger.Error().Err(err).Str("error_kind", ErrorKind(err)).Msg("failed to allocate periodic request")
			return
		}
		logger.Info().
			Int("occurrences", len(result.Occurrences)).
			Int("failed", result.Failed()).
			Msg("periodic request allocated")
	}()

	vErr := validateAllocateInput(input.AllocateInput)
	occurrences, genErr := s.recurrence.GenerateOccurrences(input.Rule, input.Slot, input.Range)
	if genErr != nil && !vErr.HasErrors() {
		vErr.add("rule", genErr.Error())
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	result = &PeriodicResult{}
	for _, occurrence := range occurrences {
		single := input.AllocateInput
		single.RequestID = input.RequestID + "-" + strconv.Itoa(occurrence.Index)
		single.Slot = occurrence.Slot

		req, reqErr := s.request(ctx, single)
		if reqErr != nil {
			err = reqErr
			result = nil
			return
		}
		allocated, allocErr := s.allocator.Allocate(logging.ContextWithLogger(ctx, logger), req)
		if allocErr != nil {
			if _, ok := scheduler.AsSchedulerError(allocErr); !ok {
				err = fmt.Errorf("occurrence %s: %w", single.RequestID, allocErr)
				result = nil
				return
			}
		}
		result.Occurrences = append(result.Occurrences, OccurrenceResult{
			RequestID: single.RequestID,
			Slot:      occurrence.Slot,
			Result:    allocated,
			Err:       allocErr,
		})
	}
	return
}

// Release deletes every reservation allocated for requestID.
func (s *ReservationService) Release(ctx context.Context, requestID string) (released int, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Release", map[string]any{"request_id": requestID})
	defer func() {
		if err != nil {
			logger.Error().Err(err).Str("error_kind", ErrorKind(err)).Msg("failed to release reservation request")
			return
		}
		logger.Info().Int("released", released).Msg("reservation request released")
	}()

	if strings.TrimSpace(requestID) == "" {
		vErr := &ValidationError{}
		vErr.add("request_id", "is required")
		err = vErr
		return
	}
	reservations, err := s.reservations.ListRequestReservations(ctx, requestID)
	if err != nil {
		return
	}
	for _, reservation := range reservations {
		if err = s.reservations.DeleteReservation(ctx, reservation.ID); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return
		}
		err = nil
		released++
	}
	return
}

// request resolves the previous and reused reservations of input.
func (s *ReservationService) request(ctx context.Context, input AllocateInput) (scheduler.Request, error) {
	req := scheduler.Request{
		ID:                        input.RequestID,
		Slot:                      input.Slot,
		Specification:             input.Specification,
		Description:               input.Description,
		UserID:                    input.UserID,
		Priority:                  input.Priority,
		Purpose:                   input.Purpose,
		MaximumDurationRestricted: input.MaximumDurationRestricted,
	}
	if s.reservations == nil {
		return req, nil
	}

	current, err := s.reservations.ListRequestReservations(ctx, input.RequestID)
	if err != nil {
		return scheduler.Request{}, fmt.Errorf("load reservations of %s: %w", input.RequestID, err)
	}
	if len(current) > 1 {
		return scheduler.Request{}, fmt.Errorf("%w: request %s has %d reservations", scheduler.ErrUnsupported, input.RequestID, len(current))
	}
	if len(current) == 1 {
		req.Previous = current[0]
	}

	vErr := &ValidationError{}
	for _, id := range input.ReusedReservationIDs {
		reused, err := s.reservations.GetReservation(ctx, id)
		if errors.Is(err, persistence.ErrNotFound) {
			vErr.add("reused_reservation_ids", "unknown reservation "+id)
			continue
		}
		if err != nil {
			return scheduler.Request{}, fmt.Errorf("load reused reservation %s: %w", id, err)
		}
		if reused.RequestID == input.RequestID {
			vErr.add("reused_reservation_ids", "reservation "+id+" belongs to the request itself")
			continue
		}
		req.Reused = append(req.Reused, reused)
	}
	if vErr.HasErrors() {
		return scheduler.Request{}, vErr
	}
	return req, nil
}

func validateAllocateInput(input AllocateInput) *ValidationError {
	vErr := &ValidationError{}
	if strings.TrimSpace(input.RequestID) == "" {
		vErr.add("request_id", "is required")
	}
	if input.Slot.IsZero() {
		vErr.add("slot", "is required")
	} else if !input.Slot.End.After(input.Slot.Start) {
		vErr.add("slot", "must end after it starts")
	}
	if input.Specification == nil {
		vErr.add("specification", "is required")
	}
	if input.Priority < 0 {
		vErr.add("priority", "must not be negative")
	}
	switch input.Purpose {
	case "", booking.PurposeScience, booking.PurposeEducation, booking.PurposeMaintenance:
	default:
		vErr.add("purpose", "unknown purpose "+string(input.Purpose))
	}
	return vErr
}
