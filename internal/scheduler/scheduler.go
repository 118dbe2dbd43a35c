package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/reservation-scheduler/internal/booking"
	"github.com/example/reservation-scheduler/internal/logging"
	"github.com/example/reservation-scheduler/internal/persistence"
)

const tracerName = "github.com/example/reservation-scheduler/internal/scheduler"

// Request is one allocation of a reservation request.
type Request struct {
	ID            string
	Slot          booking.Slot
	Specification Specification

	Description string
	UserID      string
	Priority    int
	Purpose     booking.Purpose
	// MaximumDurationRestricted applies the room duration limit.
	MaximumDurationRestricted bool

	// Previous is the allocation being replaced. It may be reallocated.
	Previous *booking.Reservation
	// Reused are reservations of other requests the allocation may share.
	Reused []*booking.Reservation
}

// Result is a committed allocation.
type Result struct {
	Reservation *booking.Reservation
	Reports     []*Report
	// Reallocations are colliding requests that have to be allocated again.
	Reallocations []Reallocation
}

// Scheduler allocates reservation requests against a capacity cache and
// commits the resulting trees to a repository.
type Scheduler struct {
	cache  CapacityCache
	store  persistence.ReservationRepository
	logger zerolog.Logger
	tracer trace.Tracer

	metrics           *Metrics
	now               func() time.Time
	newID             func() string
	executableAllowed bool
	commitAttempts    uint
	commitDelay       time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the base logger. A logger in the request context wins.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithTracerProvider sets the tracer provider. The global one is the default.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(s *Scheduler) { s.tracer = provider.Tracer(tracerName) }
}

// WithMetrics enables metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(s *Scheduler) { s.metrics = metrics }
}

// WithClock replaces the request time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithIDGenerator replaces the identifier generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Scheduler) { s.newID = newID }
}

// WithExecutableAllowed enables or disables room endpoint allocation.
func WithExecutableAllowed(allowed bool) Option {
	return func(s *Scheduler) { s.executableAllowed = allowed }
}

// WithCommitRetry sets how often a commit hitting a busy store is attempted.
// Zero attempts means one.
func WithCommitRetry(attempts uint, delay time.Duration) Option {
	return func(s *Scheduler) {
		s.commitAttempts = max(attempts, 1)
		s.commitDelay = delay
	}
}

// New returns a Scheduler.
func New(cache CapacityCache, store persistence.ReservationRepository, opts ...Option) *Scheduler {
	s := &Scheduler{
		cache:             cache,
		store:             store,
		logger:            zerolog.Nop(),
		tracer:            otel.Tracer(tracerName),
		now:               func() time.Time { return time.Now().UTC() },
		executableAllowed: true,
		commitAttempts:    3,
		commitDelay:       50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allocate allocates req and commits the result, replacing req.Previous.
// Expected failures are returned as *SchedulerError; broken invariants match
// ErrInvariant and unsupported shapes match ErrUnsupported.
func (s *Scheduler) Allocate(ctx context.Context, req Request) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.Allocate", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("request.slot", req.Slot.String()),
	))
	defer span.End()

	logger, ok := logging.FromContext(ctx)
	if !ok {
		logger = s.logger
	}
	logger = logger.With().Str("request", req.ID).Logger()

	started := time.Now()
	result, err := s.allocate(ctx, logger, req)
	outcome := Outcome(err)
	s.metrics.observeAllocation(outcome, time.Since(started))
	span.SetAttributes(attribute.String("outcome", outcome))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		event := logger.Warn()
		if outcome != outcomeFailed {
			event = logger.Error()
		}
		event.Err(err).Str("outcome", outcome).Msg("allocation failed")
		return nil, err
	}
	s.metrics.observeReallocations(result.Reallocations)
	logger.Info().
		Str("reservation", result.Reservation.ID).
		Int("reallocations", len(result.Reallocations)).
		Msg("allocation committed")
	return result, nil
}

func (s *Scheduler) allocate(ctx context.Context, logger zerolog.Logger, req Request) (*Result, error) {
	if req.Specification == nil {
		return nil, fmt.Errorf("%w: request %s has no specification", ErrInvalidRequest, req.ID)
	}
	if req.Slot.IsZero() {
		return nil, newSchedulerError(NewReport(ReportReservationRequestInvalidSlot, "request", req.ID))
	}
	provider, ok := req.Specification.(TaskProvider)
	if !ok {
		return nil, newSchedulerError(NewReport(ReportSpecificationNotAllocatable,
			"specification", req.Specification.SpecificationName()))
	}

	sc := NewContext(ctx, s.cache, s.store)
	sc.Logger = logger
	sc.RequestID = req.ID
	sc.Description = req.Description
	sc.UserID = req.UserID
	sc.Priority = req.Priority
	if req.Purpose != "" {
		sc.Purpose = req.Purpose
	}
	sc.ExecutableAllowed = s.executableAllowed
	sc.MaximumDurationRestricted = req.MaximumDurationRestricted
	sc.Now = s.now()
	if s.newID != nil {
		sc.NewID = s.newID
	}

	if req.Previous != nil {
		if _, err := sc.State().AddAvailableReservation(req.Previous, booking.Reallocatable); err != nil {
			return nil, err
		}
	}
	for _, reused := range req.Reused {
		if _, err := sc.State().AddAvailableReservation(reused, booking.Reusable); err != nil {
			return nil, err
		}
	}

	task, err := provider.CreateTask(sc, req.Slot)
	if err != nil {
		return nil, err
	}
	reservation, err := task.Perform(req.Previous)
	if err != nil {
		return nil, err
	}
	if err := validateTree(reservation); err != nil {
		return nil, err
	}
	if req.Previous != nil {
		if err := task.Migrate(req.Previous, reservation); err != nil {
			return nil, err
		}
	}

	reservation.RequestID = req.ID
	reservation.Priority = req.Priority
	reservation.Purpose = sc.Purpose
	if err := s.commit(ctx, logger, reservation, req.Previous); err != nil {
		return nil, err
	}
	return &Result{
		Reservation:   reservation,
		Reports:       task.Reports(),
		Reallocations: sc.Reallocations(),
	}, nil
}

// validateTree checks that children stay within their parent and that room
// reservations with an endpoint carry a room configuration.
func validateTree(top *booking.Reservation) error {
	var err error
	top.Walk(func(r *booking.Reservation) {
		if err != nil {
			return
		}
		if parent := r.Parent(); parent != nil && !parent.Slot.Contains(r.Slot) {
			err = invariantf("reservation %s slot %s outside parent %s slot %s", r, r.Slot, parent, parent.Slot)
			return
		}
		if r.Kind == booking.KindRoom && r.Executable != nil && r.Executable.Configuration.IsZero() {
			err = invariantf("room reservation %s without room configuration", r)
		}
	})
	return err
}

// commit atomically replaces the previous tree with reservation. Busy
// stores are retried.
func (s *Scheduler) commit(ctx context.Context, logger zerolog.Logger, reservation, previous *booking.Reservation) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.commit", trace.WithAttributes(
		attribute.String("reservation.id", reservation.ID),
	))
	defer span.End()

	var previousID string
	if previous != nil {
		previousID = previous.ID
	}
	err := retry.Do(func() error {
		return s.store.ReplaceReservation(ctx, previousID, reservation)
	},
		retry.Context(ctx),
		retry.Attempts(s.commitAttempts),
		retry.Delay(s.commitDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, persistence.ErrBusy) }),
		retry.OnRetry(func(n uint, err error) {
			s.metrics.observeCommitRetry()
			logger.Debug().Uint("attempt", n+1).Err(err).Msg("retrying commit")
		}),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		return fmt.Errorf("commit reservation %s: %w", reservation.ID, err)
	}
	return nil
}

// Outcome labels err for logs and metrics.
func Outcome(err error) string {
	if err == nil {
		return outcomeAllocated
	}
	if _, ok := AsSchedulerError(err); ok {
		return outcomeFailed
	}
	switch {
	case errors.Is(err, ErrUnsupported):
		return outcomeUnsupported
	case errors.Is(err, ErrInvariant):
		return outcomeInvariant
	default:
		return outcomeError
	}
}
