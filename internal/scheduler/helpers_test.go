package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/reservation-scheduler/internal/booking"
	"github.com/example/reservation-scheduler/internal/cache"
	"github.com/example/reservation-scheduler/internal/persistence"
	"github.com/example/reservation-scheduler/internal/persistence/memory"
	"github.com/example/reservation-scheduler/internal/testfixtures"
)

type harness struct {
	t       *testing.T
	catalog *testfixtures.Catalog
	store   persistence.ReservationRepository
	clock   *testfixtures.Clock
	ids     *testfixtures.IDGenerator
}

func newHarness(t *testing.T, opts ...cache.Option) *harness {
	t.Helper()
	return &harness{
		t:       t,
		catalog: testfixtures.NewCatalog(t, opts...),
		store:   memory.New(),
		clock:   testfixtures.NewClock(time.Time{}),
		ids:     testfixtures.NewIDGenerator(""),
	}
}

func (h *harness) scheduler(opts ...Option) *Scheduler {
	base := []Option{WithClock(h.clock.Now), WithIDGenerator(h.ids.Next), WithCommitRetry(1, time.Millisecond)}
	return New(h.catalog.Cache, h.store, append(base, opts...)...)
}

func (h *harness) allocate(req Request, opts ...Option) (*Result, error) {
	return h.scheduler(opts...).Allocate(context.Background(), req)
}

func (h *harness) mustAllocate(req Request, opts ...Option) *Result {
	h.t.Helper()
	result, err := h.allocate(req, opts...)
	require.NoError(h.t, err)
	return result
}

// context returns a bare allocation context for driving tasks directly.
func (h *harness) context() *Context {
	sc := NewContext(context.Background(), h.catalog.Cache, h.store)
	sc.Now = h.clock.Now()
	sc.NewID = h.ids.Next
	return sc
}

func count(n int) *int { return &n }

func technologies(ts ...booking.Technology) []booking.TechnologySet {
	return []booking.TechnologySet{booking.NewTechnologySet(ts...)}
}

func h323Room(participants int) RoomSpecification {
	return RoomSpecification{ParticipantCount: count(participants), Technologies: technologies(booking.TechnologyH323)}
}

// requireFailure asserts an allocation failure whose report tree mentions
// reportType.
func requireFailure(t *testing.T, err error, reportType ReportType) *SchedulerError {
	t.Helper()
	schedulerErr, ok := AsSchedulerError(err)
	require.True(t, ok, "expected allocation failure, got %v", err)
	require.NotNil(t, schedulerErr.Report.Find(reportType), "report %s missing in\n%s", reportType, schedulerErr.Report.Tree())
	return schedulerErr
}

func findReport(reports []*Report, reportType ReportType) *Report {
	for _, report := range reports {
		if found := report.Find(reportType); found != nil {
			return found
		}
	}
	return nil
}

func childrenOfKind(r *booking.Reservation, kind booking.Kind) []*booking.Reservation {
	var out []*booking.Reservation
	for _, child := range r.Children() {
		if child.Kind == kind {
			out = append(out, child)
		}
	}
	return out
}
