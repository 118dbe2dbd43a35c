package scheduler

import (
	"errors"
	"slices"
	"time"

	"github.com/example/reservation-scheduler/internal/booking"
	"github.com/example/reservation-scheduler/internal/cache"
)

// ReservationTask allocates one reservation. Tasks are single use.
type ReservationTask interface {
	// Perform allocates the reservation. current is the reservation being
	// replaced, if any.
	Perform(current *booking.Reservation) (*booking.Reservation, error)
	// Reports returns the top level diagnostics of the task.
	Reports() []*Report
	// Migrate carries runtime state from an old allocation to its
	// replacement.
	Migrate(old, replacement *booking.Reservation) error
}

// allocator is implemented by every concrete task.
type allocator interface {
	createMainReport() *Report
	allocateReservation(current *booking.Reservation) (*booking.Reservation, error)
}

type validator interface {
	validateReservation(reservation *booking.Reservation) error
}

type migrator interface {
	migrateReservation(old, replacement *booking.Reservation) error
}

// Task is the base embedded by concrete tasks. It keeps the diagnostic trail
// and the child reservations allocated by nested tasks.
type Task struct {
	sc   *Context
	slot booking.Slot
	impl allocator

	reports  []*Report
	active   []*Report
	children []*booking.Reservation
}

func (t *Task) init(sc *Context, slot booking.Slot, impl allocator) {
	t.sc = sc
	t.slot = slot
	t.impl = impl
}

// Slot returns the slot the task allocates for.
func (t *Task) Slot() booking.Slot {
	return t.slot
}

func (t *Task) state() *State {
	return t.sc.state
}

// Perform runs the allocation inside the main report of the task. A failure
// whose report is not the main report is attached under it.
func (t *Task) Perform(current *booking.Reservation) (*booking.Reservation, error) {
	main := t.impl.createMainReport()
	if main != nil {
		t.beginReport(main)
	}
	reservation, err := t.impl.allocateReservation(current)
	if err == nil {
		if reservation == nil {
			err = invariantf("task produced no reservation")
		} else if v, ok := t.impl.(validator); ok {
			err = v.validateReservation(reservation)
		}
	}
	if main != nil {
		t.endReport()
	}
	if err != nil {
		if schedulerErr, ok := AsSchedulerError(err); ok && main != nil && schedulerErr.Report != main {
			main.addChild(schedulerErr.Report)
			return nil, newSchedulerError(main)
		}
		return nil, err
	}

	for _, child := range t.children {
		if err := reservation.AddChild(child); err != nil {
			return nil, invariantWrap(err, "attach child to %s", reservation)
		}
	}
	if err := t.state().AddAllocatedReservation(reservation); err != nil {
		return nil, err
	}
	return reservation, nil
}

// Reports returns a copy of the top level reports.
func (t *Task) Reports() []*Report {
	out := make([]*Report, len(t.reports))
	copy(out, t.reports)
	return out
}

// Migrate delegates to the concrete task when it migrates anything.
func (t *Task) Migrate(old, replacement *booking.Reservation) error {
	if m, ok := t.impl.(migrator); ok {
		return m.migrateReservation(old, replacement)
	}
	return nil
}

func (t *Task) addReport(report *Report) {
	if report == nil {
		return
	}
	if len(t.active) == 0 {
		t.reports = append(t.reports, report)
		return
	}
	t.active[len(t.active)-1].addChild(report)
}

func (t *Task) addReports(reports []*Report) {
	for _, report := range reports {
		t.addReport(report)
	}
}

func (t *Task) beginReport(report *Report) {
	t.addReport(report)
	t.active = append(t.active, report)
}

func (t *Task) endReport() {
	if len(t.active) > 0 {
		t.active = t.active[:len(t.active)-1]
	}
}

// endReportError closes the active report and keeps errReport under it.
func (t *Task) endReportError(errReport *Report) {
	if len(t.active) == 0 {
		t.addReport(errReport)
		return
	}
	report := t.active[len(t.active)-1]
	t.active = t.active[:len(t.active)-1]
	if errReport != report {
		report.addChild(errReport)
	}
}

// currentReport is the active report or else the last one added.
func (t *Task) currentReport() *Report {
	if len(t.active) > 0 {
		return t.active[len(t.active)-1]
	}
	if len(t.reports) > 0 {
		return t.reports[len(t.reports)-1]
	}
	return nil
}

// failed returns the allocation failure explained by the current report.
func (t *Task) failed() error {
	report := t.currentReport()
	if report == nil {
		return invariantf("allocation failed without a report")
	}
	return newSchedulerError(report)
}

// fail raises report, which the enclosing Perform files under the main
// report.
func fail(reportType ReportType, keyValues ...string) error {
	return newSchedulerError(NewReport(reportType, keyValues...))
}

// performChild runs a nested task sharing the context. Its reports join the
// trail of t.
func (t *Task) performChild(child ReservationTask) (*booking.Reservation, error) {
	reservation, err := child.Perform(nil)
	if err != nil {
		if schedulerErr, ok := AsSchedulerError(err); ok {
			t.addReport(schedulerErr.Report)
			return nil, t.failed()
		}
		return nil, err
	}
	t.addReports(child.Reports())
	return reservation, nil
}

// addChildReservation runs child and keeps its result as a child
// reservation. It returns the reservation holding the capacity.
func (t *Task) addChildReservation(child ReservationTask) (*booking.Reservation, error) {
	reservation, err := t.performChild(child)
	if err != nil {
		return nil, err
	}
	if err := t.addChild(reservation); err != nil {
		return nil, err
	}
	return reservation.Target(), nil
}

// addChildReservationOf is addChildReservation requiring the target to be of
// kind.
func (t *Task) addChildReservationOf(child ReservationTask, kind booking.Kind) (*booking.Reservation, error) {
	target, err := t.addChildReservation(child)
	if err != nil {
		return nil, err
	}
	if target.Kind != kind {
		return nil, invariantf("expected %s reservation, got %s", kind, target)
	}
	return target, nil
}

// addMultiChildReservation runs child and keeps either its result, when it
// is of kind, or the children of its result.
func (t *Task) addMultiChildReservation(child ReservationTask, kind booking.Kind) ([]*booking.Reservation, error) {
	reservation, err := t.performChild(child)
	if err != nil {
		return nil, err
	}
	if reservation.Target().Kind == kind {
		if err := t.addChild(reservation); err != nil {
			return nil, err
		}
		return []*booking.Reservation{reservation.Target()}, nil
	}
	if err := t.state().RemoveAllocatedReservation(reservation); err != nil {
		return nil, err
	}
	var targets []*booking.Reservation
	for _, grandchild := range reservation.DetachChildren() {
		if err := t.addChild(grandchild); err != nil {
			return nil, err
		}
		targets = append(targets, grandchild.Target())
	}
	return targets, nil
}

// attempt runs fn inside a savepoint. When fn fails the state and the
// children collected by t are rolled back before the error is returned.
func (t *Task) attempt(fn func() (*booking.Reservation, error)) (*booking.Reservation, error) {
	savepoint := t.state().CreateSavepoint()
	mark := len(t.children)
	reservation, err := fn()
	if err != nil {
		t.children = t.children[:mark]
		if revertErr := savepoint.Revert(); revertErr != nil {
			return nil, revertErr
		}
		return nil, err
	}
	savepoint.Destroy()
	return reservation, nil
}

// addChild keeps an already allocated reservation as a child.
func (t *Task) addChild(reservation *booking.Reservation) error {
	t.children = append(t.children, reservation)
	return t.state().AddAllocatedReservation(reservation)
}

// addExistingChild keeps a reservation reusing reused as a child.
func (t *Task) addExistingChild(reused *booking.Reservation) (*booking.Reservation, error) {
	existing := booking.NewExistingReservation(t.sc.newID(), t.slot, reused)
	if err := t.addChild(existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// reuse returns an existing reservation for an available one and withdraws
// it from the attempt.
func (t *Task) reuse(available *booking.AvailableReservation) (*booking.Reservation, error) {
	if err := t.state().RemoveAvailableReservation(available); err != nil {
		return nil, err
	}
	t.addReport(NewReport(ReportReservationReusing, "reservation", available.Original.ID))
	return booking.NewExistingReservation(t.sc.newID(), t.slot, available.Original), nil
}

// checkMaximumDuration fails when slot is longer than maximum. Zero means no
// limit.
func checkMaximumDuration(slot booking.Slot, maximum time.Duration) error {
	if maximum > 0 && slot.Duration() > maximum {
		return fail(ReportMaximumDurationExceeded,
			"duration", formatDuration(slot.Duration()), "maximum", formatDuration(maximum))
	}
	return nil
}

// sortAvailableReservations prefers reservations covering slot and then
// reallocatable ones.
func sortAvailableReservations(slot booking.Slot, available []*booking.AvailableReservation) {
	slices.SortStableFunc(available, func(a, b *booking.AvailableReservation) int {
		return availableRank(slot, a) - availableRank(slot, b)
	})
}

// sortAvailableExecutables orders endpoints like sortAvailableReservations
// orders their reservations.
func sortAvailableExecutables(slot booking.Slot, executables []*booking.AvailableExecutable) {
	slices.SortStableFunc(executables, func(a, b *booking.AvailableExecutable) int {
		return availableRank(slot, a.Available) - availableRank(slot, b.Available)
	})
}

func availableRank(slot booking.Slot, available *booking.AvailableReservation) int {
	rank := 0
	if !available.Original.Slot.Contains(slot) {
		rank += 2
	}
	if available.Type != booking.Reallocatable {
		rank++
	}
	return rank
}

// unavailableReport maps a cache availability failure to a report.
func unavailableReport(resourceID string, err error) *Report {
	var unavailable *cache.UnavailableError
	if !errors.As(err, &unavailable) {
		return NewReport(ReportResourceNotAvailable, "resource", resourceID, "error", err.Error())
	}
	switch unavailable.Reason {
	case cache.ReasonNotFound:
		return NewReport(ReportResourceNotFound, "resource", unavailable.ResourceID)
	case cache.ReasonNotAllocatable:
		return NewReport(ReportResourceNotAllocatable, "resource", unavailable.ResourceID)
	default:
		return NewReport(ReportResourceNotAvailable, "resource", unavailable.ResourceID,
			"until", unavailable.Limit.Format(time.RFC3339))
	}
}
