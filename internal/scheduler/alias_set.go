package scheduler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/example/reservation-scheduler/internal/booking"
)

// AliasSetReservationTask allocates a batch of aliases under one plain
// reservation. When the batch shares an executable, the first permanent room
// established by the batch receives the aliases of the later allocations.
type AliasSetReservationTask struct {
	Task
	requests []AliasRequest
	shared   bool
	group    bool
}

// NewAliasSetReservationTask returns a task allocating every request in slot.
func NewAliasSetReservationTask(sc *Context, slot booking.Slot, requests []AliasRequest, sharedExecutable bool) *AliasSetReservationTask {
	t := &AliasSetReservationTask{requests: requests, shared: sharedExecutable}
	t.init(sc, slot, t)
	return t
}

// AliasGroupReservationTask is an alias set whose aliases all come from one
// device and share its permanent room.
type AliasGroupReservationTask struct {
	AliasSetReservationTask
}

// NewAliasGroupReservationTask validates that every request is limited to
// providers of a single device.
func NewAliasGroupReservationTask(sc *Context, slot booking.Slot, requests []AliasRequest) (*AliasGroupReservationTask, error) {
	devices := make(map[string]struct{})
	for i, request := range requests {
		if len(request.Providers) == 0 {
			return nil, fmt.Errorf("%w: alias group entry %d names no provider", ErrInvalidRequest, i)
		}
		for _, provider := range request.Providers {
			devices[provider.ResourceID] = struct{}{}
		}
	}
	if len(devices) > 1 {
		ids := make([]string, 0, len(devices))
		for id := range devices {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return nil, fmt.Errorf("%w: alias group spans devices %s", ErrInvalidRequest, strings.Join(ids, ","))
	}
	t := &AliasGroupReservationTask{AliasSetReservationTask{requests: requests, shared: true, group: true}}
	t.init(sc, slot, &t.AliasSetReservationTask)
	return t, nil
}

func (t *AliasSetReservationTask) createMainReport() *Report {
	return NewReport(ReportAllocatingAliasSet,
		"count", strconv.Itoa(len(t.requests)), "group", strconv.FormatBool(t.group))
}

func (t *AliasSetReservationTask) allocateReservation(*booking.Reservation) (*booking.Reservation, error) {
	var endpoint *booking.RoomEndpoint
	for _, request := range t.requests {
		if t.shared {
			request.PermanentRoom = true
			if endpoint != nil {
				request.Endpoint = endpoint
				request.TargetResourceID = endpoint.DeviceResourceID()
			}
		}
		alias, err := t.addChildReservationOf(NewAliasReservationTask(t.sc, t.slot, request), booking.KindAlias)
		if err != nil {
			return nil, err
		}
		if t.shared && endpoint == nil && alias.Executable != nil && t.state().IsAllocated(alias) {
			endpoint = alias.Executable
		}
	}
	return booking.NewReservation(t.sc.newID(), t.slot), nil
}
