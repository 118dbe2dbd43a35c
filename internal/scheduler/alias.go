package scheduler

import (
	"slices"
	"strings"

	"github.com/example/reservation-scheduler/internal/booking"
)

// AliasRequest is an alias specification resolved against the catalog.
type AliasRequest struct {
	Technologies booking.TechnologySet
	AliasTypes   []booking.AliasType
	Value        string
	// Providers limits the candidates. Empty means every cached provider.
	Providers []*booking.AliasProviderCapability
	// TargetResourceID is the device of the room the aliases are meant for.
	TargetResourceID string
	// Endpoint receives the compatible aliases once allocated.
	Endpoint *booking.RoomEndpoint
	// PermanentRoom lets a permanent room provider establish its room when
	// no Endpoint is given.
	PermanentRoom bool
}

// AliasReservationTask allocates aliases from one alias provider backed by a
// value reservation.
type AliasReservationTask struct {
	Task
	request AliasRequest
}

// NewAliasReservationTask returns a task allocating aliases for request.
func NewAliasReservationTask(sc *Context, slot booking.Slot, request AliasRequest) *AliasReservationTask {
	t := &AliasReservationTask{request: request}
	t.init(sc, slot, t)
	return t
}

func (t *AliasReservationTask) createMainReport() *Report {
	types := make([]string, 0, len(t.request.AliasTypes))
	for _, aliasType := range t.request.AliasTypes {
		types = append(types, string(aliasType))
	}
	return NewReport(ReportAllocatingAlias,
		"technologies", t.request.Technologies.String(),
		"types", strings.Join(types, ","),
		"value", t.request.Value,
		"target", t.request.TargetResourceID)
}

type aliasCandidate struct {
	provider  *booking.AliasProviderCapability
	available []*booking.AvailableReservation
}

func (t *AliasReservationTask) allocateReservation(*booking.Reservation) (*booking.Reservation, error) {
	candidates := t.candidates()
	if len(candidates) == 0 {
		return nil, fail(ReportResourceNotFound,
			"technologies", t.request.Technologies.String(), "target", t.request.TargetResourceID)
	}
	if t.request.TargetResourceID == "" {
		slices.SortStableFunc(candidates, func(a, b *aliasCandidate) int {
			return boolRank(a.provider.RestrictedToResource) - boolRank(b.provider.RestrictedToResource)
		})
	}
	t.addReport(NewReport(ReportSortingResources))

	for _, candidate := range candidates {
		provider := candidate.provider
		t.beginReport(NewReport(ReportAllocatingResource, "resource", provider.ResourceID, "provider", provider.ID))
		for _, available := range candidate.available {
			if available.Type != booking.Reusable || !available.Original.Slot.Contains(t.slot) {
				continue
			}
			if t.request.Value != "" && available.Target().Alias.Value != t.request.Value {
				continue
			}
			reservation, err := t.reuse(available)
			if err != nil {
				return nil, err
			}
			t.assign(reservation)
			t.endReport()
			return reservation, nil
		}
		if report := t.sc.checkResource(provider.ResourceID, t.slot, false); report != nil {
			t.endReportError(report)
			continue
		}

		reservation, err := t.attempt(func() (*booking.Reservation, error) {
			return t.allocateFrom(provider)
		})
		t.endReport()
		if err == nil {
			t.assign(reservation)
			return reservation, nil
		}
		if _, ok := AsSchedulerError(err); !ok {
			return nil, err
		}
	}
	return nil, fail(ReportAliasNotAvailable,
		"technologies", t.request.Technologies.String(), "target", t.request.TargetResourceID)
}

// candidates filters the providers able to serve the request and collects
// their available alias reservations.
func (t *AliasReservationTask) candidates() []*aliasCandidate {
	providers := t.request.Providers
	if len(providers) == 0 {
		providers = t.sc.cache.AliasProviders()
	}
	target := t.request.TargetResourceID

	t.beginReport(NewReport(ReportFindingAvailableResource))
	defer t.endReport()
	var candidates []*aliasCandidate
	for _, provider := range providers {
		if provider.RestrictedToResource && target != "" && provider.ResourceID != target {
			continue
		}
		if !provider.ProvidesTechnologies(t.request.Technologies) {
			continue
		}
		if !provider.ProvidesAliasTypes(t.request.AliasTypes) {
			continue
		}
		available := t.state().AvailableReservations(booking.KindAlias, provider.ID, t.slot)
		sortAvailableReservations(t.slot, available)
		candidates = append(candidates, &aliasCandidate{provider: provider, available: available})
		t.addReport(NewReport(ReportResource, "resource", provider.ResourceID, "provider", provider.ID))
	}
	return candidates
}

func (t *AliasReservationTask) allocateFrom(provider *booking.AliasProviderCapability) (*booking.Reservation, error) {
	valueProvider, ok := t.sc.cache.ValueProvider(provider.ValueProviderID)
	if !ok {
		return nil, invariantf("alias provider %s references unknown value provider %s", provider.ID, provider.ValueProviderID)
	}
	value, err := t.addChildReservationOf(NewValueReservationTask(t.sc, t.slot, valueProvider, t.request.Value), booking.KindValue)
	if err != nil {
		return nil, err
	}
	reservation := booking.NewAliasReservation(t.sc.newID(), t.slot, provider, value.Value.Value)

	if provider.PermanentRoom && t.request.PermanentRoom && t.request.Endpoint == nil && t.sc.ExecutableAllowed {
		endpoint, err := t.permanentRoom(provider, reservation)
		if err != nil {
			return nil, err
		}
		reservation.Executable = endpoint
	}
	return reservation, nil
}

// permanentRoom establishes a room without licenses on the provider device
// reachable by the allocated aliases.
func (t *AliasReservationTask) permanentRoom(provider *booking.AliasProviderCapability, reservation *booking.Reservation) (*booking.RoomEndpoint, error) {
	device, ok := t.sc.cache.Resource(provider.ResourceID)
	if !ok || device.RoomProvider == nil {
		return nil, fail(ReportResourceNotFound, "resource", provider.ResourceID)
	}
	technologies := device.Technologies
	if technologies.IsEmpty() {
		technologies = provider.Technologies()
	}
	cfg, err := booking.NewRoomConfiguration(technologies, 0, nil)
	if err != nil {
		return nil, invariantWrap(err, "permanent room of %s", provider.ID)
	}
	endpoint := booking.NewResourceRoomEndpoint(t.sc.newID(), device.RoomProvider, cfg)
	endpoint.Slot = t.slot
	endpoint.RoomDescription = t.sc.Description
	endpoint.State = booking.StateNotStarted
	for _, alias := range reservation.Aliases() {
		endpoint.AddAssignedAlias(alias)
	}
	t.addReport(NewReport(ReportAllocatingExecutable, "resource", device.ID))
	return endpoint, nil
}

// assign hands the allocated aliases to the requesting room.
func (t *AliasReservationTask) assign(reservation *booking.Reservation) {
	endpoint := t.request.Endpoint
	if endpoint == nil {
		return
	}
	technologies := endpoint.Technologies()
	for _, alias := range reservation.Aliases() {
		if alias.Type.CompatibleWith(technologies) {
			endpoint.AddAssignedAlias(alias)
		}
	}
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}
