package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/reservation-scheduler/internal/booking"
	"github.com/example/reservation-scheduler/internal/testfixtures"
)

func gatewayHarness(t *testing.T) *harness {
	h := newHarness(t)
	h.catalog.ValueProvider("numbers", "{number:100:101}")
	h.catalog.ValueProvider("names", "room-{number:1:99}")
	h.catalog.Device("gw", []booking.Technology{booking.TechnologyH323, booking.TechnologySIP},
		testfixtures.WithRoomProvider(10),
		testfixtures.WithAliasProvider("numbers", false, booking.AliasH323E164),
		testfixtures.WithAliasProvider("names", false, booking.AliasSIPURI),
		testfixtures.WithPermanentRooms())
	return h
}

var e164 = AliasSpecification{AliasTypes: []booking.AliasType{booking.AliasH323E164}}

func TestAliasAllocatesValue(t *testing.T) {
	h := gatewayHarness(t)
	slot := testfixtures.Hours(10, 12)

	first := h.mustAllocate(Request{ID: "req-1", Slot: slot, Specification: e164}).Reservation
	assert.Equal(t, booking.KindAlias, first.Kind)
	assert.Equal(t, "gw-alias-0", first.Alias.ProviderID)
	assert.Equal(t, []booking.Alias{{Type: booking.AliasH323E164, Value: "H323_E164:100"}}, first.Aliases())
	assert.Nil(t, first.Executable)
	values := childrenOfKind(first, booking.KindValue)
	require.Len(t, values, 1)
	assert.Equal(t, "100", values[0].Value.Value)

	second := h.mustAllocate(Request{ID: "req-2", Slot: slot, Specification: e164}).Reservation
	assert.Equal(t, "101", second.Alias.Value)

	_, err := h.allocate(Request{ID: "req-3", Slot: slot, Specification: e164})
	failure := requireFailure(t, err, ReportAliasNotAvailable)
	assert.NotNil(t, failure.Report.Find(ReportValueNotAvailable))
}

func TestAliasReusesAvailableAlias(t *testing.T) {
	h := gatewayHarness(t)
	slot := testfixtures.Hours(10, 12)
	reusable := h.mustAllocate(Request{ID: "req-1", Slot: slot, Specification: e164}).Reservation

	result := h.mustAllocate(Request{ID: "req-2", Slot: slot, Specification: e164, Reused: []*booking.Reservation{reusable}})
	assert.Equal(t, booking.KindExisting, result.Reservation.Kind)
	assert.Same(t, reusable, result.Reservation.Target())
	assert.Equal(t, reusable.Aliases(), result.Reservation.Aliases())
}

func TestAliasPrefersUnrestrictedProviders(t *testing.T) {
	h := newHarness(t)
	h.catalog.ValueProvider("numbers", "{number:100:199}")
	h.catalog.ValueProvider("directory", "{number:500:599}")
	h.catalog.Device("mcu", []booking.Technology{booking.TechnologyH323},
		testfixtures.WithRoomProvider(10),
		testfixtures.WithAliasProvider("numbers", true, booking.AliasH323E164))
	h.catalog.Device("dir", []booking.Technology{booking.TechnologyH323},
		testfixtures.WithAliasProvider("directory", false, booking.AliasH323E164))

	result := h.mustAllocate(Request{ID: "req-1", Slot: testfixtures.Hours(10, 12), Specification: e164})
	assert.Equal(t, "dir-alias-0", result.Reservation.Alias.ProviderID)
	assert.Equal(t, "500", result.Reservation.Alias.Value)
}

func TestAliasPermanentRoom(t *testing.T) {
	h := gatewayHarness(t)
	spec := e164
	spec.PermanentRoom = true

	alias := h.mustAllocate(Request{ID: "req-1", Slot: testfixtures.Hours(10, 12), Specification: spec}).Reservation
	endpoint := alias.Executable
	require.NotNil(t, endpoint)
	assert.Equal(t, "gw", endpoint.DeviceResourceID())
	assert.Equal(t, 0, endpoint.LicenseCount())
	assert.Equal(t, alias.Aliases(), endpoint.Aliases())
	assert.Equal(t, booking.StateNotStarted, endpoint.State)
}

func TestAliasUnknownProvider(t *testing.T) {
	h := gatewayHarness(t)
	spec := AliasSpecification{ProviderIDs: []string{"missing"}}

	_, err := h.allocate(Request{ID: "req-1", Slot: testfixtures.Hours(10, 12), Specification: spec})
	requireFailure(t, err, ReportResourceNotFound)
}

func TestAliasSetSharesPermanentRoom(t *testing.T) {
	h := gatewayHarness(t)
	sip := AliasSpecification{AliasTypes: []booking.AliasType{booking.AliasSIPURI}}
	spec := AliasSetSpecification{Aliases: []AliasSpecification{e164, sip}, SharedExecutable: true}

	result := h.mustAllocate(Request{ID: "req-1", Slot: testfixtures.Hours(10, 12), Specification: spec})
	top := result.Reservation
	assert.Equal(t, booking.KindPlain, top.Kind)
	aliases := childrenOfKind(top, booking.KindAlias)
	require.Len(t, aliases, 2)

	endpoint := aliases[0].Executable
	require.NotNil(t, endpoint)
	assert.Nil(t, aliases[1].Executable)
	assert.Equal(t, []booking.Alias{
		{Type: booking.AliasH323E164, Value: "H323_E164:100"},
		{Type: booking.AliasSIPURI, Value: "SIP_URI:room-1"},
	}, endpoint.Aliases())
}

func TestAliasSetWithoutSharing(t *testing.T) {
	h := gatewayHarness(t)
	sip := AliasSpecification{AliasTypes: []booking.AliasType{booking.AliasSIPURI}}
	spec := AliasSetSpecification{Aliases: []AliasSpecification{e164, sip}}

	result := h.mustAllocate(Request{ID: "req-1", Slot: testfixtures.Hours(10, 12), Specification: spec})
	for _, alias := range childrenOfKind(result.Reservation, booking.KindAlias) {
		assert.Nil(t, alias.Executable)
	}
}

func TestAliasGroup(t *testing.T) {
	h := gatewayHarness(t)
	h.catalog.ValueProvider("other", "{number:1:9}")
	h.catalog.Device("gw2", []booking.Technology{booking.TechnologyH323},
		testfixtures.WithAliasProvider("other", false, booking.AliasH323E164))
	slot := testfixtures.Hours(10, 12)

	group := AliasGroupSpecification{Aliases: []AliasSpecification{
		{ProviderIDs: []string{"gw-alias-0"}},
		{ProviderIDs: []string{"gw-alias-1"}},
	}}
	result := h.mustAllocate(Request{ID: "req-1", Slot: slot, Specification: group})
	aliases := childrenOfKind(result.Reservation, booking.KindAlias)
	require.Len(t, aliases, 2)
	require.NotNil(t, aliases[0].Executable)
	assert.Len(t, aliases[0].Executable.Aliases(), 2)

	spanning := AliasGroupSpecification{Aliases: []AliasSpecification{
		{ProviderIDs: []string{"gw-alias-0"}},
		{ProviderIDs: []string{"gw2-alias-0"}},
	}}
	_, err := h.allocate(Request{ID: "req-2", Slot: slot, Specification: spanning})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	unnamed := AliasGroupSpecification{Aliases: []AliasSpecification{e164}}
	_, err = h.allocate(Request{ID: "req-3", Slot: slot, Specification: unnamed})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
