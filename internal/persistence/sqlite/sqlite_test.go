package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/reservation-scheduler/internal/booking"
	"github.com/example/reservation-scheduler/internal/persistence"
	"github.com/example/reservation-scheduler/internal/persistence/sqlite/migration"
)

var base = time.Date(2024, time.June, 3, 8, 0, 0, 0, time.UTC)

func hours(from, to int) booking.Slot {
	return booking.MustSlot(base.Add(time.Duration(from)*time.Hour), base.Add(time.Duration(to)*time.Hour))
}

func setupStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(migration.DefaultSQLiteConfig(filepath.Join(t.TempDir(), "reservations.db")), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// roomTree builds a room reservation with an endpoint, an alias child and a
// recording service.
func roomTree(t *testing.T) *booking.Reservation {
	t.Helper()
	cfg, err := booking.NewRoomConfiguration(booking.NewTechnologySet(booking.TechnologyH323, booking.TechnologySIP), 5,
		[]booking.RoomSetting{{Technology: booking.TechnologyH323, PIN: "1234"}})
	require.NoError(t, err)

	provider := &booking.RoomProviderCapability{ID: "mcu-room", ResourceID: "mcu"}
	aliasProvider := &booking.AliasProviderCapability{ID: "mcu-alias", Aliases: []booking.AliasTemplate{{Type: booking.AliasH323E164, Pattern: "420{value}"}}}

	room := booking.NewRoomReservation("room-1", hours(0, 2), provider.ID, 5)
	room.RequestID = "request-1"
	room.Priority = 2
	room.Purpose = booking.PurposeScience
	room.Executable = booking.NewResourceRoomEndpoint("endpoint-1", provider, cfg)
	require.NoError(t, room.Executable.SetRoomID("device-7"))

	alias := booking.NewAliasReservation("alias-1", hours(0, 2), aliasProvider, "5001")
	require.NoError(t, alias.AddChild(booking.NewValueReservation("value-1", hours(0, 2), "numbers", "5001")))
	require.NoError(t, room.AddChild(alias))
	room.Executable.AddAssignedAlias(alias.Aliases()[0])

	service := &booking.ExecutableService{ID: "service-1", Kind: booking.ServiceRecording, State: booking.ServicePrepared,
		Slot: hours(0, 2), RecordingCapabilityID: "rec"}
	room.Executable.AddService(service)
	require.NoError(t, room.AddChild(booking.NewRecordingServiceReservation("recording-1", hours(0, 2), "rec", service)))
	return room
}

func TestStoreRoundTripsTree(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	require.NoError(t, store.SaveReservation(ctx, roomTree(t)))

	loaded, err := store.GetReservation(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, booking.KindRoom, loaded.Kind)
	assert.Equal(t, 5, loaded.LicenseCount())
	assert.Equal(t, 2, loaded.Priority)
	assert.Equal(t, booking.PurposeScience, loaded.Purpose)
	assert.True(t, loaded.Slot.Start.Equal(base))

	children := loaded.Children()
	require.Len(t, children, 2)
	assert.Equal(t, "alias-1", children[0].ID)
	assert.Equal(t, []booking.Alias{{Type: booking.AliasH323E164, Value: "4205001"}}, children[0].Aliases())
	require.Len(t, children[0].Children(), 1)
	assert.Equal(t, "5001", children[0].Children()[0].Value.Value)

	endpoint := loaded.Executable
	require.NotNil(t, endpoint)
	assert.Equal(t, "device-7", endpoint.RoomID())
	assert.Equal(t, "mcu", endpoint.DeviceResourceID())
	assert.True(t, endpoint.Technologies().Equal(booking.NewTechnologySet(booking.TechnologyH323, booking.TechnologySIP)))
	assert.Equal(t, "1234", endpoint.Configuration.Settings()[0].PIN)
	require.Len(t, endpoint.Services(), 1)
	assert.Same(t, endpoint.Services()[0], children[1].Recording.Service)
	assert.Equal(t, booking.ServicePrepared, children[1].Recording.Service.State)
}

func TestStoreLookups(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	room := roomTree(t)
	require.NoError(t, store.SaveReservation(ctx, room))

	cfg, err := booking.NewRoomConfiguration(booking.NewTechnologySet(booking.TechnologyH323), 2, nil)
	require.NoError(t, err)
	topUp := booking.NewRoomReservation("room-2", hours(1, 2), "mcu-room", 2)
	topUp.Executable = booking.NewUsedRoomEndpoint("endpoint-2", room.Executable, cfg)
	existing := booking.NewExistingReservation("existing-1", hours(1, 2), room)
	require.NoError(t, topUp.AddChild(existing))
	require.NoError(t, store.SaveReservation(ctx, topUp))

	rooms, err := store.ListReservations(ctx, persistence.ReservationFilter{Kind: booking.KindRoom, TargetID: "mcu-room", Slot: hours(1, 4)})
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, []string{"room-1", "room-2"}, []string{rooms[0].ID, rooms[1].ID})

	values, err := store.ListReservations(ctx, persistence.ReservationFilter{Kind: booking.KindValue, TargetID: "numbers", Slot: hours(1, 2)})
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "room-1", values[0].Top().ID, "lookups keep tree links")

	none, err := store.ListReservations(ctx, persistence.ReservationFilter{Kind: booking.KindRoom, TargetID: "mcu-room", Slot: hours(2, 3)})
	require.NoError(t, err)
	assert.Empty(t, none)

	usages, err := store.ListEndpointUsages(ctx, "endpoint-1", hours(0, 4))
	require.NoError(t, err)
	require.Len(t, usages, 1)
	used := usages[0].Executable
	assert.Equal(t, "mcu", used.DeviceResourceID(), "reused endpoint resolved across trees")
	assert.Equal(t, 7, used.LicenseCount())
	assert.Equal(t, "existing-1", usages[0].Children()[0].ID)
	assert.Equal(t, "room-1", usages[0].Children()[0].ReusedID)
}

func TestStoreReplaceConflictAndDelete(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	room := roomTree(t)
	require.NoError(t, store.SaveReservation(ctx, room))
	require.NoError(t, store.SaveReservation(ctx, room), "saving again replaces the tree")

	thief := booking.NewReservation("other", hours(0, 1))
	require.NoError(t, thief.AddChild(booking.NewValueReservation("value-1", hours(0, 1), "numbers", "1")))
	assert.ErrorIs(t, store.SaveReservation(ctx, thief), persistence.ErrConflict)

	byRequest, err := store.ListRequestReservations(ctx, "request-1")
	require.NoError(t, err)
	require.Len(t, byRequest, 1)

	require.NoError(t, store.DeleteReservation(ctx, "room-1"))
	_, err = store.GetReservation(ctx, "room-1")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	assert.ErrorIs(t, store.DeleteReservation(ctx, "room-1"), persistence.ErrNotFound)

	status, err := store.MigrationStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "001", status.CurrentVersion)
}

func TestStoreLinksReusedReservationsAcrossTrees(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	room := roomTree(t)
	require.NoError(t, store.SaveReservation(ctx, room))

	cfg, err := booking.NewRoomConfiguration(booking.NewTechnologySet(booking.TechnologyH323), 2, nil)
	require.NoError(t, err)
	topUp := booking.NewRoomReservation("room-2", hours(1, 2), "mcu-room", 2)
	topUp.RequestID = "request-2"
	topUp.Executable = booking.NewUsedRoomEndpoint("endpoint-2", room.Executable, cfg)
	require.NoError(t, topUp.AddChild(booking.NewExistingReservation("existing-room", hours(1, 2), room)))
	require.NoError(t, topUp.AddChild(booking.NewExistingReservation("existing-alias", hours(1, 2), room.Children()[0])))
	require.NoError(t, store.SaveReservation(ctx, topUp))

	loaded, err := store.GetReservation(ctx, "room-2")
	require.NoError(t, err)
	children := loaded.Children()
	require.Len(t, children, 2)

	reusedRoom := children[0].Target()
	assert.Equal(t, "room-1", reusedRoom.ID)
	assert.Equal(t, 5, reusedRoom.LicenseCount())
	assert.Equal(t, "request-1", reusedRoom.Top().RequestID)
	assert.Equal(t, "alias-1", children[1].Target().ID)
	assert.Equal(t, []booking.Alias{{Type: booking.AliasH323E164, Value: "4205001"}}, children[1].Aliases())
	assert.Equal(t, 7, loaded.Executable.LicenseCount())

	values, err := store.ListReservations(ctx, persistence.ReservationFilter{Kind: booking.KindValue, TargetID: "numbers", Slot: hours(1, 2)})
	require.NoError(t, err)
	require.Len(t, values, 1, "reused trees are linked, not listed")
	assert.Equal(t, "value-1", values[0].ID)
}

func TestStoreReplaceReservationIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	require.NoError(t, store.SaveReservation(ctx, roomTree(t)))
	third := booking.NewReservation("third", hours(0, 1))
	require.NoError(t, third.AddChild(booking.NewValueReservation("third-value", hours(0, 1), "numbers", "2")))
	require.NoError(t, store.SaveReservation(ctx, third))

	clash := booking.NewRoomReservation("room-9", hours(0, 2), "mcu-room", 6)
	clash.RequestID = "request-1"
	require.NoError(t, clash.AddChild(booking.NewValueReservation("third-value", hours(0, 2), "numbers", "3")))
	assert.ErrorIs(t, store.ReplaceReservation(ctx, "room-1", clash), persistence.ErrConflict)

	kept, err := store.GetReservation(ctx, "room-1")
	require.NoError(t, err, "a failed replacement rolls back the delete")
	assert.Len(t, kept.Children(), 2)
	assert.NotNil(t, kept.Executable)

	replacement := booking.NewRoomReservation("room-9", hours(0, 2), "mcu-room", 6)
	replacement.RequestID = "request-1"
	require.NoError(t, replacement.AddChild(booking.NewValueReservation("value-1", hours(0, 2), "numbers", "5001")))
	require.NoError(t, store.ReplaceReservation(ctx, "room-1", replacement))

	byRequest, err := store.ListRequestReservations(ctx, "request-1")
	require.NoError(t, err)
	require.Len(t, byRequest, 1)
	assert.Equal(t, "room-9", byRequest[0].ID)
	assert.Equal(t, 6, byRequest[0].LicenseCount())
}
