package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/reservation-scheduler/internal/booking"
	"github.com/example/reservation-scheduler/internal/persistence"
	"github.com/example/reservation-scheduler/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationFiles returns the embedded schema migrations.
func MigrationFiles() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Store persists reservation trees in SQLite.
type Store struct {
	pool   *ConnectionPool
	logger zerolog.Logger
}

var _ persistence.ReservationRepository = (*Store)(nil)

// Open opens the database described by config. Call Migrate before use.
func Open(config migration.SQLiteConfig, logger zerolog.Logger) (*Store, error) {
	pool, err := NewConnectionPool(config)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	return s.migrationManager().RunMigrations(ctx)
}

// MigrationStatus reports the schema version of the database.
func (s *Store) MigrationStatus(ctx context.Context) (*migration.Status, error) {
	return s.migrationManager().GetMigrationStatus(ctx)
}

func (s *Store) migrationManager() *migration.Manager {
	return migration.NewMigrationManager(
		migration.NewFileScanner(),
		migration.NewSQLiteExecutor(s.pool.DB()),
		MigrationFiles(),
		s.logger,
	)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SaveReservation replaces the stored tree rooted at top.
func (s *Store) SaveReservation(ctx context.Context, top *booking.Reservation) error {
	return s.ReplaceReservation(ctx, "", top)
}

// ReplaceReservation deletes the tree rooted at previousID and inserts top
// in a single transaction.
func (s *Store) ReplaceReservation(ctx context.Context, previousID string, top *booking.Reservation) error {
	err := s.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if previousID != "" && previousID != top.ID {
			if err := deleteTree(ctx, tx, previousID); err != nil {
				return err
			}
		}
		if err := deleteTree(ctx, tx, top.ID); err != nil {
			return err
		}
		w := &treeWriter{tx: tx, topID: top.ID, services: make(map[string]struct{})}
		return w.insert(ctx, top, "", 0)
	})
	if err != nil {
		return mapError(err)
	}
	s.logger.Debug().Str("reservation_id", top.ID).Str("replaced_id", previousID).Msg("reservation tree saved")
	return nil
}

// GetReservation loads the tree rooted at id.
func (s *Store) GetReservation(ctx context.Context, id string) (*booking.Reservation, error) {
	db := s.pool.DB()
	tops, err := selectIDs(ctx, db, `SELECT id FROM reservations WHERE id = ? AND parent_id IS NULL`, id)
	if err != nil {
		return nil, err
	}
	if len(tops) == 0 {
		return nil, persistence.ErrNotFound
	}
	forest, err := loadForest(ctx, db, tops)
	if err != nil {
		return nil, err
	}
	return forest.nodes[id], nil
}

// ListRequestReservations loads the trees allocated for requestID ordered by
// slot.
func (s *Store) ListRequestReservations(ctx context.Context, requestID string) ([]*booking.Reservation, error) {
	db := s.pool.DB()
	tops, err := selectIDs(ctx, db, `SELECT id FROM reservations WHERE request_id = ? AND parent_id IS NULL`, requestID)
	if err != nil {
		return nil, err
	}
	forest, err := loadForest(ctx, db, tops)
	if err != nil {
		return nil, err
	}
	out := make([]*booking.Reservation, 0, len(tops))
	for _, id := range tops {
		out = append(out, forest.nodes[id])
	}
	sortBySlot(out)
	return out, nil
}

// DeleteReservation removes the tree rooted at id.
func (s *Store) DeleteReservation(ctx context.Context, id string) error {
	return mapError(s.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		tops, err := selectIDs(ctx, tx, `SELECT id FROM reservations WHERE id = ? AND parent_id IS NULL`, id)
		if err != nil {
			return err
		}
		if len(tops) == 0 {
			return persistence.ErrNotFound
		}
		return deleteTree(ctx, tx, id)
	}))
}

// ListReservations returns the matching nodes of every tree that holds one.
func (s *Store) ListReservations(ctx context.Context, filter persistence.ReservationFilter) ([]*booking.Reservation, error) {
	db := s.pool.DB()
	tops, err := selectIDs(ctx, db, `
		SELECT DISTINCT top_id FROM reservations
		WHERE kind = ? AND target_id = ? AND slot_start < ? AND slot_end > ?`,
		string(filter.Kind), filter.TargetID, millis(filter.Slot.End), millis(filter.Slot.Start))
	if err != nil {
		return nil, err
	}
	forest, err := loadForest(ctx, db, tops)
	if err != nil {
		return nil, err
	}
	var out []*booking.Reservation
	for _, r := range forest.nodes {
		if r.Kind == filter.Kind && r.TargetID() == filter.TargetID && r.Slot.Overlaps(filter.Slot) {
			out = append(out, r)
		}
	}
	sortBySlot(out)
	return out, nil
}

// ListEndpointUsages returns room reservations whose endpoint reuses
// endpointID within slot.
func (s *Store) ListEndpointUsages(ctx context.Context, endpointID string, slot booking.Slot) ([]*booking.Reservation, error) {
	db := s.pool.DB()
	tops, err := selectIDs(ctx, db, `
		SELECT DISTINCT e.top_id FROM endpoints e
		JOIN reservations r ON r.id = e.reservation_id
		WHERE e.kind = ? AND e.reused_id = ? AND r.slot_start < ? AND r.slot_end > ?`,
		booking.EndpointUsed.String(), endpointID, millis(slot.End), millis(slot.Start))
	if err != nil {
		return nil, err
	}
	forest, err := loadForest(ctx, db, tops)
	if err != nil {
		return nil, err
	}
	var out []*booking.Reservation
	for _, r := range forest.nodes {
		e := r.Executable
		if r.Kind == booking.KindRoom && e != nil && e.Kind == booking.EndpointUsed && e.ReusedID == endpointID && r.Slot.Overlaps(slot) {
			out = append(out, r)
		}
	}
	sortBySlot(out)
	return out, nil
}

func deleteTree(ctx context.Context, tx *sql.Tx, topID string) error {
	for _, table := range []string{"services", "endpoints", "reservations"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE top_id = ?", topID); err != nil {
			return mapError(fmt.Errorf("delete %s of %s: %w", table, topID, err))
		}
	}
	return nil
}

type treeWriter struct {
	tx       *sql.Tx
	topID    string
	services map[string]struct{}
}

func (w *treeWriter) insert(ctx context.Context, r *booking.Reservation, parentID string, position int) error {
	var (
		value     string
		aliases   []booking.Alias
		serviceID string
	)
	switch r.Kind {
	case booking.KindAlias:
		value, aliases = r.Alias.Value, r.Alias.Aliases
	case booking.KindValue:
		value = r.Value.Value
	case booking.KindRecordingService:
		if r.Recording.Service != nil {
			serviceID = r.Recording.Service.ID
		}
	}
	aliasJSON, err := marshal(aliases)
	if err != nil {
		return err
	}

	var parent any
	if parentID != "" {
		parent = parentID
	}
	_, err = w.tx.ExecContext(ctx, `
		INSERT INTO reservations (id, parent_id, top_id, position, kind, slot_start, slot_end,
			request_id, priority, purpose, target_id, license_count, value, aliases, reused_id, service_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, parent, w.topID, position, string(r.Kind), millis(r.Slot.Start), millis(r.Slot.End),
		r.RequestID, r.Priority, string(r.Purpose), r.TargetID(), r.LicenseCount(), value, aliasJSON, r.ReusedID, serviceID)
	if err != nil {
		return mapError(fmt.Errorf("insert reservation %s: %w", r.ID, err))
	}

	if r.Executable != nil {
		if err := w.insertEndpoint(ctx, r.ID, r.Executable); err != nil {
			return err
		}
	}
	if r.Kind == booking.KindRecordingService && r.Recording.Service != nil {
		if err := w.insertService(ctx, r.Recording.Service); err != nil {
			return err
		}
	}
	for i, child := range r.Children() {
		if err := w.insert(ctx, child, r.ID, i); err != nil {
			return err
		}
	}
	return nil
}

func (w *treeWriter) insertEndpoint(ctx context.Context, reservationID string, e *booking.RoomEndpoint) error {
	var technologies []booking.Technology
	if !e.Configuration.IsZero() {
		technologies = e.Configuration.Technologies().Slice()
	}
	techJSON, err := marshal(technologies)
	if err != nil {
		return err
	}
	settingsJSON, err := marshal(e.Configuration.Settings())
	if err != nil {
		return err
	}
	aliasJSON, err := marshal(e.AssignedAliases())
	if err != nil {
		return err
	}
	roomID := ""
	if e.Kind == booking.EndpointResource {
		roomID = e.RoomID()
	}
	_, err = w.tx.ExecContext(ctx, `
		INSERT INTO endpoints (id, reservation_id, top_id, kind, resource_id, provider_id, room_id, reused_id,
			foreign_domain, foreign_request_id, technologies, license_count, settings, assigned_aliases, meeting_name, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, reservationID, w.topID, e.Kind.String(), e.ResourceID, e.ProviderID, roomID, e.ReusedID,
		e.ForeignDomain, e.ForeignRequestID, techJSON, e.Configuration.LicenseCount, settingsJSON, aliasJSON,
		e.MeetingName, string(e.State))
	if err != nil {
		return mapError(fmt.Errorf("insert endpoint %s: %w", e.ID, err))
	}
	for _, service := range e.Services() {
		if err := w.insertService(ctx, service); err != nil {
			return err
		}
	}
	return nil
}

func (w *treeWriter) insertService(ctx context.Context, service *booking.ExecutableService) error {
	if _, done := w.services[service.ID]; done {
		return nil
	}
	w.services[service.ID] = struct{}{}
	_, err := w.tx.ExecContext(ctx, `
		INSERT INTO services (id, endpoint_id, top_id, kind, state, capability_id, slot_start, slot_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		service.ID, service.EndpointID, w.topID, string(service.Kind), string(service.State),
		service.RecordingCapabilityID, millis(service.Slot.Start), millis(service.Slot.End))
	if err != nil {
		return mapError(fmt.Errorf("insert service %s: %w", service.ID, err))
	}
	return nil
}

// forest is a batch of loaded trees indexed by node identifier.
type forest struct {
	nodes     map[string]*booking.Reservation
	endpoints map[string]*booking.RoomEndpoint
}

type reservationRow struct {
	reservation *booking.Reservation
	parentID    string
	position    int
	serviceID   string
}

// loadForest loads the trees rooted at topIDs. Existing reservations are
// linked to the reservations they reuse, including those of other trees,
// which stay outside f.nodes.
func loadForest(ctx context.Context, q queryer, topIDs []string) (*forest, error) {
	f, err := loadTrees(ctx, q, topIDs)
	if err != nil {
		return nil, err
	}
	if err := f.resolveReusedReservations(ctx, q, topIDs); err != nil {
		return nil, err
	}
	return f, nil
}

func loadTrees(ctx context.Context, q queryer, topIDs []string) (*forest, error) {
	f := &forest{
		nodes:     make(map[string]*booking.Reservation),
		endpoints: make(map[string]*booking.RoomEndpoint),
	}
	if len(topIDs) == 0 {
		return f, nil
	}
	in, args := inClause(topIDs)

	rows, err := loadReservationRows(ctx, q, in, args)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		f.nodes[row.reservation.ID] = row.reservation
	}

	if err := f.loadEndpoints(ctx, q, `WHERE top_id IN (`+in+`)`, args); err != nil {
		return nil, err
	}
	if err := f.resolveReusedEndpoints(ctx, q); err != nil {
		return nil, err
	}
	services, err := loadServices(ctx, q, in, args)
	if err != nil {
		return nil, err
	}
	for _, service := range services {
		if endpoint, ok := f.endpoints[service.EndpointID]; ok {
			endpoint.AddService(service)
		}
	}
	servicesByID := make(map[string]*booking.ExecutableService, len(services))
	for _, service := range services {
		servicesByID[service.ID] = service
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].position < rows[j].position })
	for _, row := range rows {
		r := row.reservation
		if row.serviceID != "" && r.Recording != nil {
			r.Recording.Service = servicesByID[row.serviceID]
		}
		if row.parentID == "" {
			continue
		}
		parent, ok := f.nodes[row.parentID]
		if !ok {
			return nil, fmt.Errorf("sqlite: reservation %s references missing parent %s", r.ID, row.parentID)
		}
		if err := parent.AddChild(r); err != nil {
			return nil, fmt.Errorf("sqlite: rebuild tree: %w", err)
		}
	}
	return f, nil
}

// resolveReusedReservations sets Reused on every existing reservation,
// loading the trees of reused reservations until no link is left open.
func (f *forest) resolveReusedReservations(ctx context.Context, q queryer, topIDs []string) error {
	loaded := make(map[string]struct{}, len(topIDs))
	for _, id := range topIDs {
		loaded[id] = struct{}{}
	}
	known := maps.Clone(f.nodes)
	pending := slices.Collect(maps.Values(f.nodes))
	for len(pending) > 0 {
		var missing []string
		for _, r := range pending {
			if r.Kind != booking.KindExisting || r.ReusedID == "" {
				continue
			}
			if _, ok := known[r.ReusedID]; !ok {
				missing = append(missing, r.ReusedID)
			}
		}
		pending = nil
		if len(missing) == 0 {
			break
		}
		in, args := inClause(missing)
		tops, err := selectIDs(ctx, q, `SELECT DISTINCT top_id FROM reservations WHERE id IN (`+in+`)`, args...)
		if err != nil {
			return err
		}
		var fresh []string
		for _, id := range tops {
			if _, ok := loaded[id]; !ok {
				loaded[id] = struct{}{}
				fresh = append(fresh, id)
			}
		}
		if len(fresh) == 0 {
			break
		}
		other, err := loadTrees(ctx, q, fresh)
		if err != nil {
			return err
		}
		for id, r := range other.nodes {
			known[id] = r
			pending = append(pending, r)
		}
	}

	for _, r := range known {
		if r.Kind == booking.KindExisting && r.ReusedID != "" && r.Reused == nil {
			r.Reused = known[r.ReusedID]
		}
	}
	return nil
}

func loadReservationRows(ctx context.Context, q queryer, in string, args []any) ([]reservationRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, COALESCE(parent_id, ''), position, kind, slot_start, slot_end, request_id, priority, purpose,
			target_id, license_count, value, aliases, reused_id, service_id
		FROM reservations WHERE top_id IN (`+in+`)`, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []reservationRow
	for rows.Next() {
		var (
			row                      reservationRow
			id, kind, requestID      string
			purpose, targetID, value string
			aliasJSON, reusedID      string
			start, end               int64
			priority, licenseCount   int
		)
		if err := rows.Scan(&id, &row.parentID, &row.position, &kind, &start, &end, &requestID, &priority, &purpose,
			&targetID, &licenseCount, &value, &aliasJSON, &reusedID, &row.serviceID); err != nil {
			return nil, mapError(err)
		}
		slot, err := booking.NewSlot(fromMillis(start), fromMillis(end))
		if err != nil {
			return nil, fmt.Errorf("sqlite: reservation %s: %w", id, err)
		}
		r := &booking.Reservation{ID: id, Kind: booking.Kind(kind), Slot: slot, RequestID: requestID,
			Priority: priority, Purpose: booking.Purpose(purpose), ReusedID: reusedID}
		switch r.Kind {
		case booking.KindRoom:
			r.Room = &booking.RoomAllocation{ProviderID: targetID, LicenseCount: licenseCount}
		case booking.KindAlias:
			var aliases []booking.Alias
			if err := json.Unmarshal([]byte(aliasJSON), &aliases); err != nil {
				return nil, fmt.Errorf("sqlite: aliases of %s: %w", id, err)
			}
			r.Alias = &booking.AliasAllocation{ProviderID: targetID, Value: value, Aliases: aliases}
		case booking.KindValue:
			r.Value = &booking.ValueAllocation{ProviderID: targetID, Value: value}
		case booking.KindResource:
			r.Resource = &booking.ResourceAllocation{ResourceID: targetID}
		case booking.KindRecordingService:
			r.Recording = &booking.RecordingAllocation{CapabilityID: targetID}
		}
		row.reservation = r
		out = append(out, row)
	}
	return out, mapError(rows.Err())
}

func (f *forest) loadEndpoints(ctx context.Context, q queryer, where string, args []any) error {
	rows, err := q.QueryContext(ctx, `
		SELECT id, reservation_id, kind, resource_id, provider_id, room_id, reused_id, foreign_domain,
			foreign_request_id, technologies, license_count, settings, assigned_aliases, meeting_name, state
		FROM endpoints `+where, args...)
	if err != nil {
		return mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e                                  booking.RoomEndpoint
			reservationID, kind, roomID, state string
			techJSON, settingsJSON, aliasJSON  string
			licenseCount                       int
		)
		if err := rows.Scan(&e.ID, &reservationID, &kind, &e.ResourceID, &e.ProviderID, &roomID, &e.ReusedID,
			&e.ForeignDomain, &e.ForeignRequestID, &techJSON, &licenseCount, &settingsJSON, &aliasJSON,
			&e.MeetingName, &state); err != nil {
			return mapError(err)
		}
		endpoint, err := decodeEndpoint(e, kind, roomID, state, techJSON, settingsJSON, aliasJSON, licenseCount)
		if err != nil {
			return err
		}
		f.endpoints[endpoint.ID] = endpoint
		if r, ok := f.nodes[reservationID]; ok {
			endpoint.Slot = r.Slot
			r.Executable = endpoint
		}
	}
	return mapError(rows.Err())
}

func decodeEndpoint(e booking.RoomEndpoint, kind, roomID, state, techJSON, settingsJSON, aliasJSON string, licenseCount int) (*booking.RoomEndpoint, error) {
	switch kind {
	case booking.EndpointResource.String():
		e.Kind = booking.EndpointResource
	case booking.EndpointUsed.String():
		e.Kind = booking.EndpointUsed
	case booking.EndpointForeign.String():
		e.Kind = booking.EndpointForeign
	default:
		return nil, fmt.Errorf("sqlite: endpoint %s has unknown kind %q", e.ID, kind)
	}
	e.State = booking.ExecutableState(state)

	var (
		technologies []booking.Technology
		settings     []booking.RoomSetting
		aliases      []booking.Alias
	)
	columns := []struct {
		data   string
		target any
	}{
		{techJSON, &technologies},
		{settingsJSON, &settings},
		{aliasJSON, &aliases},
	}
	for _, column := range columns {
		if err := json.Unmarshal([]byte(column.data), column.target); err != nil {
			return nil, fmt.Errorf("sqlite: endpoint %s: %w", e.ID, err)
		}
	}
	if len(technologies) > 0 {
		cfg, err := booking.NewRoomConfiguration(booking.NewTechnologySet(technologies...), licenseCount, settings)
		if err != nil {
			return nil, fmt.Errorf("sqlite: endpoint %s: %w", e.ID, err)
		}
		e.Configuration = cfg
	}

	endpoint := &e
	if endpoint.Kind == booking.EndpointResource && roomID != "" {
		if err := endpoint.SetRoomID(roomID); err != nil {
			return nil, err
		}
	}
	for _, alias := range aliases {
		endpoint.AddAssignedAlias(alias)
	}
	return endpoint, nil
}

// resolveReusedEndpoints links used endpoints to the endpoints they reuse,
// loading reused endpoints that belong to other trees.
func (f *forest) resolveReusedEndpoints(ctx context.Context, q queryer) error {
	var missing []string
	for _, e := range f.endpoints {
		if e.Kind == booking.EndpointUsed && e.ReusedID != "" {
			if _, ok := f.endpoints[e.ReusedID]; !ok {
				missing = append(missing, e.ReusedID)
			}
		}
	}
	if len(missing) > 0 {
		in, args := inClause(missing)
		if err := f.loadEndpoints(ctx, q, `WHERE id IN (`+in+`)`, args); err != nil {
			return err
		}
	}
	for _, e := range f.endpoints {
		if e.Kind == booking.EndpointUsed && e.Reused == nil {
			e.Reused = f.endpoints[e.ReusedID]
		}
	}
	return nil
}

func loadServices(ctx context.Context, q queryer, in string, args []any) ([]*booking.ExecutableService, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, endpoint_id, kind, state, capability_id, slot_start, slot_end
		FROM services WHERE top_id IN (`+in+`)`, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*booking.ExecutableService
	for rows.Next() {
		var (
			service     booking.ExecutableService
			kind, state string
			start, end  int64
		)
		if err := rows.Scan(&service.ID, &service.EndpointID, &kind, &state, &service.RecordingCapabilityID, &start, &end); err != nil {
			return nil, mapError(err)
		}
		service.Kind = booking.ServiceKind(kind)
		service.State = booking.ServiceState(state)
		service.Slot = booking.Slot{Start: fromMillis(start), End: fromMillis(end)}
		out = append(out, &service)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, mapError(rows.Err())
}

func selectIDs(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapError(err)
		}
		ids = append(ids, id)
	}
	return ids, mapError(rows.Err())
}

func inClause(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode column: %w", err)
	}
	if string(data) == "null" {
		return "[]", nil
	}
	return string(data), nil
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func sortBySlot(reservations []*booking.Reservation) {
	sort.Slice(reservations, func(i, j int) bool {
		if !reservations[i].Slot.Start.Equal(reservations[j].Slot.Start) {
			return reservations[i].Slot.Start.Before(reservations[j].Slot.Start)
		}
		return reservations[i].ID < reservations[j].ID
	})
}
