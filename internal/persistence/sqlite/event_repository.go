package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/example/eventhub/internal/persistence"
	"github.com/example/eventhub/internal/query"
)

const eventColumns = `id, name, type, category, description, date_time_start, date_time_end, address,
	location_lon, location_lat, total_capacity, organizer_id, published, canceled, fee_policy, refund_policy,
	photo, version, created_at, updated_at`

const tierColumns = `event_id, id, name, description, price, online, capacity, limit_per_customer, canceled`

// EventRepository implements persistence.EventRepository using SQLite. Ticket
// tiers live in their own table and are always written with their event.
type EventRepository struct {
	pool *ConnectionPool
}

// NewEventRepository creates a new SQLite event repository.
func NewEventRepository(pool *ConnectionPool) *EventRepository {
	return &EventRepository{pool: pool}
}

// CreateEvent inserts the event and its tiers atomically.
func (r *EventRepository) CreateEvent(ctx context.Context, event persistence.Event) error {
	if event.ID == "" || event.OrganizerID == "" {
		return persistence.ErrConstraintViolation
	}
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		stmt := `INSERT INTO events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, stmt, eventArgs(event)...); err != nil {
			return mapError(err)
		}
		return insertTiers(ctx, tx, event.ID, event.TicketTiers)
	})
}

// SaveEvent replaces the event row and its tier list and increments the
// stored version.
func (r *EventRepository) SaveEvent(ctx context.Context, event persistence.Event) error {
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		stmt := `
			UPDATE events
			SET name = ?, type = ?, category = ?, description = ?, date_time_start = ?, date_time_end = ?,
				address = ?, location_lon = ?, location_lat = ?, total_capacity = ?, published = ?, canceled = ?,
				fee_policy = ?, refund_policy = ?, photo = ?, version = version + 1, updated_at = ?
			WHERE id = ?`
		lon, lat := locationArgs(event.Location)
		result, err := tx.ExecContext(ctx, stmt,
			event.Name, event.Type, event.Category, event.Description,
			formatTime(event.DateTimeStart), formatTime(event.DateTimeEnd),
			event.Address, lon, lat, event.TotalCapacity, event.Published, event.Canceled,
			event.FeePolicy, event.RefundPolicy, event.Photo, formatTime(event.UpdatedAt),
			event.ID,
		)
		if err != nil {
			return mapError(err)
		}
		if err := expectAffected(result); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM ticket_tiers WHERE event_id = ?`, event.ID); err != nil {
			return mapError(err)
		}
		return insertTiers(ctx, tx, event.ID, event.TicketTiers)
	})
}

// GetEvent retrieves an event with its tiers.
func (r *EventRepository) GetEvent(ctx context.Context, id string) (persistence.Event, error) {
	if id == "" {
		return persistence.Event{}, persistence.ErrNotFound
	}
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	event, err := scanEvent(row)
	if err != nil {
		return persistence.Event{}, err
	}

	tiers, err := loadTiers(ctx, r.pool.DB(), []string{id})
	if err != nil {
		return persistence.Event{}, err
	}
	event.TicketTiers = tiers[id]
	return event, nil
}

// FindEvents returns the events matching q and the total match count.
func (r *EventRepository) FindEvents(ctx context.Context, q query.Query) ([]persistence.Event, int, error) {
	c, err := eventsCollection.compile(q)
	if err != nil {
		return nil, 0, err
	}

	stmt, args := c.selectSQL("events", eventColumns)
	rows, err := r.pool.DB().QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	events := make([]persistence.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, 0, mapError(err)
	}
	rows.Close()

	ids := make([]string, len(events))
	for i, event := range events {
		ids[i] = event.ID
	}
	tiers, err := loadTiers(ctx, r.pool.DB(), ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range events {
		events[i].TicketTiers = tiers[events[i].ID]
	}

	total, err := countRows(ctx, r.pool.DB(), c, "events", len(events))
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func insertTiers(ctx context.Context, tx *sql.Tx, eventID string, tiers []persistence.TicketTier) error {
	stmt := `INSERT INTO ticket_tiers (` + tierColumns + `, position) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for i, tier := range tiers {
		if _, err := tx.ExecContext(ctx, stmt,
			eventID, tier.ID, tier.Name, tier.Description, tier.Price, tier.Online,
			tier.Capacity, tier.LimitPerCustomer, tier.Canceled, i,
		); err != nil {
			return mapError(err)
		}
	}
	return nil
}

// loadTiers fetches the ordered tier lists of the given events in one query.
func loadTiers(ctx context.Context, q queryer, eventIDs []string) (map[string][]persistence.TicketTier, error) {
	out := make(map[string][]persistence.TicketTier, len(eventIDs))
	if len(eventIDs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(eventIDs)), ", ")
	args := make([]any, len(eventIDs))
	for i, id := range eventIDs {
		args[i] = id
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+tierColumns+` FROM ticket_tiers WHERE event_id IN (`+placeholders+`) ORDER BY event_id, position`,
		args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			eventID string
			tier    persistence.TicketTier
		)
		if err := rows.Scan(&eventID, &tier.ID, &tier.Name, &tier.Description, &tier.Price, &tier.Online,
			&tier.Capacity, &tier.LimitPerCustomer, &tier.Canceled); err != nil {
			return nil, mapError(err)
		}
		out[eventID] = append(out[eventID], tier)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func scanEvent(row rowScanner) (persistence.Event, error) {
	var (
		event                persistence.Event
		start, end           string
		lon, lat             sql.NullFloat64
		createdAt, updatedAt string
	)
	err := row.Scan(
		&event.ID, &event.Name, &event.Type, &event.Category, &event.Description, &start, &end, &event.Address,
		&lon, &lat, &event.TotalCapacity, &event.OrganizerID, &event.Published, &event.Canceled,
		&event.FeePolicy, &event.RefundPolicy, &event.Photo, &event.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return persistence.Event{}, mapError(err)
	}

	if lon.Valid && lat.Valid {
		event.Location = &persistence.GeoPoint{Lon: lon.Float64, Lat: lat.Float64}
	}
	if event.DateTimeStart, err = parseTime(start); err != nil {
		return persistence.Event{}, err
	}
	if event.DateTimeEnd, err = parseTime(end); err != nil {
		return persistence.Event{}, err
	}
	if event.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Event{}, err
	}
	if event.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Event{}, err
	}
	return event, nil
}

// eventArgs returns the column values in eventColumns order.
func eventArgs(event persistence.Event) []any {
	lon, lat := locationArgs(event.Location)
	return []any{
		event.ID,
		event.Name,
		event.Type,
		event.Category,
		event.Description,
		formatTime(event.DateTimeStart),
		formatTime(event.DateTimeEnd),
		event.Address,
		lon,
		lat,
		event.TotalCapacity,
		event.OrganizerID,
		event.Published,
		event.Canceled,
		event.FeePolicy,
		event.RefundPolicy,
		event.Photo,
		event.Version,
		formatTime(event.CreatedAt),
		formatTime(event.UpdatedAt),
	}
}

func locationArgs(point *persistence.GeoPoint) (sql.NullFloat64, sql.NullFloat64) {
	if point == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: point.Lon, Valid: true}, sql.NullFloat64{Float64: point.Lat, Valid: true}
}
