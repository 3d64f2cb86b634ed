package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/example/eventhub/internal/persistence"
	"github.com/example/eventhub/internal/query"
)

const bookingColumns = `id, order_id, name, email, user_id, event_id, ticket_id, price, paid, active,
	refund_request_id, refund_created_at, refund_resolved, refund_status, refund_reason, refund_processed, created_at`

// BookingRepository implements persistence.BookingRepository using SQLite.
type BookingRepository struct {
	pool *ConnectionPool
}

// NewBookingRepository creates a new SQLite booking repository.
func NewBookingRepository(pool *ConnectionPool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

// CreateBookings inserts a batch of bookings in one transaction.
func (r *BookingRepository) CreateBookings(ctx context.Context, bookings []persistence.Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		stmt := `INSERT INTO bookings (` + bookingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		for _, booking := range bookings {
			if booking.ID == "" {
				return persistence.ErrConstraintViolation
			}
			if _, err := tx.ExecContext(ctx, stmt, bookingArgs(booking)...); err != nil {
				return mapError(err)
			}
		}
		return nil
	})
}

// SaveBooking overwrites the mutable state of one booking.
func (r *BookingRepository) SaveBooking(ctx context.Context, booking persistence.Booking) error {
	stmt := `
		UPDATE bookings
		SET order_id = ?, name = ?, email = ?, user_id = ?, event_id = ?, ticket_id = ?, price = ?, paid = ?,
			active = ?, refund_request_id = ?, refund_created_at = ?, refund_resolved = ?, refund_status = ?,
			refund_reason = ?, refund_processed = ?
		WHERE id = ?`
	args := bookingArgs(booking)
	// Drop id (first) and created_at (last) and bind the id to the WHERE clause.
	updateArgs := append(append([]any{}, args[1:len(args)-1]...), booking.ID)
	result, err := r.pool.DB().ExecContext(ctx, stmt, updateArgs...)
	if err != nil {
		return mapError(err)
	}
	return expectAffected(result)
}

// GetBooking retrieves a booking by id.
func (r *BookingRepository) GetBooking(ctx context.Context, id string) (persistence.Booking, error) {
	if id == "" {
		return persistence.Booking{}, persistence.ErrNotFound
	}
	row := r.pool.DB().QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	return scanBooking(row)
}

// DeleteBooking removes a booking permanently.
func (r *BookingRepository) DeleteBooking(ctx context.Context, id string) error {
	result, err := r.pool.DB().ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return mapError(err)
	}
	return expectAffected(result)
}

// ListBookings returns bookings matching filter, oldest first.
func (r *BookingRepository) ListBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error) {
	where, args := bookingFilterSQL(filter)
	stmt := `SELECT ` + bookingColumns + ` FROM bookings` + where + ` ORDER BY created_at ASC, id ASC`
	return r.queryBookings(ctx, stmt, args...)
}

// FindBookings returns bookings matching q and the total match count.
func (r *BookingRepository) FindBookings(ctx context.Context, q query.Query) ([]persistence.Booking, int, error) {
	c, err := bookingsCollection.compile(q)
	if err != nil {
		return nil, 0, err
	}
	stmt, args := c.selectSQL("bookings", bookingColumns)
	bookings, err := r.queryBookings(ctx, stmt, args...)
	if err != nil {
		return nil, 0, err
	}
	total, err := countRows(ctx, r.pool.DB(), c, "bookings", len(bookings))
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

// AggregateByTicket counts active bookings and sums their captured prices per
// ticket tier of one event.
func (r *BookingRepository) AggregateByTicket(ctx context.Context, eventID string) ([]persistence.TicketAggregate, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT ticket_id, COUNT(*), COALESCE(SUM(price), 0)
		FROM bookings
		WHERE event_id = ? AND active = 1
		GROUP BY ticket_id
		ORDER BY ticket_id`, eventID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	aggregates := make([]persistence.TicketAggregate, 0)
	for rows.Next() {
		var agg persistence.TicketAggregate
		if err := rows.Scan(&agg.TicketID, &agg.Count, &agg.Revenue); err != nil {
			return nil, mapError(err)
		}
		aggregates = append(aggregates, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return aggregates, nil
}

// CountActiveByEventForUser groups a user's active bookings by event.
func (r *BookingRepository) CountActiveByEventForUser(ctx context.Context, userID string) ([]persistence.EventBookingCount, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT event_id, COUNT(*)
		FROM bookings
		WHERE user_id = ? AND active = 1
		GROUP BY event_id
		ORDER BY MIN(created_at) ASC`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	counts := make([]persistence.EventBookingCount, 0)
	for rows.Next() {
		var c persistence.EventBookingCount
		if err := rows.Scan(&c.EventID, &c.Count); err != nil {
			return nil, mapError(err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return counts, nil
}

func (r *BookingRepository) queryBookings(ctx context.Context, stmt string, args ...any) ([]persistence.Booking, error) {
	rows, err := r.pool.DB().QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	bookings := make([]persistence.Booking, 0)
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return bookings, nil
}

func bookingFilterSQL(filter persistence.BookingFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	eq := func(column, value string) {
		if value != "" {
			clauses = append(clauses, column+" = ?")
			args = append(args, value)
		}
	}
	eq("event_id", filter.EventID)
	eq("ticket_id", filter.TicketID)
	eq("user_id", filter.UserID)
	eq("order_id", filter.OrderID)
	eq("refund_request_id", filter.RefundRequestID)

	if len(filter.IDs) > 0 {
		clauses = append(clauses, "id IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(filter.IDs)), ", ")+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if filter.Active != nil {
		clauses = append(clauses, "active = ?")
		args = append(args, boolToInt(*filter.Active))
	}
	if filter.HasRefundRequest != nil {
		if *filter.HasRefundRequest {
			clauses = append(clauses, "refund_request_id IS NOT NULL")
		} else {
			clauses = append(clauses, "refund_request_id IS NULL")
		}
	}
	if filter.RefundResolved != nil {
		clauses = append(clauses, "refund_resolved = ?")
		args = append(args, boolToInt(*filter.RefundResolved))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanBooking(row rowScanner) (persistence.Booking, error) {
	var (
		booking                 persistence.Booking
		userID, requestID       sql.NullString
		refundCreatedAt, status sql.NullString
		resolved, processed     bool
		reason, createdAt       string
	)
	err := row.Scan(
		&booking.ID, &booking.OrderID, &booking.Name, &booking.Email, &userID, &booking.EventID, &booking.TicketID,
		&booking.Price, &booking.Paid, &booking.Active, &requestID, &refundCreatedAt, &resolved, &status,
		&reason, &processed, &createdAt,
	)
	if err != nil {
		return persistence.Booking{}, mapError(err)
	}

	booking.UserID = userID.String
	if booking.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Booking{}, err
	}
	if requestID.Valid {
		requestedAt, err := parseNullTime(refundCreatedAt)
		if err != nil {
			return persistence.Booking{}, err
		}
		booking.RefundRequest = &persistence.RefundRequest{
			RequestID:       requestID.String,
			Resolved:        resolved,
			Status:          persistence.RefundStatus(status.String),
			Reason:          reason,
			RefundProcessed: processed,
		}
		if requestedAt != nil {
			booking.RefundRequest.CreatedAt = *requestedAt
		}
	}
	return booking, nil
}

// bookingArgs returns the column values in bookingColumns order.
func bookingArgs(booking persistence.Booking) []any {
	var (
		requestID, requestedAt, status sql.NullString
		reason                         string
		resolved, processed            bool
	)
	if rr := booking.RefundRequest; rr != nil {
		requestID = nullString(rr.RequestID)
		requestedAt = formatNullTime(&rr.CreatedAt)
		status = nullString(string(rr.Status))
		reason = rr.Reason
		resolved = rr.Resolved
		processed = rr.RefundProcessed
	}
	return []any{
		booking.ID,
		booking.OrderID,
		booking.Name,
		booking.Email,
		nullString(booking.UserID),
		booking.EventID,
		booking.TicketID,
		booking.Price,
		booking.Paid,
		booking.Active,
		requestID,
		requestedAt,
		resolved,
		status,
		reason,
		processed,
		formatTime(booking.CreatedAt),
	}
}
