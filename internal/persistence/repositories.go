package persistence

import (
	"context"

	"github.com/example/eventhub/internal/query"
)

// UserRepository exposes CRUD operations for users.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	UpdateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByResetToken(ctx context.Context, tokenHash string) (User, error)
	FindUsers(ctx context.Context, q query.Query) ([]User, int, error)
	DeleteUser(ctx context.Context, id string) error
}

// EventRepository stores events together with their ticket tiers.
type EventRepository interface {
	CreateEvent(ctx context.Context, event Event) error
	// SaveEvent replaces the stored row and tier list in one transaction and
	// bumps the version counter.
	SaveEvent(ctx context.Context, event Event) error
	GetEvent(ctx context.Context, id string) (Event, error)
	// FindEvents returns the matching page and the total match count.
	FindEvents(ctx context.Context, q query.Query) ([]Event, int, error)
}

// BookingFilter narrows booking lookups. Zero values do not constrain.
type BookingFilter struct {
	IDs              []string
	EventID          string
	TicketID         string
	UserID           string
	OrderID          string
	RefundRequestID  string
	Active           *bool
	HasRefundRequest *bool
	RefundResolved   *bool
}

// BookingRepository stores bookings and exposes the aggregations used by the
// read side.
type BookingRepository interface {
	CreateBookings(ctx context.Context, bookings []Booking) error
	SaveBooking(ctx context.Context, booking Booking) error
	GetBooking(ctx context.Context, id string) (Booking, error)
	DeleteBooking(ctx context.Context, id string) error
	ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error)
	FindBookings(ctx context.Context, q query.Query) ([]Booking, int, error)
	AggregateByTicket(ctx context.Context, eventID string) ([]TicketAggregate, error)
	CountActiveByEventForUser(ctx context.Context, userID string) ([]EventBookingCount, error)
}

// Flag returns a pointer to v for the tri-state fields of BookingFilter.
func Flag(v bool) *bool {
	return &v
}
