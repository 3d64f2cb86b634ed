package application

import (
	"context"

	"github.com/example/eventhub/internal/notify"
	"github.com/example/eventhub/internal/payment"
	"github.com/example/eventhub/internal/persistence"
	"github.com/example/eventhub/internal/query"
)

// UserStore captures the persistence operations needed for accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user persistence.User) error
	UpdateUser(ctx context.Context, user persistence.User) error
	GetUser(ctx context.Context, id string) (persistence.User, error)
	GetUserByEmail(ctx context.Context, email string) (persistence.User, error)
	GetUserByResetToken(ctx context.Context, tokenHash string) (persistence.User, error)
	FindUsers(ctx context.Context, q query.Query) ([]persistence.User, int, error)
	DeleteUser(ctx context.Context, id string) error
}

// EventStore captures the persistence operations needed for events.
type EventStore interface {
	CreateEvent(ctx context.Context, event persistence.Event) error
	SaveEvent(ctx context.Context, event persistence.Event) error
	GetEvent(ctx context.Context, id string) (persistence.Event, error)
	FindEvents(ctx context.Context, q query.Query) ([]persistence.Event, int, error)
}

// EventReader is the read-only subset of EventStore.
type EventReader interface {
	GetEvent(ctx context.Context, id string) (persistence.Event, error)
}

// BookingStore captures the persistence operations needed for bookings.
type BookingStore interface {
	CreateBookings(ctx context.Context, bookings []persistence.Booking) error
	SaveBooking(ctx context.Context, booking persistence.Booking) error
	GetBooking(ctx context.Context, id string) (persistence.Booking, error)
	DeleteBooking(ctx context.Context, id string) error
	ListBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error)
	FindBookings(ctx context.Context, q query.Query) ([]persistence.Booking, int, error)
	AggregateByTicket(ctx context.Context, eventID string) ([]persistence.TicketAggregate, error)
	CountActiveByEventForUser(ctx context.Context, userID string) ([]persistence.EventBookingCount, error)
}

// TicketAggregator computes the per-tier booking figures used by read views.
type TicketAggregator interface {
	AggregateByTicket(ctx context.Context, eventID string) ([]persistence.TicketAggregate, error)
}

// BookingCanceler deactivates every booking referencing an event or a tier.
type BookingCanceler interface {
	CancelAllBookingsBy(ctx context.Context, key CascadeKey, value string) (CascadeReport, error)
}

// Mailer delivers templated notifications.
type Mailer interface {
	Send(ctx context.Context, msg notify.Message) error
}

// PaymentGateway creates charges and verifies webhook deliveries.
type PaymentGateway interface {
	CreateCharge(ctx context.Context, req payment.ChargeRequest) (payment.Charge, error)
	RetrieveEvent(ctx context.Context, id string) (payment.Event, error)
}

// BlobStore keeps binary objects such as photos.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}
