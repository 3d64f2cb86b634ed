package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/eventhub/internal/application"
)

// ServiceFactory builds application services wired to a shared deterministic
// clock and id generator.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory returns a factory using ReferenceTime and "id-N" ids.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) { factory.Clock = clock }
}

func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) { factory.IDGenerator = generator }
}

func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) { factory.Logger = logger }
}

// BookingServiceDeps captures dependencies for constructing a booking service.
type BookingServiceDeps struct {
	Bookings application.BookingStore
	Events   application.EventReader
	Mailer   application.Mailer
}

func (f *ServiceFactory) NewBookingService(deps BookingServiceDeps) *application.BookingService {
	return application.NewBookingServiceWithLogger(deps.Bookings, deps.Events, deps.Mailer, f.IDGenerator.NextFunc(), f.Clock.NowFunc(), f.Logger)
}

// EventServiceDeps captures dependencies for constructing an event service.
// When Cascade is nil the booking cascade is left unwired.
type EventServiceDeps struct {
	Events  application.EventStore
	Tickets application.TicketAggregator
	Cascade application.BookingCanceler
}

func (f *ServiceFactory) NewEventService(deps EventServiceDeps) *application.EventService {
	return application.NewEventServiceWithLogger(deps.Events, deps.Tickets, deps.Cascade, f.IDGenerator.NextFunc(), f.Clock.NowFunc(), f.Logger)
}

// NewEventStack wires an event service to a booking service over h, the way
// the server does.
func (f *ServiceFactory) NewEventStack(h *SQLiteHarness, mailer application.Mailer) (*application.EventService, *application.BookingService) {
	bookings := f.NewBookingService(BookingServiceDeps{Bookings: h.Bookings, Events: h.Events, Mailer: mailer})
	events := f.NewEventService(EventServiceDeps{Events: h.Events, Tickets: h.Bookings, Cascade: bookings})
	return events, bookings
}

// AuthServiceDeps captures dependencies for constructing an auth service.
type AuthServiceDeps struct {
	Users   application.UserStore
	Mailer  application.Mailer
	Secret  string
	Options application.AuthOptions
}

// NewAuthService returns an auth service using cheap argon2 parameters.
func (f *ServiceFactory) NewAuthService(deps AuthServiceDeps) (*application.AuthService, error) {
	secret := deps.Secret
	if secret == "" {
		secret = "test-secret"
	}
	tokens, err := application.NewTokenIssuer(secret, time.Hour, f.Clock.NowFunc())
	if err != nil {
		return nil, err
	}
	opts := deps.Options
	if opts.Hasher == nil {
		opts.Hasher = application.NewArgon2idHasher(FastArgon2idParams)
	}
	return application.NewAuthServiceWithLogger(deps.Users, tokens, deps.Mailer, opts, f.IDGenerator.NextFunc(), f.Clock.NowFunc(), f.Logger), nil
}

// FastArgon2idParams keeps password hashing quick in tests.
var FastArgon2idParams = application.Argon2idParams{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  8,
	KeyLength:   16,
}
