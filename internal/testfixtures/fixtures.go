package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/eventhub/internal/application"
	"github.com/example/eventhub/internal/persistence"
)

var (
	userCounter    uint64
	eventCounter   uint64
	bookingCounter uint64
)

var referenceTime = time.Date(2030, time.March, 1, 9, 0, 0, 0, time.UTC)

// ReferenceTime is the fixed "now" used by fixtures and the default Clock.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- User fixtures -----------------------------

// UserFixture builds deterministic account records.
type UserFixture struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         persistence.Role
	Active       bool
	CreatedAt    time.Time
}

// UserOption configures a UserFixture.
type UserOption func(*UserFixture)

// NewUserFixture returns an active regular user with generated values.
func NewUserFixture(opts ...UserOption) UserFixture {
	idx := atomic.AddUint64(&userCounter, 1)
	id := fmt.Sprintf("user-%03d", idx)
	fixture := UserFixture{
		ID:           id,
		Name:         fmt.Sprintf("User %03d", idx),
		Email:        fmt.Sprintf("%s@example.com", id),
		PasswordHash: fmt.Sprintf("hash-%03d", idx),
		Role:         persistence.RoleUser,
		Active:       true,
		CreatedAt:    referenceTime.Add(time.Duration(idx) * time.Minute),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

func WithUserID(id string) UserOption {
	return func(f *UserFixture) { f.ID = id }
}

func WithUserEmail(email string) UserOption {
	return func(f *UserFixture) { f.Email = email }
}

func WithUserName(name string) UserOption {
	return func(f *UserFixture) { f.Name = name }
}

func WithUserPasswordHash(hash string) UserOption {
	return func(f *UserFixture) { f.PasswordHash = hash }
}

// WithUserAdmin gives the fixture the admin role.
func WithUserAdmin() UserOption {
	return func(f *UserFixture) { f.Role = persistence.RoleAdmin }
}

// WithUserInactive marks the account as deactivated.
func WithUserInactive() UserOption {
	return func(f *UserFixture) { f.Active = false }
}

// Persistence returns the stored form of the fixture.
func (f UserFixture) Persistence() persistence.User {
	return persistence.User{
		ID:           f.ID,
		Name:         f.Name,
		Email:        f.Email,
		PasswordHash: f.PasswordHash,
		Role:         f.Role,
		Active:       f.Active,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.CreatedAt,
	}
}

// Principal returns the fixture as an acting principal.
func (f UserFixture) Principal() application.Principal {
	return application.Principal{UserID: f.ID, Role: f.Role}
}

// ----------------------------- Event fixtures ----------------------------

// EventFixture builds deterministic event aggregates. By default the event
// starts thirty days after ReferenceTime, has an unlimited total and two tiers.
type EventFixture struct {
	ID            string
	Name          string
	Type          string
	Category      string
	OrganizerID   string
	Tiers         []persistence.TicketTier
	Start         time.Time
	End           time.Time
	Address       string
	Location      *persistence.GeoPoint
	TotalCapacity int
	Published     bool
	Canceled      bool
	CreatedAt     time.Time
}

// EventOption configures an EventFixture.
type EventOption func(*EventFixture)

// NewEventFixture returns a draft event with generated values.
func NewEventFixture(opts ...EventOption) EventFixture {
	idx := atomic.AddUint64(&eventCounter, 1)
	id := fmt.Sprintf("event-%03d", idx)
	start := referenceTime.Add(30 * 24 * time.Hour)
	fixture := EventFixture{
		ID:          id,
		Name:        fmt.Sprintf("Event %03d", idx),
		Type:        "concert",
		Category:    "music",
		OrganizerID: "user-organizer",
		Tiers: []persistence.TicketTier{
			{ID: id + "-general", Name: "General", Description: "General admission", Price: 500, Online: true},
			{ID: id + "-vip", Name: "VIP", Description: "Front row seats", Price: 1500, Online: true},
		},
		Start:     start,
		End:       start.Add(3 * time.Hour),
		CreatedAt: referenceTime.Add(time.Duration(idx) * time.Minute),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

func WithEventID(id string) EventOption {
	return func(f *EventFixture) { f.ID = id }
}

func WithEventName(name string) EventOption {
	return func(f *EventFixture) { f.Name = name }
}

func WithEventCategory(category string) EventOption {
	return func(f *EventFixture) { f.Category = category }
}

func WithEventOrganizer(id string) EventOption {
	return func(f *EventFixture) { f.OrganizerID = id }
}

// WithEventTiers replaces the default tiers.
func WithEventTiers(tiers ...persistence.TicketTier) EventOption {
	return func(f *EventFixture) { f.Tiers = tiers }
}

// WithEventCapacity sets the event total and the per-tier capacities in order.
func WithEventCapacity(total int, tierCapacities ...int) EventOption {
	return func(f *EventFixture) {
		f.TotalCapacity = total
		for i, c := range tierCapacities {
			if i < len(f.Tiers) {
				f.Tiers[i].Capacity = c
			}
		}
	}
}

func WithEventSchedule(start, end time.Time) EventOption {
	return func(f *EventFixture) {
		f.Start = start
		f.End = end
	}
}

func WithEventLocation(address string, lon, lat float64) EventOption {
	return func(f *EventFixture) {
		f.Address = address
		f.Location = &persistence.GeoPoint{Lon: lon, Lat: lat}
	}
}

func WithEventPublished() EventOption {
	return func(f *EventFixture) { f.Published = true }
}

func WithEventCanceled() EventOption {
	return func(f *EventFixture) { f.Canceled = true }
}

func WithEventCreatedAt(t time.Time) EventOption {
	return func(f *EventFixture) { f.CreatedAt = t }
}

// Persistence returns the stored form of the fixture.
func (f EventFixture) Persistence() persistence.Event {
	event := persistence.Event{
		ID:            f.ID,
		Name:          f.Name,
		Type:          f.Type,
		Category:      f.Category,
		TicketTiers:   append([]persistence.TicketTier(nil), f.Tiers...),
		DateTimeStart: f.Start,
		DateTimeEnd:   f.End,
		Address:       f.Address,
		TotalCapacity: f.TotalCapacity,
		OrganizerID:   f.OrganizerID,
		Published:     f.Published,
		Canceled:      f.Canceled,
		Version:       1,
		CreatedAt:     f.CreatedAt,
		UpdatedAt:     f.CreatedAt,
	}
	if f.Published {
		event.FeePolicy = "absorbFee"
	}
	if f.Location != nil {
		loc := *f.Location
		event.Location = &loc
	}
	return event
}

// Input returns the fixture as create input. Tier ids and server-assigned
// state are dropped.
func (f EventFixture) Input() application.EventInput {
	input := application.EventInput{
		Name:          f.Name,
		Type:          f.Type,
		Category:      f.Category,
		DateTimeStart: f.Start,
		DateTimeEnd:   f.End,
		Address:       f.Address,
		TotalCapacity: f.TotalCapacity,
	}
	if f.Location != nil {
		loc := *f.Location
		input.Location = &loc
	}
	input.TicketTiers = TierInputs(f.Tiers...)
	return input
}

// TierInputs converts stored tiers into create or update input.
func TierInputs(tiers ...persistence.TicketTier) []application.TicketTierInput {
	out := make([]application.TicketTierInput, 0, len(tiers))
	for _, tier := range tiers {
		price, online := tier.Price, tier.Online
		out = append(out, application.TicketTierInput{
			Name:             tier.Name,
			Description:      tier.Description,
			Price:            &price,
			Online:           &online,
			Capacity:         tier.Capacity,
			LimitPerCustomer: tier.LimitPerCustomer,
		})
	}
	return out
}

// ---------------------------- Booking fixtures ---------------------------

// BookingFixture builds deterministic bookings.
type BookingFixture struct {
	ID        string
	OrderID   string
	Name      string
	Email     string
	UserID    string
	EventID   string
	TicketID  string
	Price     float64
	Paid      bool
	Active    bool
	Refund    *persistence.RefundRequest
	CreatedAt time.Time
}

// BookingOption configures a BookingFixture.
type BookingOption func(*BookingFixture)

// NewBookingFixture returns an active paid booking for eventID and ticketID.
func NewBookingFixture(eventID, ticketID string, opts ...BookingOption) BookingFixture {
	idx := atomic.AddUint64(&bookingCounter, 1)
	fixture := BookingFixture{
		ID:        fmt.Sprintf("booking-%03d", idx),
		OrderID:   fmt.Sprintf("order-%03d", idx),
		Name:      fmt.Sprintf("Guest %03d", idx),
		Email:     fmt.Sprintf("guest-%03d@example.com", idx),
		EventID:   eventID,
		TicketID:  ticketID,
		Price:     500,
		Paid:      true,
		Active:    true,
		CreatedAt: referenceTime.Add(time.Duration(idx) * time.Second),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

func WithBookingID(id string) BookingOption {
	return func(f *BookingFixture) { f.ID = id }
}

func WithBookingOrder(orderID string) BookingOption {
	return func(f *BookingFixture) { f.OrderID = orderID }
}

func WithBookingUser(userID string) BookingOption {
	return func(f *BookingFixture) { f.UserID = userID }
}

func WithBookingPrice(price float64) BookingOption {
	return func(f *BookingFixture) { f.Price = price }
}

func WithBookingInactive() BookingOption {
	return func(f *BookingFixture) { f.Active = false }
}

// WithBookingRefund attaches an open refund request.
func WithBookingRefund(requestID, reason string) BookingOption {
	return func(f *BookingFixture) {
		f.Refund = &persistence.RefundRequest{RequestID: requestID, Reason: reason, CreatedAt: referenceTime}
	}
}

// Persistence returns the stored form of the fixture.
func (f BookingFixture) Persistence() persistence.Booking {
	booking := persistence.Booking{
		ID:        f.ID,
		OrderID:   f.OrderID,
		Name:      f.Name,
		Email:     f.Email,
		UserID:    f.UserID,
		EventID:   f.EventID,
		TicketID:  f.TicketID,
		Price:     f.Price,
		Paid:      f.Paid,
		Active:    f.Active,
		CreatedAt: f.CreatedAt,
	}
	if f.Refund != nil {
		rr := *f.Refund
		booking.RefundRequest = &rr
	}
	return booking
}
