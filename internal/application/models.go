package application

import (
	"time"

	"github.com/example/eventhub/internal/persistence"
)

// Principal represents the caller of a service method. The zero value is an
// anonymous guest.
type Principal struct {
	UserID string
	Role   persistence.Role
}

// Authenticated reports whether the principal belongs to a signed-in user.
func (p Principal) Authenticated() bool {
	return p.UserID != ""
}

// IsAdmin reports whether the principal carries the admin role.
func (p Principal) IsAdmin() bool {
	return p.Authenticated() && p.Role == persistence.RoleAdmin
}

// TicketTierInput captures caller provided tier fields. Price and Online are
// pointers because both are required and zero values are legal.
type TicketTierInput struct {
	Name             string
	Description      string
	Price            *float64
	Online           *bool
	Capacity         int
	LimitPerCustomer int
}

// EventInput captures the fields accepted when creating an event. Organizer,
// publish and cancel state are always assigned by the server.
type EventInput struct {
	Name          string
	Type          string
	Category      string
	Description   string
	TicketTiers   []TicketTierInput
	DateTimeStart time.Time
	DateTimeEnd   time.Time
	Address       string
	Location      *persistence.GeoPoint
	TotalCapacity int
}

// EventPatch lists the mutable event fields. Nil fields are left unchanged.
type EventPatch struct {
	Name          *string
	Type          *string
	Category      *string
	Description   *string
	TicketTiers   []TicketTierInput
	DateTimeStart *time.Time
	DateTimeEnd   *time.Time
	Address       *string
	Location      *persistence.GeoPoint
	TotalCapacity *int
}

// PublishInput carries the policies that can only be set when publishing.
type PublishInput struct {
	FeePolicy    string
	RefundPolicy string
}

// TierView is a ticket tier decorated with read-side booking figures.
type TierView struct {
	persistence.TicketTier
	Booked  int
	SoldOut bool
}

// EventView is an event decorated with booking aggregates computed at read time.
type EventView struct {
	Event         persistence.Event
	Tiers         []TierView
	TotalBookings int
}

// CancelEventResult reports the canceled event and how the booking cascade went.
type CancelEventResult struct {
	Event   persistence.Event
	Cascade CascadeReport
}

// CascadeKey selects which booking reference a cascade matches on.
type CascadeKey string

const (
	CascadeByEvent  CascadeKey = "event"
	CascadeByTicket CascadeKey = "ticket"
)

// CascadeFailure records a booking that could not be deactivated.
type CascadeFailure struct {
	BookingID string
	Err       error
}

// CascadeReport summarises a best-effort booking cascade.
type CascadeReport struct {
	Matched     int
	Deactivated int
	Failures    []CascadeFailure
}

// AttendeeLine is one checkout or booking line before quantity expansion.
type AttendeeLine struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	TicketID string `json:"ticketId"`
	Quantity int    `json:"quantity"`
}

// CreateBookingsParams wraps the data required to create bookings for one order.
type CreateBookingsParams struct {
	EventID string
	OrderID string
	PayerID string
	Lines   []AttendeeLine
	Paid    bool
}

// DirectBookingInput is used by administrators to create a single booking.
type DirectBookingInput struct {
	EventID  string
	TicketID string
	Name     string
	Email    string
	UserID   string
	Paid     bool
}

// RequestRefundParams wraps a refund request for a batch of bookings.
type RequestRefundParams struct {
	BookingIDs []string
	Reason     string
}

// RefundRequestResult reports the request id and the bookings it covers.
type RefundRequestResult struct {
	RequestID string
	Bookings  []persistence.Booking
}

// BookedEvent pairs an event with the number of active bookings a user holds.
type BookedEvent struct {
	Event                    persistence.Event
	TotalBookingsForThisUser int
}

// RefundTicketLine is the per-tier breakdown of one refund request.
type RefundTicketLine struct {
	TicketID string
	TierName string
	Price    float64
	Quantity int
	Subtotal float64
}

// RefundRequestSummary groups the bookings of one unresolved refund request.
type RefundRequestSummary struct {
	RequestID  string
	CreatedAt  time.Time
	Reason     string
	UserID     string
	Name       string
	Email      string
	BookingIDs []string
	Tickets    []RefundTicketLine
	Total      float64
}

// TierStats reports sales for one tier.
type TierStats struct {
	TicketID string
	Name     string
	Capacity int
	Canceled bool
	Booked   int
	Revenue  float64
	SoldOut  bool
}

// EventStats is the organizer dashboard for one event.
type EventStats struct {
	EventID       string
	TotalCapacity int
	TotalBookings int
	TotalRevenue  float64
	Tiers         []TierStats
}

// CheckoutParams wraps a checkout request. Card and Source are payment
// processor tokens; one of them is required for paid orders.
type CheckoutParams struct {
	EventID string
	Lines   []AttendeeLine
	Card    string
	Source  string
}

// CheckoutResult reports the order created by a checkout. Bookings is only
// populated for free orders; paid orders book on the payment webhook.
type CheckoutResult struct {
	OrderID      string
	Total        float64
	Currency     string
	ChargeID     string
	ChargeStatus string
	AuthorizeURI string
	Bookings     []persistence.Booking
}

// WebhookResult reports what a payment webhook delivery produced.
type WebhookResult struct {
	Handled  bool
	OrderID  string
	Bookings []persistence.Booking
}

// SignupParams captures the data required to register an account.
type SignupParams struct {
	Name            string
	Email           string
	Password        string
	PasswordConfirm string
}

// LoginParams captures the data required to sign in.
type LoginParams struct {
	Email    string
	Password string
}

// AuthResult is returned by every flow that issues a token.
type AuthResult struct {
	User      persistence.User
	Token     string
	ExpiresAt time.Time
}

// ResetPasswordParams captures a password reset with a mailed token.
type ResetPasswordParams struct {
	Token           string
	Password        string
	PasswordConfirm string
}

// UpdatePasswordParams captures a password change by a signed-in user.
type UpdatePasswordParams struct {
	CurrentPassword string
	Password        string
	PasswordConfirm string
}

// UpdateMeInput lists the profile fields a user may change themselves.
// PasswordProvided is set when the request tried to change the password.
type UpdateMeInput struct {
	Name             *string
	Email            *string
	Tagline          *string
	Bio              *string
	Interests        *[]string
	PrivateFavorites *bool
	PasswordProvided bool
}

// AdminUserUpdate lists the fields an administrator may change on an account.
type AdminUserUpdate struct {
	Name   *string
	Email  *string
	Role   *persistence.Role
	Active *bool
}
