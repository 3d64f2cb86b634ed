package persistence

import "time"

// Role distinguishes regular accounts from administrators.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is an account record. PasswordHash and the reset token hash never
// leave the service layer.
type User struct {
	ID                   string
	Name                 string
	Email                string
	PasswordHash         string
	Role                 Role
	Active               bool
	Photo                string
	Tagline              string
	Bio                  string
	Interests            []string
	Favorites            []string
	PrivateFavorites     bool
	PasswordChangedAt    *time.Time
	PasswordResetToken   string
	PasswordResetExpires *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// GeoPoint is a longitude/latitude pair.
type GeoPoint struct {
	Lon float64
	Lat float64
}

// TicketTier is a priced category of ticket owned by an Event. Capacity and
// LimitPerCustomer use zero for "unlimited".
type TicketTier struct {
	ID               string
	Name             string
	Description      string
	Price            float64
	Online           bool
	Capacity         int
	LimitPerCustomer int
	Canceled         bool
}

// Event is the aggregate root for listings. TicketTiers keep their order.
type Event struct {
	ID            string
	Name          string
	Type          string
	Category      string
	Description   string
	TicketTiers   []TicketTier
	DateTimeStart time.Time
	DateTimeEnd   time.Time
	Address       string
	Location      *GeoPoint
	TotalCapacity int
	OrganizerID   string
	Published     bool
	Canceled      bool
	FeePolicy     string
	RefundPolicy  string
	Photo         string
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RefundStatus is the organizer's decision on a refund request.
type RefundStatus string

const (
	RefundAccepted RefundStatus = "accepted"
	RefundRejected RefundStatus = "rejected"
)

// RefundRequest is attached to every booking included in one refund batch.
type RefundRequest struct {
	RequestID       string
	CreatedAt       time.Time
	Resolved        bool
	Status          RefundStatus
	Reason          string
	RefundProcessed bool
}

// Booking is one attendee line against one ticket tier. UserID is empty for
// guest bookings.
type Booking struct {
	ID            string
	OrderID       string
	Name          string
	Email         string
	UserID        string
	EventID       string
	TicketID      string
	Price         float64
	Paid          bool
	Active        bool
	RefundRequest *RefundRequest
	CreatedAt     time.Time
}

// TicketAggregate summarises active bookings for one ticket tier.
type TicketAggregate struct {
	TicketID string
	Count    int
	Revenue  float64
}

// EventBookingCount is the number of active bookings a user holds for an event.
type EventBookingCount struct {
	EventID string
	Count   int
}
