package http

import (
	"encoding/json"
	"time"

	"github.com/example/eventhub/internal/application"
	"github.com/example/eventhub/internal/persistence"
	"github.com/example/eventhub/internal/query"
)

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// pointDTO is a GeoJSON point; coordinates are [lon, lat].
type pointDTO struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func toPointDTO(point *persistence.GeoPoint) *pointDTO {
	if point == nil {
		return nil
	}
	return &pointDTO{Type: "Point", Coordinates: []float64{point.Lon, point.Lat}}
}

type userDTO struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Email            string   `json:"email"`
	Role             string   `json:"role"`
	Active           bool     `json:"active"`
	Photo            string   `json:"photo,omitempty"`
	Tagline          string   `json:"tagline,omitempty"`
	Bio              string   `json:"bio,omitempty"`
	Interests        []string `json:"interests"`
	Favorites        []string `json:"favorites"`
	PrivateFavorites bool     `json:"privateFavorites"`
	CreatedAt        string   `json:"createdAt"`
	UpdatedAt        string   `json:"updatedAt"`
}

func toUserDTO(user persistence.User) userDTO {
	dto := userDTO{
		ID:               user.ID,
		Name:             user.Name,
		Email:            user.Email,
		Role:             string(user.Role),
		Active:           user.Active,
		Photo:            user.Photo,
		Tagline:          user.Tagline,
		Bio:              user.Bio,
		Interests:        user.Interests,
		Favorites:        user.Favorites,
		PrivateFavorites: user.PrivateFavorites,
		CreatedAt:        formatTime(user.CreatedAt),
		UpdatedAt:        formatTime(user.UpdatedAt),
	}
	if dto.Interests == nil {
		dto.Interests = []string{}
	}
	if dto.Favorites == nil {
		dto.Favorites = []string{}
	}
	return dto
}

type tierDTO struct {
	ID               string  `json:"id"`
	Name             string  `json:"tierName"`
	Description      string  `json:"tierDescription,omitempty"`
	Price            float64 `json:"price"`
	Online           bool    `json:"online"`
	Capacity         int     `json:"capacity,omitempty"`
	LimitPerCustomer int     `json:"limitPerCustomer,omitempty"`
	Canceled         bool    `json:"canceled"`
	Booked           *int    `json:"booked,omitempty"`
	SoldOut          *bool   `json:"soldOut,omitempty"`
}

func toTierDTO(tier persistence.TicketTier) tierDTO {
	return tierDTO{
		ID:               tier.ID,
		Name:             tier.Name,
		Description:      tier.Description,
		Price:            tier.Price,
		Online:           tier.Online,
		Capacity:         tier.Capacity,
		LimitPerCustomer: tier.LimitPerCustomer,
		Canceled:         tier.Canceled,
	}
}

type eventDTO struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Type          string    `json:"type"`
	Category      string    `json:"category"`
	Description   string    `json:"description,omitempty"`
	TicketTiers   []tierDTO `json:"ticketTiers"`
	DateTimeStart string    `json:"dateTimeStart"`
	DateTimeEnd   string    `json:"dateTimeEnd"`
	Address       string    `json:"address,omitempty"`
	Location      *pointDTO `json:"location,omitempty"`
	TotalCapacity int       `json:"totalCapacity,omitempty"`
	Organizer     string    `json:"organizer"`
	Published     bool      `json:"published"`
	Canceled      bool      `json:"canceled"`
	FeePolicy     string    `json:"feePolicy,omitempty"`
	RefundPolicy  string    `json:"refundPolicy,omitempty"`
	Photo         string    `json:"photo,omitempty"`
	TotalBookings *int      `json:"totalBookings,omitempty"`
	Version       int       `json:"version"`
	CreatedAt     string    `json:"createdAt"`
	UpdatedAt     string    `json:"updatedAt"`
}

func toEventDTO(event persistence.Event) eventDTO {
	tiers := make([]tierDTO, 0, len(event.TicketTiers))
	for _, tier := range event.TicketTiers {
		tiers = append(tiers, toTierDTO(tier))
	}
	return eventDTO{
		ID:            event.ID,
		Name:          event.Name,
		Type:          event.Type,
		Category:      event.Category,
		Description:   event.Description,
		TicketTiers:   tiers,
		DateTimeStart: formatTime(event.DateTimeStart),
		DateTimeEnd:   formatTime(event.DateTimeEnd),
		Address:       event.Address,
		Location:      toPointDTO(event.Location),
		TotalCapacity: event.TotalCapacity,
		Organizer:     event.OrganizerID,
		Published:     event.Published,
		Canceled:      event.Canceled,
		FeePolicy:     event.FeePolicy,
		RefundPolicy:  event.RefundPolicy,
		Photo:         event.Photo,
		Version:       event.Version,
		CreatedAt:     formatTime(event.CreatedAt),
		UpdatedAt:     formatTime(event.UpdatedAt),
	}
}

func toEventViewDTO(view application.EventView) eventDTO {
	dto := toEventDTO(view.Event)
	total := view.TotalBookings
	dto.TotalBookings = &total
	dto.TicketTiers = make([]tierDTO, 0, len(view.Tiers))
	for _, tier := range view.Tiers {
		out := toTierDTO(tier.TicketTier)
		booked, soldOut := tier.Booked, tier.SoldOut
		out.Booked = &booked
		out.SoldOut = &soldOut
		dto.TicketTiers = append(dto.TicketTiers, out)
	}
	return dto
}

func toEventDTOs(events []persistence.Event) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	for _, event := range events {
		out = append(out, toEventDTO(event))
	}
	return out
}

type refundRequestDTO struct {
	RequestID       string `json:"requestId"`
	CreatedAt       string `json:"createdAt"`
	Resolved        bool   `json:"resolved"`
	Status          string `json:"status,omitempty"`
	Reason          string `json:"reason,omitempty"`
	RefundProcessed bool   `json:"refundProcessed"`
}

type bookingDTO struct {
	ID            string            `json:"id"`
	OrderID       string            `json:"orderId"`
	Name          string            `json:"name"`
	Email         string            `json:"email"`
	User          string            `json:"user,omitempty"`
	Event         string            `json:"event"`
	Ticket        string            `json:"ticket"`
	Price         float64           `json:"price"`
	Paid          bool              `json:"paid"`
	Active        bool              `json:"active"`
	RefundRequest *refundRequestDTO `json:"refundRequest,omitempty"`
	CreatedAt     string            `json:"createdAt"`
}

func toBookingDTO(booking persistence.Booking) bookingDTO {
	dto := bookingDTO{
		ID:        booking.ID,
		OrderID:   booking.OrderID,
		Name:      booking.Name,
		Email:     booking.Email,
		User:      booking.UserID,
		Event:     booking.EventID,
		Ticket:    booking.TicketID,
		Price:     booking.Price,
		Paid:      booking.Paid,
		Active:    booking.Active,
		CreatedAt: formatTime(booking.CreatedAt),
	}
	if rr := booking.RefundRequest; rr != nil {
		dto.RefundRequest = &refundRequestDTO{
			RequestID:       rr.RequestID,
			CreatedAt:       formatTime(rr.CreatedAt),
			Resolved:        rr.Resolved,
			Status:          string(rr.Status),
			Reason:          rr.Reason,
			RefundProcessed: rr.RefundProcessed,
		}
	}
	return dto
}

func toBookingDTOs(bookings []persistence.Booking) []bookingDTO {
	out := make([]bookingDTO, 0, len(bookings))
	for _, booking := range bookings {
		out = append(out, toBookingDTO(booking))
	}
	return out
}

// project renders each DTO as a JSON object and applies the field
// allow-list of q.
func project[T any](items []T, fields []string) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		doc, err := toDocument(item)
		if err != nil {
			return nil, err
		}
		out = append(out, query.Project(doc, fields))
	}
	return out, nil
}

func toDocument(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
