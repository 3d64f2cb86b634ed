package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/eventhub/internal/application"
	"github.com/example/eventhub/internal/persistence"
	"github.com/example/eventhub/internal/query"
)

type eventService interface {
	CreateEvent(ctx context.Context, principal application.Principal, input application.EventInput) (persistence.Event, error)
	UpdateEvent(ctx context.Context, principal application.Principal, eventID string, patch application.EventPatch) (persistence.Event, error)
	PublishEvent(ctx context.Context, principal application.Principal, eventID string, input application.PublishInput) (persistence.Event, error)
	CancelEvent(ctx context.Context, principal application.Principal, eventID string) (application.CancelEventResult, error)
	CancelTicketTier(ctx context.Context, principal application.Principal, eventID, tierID string) (application.CancelEventResult, error)
	ListEvents(ctx context.Context, principal application.Principal, q query.Query) (query.Page[persistence.Event], error)
	GetMyEvents(ctx context.Context, principal application.Principal, q query.Query) (query.Page[persistence.Event], error)
	GetEvent(ctx context.Context, principal application.Principal, eventID string) (application.EventView, error)
}

type eventBookingReader interface {
	GetEventBookingStats(ctx context.Context, principal application.Principal, eventID string) (application.EventStats, error)
	GetEventRefundRequests(ctx context.Context, principal application.Principal, eventID string) ([]application.RefundRequestSummary, error)
}

// EventHandler serves event listings and the organizer lifecycle.
type EventHandler struct {
	service   eventService
	bookings  eventBookingReader
	responder responder
	logger    *slog.Logger
}

func NewEventHandler(service eventService, bookings eventBookingReader, logger *slog.Logger) *EventHandler {
	base := defaultLogger(logger)
	return &EventHandler{service: service, bookings: bookings, responder: newResponder(base), logger: base}
}

func (h *EventHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "EventHandler", operation, attrs...)
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "List", h.service.ListEvents)
}

// MyEvents lists the caller's own events, drafts included.
func (h *EventHandler) MyEvents(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, "MyEvents", h.service.GetMyEvents)
}

type eventFinder func(ctx context.Context, principal application.Principal, q query.Query) (query.Page[persistence.Event], error)

func (h *EventHandler) list(w http.ResponseWriter, r *http.Request, operation string, find eventFinder) {
	q, err := query.Parse(r.URL.Query())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	page, err := find(r.Context(), principal, q)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	items, err := project(toEventDTOs(page.Items), q.Fields)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.log(r.Context(), operation, "result_count", len(items), "total", page.Total).DebugContext(r.Context(), "events listed")
	writeList(r.Context(), h.responder, w, page, items)
}

func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	input, err := req.toInput()
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	event, err := h.service.CreateEvent(r.Context(), principal, input)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.writeEvent(w, r, http.StatusCreated, toEventDTO(event))
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	view, err := h.service.GetEvent(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.writeEvent(w, r, http.StatusOK, toEventViewDTO(view))
}

func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req eventPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	event, err := h.service.UpdateEvent(r.Context(), principal, chi.URLParam(r, "id"), patch)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.writeEvent(w, r, http.StatusOK, toEventDTO(event))
}

func (h *EventHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FeePolicy    string `json:"feePolicy"`
		RefundPolicy string `json:"refundPolicy"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	event, err := h.service.PublishEvent(r.Context(), principal, chi.URLParam(r, "id"), application.PublishInput{
		FeePolicy:    req.FeePolicy,
		RefundPolicy: req.RefundPolicy,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.writeEvent(w, r, http.StatusOK, toEventDTO(event))
}

// Cancel answers DELETE on an event: the event is canceled, never removed.
func (h *EventHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.service.CancelEvent(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.logCascade(r.Context(), "Cancel", result.Cascade)
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *EventHandler) CancelTier(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.service.CancelTicketTier(r.Context(), principal, chi.URLParam(r, "id"), chi.URLParam(r, "ticketId"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.logCascade(r.Context(), "CancelTier", result.Cascade)
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *EventHandler) logCascade(ctx context.Context, operation string, report application.CascadeReport) {
	if len(report.Failures) == 0 {
		return
	}
	ids := make([]string, 0, len(report.Failures))
	for _, failure := range report.Failures {
		ids = append(ids, failure.BookingID)
	}
	h.log(ctx, operation, "failed_bookings", ids).WarnContext(ctx, "booking cascade incomplete")
}

func (h *EventHandler) Stats(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	stats, err := h.bookings.GetEventBookingStats(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusOK, statsResponse{Stats: toStatsDTO(stats)})
}

func (h *EventHandler) RefundRequests(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	summaries, err := h.bookings.GetEventRefundRequests(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	items := make([]refundSummaryDTO, 0, len(summaries))
	for _, summary := range summaries {
		items = append(items, toRefundSummaryDTO(summary))
	}
	writeList(r.Context(), h.responder, w, query.NewPage(summaries, len(summaries), nil), items)
}

func (h *EventHandler) writeEvent(w http.ResponseWriter, r *http.Request, status int, dto eventDTO) {
	doc, err := toDocument(dto)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, status, map[string]any{"event": query.Project(doc, nil)})
}

type tierRequest struct {
	Name             string   `json:"tierName"`
	Description      string   `json:"tierDescription"`
	Price            *float64 `json:"price"`
	Online           *bool    `json:"online"`
	Capacity         int      `json:"capacity"`
	LimitPerCustomer int      `json:"limitPerCustomer"`
}

func (t tierRequest) toInput() application.TicketTierInput {
	return application.TicketTierInput{
		Name:             t.Name,
		Description:      t.Description,
		Price:            t.Price,
		Online:           t.Online,
		Capacity:         t.Capacity,
		LimitPerCustomer: t.LimitPerCustomer,
	}
}

func toTierInputs(tiers []tierRequest) []application.TicketTierInput {
	if tiers == nil {
		return nil
	}
	out := make([]application.TicketTierInput, 0, len(tiers))
	for _, tier := range tiers {
		out = append(out, tier.toInput())
	}
	return out
}

func (p *pointDTO) toGeoPoint() (*persistence.GeoPoint, error) {
	if p == nil {
		return nil, nil
	}
	if p.Type != "" && p.Type != "Point" {
		return nil, &application.ValidationError{Field: "location", Message: "location must be a Point"}
	}
	if len(p.Coordinates) != 2 {
		return nil, &application.ValidationError{Field: "location", Message: "location coordinates must be [longitude, latitude]"}
	}
	return &persistence.GeoPoint{Lon: p.Coordinates[0], Lat: p.Coordinates[1]}, nil
}

// eventRequest only lists client writable fields. organizer, published,
// canceled and the policies are never read from the body.
type eventRequest struct {
	Name          string        `json:"name"`
	Type          string        `json:"type"`
	Category      string        `json:"category"`
	Description   string        `json:"description"`
	TicketTiers   []tierRequest `json:"ticketTiers"`
	DateTimeStart time.Time     `json:"dateTimeStart"`
	DateTimeEnd   time.Time     `json:"dateTimeEnd"`
	Address       string        `json:"address"`
	Location      *pointDTO     `json:"location"`
	TotalCapacity int           `json:"totalCapacity"`
}

func (r eventRequest) toInput() (application.EventInput, error) {
	location, err := r.Location.toGeoPoint()
	if err != nil {
		return application.EventInput{}, err
	}
	return application.EventInput{
		Name:          r.Name,
		Type:          r.Type,
		Category:      r.Category,
		Description:   r.Description,
		TicketTiers:   toTierInputs(r.TicketTiers),
		DateTimeStart: r.DateTimeStart,
		DateTimeEnd:   r.DateTimeEnd,
		Address:       r.Address,
		Location:      location,
		TotalCapacity: r.TotalCapacity,
	}, nil
}

type eventPatchRequest struct {
	Name          *string       `json:"name"`
	Type          *string       `json:"type"`
	Category      *string       `json:"category"`
	Description   *string       `json:"description"`
	TicketTiers   []tierRequest `json:"ticketTiers"`
	DateTimeStart *time.Time    `json:"dateTimeStart"`
	DateTimeEnd   *time.Time    `json:"dateTimeEnd"`
	Address       *string       `json:"address"`
	Location      *pointDTO     `json:"location"`
	TotalCapacity *int          `json:"totalCapacity"`
}

func (r eventPatchRequest) toPatch() (application.EventPatch, error) {
	location, err := r.Location.toGeoPoint()
	if err != nil {
		return application.EventPatch{}, err
	}
	return application.EventPatch{
		Name:          r.Name,
		Type:          r.Type,
		Category:      r.Category,
		Description:   r.Description,
		TicketTiers:   toTierInputs(r.TicketTiers),
		DateTimeStart: r.DateTimeStart,
		DateTimeEnd:   r.DateTimeEnd,
		Address:       r.Address,
		Location:      location,
		TotalCapacity: r.TotalCapacity,
	}, nil
}

type tierStatsDTO struct {
	TicketID string  `json:"ticketId"`
	Name     string  `json:"tierName"`
	Capacity int     `json:"capacity,omitempty"`
	Canceled bool    `json:"canceled"`
	Booked   int     `json:"booked"`
	Revenue  float64 `json:"revenue"`
	SoldOut  bool    `json:"soldOut"`
}

type statsDTO struct {
	EventID       string         `json:"eventId"`
	TotalCapacity int            `json:"totalCapacity,omitempty"`
	TotalBookings int            `json:"totalBookings"`
	TotalRevenue  float64        `json:"totalRevenue"`
	Tickets       []tierStatsDTO `json:"tickets"`
}

type statsResponse struct {
	Stats statsDTO `json:"stats"`
}

func toStatsDTO(stats application.EventStats) statsDTO {
	out := statsDTO{
		EventID:       stats.EventID,
		TotalCapacity: stats.TotalCapacity,
		TotalBookings: stats.TotalBookings,
		TotalRevenue:  stats.TotalRevenue,
		Tickets:       make([]tierStatsDTO, 0, len(stats.Tiers)),
	}
	for _, tier := range stats.Tiers {
		out.Tickets = append(out.Tickets, tierStatsDTO(tier))
	}
	return out
}

type refundLineDTO struct {
	TicketID string  `json:"ticketId"`
	Name     string  `json:"tierName"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Subtotal float64 `json:"subtotal"`
}

type refundSummaryDTO struct {
	RequestID string          `json:"requestId"`
	CreatedAt string          `json:"createdAt"`
	Reason    string          `json:"reason,omitempty"`
	User      string          `json:"user,omitempty"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Bookings  []string        `json:"bookings"`
	Tickets   []refundLineDTO `json:"tickets"`
	Total     float64         `json:"total"`
}

func toRefundSummaryDTO(summary application.RefundRequestSummary) refundSummaryDTO {
	out := refundSummaryDTO{
		RequestID: summary.RequestID,
		CreatedAt: formatTime(summary.CreatedAt),
		Reason:    summary.Reason,
		User:      summary.UserID,
		Name:      summary.Name,
		Email:     summary.Email,
		Bookings:  summary.BookingIDs,
		Tickets:   make([]refundLineDTO, 0, len(summary.Tickets)),
		Total:     summary.Total,
	}
	for _, line := range summary.Tickets {
		out.Tickets = append(out.Tickets, refundLineDTO{
			TicketID: line.TicketID,
			Name:     line.TierName,
			Price:    line.Price,
			Quantity: line.Quantity,
			Subtotal: line.Subtotal,
		})
	}
	return out
}
