package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/example/eventhub/internal/application"
	"github.com/example/eventhub/internal/persistence"
	"github.com/example/eventhub/internal/query"
)

type bookingService interface {
	RequestRefund(ctx context.Context, principal application.Principal, params application.RequestRefundParams) (application.RefundRequestResult, error)
	ResolveRefundRequest(ctx context.Context, principal application.Principal, requestID string, status persistence.RefundStatus) ([]persistence.Booking, error)
	MarkRefundProcessed(ctx context.Context, principal application.Principal, requestID string) ([]persistence.Booking, error)
	GetMyBookedEvents(ctx context.Context, principal application.Principal) ([]application.BookedEvent, error)
	GetMyBookings(ctx context.Context, principal application.Principal) ([]persistence.Booking, error)
	ListBookings(ctx context.Context, principal application.Principal, q query.Query) (query.Page[persistence.Booking], error)
	GetBooking(ctx context.Context, principal application.Principal, bookingID string) (persistence.Booking, error)
	CreateBookingDirect(ctx context.Context, principal application.Principal, input application.DirectBookingInput) (persistence.Booking, error)
	DeleteBooking(ctx context.Context, principal application.Principal, bookingID string) error
}

// BookingHandler serves booking reads, administration and the refund workflow.
type BookingHandler struct {
	service   bookingService
	responder responder
	logger    *slog.Logger
}

func NewBookingHandler(service bookingService, logger *slog.Logger) *BookingHandler {
	base := defaultLogger(logger)
	return &BookingHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *BookingHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "BookingHandler", operation, attrs...)
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	q, err := query.Parse(r.URL.Query())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	page, err := h.service.ListBookings(r.Context(), principal, q)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	items, err := project(toBookingDTOs(page.Items), q.Fields)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	writeList(r.Context(), h.responder, w, page, items)
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Event  string `json:"event"`
		Ticket string `json:"ticket"`
		Name   string `json:"name"`
		Email  string `json:"email"`
		User   string `json:"user"`
		Paid   bool   `json:"paid"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	booking, err := h.service.CreateBookingDirect(r.Context(), principal, application.DirectBookingInput{
		EventID:  req.Event,
		TicketID: req.Ticket,
		Name:     req.Name,
		Email:    req.Email,
		UserID:   req.User,
		Paid:     req.Paid,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusCreated, bookingResponse{Booking: toBookingDTO(booking)})
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	booking, err := h.service.GetBooking(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusOK, bookingResponse{Booking: toBookingDTO(booking)})
}

func (h *BookingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.DeleteBooking(r.Context(), principal, chi.URLParam(r, "id")); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *BookingHandler) MyBookings(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	bookings, err := h.service.GetMyBookings(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	writeList(r.Context(), h.responder, w, query.NewPage(bookings, len(bookings), nil), toBookingDTOs(bookings))
}

func (h *BookingHandler) MyBookedEvents(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	booked, err := h.service.GetMyBookedEvents(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	items := make([]bookedEventDTO, 0, len(booked))
	for _, entry := range booked {
		items = append(items, bookedEventDTO{
			Event:                    toEventDTO(entry.Event),
			TotalBookingsForThisUser: entry.TotalBookingsForThisUser,
		})
	}
	writeList(r.Context(), h.responder, w, query.NewPage(booked, len(booked), nil), items)
}

func (h *BookingHandler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookingIDs []string `json:"bookingIds"`
		Reason     string   `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.service.RequestRefund(r.Context(), principal, application.RequestRefundParams{
		BookingIDs: req.BookingIDs,
		Reason:     req.Reason,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.log(r.Context(), "RequestRefund", "request_id", result.RequestID).DebugContext(r.Context(), "refund request recorded")
	h.responder.writeData(r.Context(), w, http.StatusCreated, refundResponse{
		RequestID: result.RequestID,
		Bookings:  toBookingDTOs(result.Bookings),
	})
}

func (h *BookingHandler) ResolveRefund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	requestID := chi.URLParam(r, "requestId")
	principal, _ := PrincipalFromContext(r.Context())
	bookings, err := h.service.ResolveRefundRequest(r.Context(), principal, requestID, persistence.RefundStatus(req.Status))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusOK, refundResponse{RequestID: requestID, Bookings: toBookingDTOs(bookings)})
}

func (h *BookingHandler) MarkRefundProcessed(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")
	principal, _ := PrincipalFromContext(r.Context())
	bookings, err := h.service.MarkRefundProcessed(r.Context(), principal, requestID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusOK, refundResponse{RequestID: requestID, Bookings: toBookingDTOs(bookings)})
}

type bookingResponse struct {
	Booking bookingDTO `json:"booking"`
}

type refundResponse struct {
	RequestID string       `json:"requestId"`
	Bookings  []bookingDTO `json:"bookings"`
}

type bookedEventDTO struct {
	Event                    eventDTO `json:"event"`
	TotalBookingsForThisUser int      `json:"totalBookingsForThisUser"`
}
