package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/example/eventhub/internal/application"
)

type checkoutService interface {
	Checkout(ctx context.Context, principal application.Principal, params application.CheckoutParams) (application.CheckoutResult, error)
	HandlePaymentWebhook(ctx context.Context, eventID string) (application.WebhookResult, error)
}

// CheckoutHandler serves ticket checkout and the payment processor webhook.
type CheckoutHandler struct {
	service   checkoutService
	responder responder
	logger    *slog.Logger
}

func NewCheckoutHandler(service checkoutService, logger *slog.Logger) *CheckoutHandler {
	base := defaultLogger(logger)
	return &CheckoutHandler{service: service, responder: newResponder(base), logger: base}
}

// Checkout accepts guests; bookings then carry no user reference.
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lines  []application.AttendeeLine `json:"attendees"`
		Card   string                     `json:"card"`
		Source string                     `json:"source"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.service.Checkout(r.Context(), principal, application.CheckoutParams{
		EventID: chi.URLParam(r, "id"),
		Lines:   req.Lines,
		Card:    req.Card,
		Source:  req.Source,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	status := http.StatusCreated
	if result.ChargeID != "" && len(result.Bookings) == 0 {
		status = http.StatusAccepted
	}
	h.responder.writeData(r.Context(), w, status, checkoutResponse{
		OrderID:      result.OrderID,
		Total:        result.Total,
		Currency:     result.Currency,
		ChargeID:     result.ChargeID,
		ChargeStatus: result.ChargeStatus,
		AuthorizeURI: result.AuthorizeURI,
		Bookings:     toBookingDTOs(result.Bookings),
	})
}

// PaymentWebhook receives processor notifications. Only the event id is read
// from the body; the event itself is fetched back from the processor.
func (h *CheckoutHandler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	result, err := h.service.HandlePaymentWebhook(r.Context(), req.ID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	handlerLogger(r.Context(), h.logger, "CheckoutHandler", "PaymentWebhook", "handled", result.Handled).
		DebugContext(r.Context(), "payment webhook acknowledged")
	h.responder.writeData(r.Context(), w, http.StatusOK, webhookResponse{
		Received: true,
		Handled:  result.Handled,
		OrderID:  result.OrderID,
		Bookings: len(result.Bookings),
	})
}

type checkoutResponse struct {
	OrderID      string       `json:"orderId"`
	Total        float64      `json:"total"`
	Currency     string       `json:"currency,omitempty"`
	ChargeID     string       `json:"chargeId,omitempty"`
	ChargeStatus string       `json:"chargeStatus,omitempty"`
	AuthorizeURI string       `json:"authorizeUri,omitempty"`
	Bookings     []bookingDTO `json:"bookings"`
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Handled  bool   `json:"handled"`
	OrderID  string `json:"orderId,omitempty"`
	Bookings int    `json:"bookings"`
}
