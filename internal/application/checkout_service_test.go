package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/example/eventhub/internal/notify"
	"github.com/example/eventhub/internal/payment"
	"github.com/example/eventhub/internal/persistence"
)

type checkoutHarness struct {
	events   *eventStoreStub
	bookings *bookingStoreStub
	mailer   *mailerStub
	gateway  *gatewayStub
	svc      *CheckoutService
}

func newCheckoutHarness(t *testing.T, withGateway bool, events ...persistence.Event) *checkoutHarness {
	t.Helper()
	h := &checkoutHarness{
		events:   newEventStoreStub(events...),
		bookings: newBookingStoreStub(),
		mailer:   &mailerStub{},
		gateway:  &gatewayStub{charge: payment.Charge{ID: "chrg_1", Status: payment.StatusPending, AuthorizeURI: "https://pay.example/3ds"}},
	}
	bookingSvc := NewBookingService(h.bookings, h.events, h.mailer, newSequence("bk").next, fixedNow)
	var gateway PaymentGateway
	if withGateway {
		gateway = h.gateway
	}
	h.svc = NewCheckoutService(h.events, bookingSvc, gateway, h.mailer, CheckoutOptions{ReturnURI: "https://app.example/return"}, newSequence("order").next, fixedNow)
	return h
}

func publishedEvent(id string) persistence.Event {
	event := sampleEvent(id, organizer.UserID)
	event.Published = true
	event.FeePolicy = "absorbFee"
	return event
}

func TestCheckoutServiceGates(t *testing.T) {
	t.Parallel()

	draft := sampleEvent("draft", organizer.UserID)
	canceled := publishedEvent("canceled")
	canceled.Canceled = true
	started := publishedEvent("started")
	started.DateTimeStart = testNow.Add(-time.Minute)
	h := newCheckoutHarness(t, true, draft, canceled, started)
	ctx := context.Background()
	lines := []AttendeeLine{{Name: "Ada", Email: "ada@example.com", TicketID: "x", Quantity: 1}}

	if _, err := h.svc.Checkout(ctx, stranger, CheckoutParams{EventID: "draft", Lines: lines}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("strangers must not learn about drafts, got %v", err)
	}
	if _, err := h.svc.Checkout(ctx, organizer, CheckoutParams{EventID: "draft", Lines: lines}); err == nil || err.Error() != "event is not open for booking yet" {
		t.Fatalf("expected not open error, got %v", err)
	}
	if _, err := h.svc.Checkout(ctx, stranger, CheckoutParams{EventID: "canceled", Lines: lines}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for canceled event, got %v", err)
	}
	if _, err := h.svc.Checkout(ctx, stranger, CheckoutParams{EventID: "started", Lines: lines}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for started event, got %v", err)
	}
}

func TestCheckoutServicePricing(t *testing.T) {
	t.Parallel()

	event := publishedEvent("e1")
	event.TicketTiers[0].LimitPerCustomer = 2
	event.TicketTiers[1].Canceled = true
	h := newCheckoutHarness(t, true, event)
	ctx := context.Background()

	_, err := h.svc.Checkout(ctx, stranger, CheckoutParams{EventID: "e1", Card: "tokn_1", Lines: []AttendeeLine{
		{Name: "Ada", Email: "ada@example.com", TicketID: "e1-general", Quantity: 1},
		{Name: "Bob", Email: "bob@example.com", TicketID: "e1-general", Quantity: 2},
	}})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "lines[1].quantity" {
		t.Fatalf("expected per-customer limit error on the second line, got %v", err)
	}

	_, err = h.svc.Checkout(ctx, stranger, CheckoutParams{EventID: "e1", Card: "tokn_1", Lines: []AttendeeLine{
		{Name: "Ada", Email: "ada@example.com", TicketID: "e1-vip", Quantity: 1},
	}})
	if err == nil || err.Error() != `ticket "VIP" is no longer available` {
		t.Fatalf("expected canceled tier error, got %v", err)
	}

	_, err = h.svc.Checkout(ctx, stranger, CheckoutParams{EventID: "e1", Lines: []AttendeeLine{
		{Name: "Ada", Email: "ada@example.com", TicketID: "e1-general", Quantity: 1},
	}})
	if err == nil || err.Error() != "a payment card or source is required" {
		t.Fatalf("expected missing payment error, got %v", err)
	}
	if len(h.gateway.requests) != 0 {
		t.Fatalf("no charge must be created for rejected orders")
	}
}

func TestCheckoutServiceFreeOrderBooksImmediately(t *testing.T) {
	t.Parallel()

	event := publishedEvent("e1")
	event.TicketTiers[0].Price = 0
	h := newCheckoutHarness(t, false, event)

	result, err := h.svc.Checkout(context.Background(), stranger, CheckoutParams{EventID: "e1", Lines: []AttendeeLine{
		{Name: "Ada", Email: "ada@example.com", TicketID: "e1-general", Quantity: 2},
		{Name: "Bob", Email: "bob@example.com", TicketID: "e1-general", Quantity: 1},
	}})
	if err != nil {
		t.Fatalf("Checkout returned error: %v", err)
	}
	if result.Total != 0 || result.OrderID != "order-1" || len(result.Bookings) != 3 {
		t.Fatalf("unexpected result %+v", result)
	}
	for _, b := range result.Bookings {
		if !b.Paid || b.OrderID != "order-1" || b.UserID != stranger.UserID {
			t.Fatalf("unexpected booking %+v", b)
		}
	}
	confirmations := h.mailer.messages(notify.TemplateBookingConfirmation)
	if len(confirmations) != 2 {
		t.Fatalf("expected one confirmation per attendee email, got %d", len(confirmations))
	}
	if ids, _ := confirmations[0].Data["bookingIds"].([]string); len(ids) != 2 {
		t.Fatalf("expected Ada's confirmation to list two bookings, got %v", confirmations[0].Data["bookingIds"])
	}
}

func TestCheckoutServicePaidOrderWithoutGateway(t *testing.T) {
	t.Parallel()

	h := newCheckoutHarness(t, false, publishedEvent("e1"))
	_, err := h.svc.Checkout(context.Background(), stranger, CheckoutParams{EventID: "e1", Card: "tokn_1", Lines: []AttendeeLine{
		{Name: "Ada", Email: "ada@example.com", TicketID: "e1-general", Quantity: 1},
	}})
	if err == nil || err.Error() != "paid tickets are not available at the moment" {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestCheckoutServicePaidOrderAndWebhook(t *testing.T) {
	t.Parallel()

	h := newCheckoutHarness(t, true, publishedEvent("e1"))
	ctx := context.Background()
	lines := []AttendeeLine{
		{Name: "Ada", Email: "ada@example.com", TicketID: "e1-general", Quantity: 2},
		{Name: "Grace", Email: "grace@example.com", TicketID: "e1-vip", Quantity: 1},
	}

	result, err := h.svc.Checkout(ctx, stranger, CheckoutParams{EventID: "e1", Card: "tokn_1", Lines: lines})
	if err != nil {
		t.Fatalf("Checkout returned error: %v", err)
	}
	if result.Total != 2500 || result.Currency != "thb" || result.ChargeID != "chrg_1" || result.AuthorizeURI == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(result.Bookings) != 0 || len(h.bookings.bookings) != 0 {
		t.Fatalf("paid orders must not be booked before payment is confirmed")
	}

	req := h.gateway.requests[0]
	if req.Amount != 250000 || req.Card != "tokn_1" || req.ReturnURI != "https://app.example/return" {
		t.Fatalf("unexpected charge request %+v", req)
	}
	if req.Metadata["order_id"] != result.OrderID || req.Metadata["event_id"] != "e1" || req.Metadata["payer_id"] != stranger.UserID {
		t.Fatalf("unexpected metadata %v", req.Metadata)
	}
	var carried []AttendeeLine
	if err := json.Unmarshal([]byte(req.Metadata["lines"].(string)), &carried); err != nil || len(carried) != 2 {
		t.Fatalf("lines must round-trip through metadata, got %v (%v)", carried, err)
	}

	charge := payment.Charge{ID: "chrg_1", Status: payment.StatusSuccessful, Metadata: req.Metadata}
	failed := payment.Charge{ID: "chrg_2", Status: payment.StatusFailed, Metadata: req.Metadata}
	h.gateway.events = map[string]payment.Event{
		"evnt_ok":     {ID: "evnt_ok", Key: payment.EventChargeComplete, Charge: &charge},
		"evnt_failed": {ID: "evnt_failed", Key: payment.EventChargeComplete, Charge: &failed},
		"evnt_other":  {ID: "evnt_other", Key: "customer.create"},
	}

	for _, id := range []string{"evnt_failed", "evnt_other"} {
		ignored, err := h.svc.HandlePaymentWebhook(ctx, id)
		if err != nil || ignored.Handled {
			t.Fatalf("%s must be ignored, got %+v, %v", id, ignored, err)
		}
	}
	if _, err := h.svc.HandlePaymentWebhook(ctx, "evnt_unknown"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream for unverifiable events, got %v", err)
	}

	handled, err := h.svc.HandlePaymentWebhook(ctx, "evnt_ok")
	if err != nil {
		t.Fatalf("HandlePaymentWebhook returned error: %v", err)
	}
	if !handled.Handled || handled.OrderID != result.OrderID || len(handled.Bookings) != 3 {
		t.Fatalf("unexpected webhook result %+v", handled)
	}
	for _, b := range h.bookings.bookings {
		if !b.Paid || b.OrderID != result.OrderID || b.UserID != stranger.UserID {
			t.Fatalf("unexpected booking %+v", b)
		}
	}
	if len(h.mailer.messages(notify.TemplateBookingConfirmation)) != 2 {
		t.Fatalf("expected two confirmation mails")
	}
}

func TestCheckoutServiceFailedChargeIsUpstream(t *testing.T) {
	t.Parallel()

	h := newCheckoutHarness(t, true, publishedEvent("e1"))
	h.gateway.charge = payment.Charge{ID: "chrg_x", Status: payment.StatusFailed, FailureMessage: "insufficient funds"}

	result, err := h.svc.Checkout(context.Background(), stranger, CheckoutParams{EventID: "e1", Source: "src_1", Lines: []AttendeeLine{
		{Name: "Ada", Email: "ada@example.com", TicketID: "e1-general", Quantity: 1},
	}})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if result.ChargeID != "chrg_x" {
		t.Fatalf("failed charges are still reported, got %+v", result)
	}

	h.gateway.err = errors.New("connection reset")
	if _, err := h.svc.Checkout(context.Background(), stranger, CheckoutParams{EventID: "e1", Source: "src_1", Lines: []AttendeeLine{
		{Name: "Ada", Email: "ada@example.com", TicketID: "e1-general", Quantity: 1},
	}}); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream for transport failure, got %v", err)
	}
}

func TestBookingsFromMetadata(t *testing.T) {
	t.Parallel()

	if _, err := bookingsFromMetadata(map[string]any{"order_id": "o1"}); err == nil {
		t.Fatalf("incomplete metadata must be rejected")
	}
	if _, err := bookingsFromMetadata(map[string]any{"order_id": "o1", "event_id": "e1", "lines": "{"}); err == nil {
		t.Fatalf("unreadable lines must be rejected")
	}
	params, err := bookingsFromMetadata(map[string]any{
		"order_id": "o1",
		"event_id": "e1",
		"lines":    `[{"name":"Ada","email":"ada@example.com","ticketId":"t1","quantity":2}]`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params.PayerID != "" || !params.Paid || params.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected params %+v", params)
	}
}
