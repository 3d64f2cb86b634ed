package application

import (
	"context"
	"errors"
	"testing"

	"github.com/example/eventhub/internal/notify"
	"github.com/example/eventhub/internal/persistence"
	"github.com/example/eventhub/internal/query"
)

func newTestBookingService(bookings *bookingStoreStub, events *eventStoreStub, mailer *mailerStub) *BookingService {
	var m Mailer
	if mailer != nil {
		m = mailer
	}
	return NewBookingService(bookings, events, m, newSequence("bk").next, fixedNow)
}

func activeBooking(id, eventID, ticketID, userID string, price float64) persistence.Booking {
	return persistence.Booking{
		ID:        id,
		OrderID:   "order-" + id,
		Name:      "Guest " + id,
		Email:     id + "@example.com",
		UserID:    userID,
		EventID:   eventID,
		TicketID:  ticketID,
		Price:     price,
		Paid:      true,
		Active:    true,
		CreatedAt: testNow,
	}
}

func TestBookingServiceCreateBookings(t *testing.T) {
	t.Parallel()

	events := newEventStoreStub(sampleEvent("e1", organizer.UserID))
	bookings := newBookingStoreStub()
	svc := newTestBookingService(bookings, events, nil)

	created, err := svc.CreateBookings(context.Background(), CreateBookingsParams{
		EventID: "e1",
		PayerID: "payer-1",
		Paid:    true,
		Lines: []AttendeeLine{
			{Name: "Ada", Email: "ADA@example.com", TicketID: "e1-general", Quantity: 2},
			{Name: "Grace", Email: "grace@example.com", TicketID: "e1-vip", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateBookings returned error: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("expected quantity expansion to 3 bookings, got %d", len(created))
	}
	orderID := created[0].OrderID
	if orderID != "bk-1" {
		t.Fatalf("expected generated order id bk-1, got %q", orderID)
	}
	for _, b := range created {
		if b.OrderID != orderID || !b.Active || !b.Paid || b.UserID != "payer-1" {
			t.Fatalf("unexpected booking %+v", b)
		}
	}
	if created[0].Email != "ada@example.com" || created[0].Price != 500 || created[2].Price != 1500 {
		t.Fatalf("unexpected captured values %+v", created)
	}
	if len(bookings.bookings) != 3 {
		t.Fatalf("bookings were not stored")
	}

	_, err = svc.CreateBookings(context.Background(), CreateBookingsParams{
		EventID: "e1",
		Lines:   []AttendeeLine{{Name: "Ada", Email: "ada@example.com", TicketID: "e1-general", Quantity: 0}},
	})
	if err == nil || err.Error() != "ticket quantity must be at least 1" {
		t.Fatalf("expected quantity error, got %v", err)
	}

	_, err = svc.CreateBookings(context.Background(), CreateBookingsParams{
		EventID: "e1",
		Lines:   []AttendeeLine{{Name: "Ada", Email: "ada@example.com", TicketID: "nope", Quantity: 1}},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown ticket, got %v", err)
	}
}

func TestBookingServiceCancelAllBookingsBy(t *testing.T) {
	t.Parallel()

	bookings := newBookingStoreStub(
		activeBooking("b1", "e1", "e1-general", "u1", 500),
		activeBooking("b2", "e1", "e1-vip", "u1", 1500),
		activeBooking("b3", "e1", "e1-vip", "u2", 1500),
		activeBooking("b4", "e2", "e2-general", "u1", 500),
	)
	bookings.failSave["b3"] = errors.New("disk full")
	svc := newTestBookingService(bookings, newEventStoreStub(), nil)

	report, err := svc.CancelAllBookingsBy(context.Background(), CascadeByTicket, "e1-vip")
	if err != nil {
		t.Fatalf("CancelAllBookingsBy returned error: %v", err)
	}
	if report.Matched != 2 || report.Deactivated != 1 || len(report.Failures) != 1 || report.Failures[0].BookingID != "b3" {
		t.Fatalf("unexpected report %+v", report)
	}
	if bookings.get("b2").Active || !bookings.get("b1").Active {
		t.Fatalf("only vip bookings must be deactivated")
	}

	delete(bookings.failSave, "b3")
	report, err = svc.CancelAllBookingsBy(context.Background(), CascadeByEvent, "e1")
	if err != nil {
		t.Fatalf("CancelAllBookingsBy returned error: %v", err)
	}
	if report.Matched != 2 || report.Deactivated != 2 {
		t.Fatalf("unexpected event cascade report %+v", report)
	}
	if !bookings.get("b4").Active {
		t.Fatalf("bookings of other events must stay active")
	}

	if _, err := svc.CancelAllBookingsBy(context.Background(), CascadeKey("order"), "x"); err == nil {
		t.Fatalf("expected error for unknown cascade key")
	}
}

func TestBookingServiceRefundFlow(t *testing.T) {
	t.Parallel()

	holder := Principal{UserID: "u1", Role: persistence.RoleUser}
	events := newEventStoreStub(sampleEvent("e1", organizer.UserID))
	bookings := newBookingStoreStub(
		activeBooking("b1", "e1", "e1-general", "u1", 500),
		activeBooking("b2", "e1", "e1-general", "u1", 500),
		activeBooking("b3", "e1", "e1-vip", "u1", 1500),
		activeBooking("b4", "e1", "e1-vip", "u2", 1500),
	)
	mailer := &mailerStub{}
	svc := newTestBookingService(bookings, events, mailer)
	ctx := context.Background()

	if _, err := svc.RequestRefund(ctx, holder, RequestRefundParams{BookingIDs: []string{"b1"}}); err == nil || err.Error() != "please tell us why you want a refund" {
		t.Fatalf("expected missing reason error, got %v", err)
	}
	if _, err := svc.RequestRefund(ctx, holder, RequestRefundParams{BookingIDs: []string{"b4"}, Reason: "sick"}); err == nil || err.Error() != "none of these bookings can be refunded" {
		t.Fatalf("expected no eligible bookings error, got %v", err)
	}

	requested, err := svc.RequestRefund(ctx, holder, RequestRefundParams{BookingIDs: []string{"b1", "b2", "b3", "b4", "b1"}, Reason: " sick "})
	if err != nil {
		t.Fatalf("RequestRefund returned error: %v", err)
	}
	if len(requested.Bookings) != 3 {
		t.Fatalf("expected the holder's three bookings, got %d", len(requested.Bookings))
	}
	if rr := bookings.get("b2").RefundRequest; rr == nil || rr.RequestID != requested.RequestID || rr.Reason != "sick" || rr.Resolved {
		t.Fatalf("unexpected refund request %+v", rr)
	}
	if bookings.get("b4").RefundRequest != nil {
		t.Fatalf("another user's booking must not be included")
	}
	if len(mailer.messages(notify.TemplateRefundRequested)) != 1 {
		t.Fatalf("expected one refund requested mail")
	}

	if _, err := svc.RequestRefund(ctx, holder, RequestRefundParams{BookingIDs: []string{"b1"}, Reason: "again"}); err == nil {
		t.Fatalf("bookings with a refund request must not be requested again")
	}

	summaries, err := svc.GetEventRefundRequests(ctx, organizer, "e1")
	if err != nil {
		t.Fatalf("GetEventRefundRequests returned error: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected one summary, got %d", len(summaries))
	}
	summary := summaries[0]
	if summary.Total != 2500 || len(summary.BookingIDs) != 3 || len(summary.Tickets) != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Tickets[0].TierName != "General" || summary.Tickets[0].Quantity != 2 || summary.Tickets[0].Subtotal != 1000 {
		t.Fatalf("unexpected ticket line %+v", summary.Tickets[0])
	}
	if _, err := svc.GetEventRefundRequests(ctx, stranger, "e1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for stranger, got %v", err)
	}

	if _, err := svc.ResolveRefundRequest(ctx, stranger, requested.RequestID, persistence.RefundAccepted); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden resolving as stranger, got %v", err)
	}
	if _, err := svc.ResolveRefundRequest(ctx, organizer, requested.RequestID, ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState resolving without status, got %v", err)
	}
	if _, err := svc.MarkRefundProcessed(ctx, admin, requested.RequestID); err == nil || err.Error() != "refund request is not resolved yet" {
		t.Fatalf("expected unresolved error, got %v", err)
	}

	resolved, err := svc.ResolveRefundRequest(ctx, organizer, requested.RequestID, persistence.RefundAccepted)
	if err != nil {
		t.Fatalf("ResolveRefundRequest returned error: %v", err)
	}
	if len(resolved) != 3 {
		t.Fatalf("expected three resolved bookings, got %d", len(resolved))
	}
	for _, id := range []string{"b1", "b2", "b3"} {
		b := bookings.get(id)
		if b.Active || !b.RefundRequest.Resolved || b.RefundRequest.Status != persistence.RefundAccepted {
			t.Fatalf("booking %s not resolved: %+v", id, b)
		}
	}
	if len(mailer.messages(notify.TemplateRefundResolved)) != 1 {
		t.Fatalf("expected one refund resolved mail")
	}
	if _, err := svc.ResolveRefundRequest(ctx, organizer, requested.RequestID, persistence.RefundRejected); !errors.Is(err, ErrNotFound) {
		t.Fatalf("resolved requests are no longer open, got %v", err)
	}

	if _, err := svc.MarkRefundProcessed(ctx, organizer, requested.RequestID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-admin, got %v", err)
	}
	processed, err := svc.MarkRefundProcessed(ctx, admin, requested.RequestID)
	if err != nil {
		t.Fatalf("MarkRefundProcessed returned error: %v", err)
	}
	if len(processed) != 3 || !bookings.get("b1").RefundRequest.RefundProcessed {
		t.Fatalf("refund not processed")
	}
	if _, err := svc.MarkRefundProcessed(ctx, admin, requested.RequestID); err == nil || err.Error() != "refund already processed" {
		t.Fatalf("expected already processed error, got %v", err)
	}
}

func TestBookingServiceRejectedRefundCannotBeProcessed(t *testing.T) {
	t.Parallel()

	rejected := activeBooking("b1", "e1", "e1-general", "u1", 500)
	rejected.RefundRequest = &persistence.RefundRequest{RequestID: "rr-1", Resolved: true, Status: persistence.RefundRejected, Reason: "late"}
	bookings := newBookingStoreStub(rejected)
	svc := newTestBookingService(bookings, newEventStoreStub(sampleEvent("e1", organizer.UserID)), nil)

	_, err := svc.MarkRefundProcessed(context.Background(), admin, "rr-1")
	if !errors.Is(err, ErrInvalidState) || err.Error() != "only accepted refund requests can be processed" {
		t.Fatalf("expected processing error, got %v", err)
	}
	if !bookings.get("b1").Active {
		t.Fatalf("rejected booking must stay active")
	}
}

func TestBookingServiceRefundRequiresRequestID(t *testing.T) {
	t.Parallel()

	open := activeBooking("b1", "e1", "e1-general", "u1", 500)
	open.RefundRequest = &persistence.RefundRequest{RequestID: "req-A", Reason: "sick"}
	bookings := newBookingStoreStub(open, activeBooking("b2", "e1", "e1-general", "u2", 500))
	svc := newTestBookingService(bookings, newEventStoreStub(sampleEvent("e1", organizer.UserID)), nil)
	ctx := context.Background()

	for _, id := range []string{"", " "} {
		var vErr *ValidationError
		if _, err := svc.ResolveRefundRequest(ctx, admin, id, persistence.RefundAccepted); !errors.As(err, &vErr) || vErr.Field != "requestId" {
			t.Fatalf("ResolveRefundRequest(%q): expected requestId validation error, got %v", id, err)
		}
		if _, err := svc.MarkRefundProcessed(ctx, admin, id); !errors.As(err, &vErr) || vErr.Field != "requestId" {
			t.Fatalf("MarkRefundProcessed(%q): expected requestId validation error, got %v", id, err)
		}
	}

	b1 := bookings.get("b1")
	if !b1.Active || b1.RefundRequest.Resolved || b1.RefundRequest.Status != "" {
		t.Fatalf("unrelated refund request was touched: %+v", b1.RefundRequest)
	}
	if b2 := bookings.get("b2"); !b2.Active || b2.RefundRequest != nil {
		t.Fatalf("booking without a request was touched: %+v", b2)
	}
}

func TestBookingServiceReadSide(t *testing.T) {
	t.Parallel()

	holder := Principal{UserID: "u1", Role: persistence.RoleUser}
	first := sampleEvent("e1", organizer.UserID)
	first.TotalCapacity = 3
	first.TicketTiers[0].Capacity = 2
	first.TicketTiers[1].Capacity = 1
	second := sampleEvent("e2", organizer.UserID)
	inactive := activeBooking("b5", "e1", "e1-vip", "u1", 1500)
	inactive.Active = false

	events := newEventStoreStub(first, second)
	bookings := newBookingStoreStub(
		activeBooking("b1", "e1", "e1-general", "u1", 500),
		activeBooking("b2", "e1", "e1-general", "u2", 450),
		activeBooking("b3", "e2", "e2-vip", "u1", 1500),
		activeBooking("b4", "gone", "gone-general", "u1", 500),
		inactive,
	)
	svc := newTestBookingService(bookings, events, nil)
	ctx := context.Background()

	booked, err := svc.GetMyBookedEvents(ctx, holder)
	if err != nil {
		t.Fatalf("GetMyBookedEvents returned error: %v", err)
	}
	if len(booked) != 2 || booked[0].Event.ID != "e1" || booked[0].TotalBookingsForThisUser != 1 {
		t.Fatalf("unexpected booked events %+v", booked)
	}

	mine, err := svc.GetMyBookings(ctx, holder)
	if err != nil {
		t.Fatalf("GetMyBookings returned error: %v", err)
	}
	if len(mine) != 4 {
		t.Fatalf("expected all four of the holder's bookings, got %d", len(mine))
	}

	stats, err := svc.GetEventBookingStats(ctx, organizer, "e1")
	if err != nil {
		t.Fatalf("GetEventBookingStats returned error: %v", err)
	}
	if stats.TotalBookings != 2 || stats.TotalRevenue != 950 || stats.TotalCapacity != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if !stats.Tiers[0].SoldOut || stats.Tiers[0].Revenue != 950 || stats.Tiers[1].Booked != 0 || stats.Tiers[1].SoldOut {
		t.Fatalf("unexpected tier stats %+v", stats.Tiers)
	}

	if _, err := svc.GetBooking(ctx, holder, "b2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden reading another user's booking, got %v", err)
	}
	if _, err := svc.GetBooking(ctx, organizer, "b2"); err != nil {
		t.Fatalf("organizer must read bookings of their event, got %v", err)
	}
	if _, err := svc.GetBooking(ctx, holder, "b4"); err != nil {
		t.Fatalf("holder must read own booking of a missing event, got %v", err)
	}

	if _, err := svc.ListBookings(ctx, holder, query.Query{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden listing as user, got %v", err)
	}
	page, err := svc.ListBookings(ctx, admin, query.Query{})
	if err != nil || page.Total != 5 {
		t.Fatalf("unexpected admin list %+v, %v", page, err)
	}
}

func TestBookingServiceAdminWrites(t *testing.T) {
	t.Parallel()

	bookings := newBookingStoreStub()
	svc := newTestBookingService(bookings, newEventStoreStub(sampleEvent("e1", organizer.UserID)), nil)
	ctx := context.Background()
	input := DirectBookingInput{EventID: "e1", TicketID: "e1-vip", Name: "Ada", Email: "ada@example.com", UserID: "u9"}

	if _, err := svc.CreateBookingDirect(ctx, organizer, input); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	created, err := svc.CreateBookingDirect(ctx, admin, input)
	if err != nil {
		t.Fatalf("CreateBookingDirect returned error: %v", err)
	}
	if created.Price != 1500 || created.UserID != "u9" || created.Paid {
		t.Fatalf("unexpected booking %+v", created)
	}

	if err := svc.DeleteBooking(ctx, admin, created.ID); err != nil {
		t.Fatalf("DeleteBooking returned error: %v", err)
	}
	if err := svc.DeleteBooking(ctx, admin, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestBookingServiceDirectBookingRejectsCanceledTickets(t *testing.T) {
	t.Parallel()

	withCanceledTier := sampleEvent("e1", organizer.UserID)
	withCanceledTier.TicketTiers[1].Canceled = true
	canceledEvent := sampleEvent("e2", organizer.UserID)
	canceledEvent.Canceled = true
	bookings := newBookingStoreStub()
	svc := newTestBookingService(bookings, newEventStoreStub(withCanceledTier, canceledEvent), nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		input   DirectBookingInput
		wantMsg string
	}{
		{
			name:    "canceled tier",
			input:   DirectBookingInput{EventID: "e1", TicketID: "e1-vip", Name: "Ada", Email: "ada@example.com"},
			wantMsg: `ticket "VIP" is no longer available`,
		},
		{
			name:    "canceled event",
			input:   DirectBookingInput{EventID: "e2", TicketID: "e2-general", Name: "Ada", Email: "ada@example.com"},
			wantMsg: "event has been canceled",
		},
	}
	for _, tc := range tests {
		_, err := svc.CreateBookingDirect(ctx, admin, tc.input)
		if !errors.Is(err, ErrInvalidState) || err.Error() != tc.wantMsg {
			t.Fatalf("%s: expected %q, got %v", tc.name, tc.wantMsg, err)
		}
	}
	if len(bookings.bookings) != 0 {
		t.Fatalf("no booking should be stored, got %d", len(bookings.bookings))
	}

	if _, err := svc.CreateBookingDirect(ctx, admin, DirectBookingInput{EventID: "e1", TicketID: "e1-general", Name: "Ada", Email: "ada@example.com"}); err != nil {
		t.Fatalf("active tier should still be bookable, got %v", err)
	}
}
