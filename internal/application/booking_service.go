package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/eventhub/internal/notify"
	"github.com/example/eventhub/internal/persistence"
	"github.com/example/eventhub/internal/query"
)

const maxRefundReasonLength = 500

// BookingService manages the booking lifecycle, the refund workflow and the
// booking aggregations used by dashboards.
type BookingService struct {
	bookings    BookingStore
	events      EventReader
	mailer      Mailer
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewBookingService wires dependencies for the booking service. mailer may be nil.
func NewBookingService(bookings BookingStore, events EventReader, mailer Mailer, idGenerator func() string, now func() time.Time) *BookingService {
	return NewBookingServiceWithLogger(bookings, events, mailer, idGenerator, now, nil)
}

// NewBookingServiceWithLogger wires dependencies for the booking service with a logger.
func NewBookingServiceWithLogger(bookings BookingStore, events EventReader, mailer Mailer, idGenerator func() string, now func() time.Time, logger *slog.Logger) *BookingService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &BookingService{
		bookings:    bookings,
		events:      events,
		mailer:      mailer,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *BookingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "BookingService", operation, attrs...)
}

func (s *BookingService) ready() error {
	if s == nil {
		return fmt.Errorf("BookingService is nil")
	}
	if s.bookings == nil {
		return fmt.Errorf("booking repository not configured")
	}
	if s.events == nil {
		return fmt.Errorf("event repository not configured")
	}
	return nil
}

func (s *BookingService) getEvent(ctx context.Context, eventID string) (persistence.Event, error) {
	event, err := s.events.GetEvent(ctx, strings.TrimSpace(eventID))
	if err != nil {
		return persistence.Event{}, mapRepoError(err, "event")
	}
	return event, nil
}

func validateAttendee(line AttendeeLine, index int) error {
	if strings.TrimSpace(line.Name) == "" {
		return invalidf(fmt.Sprintf("lines[%d].name", index), "attendee name is required")
	}
	email := strings.TrimSpace(line.Email)
	if email == "" {
		return invalidf(fmt.Sprintf("lines[%d].email", index), "attendee email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return invalidf(fmt.Sprintf("lines[%d].email", index), "attendee email is invalid")
	}
	if strings.TrimSpace(line.TicketID) == "" {
		return invalidf(fmt.Sprintf("lines[%d].ticketId", index), "a ticket is required for every attendee")
	}
	if line.Quantity < 1 {
		return invalidf(fmt.Sprintf("lines[%d].quantity", index), "ticket quantity must be at least 1")
	}
	return nil
}

// CreateBookings expands attendee lines by quantity and stores one booking
// per ticket, capturing the tier's current price. Capacity is not enforced.
func (s *BookingService) CreateBookings(ctx context.Context, params CreateBookingsParams) (created []persistence.Booking, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CreateBookings", "event_id", params.EventID, "order_id", params.OrderID, "payer_id", params.PayerID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create bookings", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("count", len(created)).InfoContext(ctx, "bookings created")
	}()

	if len(params.Lines) == 0 {
		err = invalid("lines", "at least one attendee is required")
		return
	}
	for i, line := range params.Lines {
		if err = validateAttendee(line, i); err != nil {
			return
		}
	}

	var event persistence.Event
	if event, err = s.getEvent(ctx, params.EventID); err != nil {
		return
	}

	orderID := strings.TrimSpace(params.OrderID)
	if orderID == "" {
		orderID = s.idGenerator()
	}
	now := s.now()

	out := make([]persistence.Booking, 0, len(params.Lines))
	for _, line := range params.Lines {
		idx, ok := findTier(event, strings.TrimSpace(line.TicketID))
		if !ok {
			err = notFound("ticket")
			return
		}
		tier := event.TicketTiers[idx]
		for n := 0; n < line.Quantity; n++ {
			out = append(out, persistence.Booking{
				ID:        s.idGenerator(),
				OrderID:   orderID,
				Name:      strings.TrimSpace(line.Name),
				Email:     strings.ToLower(strings.TrimSpace(line.Email)),
				UserID:    params.PayerID,
				EventID:   event.ID,
				TicketID:  tier.ID,
				Price:     tier.Price,
				Paid:      params.Paid,
				Active:    true,
				CreatedAt: now,
			})
		}
	}

	if err = s.bookings.CreateBookings(ctx, out); err != nil {
		err = mapRepoError(err, "booking")
		return
	}
	created = out
	return
}

// CancelAllBookingsBy deactivates every active booking matching key. Each
// booking is saved on its own; failures are collected in the report.
func (s *BookingService) CancelAllBookingsBy(ctx context.Context, key CascadeKey, value string) (report CascadeReport, err error) {
	if s == nil || s.bookings == nil {
		err = fmt.Errorf("BookingService is not configured")
		return
	}

	logger := s.loggerWith(ctx, "CancelAllBookingsBy", "cascade_key", string(key), "cascade_value", value)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel bookings", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"matched", report.Matched,
			"deactivated", report.Deactivated,
			"failed", len(report.Failures),
		).InfoContext(ctx, "bookings canceled")
	}()

	filter := persistence.BookingFilter{Active: persistence.Flag(true)}
	switch key {
	case CascadeByEvent:
		filter.EventID = value
	case CascadeByTicket:
		filter.TicketID = value
	default:
		err = fmt.Errorf("unknown cascade key %q", key)
		return
	}
	if strings.TrimSpace(value) == "" {
		err = fmt.Errorf("cascade value is required")
		return
	}

	var matches []persistence.Booking
	if matches, err = s.bookings.ListBookings(ctx, filter); err != nil {
		return
	}

	report.Matched = len(matches)
	for _, booking := range matches {
		booking.Active = false
		if saveErr := s.bookings.SaveBooking(ctx, booking); saveErr != nil {
			report.Failures = append(report.Failures, CascadeFailure{BookingID: booking.ID, Err: saveErr})
			continue
		}
		report.Deactivated++
	}
	return
}

// RequestRefund attaches a new refund request to the principal's active
// bookings that have none yet. Other ids are silently left out.
func (s *BookingService) RequestRefund(ctx context.Context, principal Principal, params RequestRefundParams) (result RefundRequestResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "RequestRefund", "principal_id", principal.UserID, "requested", len(params.BookingIDs))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to request refund", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("request_id", result.RequestID, "count", len(result.Bookings)).InfoContext(ctx, "refund requested")
	}()

	if err = RequireAuthenticated(principal); err != nil {
		return
	}
	ids := compactIDs(params.BookingIDs)
	if len(ids) == 0 {
		err = invalid("bookings", "at least one booking is required")
		return
	}
	reason := strings.TrimSpace(params.Reason)
	switch {
	case reason == "":
		err = invalid("reason", "please tell us why you want a refund")
		return
	case utf8.RuneCountInString(reason) > maxRefundReasonLength:
		err = invalidf("reason", "a refund reason must have at most %d characters", maxRefundReasonLength)
		return
	}

	var eligible []persistence.Booking
	eligible, err = s.bookings.ListBookings(ctx, persistence.BookingFilter{
		IDs:              ids,
		UserID:           principal.UserID,
		Active:           persistence.Flag(true),
		HasRefundRequest: persistence.Flag(false),
	})
	if err != nil {
		return
	}
	if len(eligible) == 0 {
		err = invalid("bookings", "none of these bookings can be refunded")
		return
	}

	request := persistence.RefundRequest{
		RequestID: s.idGenerator(),
		CreatedAt: s.now(),
		Reason:    reason,
	}
	for i := range eligible {
		rr := request
		eligible[i].RefundRequest = &rr
		if err = s.bookings.SaveBooking(ctx, eligible[i]); err != nil {
			err = mapRepoError(err, "booking")
			return
		}
	}

	result = RefundRequestResult{RequestID: request.RequestID, Bookings: eligible}
	s.notify(ctx, logger, notify.Message{
		Template: notify.TemplateRefundRequested,
		To:       eligible[0].Email,
		Data: map[string]any{
			"name":      eligible[0].Name,
			"requestId": request.RequestID,
			"count":     len(eligible),
		},
	})
	return
}

// ResolveRefundRequest accepts or rejects an open refund request. Accepted
// requests deactivate their bookings.
func (s *BookingService) ResolveRefundRequest(ctx context.Context, principal Principal, requestID string, status persistence.RefundStatus) (resolved []persistence.Booking, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "ResolveRefundRequest", "principal_id", principal.UserID, "request_id", requestID, "status", string(status))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to resolve refund request", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("count", len(resolved)).InfoContext(ctx, "refund request resolved")
	}()

	if err = RequireAuthenticated(principal); err != nil {
		return
	}

	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		err = invalid("requestId", "refund request id is required")
		return
	}

	var open []persistence.Booking
	open, err = s.bookings.ListBookings(ctx, persistence.BookingFilter{
		RefundRequestID:  requestID,
		HasRefundRequest: persistence.Flag(true),
		RefundResolved:   persistence.Flag(false),
	})
	if err != nil {
		return
	}
	if len(open) == 0 {
		err = notFound("refund request")
		return
	}
	if err = s.authorizeBookings(ctx, principal, open); err != nil {
		return
	}

	out := make([]persistence.Booking, 0, len(open))
	for _, booking := range open {
		if booking.RefundRequest == nil || booking.RefundRequest.RequestID != requestID {
			continue
		}
		rr := *booking.RefundRequest
		rr.Status = status
		rr.Resolved = true
		if err = validateRefundRequest(rr); err != nil {
			return
		}
		booking.RefundRequest = &rr
		if status == persistence.RefundAccepted {
			booking.Active = false
		}
		if err = s.bookings.SaveBooking(ctx, booking); err != nil {
			err = mapRepoError(err, "booking")
			return
		}
		out = append(out, booking)
	}
	if len(out) == 0 {
		err = notFound("refund request")
		return
	}

	resolved = out
	s.notify(ctx, logger, notify.Message{
		Template: notify.TemplateRefundResolved,
		To:       out[0].Email,
		Data: map[string]any{
			"name":      out[0].Name,
			"requestId": out[0].RefundRequest.RequestID,
			"status":    string(status),
		},
	})
	return
}

// validateRefundRequest guards the refund sub-document invariants.
func validateRefundRequest(rr persistence.RefundRequest) error {
	if rr.Resolved && rr.Status == "" {
		return stateError("a refund request cannot be resolved without a status")
	}
	switch rr.Status {
	case "", persistence.RefundAccepted, persistence.RefundRejected:
	default:
		return invalidf("status", "refund status must be %q or %q", persistence.RefundAccepted, persistence.RefundRejected)
	}
	if rr.RefundProcessed && rr.Status != persistence.RefundAccepted {
		return stateError("only accepted refund requests can be processed")
	}
	return nil
}

// MarkRefundProcessed records that the money for an accepted request was
// returned. Administrators only.
func (s *BookingService) MarkRefundProcessed(ctx context.Context, principal Principal, requestID string) (processed []persistence.Booking, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "MarkRefundProcessed", "principal_id", principal.UserID, "request_id", requestID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to mark refund processed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("count", len(processed)).InfoContext(ctx, "refund processed")
	}()

	if err = RequireAdmin(principal); err != nil {
		return
	}

	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		err = invalid("requestId", "refund request id is required")
		return
	}

	var matches []persistence.Booking
	matches, err = s.bookings.ListBookings(ctx, persistence.BookingFilter{
		RefundRequestID:  requestID,
		HasRefundRequest: persistence.Flag(true),
	})
	if err != nil {
		return
	}
	if len(matches) == 0 {
		err = notFound("refund request")
		return
	}

	out := make([]persistence.Booking, 0, len(matches))
	for _, booking := range matches {
		if booking.RefundRequest == nil || booking.RefundRequest.RequestID != requestID {
			continue
		}
		rr := *booking.RefundRequest
		if !rr.Resolved {
			err = stateError("refund request is not resolved yet")
			return
		}
		if rr.RefundProcessed {
			err = stateError("refund already processed")
			return
		}
		rr.RefundProcessed = true
		if err = validateRefundRequest(rr); err != nil {
			return
		}
		booking.RefundRequest = &rr
		if err = s.bookings.SaveBooking(ctx, booking); err != nil {
			err = mapRepoError(err, "booking")
			return
		}
		out = append(out, booking)
	}
	if len(out) == 0 {
		err = notFound("refund request")
		return
	}
	processed = out
	return
}

// authorizeBookings requires the principal to manage every event touched by bookings.
func (s *BookingService) authorizeBookings(ctx context.Context, principal Principal, bookings []persistence.Booking) error {
	if principal.IsAdmin() {
		return nil
	}
	checked := make(map[string]struct{})
	for _, booking := range bookings {
		if _, ok := checked[booking.EventID]; ok {
			continue
		}
		event, err := s.getEvent(ctx, booking.EventID)
		if err != nil {
			return err
		}
		if !CanManageEvent(principal, event) {
			return ErrForbidden
		}
		checked[booking.EventID] = struct{}{}
	}
	return nil
}

// GetMyBookedEvents groups the principal's active bookings by event.
func (s *BookingService) GetMyBookedEvents(ctx context.Context, principal Principal) (booked []BookedEvent, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "GetMyBookedEvents", "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list booked events", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	if err = RequireAuthenticated(principal); err != nil {
		return
	}

	var counts []persistence.EventBookingCount
	if counts, err = s.bookings.CountActiveByEventForUser(ctx, principal.UserID); err != nil {
		return
	}

	booked = make([]BookedEvent, 0, len(counts))
	for _, c := range counts {
		event, getErr := s.events.GetEvent(ctx, c.EventID)
		if getErr != nil {
			if errors.Is(getErr, persistence.ErrNotFound) {
				continue
			}
			err = getErr
			return
		}
		booked = append(booked, BookedEvent{Event: event, TotalBookingsForThisUser: c.Count})
	}
	return
}

// GetMyBookings lists every booking held by the principal.
func (s *BookingService) GetMyBookings(ctx context.Context, principal Principal) ([]persistence.Booking, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := RequireAuthenticated(principal); err != nil {
		return nil, err
	}
	return s.bookings.ListBookings(ctx, persistence.BookingFilter{UserID: principal.UserID})
}

// GetEventRefundRequests groups the open refund requests of an event, one
// summary per request id, with a per-tier price breakdown.
func (s *BookingService) GetEventRefundRequests(ctx context.Context, principal Principal, eventID string) (summaries []RefundRequestSummary, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "GetEventRefundRequests", "principal_id", principal.UserID, "event_id", eventID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list refund requests", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	var event persistence.Event
	if event, err = s.getEvent(ctx, eventID); err != nil {
		return
	}
	if err = AuthorizeEventMutation(principal, event); err != nil {
		return
	}

	var flagged []persistence.Booking
	flagged, err = s.bookings.ListBookings(ctx, persistence.BookingFilter{
		EventID:          event.ID,
		HasRefundRequest: persistence.Flag(true),
		RefundResolved:   persistence.Flag(false),
	})
	if err != nil {
		return
	}

	tierNames := make(map[string]string, len(event.TicketTiers))
	for _, tier := range event.TicketTiers {
		tierNames[tier.ID] = tier.Name
	}

	index := make(map[string]int)
	summaries = make([]RefundRequestSummary, 0)
	for _, booking := range flagged {
		rr := booking.RefundRequest
		pos, ok := index[rr.RequestID]
		if !ok {
			pos = len(summaries)
			index[rr.RequestID] = pos
			summaries = append(summaries, RefundRequestSummary{
				RequestID: rr.RequestID,
				CreatedAt: rr.CreatedAt,
				Reason:    rr.Reason,
				UserID:    booking.UserID,
				Name:      booking.Name,
				Email:     booking.Email,
			})
		}
		summary := &summaries[pos]
		summary.BookingIDs = append(summary.BookingIDs, booking.ID)
		summary.Total += booking.Price
		summary.Tickets = addRefundLine(summary.Tickets, booking, tierNames[booking.TicketID])
	}
	return
}

func addRefundLine(lines []RefundTicketLine, booking persistence.Booking, tierName string) []RefundTicketLine {
	for i := range lines {
		if lines[i].TicketID == booking.TicketID && lines[i].Price == booking.Price {
			lines[i].Quantity++
			lines[i].Subtotal += booking.Price
			return lines
		}
	}
	return append(lines, RefundTicketLine{
		TicketID: booking.TicketID,
		TierName: tierName,
		Price:    booking.Price,
		Quantity: 1,
		Subtotal: booking.Price,
	})
}

// GetEventBookingStats reports sales per tier for the organizer dashboard.
func (s *BookingService) GetEventBookingStats(ctx context.Context, principal Principal, eventID string) (stats EventStats, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "GetEventBookingStats", "principal_id", principal.UserID, "event_id", eventID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to compute booking stats", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	var event persistence.Event
	if event, err = s.getEvent(ctx, eventID); err != nil {
		return
	}
	if err = AuthorizeEventMutation(principal, event); err != nil {
		return
	}

	var aggregates []persistence.TicketAggregate
	if aggregates, err = s.bookings.AggregateByTicket(ctx, event.ID); err != nil {
		return
	}
	revenue := make(map[string]float64, len(aggregates))
	for _, agg := range aggregates {
		revenue[agg.TicketID] = agg.Revenue
	}

	view := BuildEventView(event, aggregates)
	stats = EventStats{
		EventID:       event.ID,
		TotalCapacity: event.TotalCapacity,
		TotalBookings: view.TotalBookings,
		Tiers:         make([]TierStats, 0, len(view.Tiers)),
	}
	for _, tier := range view.Tiers {
		stats.TotalRevenue += revenue[tier.ID]
		stats.Tiers = append(stats.Tiers, TierStats{
			TicketID: tier.ID,
			Name:     tier.Name,
			Capacity: tier.Capacity,
			Canceled: tier.Canceled,
			Booked:   tier.Booked,
			Revenue:  revenue[tier.ID],
			SoldOut:  tier.SoldOut,
		})
	}
	return
}

// ListBookings returns bookings matching q. Administrators only.
func (s *BookingService) ListBookings(ctx context.Context, principal Principal, q query.Query) (page query.Page[persistence.Booking], err error) {
	if err = s.ready(); err != nil {
		return
	}
	if err = RequireAdmin(principal); err != nil {
		return
	}
	items, total, findErr := s.bookings.FindBookings(ctx, q)
	if findErr != nil {
		err = findErr
		s.loggerWith(ctx, "ListBookings").ErrorContext(ctx, "failed to list bookings", "error", err, "error_kind", ErrorKind(err))
		return
	}
	page = query.NewPage(items, total, q.Pagination)
	return
}

// GetBooking returns one booking to its holder, the event organizer or an admin.
func (s *BookingService) GetBooking(ctx context.Context, principal Principal, bookingID string) (booking persistence.Booking, err error) {
	if err = s.ready(); err != nil {
		return
	}
	if err = RequireAuthenticated(principal); err != nil {
		return
	}

	if booking, err = s.bookings.GetBooking(ctx, strings.TrimSpace(bookingID)); err != nil {
		err = mapRepoError(err, "booking")
		return
	}
	var event persistence.Event
	if event, err = s.events.GetEvent(ctx, booking.EventID); err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return persistence.Booking{}, err
	}
	err = nil
	if !CanViewBooking(principal, booking, event) {
		return persistence.Booking{}, ErrForbidden
	}
	return
}

// CreateBookingDirect stores a single booking on behalf of an administrator.
func (s *BookingService) CreateBookingDirect(ctx context.Context, principal Principal, input DirectBookingInput) (persistence.Booking, error) {
	if err := s.ready(); err != nil {
		return persistence.Booking{}, err
	}
	if err := RequireAdmin(principal); err != nil {
		return persistence.Booking{}, err
	}
	lines := []AttendeeLine{{
		Name:     input.Name,
		Email:    input.Email,
		TicketID: input.TicketID,
		Quantity: 1,
	}}

	event, err := s.getEvent(ctx, input.EventID)
	if err != nil {
		return persistence.Booking{}, err
	}
	if event.Canceled {
		return persistence.Booking{}, stateError("event has been canceled")
	}
	if _, err := priceOrder(event, lines); err != nil {
		return persistence.Booking{}, err
	}

	created, err := s.CreateBookings(ctx, CreateBookingsParams{
		EventID: event.ID,
		PayerID: strings.TrimSpace(input.UserID),
		Paid:    input.Paid,
		Lines:   lines,
	})
	if err != nil {
		return persistence.Booking{}, err
	}
	return created[0], nil
}

// DeleteBooking hard-deletes a booking. Administrators only.
func (s *BookingService) DeleteBooking(ctx context.Context, principal Principal, bookingID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := RequireAdmin(principal); err != nil {
		return err
	}
	logger := s.loggerWith(ctx, "DeleteBooking", "principal_id", principal.UserID, "booking_id", bookingID)
	if err := s.bookings.DeleteBooking(ctx, strings.TrimSpace(bookingID)); err != nil {
		err = mapRepoError(err, "booking")
		logger.ErrorContext(ctx, "failed to delete booking", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	logger.InfoContext(ctx, "booking deleted")
	return nil
}

// notify sends a message and only logs failures; mail is fire and forget
// for booking flows.
func (s *BookingService) notify(ctx context.Context, logger *slog.Logger, msg notify.Message) {
	if s.mailer == nil || msg.To == "" {
		return
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		err = upstream("mailer", err)
		logger.WarnContext(ctx, "notification not sent", "template", msg.Template, "error", err, "error_kind", ErrorKind(err))
	}
}

func compactIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
