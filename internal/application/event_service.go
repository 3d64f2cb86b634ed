package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/example/eventhub/internal/persistence"
	"github.com/example/eventhub/internal/query"
)

// EventService enforces the event aggregate invariants and lifecycle gates.
type EventService struct {
	events      EventStore
	tickets     TicketAggregator
	cascade     BookingCanceler
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewEventService wires dependencies for the event service.
func NewEventService(events EventStore, tickets TicketAggregator, cascade BookingCanceler, idGenerator func() string, now func() time.Time) *EventService {
	return NewEventServiceWithLogger(events, tickets, cascade, idGenerator, now, nil)
}

// NewEventServiceWithLogger wires dependencies for the event service with a logger.
func NewEventServiceWithLogger(events EventStore, tickets TicketAggregator, cascade BookingCanceler, idGenerator func() string, now func() time.Time, logger *slog.Logger) *EventService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &EventService{
		events:      events,
		tickets:     tickets,
		cascade:     cascade,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *EventService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "EventService", operation, attrs...)
}

func (s *EventService) ready() error {
	if s == nil {
		return fmt.Errorf("EventService is nil")
	}
	if s.events == nil {
		return fmt.Errorf("event repository not configured")
	}
	return nil
}

// loadForMutation fetches the event and applies the actor and state gates
// shared by every write operation.
func (s *EventService) loadForMutation(ctx context.Context, principal Principal, eventID string) (persistence.Event, error) {
	if err := RequireAuthenticated(principal); err != nil {
		return persistence.Event{}, err
	}
	event, err := s.events.GetEvent(ctx, strings.TrimSpace(eventID))
	if err != nil {
		return persistence.Event{}, mapRepoError(err, "event")
	}
	if err := AuthorizeEventMutation(principal, event); err != nil {
		return persistence.Event{}, err
	}
	if err := checkMutable(event, s.now()); err != nil {
		return persistence.Event{}, err
	}
	return event, nil
}

// CreateEvent validates the input and stores a new draft owned by the principal.
func (s *EventService) CreateEvent(ctx context.Context, principal Principal, input EventInput) (event persistence.Event, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CreateEvent", "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create event", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("event_id", event.ID).InfoContext(ctx, "event created")
	}()

	if err = RequireAuthenticated(principal); err != nil {
		return
	}
	for i, tier := range input.TicketTiers {
		if err = ValidateTicketTier(tier, i); err != nil {
			return
		}
	}

	now := s.now()
	candidate := persistence.Event{
		ID:            s.idGenerator(),
		Name:          strings.TrimSpace(input.Name),
		Type:          input.Type,
		Category:      input.Category,
		Description:   strings.TrimSpace(input.Description),
		TicketTiers:   mergeTiers(nil, input.TicketTiers, s.idGenerator),
		DateTimeStart: input.DateTimeStart.UTC(),
		DateTimeEnd:   input.DateTimeEnd.UTC(),
		Address:       strings.TrimSpace(input.Address),
		TotalCapacity: input.TotalCapacity,
		OrganizerID:   principal.UserID,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if input.Location != nil {
		loc := *input.Location
		candidate.Location = &loc
	}

	if err = ValidateEvent(candidate, now); err != nil {
		return
	}
	if err = s.events.CreateEvent(ctx, candidate); err != nil {
		err = mapRepoError(err, "event")
		return
	}

	event = candidate
	return
}

// UpdateEvent applies the mutable fields of patch after the actor and state
// gates, then re-validates the whole aggregate.
func (s *EventService) UpdateEvent(ctx context.Context, principal Principal, eventID string, patch EventPatch) (event persistence.Event, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "UpdateEvent", "principal_id", principal.UserID, "event_id", eventID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update event", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("version", event.Version).InfoContext(ctx, "event updated")
	}()

	var stored persistence.Event
	if stored, err = s.loadForMutation(ctx, principal, eventID); err != nil {
		return
	}
	if patch.TicketTiers != nil && len(patch.TicketTiers) < len(stored.TicketTiers) {
		err = stateError("tickets cannot be removed from an event, cancel them instead")
		return
	}
	for i, tier := range patch.TicketTiers {
		if err = ValidateTicketTier(tier, i); err != nil {
			return
		}
	}

	now := s.now()
	candidate := applyEventPatch(stored, patch, s.idGenerator)
	candidate.UpdatedAt = now
	if err = ValidateEvent(candidate, now); err != nil {
		return
	}
	if err = s.events.SaveEvent(ctx, candidate); err != nil {
		err = mapRepoError(err, "event")
		return
	}

	candidate.Version = stored.Version + 1
	event = candidate
	return
}

// PublishEvent sets the fee and refund policies and makes the event public.
func (s *EventService) PublishEvent(ctx context.Context, principal Principal, eventID string, input PublishInput) (event persistence.Event, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "PublishEvent", "principal_id", principal.UserID, "event_id", eventID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to publish event", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("fee_policy", event.FeePolicy).InfoContext(ctx, "event published")
	}()

	var stored persistence.Event
	if stored, err = s.loadForMutation(ctx, principal, eventID); err != nil {
		return
	}
	if stored.Published {
		err = stateError("event already published")
		return
	}

	feePolicy := strings.TrimSpace(input.FeePolicy)
	if feePolicy == "" {
		err = invalid("feePolicy", "a fee policy is required to publish an event")
		return
	}
	if !oneOf(feePolicy, FeePolicies) {
		err = invalidf("feePolicy", "fee policy must be one of: %s", strings.Join(FeePolicies, ", "))
		return
	}
	refundPolicy := strings.TrimSpace(input.RefundPolicy)
	if len([]rune(refundPolicy)) > maxRefundPolicyLength {
		err = invalidf("refundPolicy", "a refund policy must have at most %d characters", maxRefundPolicyLength)
		return
	}

	candidate := stored
	candidate.FeePolicy = feePolicy
	candidate.RefundPolicy = refundPolicy
	candidate.Published = true
	candidate.UpdatedAt = s.now()
	if err = s.events.SaveEvent(ctx, candidate); err != nil {
		err = mapRepoError(err, "event")
		return
	}

	candidate.Version = stored.Version + 1
	event = candidate
	return
}

// CancelEvent marks the event canceled and deactivates its bookings. The
// cascade is best effort; failures are reported, not rolled back.
func (s *EventService) CancelEvent(ctx context.Context, principal Principal, eventID string) (result CancelEventResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CancelEvent", "principal_id", principal.UserID, "event_id", eventID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel event", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"bookings_deactivated", result.Cascade.Deactivated,
			"cascade_failures", len(result.Cascade.Failures),
		).InfoContext(ctx, "event canceled")
	}()

	var stored persistence.Event
	if stored, err = s.loadForMutation(ctx, principal, eventID); err != nil {
		return
	}

	// Bookings go first so a failed lookup leaves the event open for a retry.
	if result.Cascade, err = s.runCascade(ctx, logger, CascadeByEvent, stored.ID); err != nil {
		return
	}

	candidate := stored
	candidate.Canceled = true
	candidate.UpdatedAt = s.now()
	if err = s.events.SaveEvent(ctx, candidate); err != nil {
		err = mapRepoError(err, "event")
		return
	}
	candidate.Version = stored.Version + 1
	result.Event = candidate
	return
}

// CancelTicketTier cancels one tier and deactivates the bookings made for it.
// The last active tier of an event cannot be canceled.
func (s *EventService) CancelTicketTier(ctx context.Context, principal Principal, eventID, tierID string) (result CancelEventResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CancelTicketTier", "principal_id", principal.UserID, "event_id", eventID, "ticket_id", tierID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel ticket", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"bookings_deactivated", result.Cascade.Deactivated,
			"cascade_failures", len(result.Cascade.Failures),
		).InfoContext(ctx, "ticket canceled")
	}()

	var stored persistence.Event
	if stored, err = s.loadForMutation(ctx, principal, eventID); err != nil {
		return
	}

	idx, ok := findTier(stored, strings.TrimSpace(tierID))
	if !ok {
		err = notFound("ticket")
		return
	}
	if stored.TicketTiers[idx].Canceled {
		err = stateError("ticket already canceled")
		return
	}
	if activeTierCount(stored) <= 1 {
		err = stateError("cannot cancel the last ticket of an event, cancel the event instead")
		return
	}

	if result.Cascade, err = s.runCascade(ctx, logger, CascadeByTicket, stored.TicketTiers[idx].ID); err != nil {
		return
	}

	candidate := stored
	candidate.TicketTiers = append([]persistence.TicketTier(nil), stored.TicketTiers...)
	candidate.TicketTiers[idx].Canceled = true
	candidate.UpdatedAt = s.now()
	if err = s.events.SaveEvent(ctx, candidate); err != nil {
		err = mapRepoError(err, "event")
		return
	}
	candidate.Version = stored.Version + 1
	result.Event = candidate
	return
}

// runCascade deactivates the bookings matching key. Individual save failures
// are only logged; a failed lookup is returned so the caller sees it.
func (s *EventService) runCascade(ctx context.Context, logger *slog.Logger, key CascadeKey, value string) (CascadeReport, error) {
	if s.cascade == nil {
		return CascadeReport{}, nil
	}
	report, err := s.cascade.CancelAllBookingsBy(ctx, key, value)
	if err != nil {
		return report, fmt.Errorf("cancel bookings: %w", err)
	}
	for _, failure := range report.Failures {
		logger.WarnContext(ctx, "booking not deactivated", "booking_id", failure.BookingID, "error", failure.Err)
	}
	return report, nil
}

// ListEvents returns events matching q. Everyone except administrators only
// sees published events, whatever the query asks for.
func (s *EventService) ListEvents(ctx context.Context, principal Principal, q query.Query) (page query.Page[persistence.Event], err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "ListEvents", "principal_id", principal.UserID, "is_admin", principal.IsAdmin())
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list events", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("count", len(page.Items), "total", page.Total).InfoContext(ctx, "events listed")
	}()

	if !principal.IsAdmin() {
		q = q.With("published", strconv.FormatBool(true))
	}
	page, err = s.find(ctx, q)
	return
}

// GetMyEvents lists the principal's own events, drafts included.
func (s *EventService) GetMyEvents(ctx context.Context, principal Principal, q query.Query) (page query.Page[persistence.Event], err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "GetMyEvents", "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list own events", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("count", len(page.Items)).InfoContext(ctx, "own events listed")
	}()

	if err = RequireAuthenticated(principal); err != nil {
		return
	}
	page, err = s.find(ctx, q.With("organizer", principal.UserID))
	return
}

func (s *EventService) find(ctx context.Context, q query.Query) (query.Page[persistence.Event], error) {
	items, total, err := s.events.FindEvents(ctx, q)
	if err != nil {
		return query.Page[persistence.Event]{}, err
	}
	return query.NewPage(items, total, q.Pagination), nil
}

// GetEvent loads an event together with its booking figures. Drafts are
// only visible to their organizer and administrators.
func (s *EventService) GetEvent(ctx context.Context, principal Principal, eventID string) (view EventView, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "GetEvent", "principal_id", principal.UserID, "event_id", eventID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to get event", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	var event persistence.Event
	event, err = s.events.GetEvent(ctx, strings.TrimSpace(eventID))
	if err != nil {
		err = mapRepoError(err, "event")
		return
	}
	if !CanViewEvent(principal, event) {
		err = ErrForbidden
		return
	}

	var aggregates []persistence.TicketAggregate
	if s.tickets != nil {
		if aggregates, err = s.tickets.AggregateByTicket(ctx, event.ID); err != nil {
			return
		}
	}
	view = BuildEventView(event, aggregates)
	return
}

// BuildEventView joins an event with its per-tier booking aggregates. A tier
// is sold out when its own finite capacity is reached or when the event's
// finite total is.
func BuildEventView(event persistence.Event, aggregates []persistence.TicketAggregate) EventView {
	counts := make(map[string]int, len(aggregates))
	for _, agg := range aggregates {
		counts[agg.TicketID] = agg.Count
	}

	view := EventView{Event: event, Tiers: make([]TierView, 0, len(event.TicketTiers))}
	for _, tier := range event.TicketTiers {
		view.TotalBookings += counts[tier.ID]
	}
	eventFull := event.TotalCapacity > 0 && view.TotalBookings >= event.TotalCapacity

	for _, tier := range event.TicketTiers {
		booked := counts[tier.ID]
		view.Tiers = append(view.Tiers, TierView{
			TicketTier: tier,
			Booked:     booked,
			SoldOut:    eventFull || (tier.Capacity > 0 && booked >= tier.Capacity),
		})
	}
	return view
}
