package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/example/eventhub/internal/notify"
	"github.com/example/eventhub/internal/payment"
	"github.com/example/eventhub/internal/persistence"
)

// Charge metadata keys carried through the payment processor to the webhook.
const (
	metaOrderID = "order_id"
	metaEventID = "event_id"
	metaPayerID = "payer_id"
	metaLines   = "lines"
)

// BookingCreator stores the bookings of a confirmed order.
type BookingCreator interface {
	CreateBookings(ctx context.Context, params CreateBookingsParams) ([]persistence.Booking, error)
}

// CheckoutService prices orders, creates charges and turns confirmed
// payments into bookings.
type CheckoutService struct {
	events      EventReader
	bookings    BookingCreator
	gateway     PaymentGateway
	mailer      Mailer
	currency    string
	returnURI   string
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// CheckoutOptions carries the settings of the checkout flow.
type CheckoutOptions struct {
	Currency  string
	ReturnURI string
}

// NewCheckoutService wires dependencies for the checkout service. gateway may
// be nil, in which case only free orders can be placed.
func NewCheckoutService(events EventReader, bookings BookingCreator, gateway PaymentGateway, mailer Mailer, opts CheckoutOptions, idGenerator func() string, now func() time.Time) *CheckoutService {
	return NewCheckoutServiceWithLogger(events, bookings, gateway, mailer, opts, idGenerator, now, nil)
}

// NewCheckoutServiceWithLogger wires dependencies for the checkout service with a logger.
func NewCheckoutServiceWithLogger(events EventReader, bookings BookingCreator, gateway PaymentGateway, mailer Mailer, opts CheckoutOptions, idGenerator func() string, now func() time.Time, logger *slog.Logger) *CheckoutService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	currency := strings.ToLower(strings.TrimSpace(opts.Currency))
	if currency == "" {
		currency = "thb"
	}
	return &CheckoutService{
		events:      events,
		bookings:    bookings,
		gateway:     gateway,
		mailer:      mailer,
		currency:    currency,
		returnURI:   strings.TrimSpace(opts.ReturnURI),
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *CheckoutService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "CheckoutService", operation, attrs...)
}

func (s *CheckoutService) ready() error {
	if s == nil {
		return fmt.Errorf("CheckoutService is nil")
	}
	if s.events == nil || s.bookings == nil {
		return fmt.Errorf("checkout dependencies not configured")
	}
	return nil
}

// Checkout validates an order against the event and its tiers. Free orders
// are booked immediately; paid orders create a charge and are booked when the
// payment webhook confirms it.
func (s *CheckoutService) Checkout(ctx context.Context, principal Principal, params CheckoutParams) (result CheckoutResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "Checkout", "principal_id", principal.UserID, "event_id", params.EventID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "checkout failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"order_id", result.OrderID,
			"total", result.Total,
			"charge_id", result.ChargeID,
		).InfoContext(ctx, "checkout completed")
	}()

	var event persistence.Event
	if event, err = s.events.GetEvent(ctx, strings.TrimSpace(params.EventID)); err != nil {
		err = mapRepoError(err, "event")
		return
	}
	if !event.Published {
		if CanViewEvent(principal, event) {
			err = stateError("event is not open for booking yet")
		} else {
			err = notFound("event")
		}
		return
	}
	if err = checkMutable(event, s.now()); err != nil {
		return
	}

	var total float64
	if total, err = priceOrder(event, params.Lines); err != nil {
		return
	}

	orderID := s.idGenerator()
	result = CheckoutResult{OrderID: orderID, Total: total, Currency: s.currency}

	if total == 0 {
		var created []persistence.Booking
		created, err = s.bookings.CreateBookings(ctx, CreateBookingsParams{
			EventID: event.ID,
			OrderID: orderID,
			PayerID: principal.UserID,
			Lines:   params.Lines,
			Paid:    true,
		})
		if err != nil {
			return
		}
		result.Bookings = created
		s.confirm(ctx, logger, event, created)
		return
	}

	if s.gateway == nil {
		err = stateError("paid tickets are not available at the moment")
		return
	}
	card, source := strings.TrimSpace(params.Card), strings.TrimSpace(params.Source)
	if card == "" && source == "" {
		err = invalid("payment", "a payment card or source is required")
		return
	}

	var lines []byte
	if lines, err = json.Marshal(params.Lines); err != nil {
		return
	}

	var charge payment.Charge
	charge, err = s.gateway.CreateCharge(ctx, payment.ChargeRequest{
		Amount:      toMinorUnits(total),
		Currency:    s.currency,
		Description: fmt.Sprintf("%s (%s)", event.Name, orderID),
		Card:        card,
		Source:      source,
		ReturnURI:   s.returnURI,
		Metadata: map[string]any{
			metaOrderID: orderID,
			metaEventID: event.ID,
			metaPayerID: principal.UserID,
			metaLines:   string(lines),
		},
	})
	if err != nil {
		err = upstream("payment", err)
		return
	}

	result.ChargeID = charge.ID
	result.ChargeStatus = string(charge.Status)
	result.AuthorizeURI = charge.AuthorizeURI
	if charge.Status == payment.StatusFailed {
		err = upstream("payment", fmt.Errorf("charge %s failed: %s", charge.ID, charge.FailureMessage))
	}
	return
}

// priceOrder checks every line against the event's tiers and returns the
// order total.
func priceOrder(event persistence.Event, lines []AttendeeLine) (float64, error) {
	if len(lines) == 0 {
		return 0, invalid("lines", "at least one ticket is required")
	}

	perTier := make(map[string]int)
	var total float64
	for i, line := range lines {
		if err := validateAttendee(line, i); err != nil {
			return 0, err
		}
		idx, ok := findTier(event, strings.TrimSpace(line.TicketID))
		if !ok {
			return 0, notFound("ticket")
		}
		tier := event.TicketTiers[idx]
		if tier.Canceled {
			return 0, stateError(fmt.Sprintf("ticket %q is no longer available", tier.Name))
		}
		perTier[tier.ID] += line.Quantity
		if tier.LimitPerCustomer > 0 && perTier[tier.ID] > tier.LimitPerCustomer {
			return 0, invalidf(fmt.Sprintf("lines[%d].quantity", i), "you can buy at most %d %q tickets", tier.LimitPerCustomer, tier.Name)
		}
		total += tier.Price * float64(line.Quantity)
	}
	return total, nil
}

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// HandlePaymentWebhook verifies a processor event and books the order of a
// successfully completed charge. Deliveries are not de-duplicated.
func (s *CheckoutService) HandlePaymentWebhook(ctx context.Context, eventID string) (result WebhookResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "HandlePaymentWebhook", "payment_event_id", eventID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to handle payment webhook", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"handled", result.Handled,
			"order_id", result.OrderID,
			"count", len(result.Bookings),
		).InfoContext(ctx, "payment webhook handled")
	}()

	if s.gateway == nil {
		err = stateError("payments are not configured")
		return
	}
	id := strings.TrimSpace(eventID)
	if id == "" {
		err = invalid("id", "a payment event id is required")
		return
	}

	var evt payment.Event
	if evt, err = s.gateway.RetrieveEvent(ctx, id); err != nil {
		err = upstream("payment", err)
		return
	}
	if evt.Key != payment.EventChargeComplete || evt.Charge == nil {
		return
	}
	if evt.Charge.Status != payment.StatusSuccessful {
		logger.InfoContext(ctx, "charge not successful", "charge_id", evt.Charge.ID, "charge_status", string(evt.Charge.Status))
		return
	}

	var params CreateBookingsParams
	if params, err = bookingsFromMetadata(evt.Charge.Metadata); err != nil {
		return
	}

	var created []persistence.Booking
	if created, err = s.bookings.CreateBookings(ctx, params); err != nil {
		return
	}
	result = WebhookResult{Handled: true, OrderID: params.OrderID, Bookings: created}

	if event, getErr := s.events.GetEvent(ctx, params.EventID); getErr == nil {
		s.confirm(ctx, logger, event, created)
	}
	return
}

func bookingsFromMetadata(meta map[string]any) (CreateBookingsParams, error) {
	str := func(key string) string {
		v, _ := meta[key].(string)
		return strings.TrimSpace(v)
	}

	params := CreateBookingsParams{
		OrderID: str(metaOrderID),
		EventID: str(metaEventID),
		PayerID: str(metaPayerID),
		Paid:    true,
	}
	raw := str(metaLines)
	if params.OrderID == "" || params.EventID == "" || raw == "" {
		return CreateBookingsParams{}, invalid("metadata", "charge metadata is incomplete")
	}
	if err := json.Unmarshal([]byte(raw), &params.Lines); err != nil {
		return CreateBookingsParams{}, invalid("metadata", "charge metadata lines are unreadable")
	}
	return params, nil
}

// confirm mails one booking confirmation per attendee email of the order.
func (s *CheckoutService) confirm(ctx context.Context, logger *slog.Logger, event persistence.Event, bookings []persistence.Booking) {
	if s.mailer == nil || len(bookings) == 0 {
		return
	}
	perEmail := make(map[string][]string)
	order := make([]string, 0)
	names := make(map[string]string)
	for _, b := range bookings {
		if _, ok := perEmail[b.Email]; !ok {
			order = append(order, b.Email)
			names[b.Email] = b.Name
		}
		perEmail[b.Email] = append(perEmail[b.Email], b.ID)
	}
	for _, email := range order {
		msg := notify.Message{
			Template: notify.TemplateBookingConfirmation,
			To:       email,
			Data: map[string]any{
				"name":       names[email],
				"eventName":  event.Name,
				"startsAt":   event.DateTimeStart.Format(time.RFC3339),
				"orderId":    bookings[0].OrderID,
				"bookingIds": perEmail[email],
			},
		}
		if err := s.mailer.Send(ctx, msg); err != nil {
			err = upstream("mailer", err)
			logger.WarnContext(ctx, "booking confirmation not sent", "error", err, "error_kind", ErrorKind(err))
		}
	}
}
