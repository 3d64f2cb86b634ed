package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/eventhub/internal/blob"
	"github.com/example/eventhub/internal/notify"
	"github.com/example/eventhub/internal/payment"
	"github.com/example/eventhub/internal/persistence"
	"github.com/example/eventhub/internal/query"
)

var testNow = time.Date(2030, time.March, 1, 9, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

type sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func newSequence(prefix string) *sequence { return &sequence{prefix: prefix} }

func (s *sequence) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}

type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *tickingClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func ptr[T any](v T) *T { return &v }

func tierInput(name string, price float64) TicketTierInput {
	return TicketTierInput{Name: name, Description: name + " seats", Price: ptr(price), Online: ptr(true)}
}

func sampleEvent(id, organizer string) persistence.Event {
	start := testNow.Add(30 * 24 * time.Hour)
	return persistence.Event{
		ID:          id,
		Name:        "Jazz Night",
		Type:        "concert",
		Category:    "music",
		OrganizerID: organizer,
		TicketTiers: []persistence.TicketTier{
			{ID: id + "-general", Name: "General", Description: "General admission", Price: 500, Online: true},
			{ID: id + "-vip", Name: "VIP", Description: "Front row", Price: 1500, Online: true},
		},
		DateTimeStart: start,
		DateTimeEnd:   start.Add(3 * time.Hour),
		Version:       1,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
}

// ---------------------------------------------------------------------------

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]persistence.User
	updates int
}

func newUserStoreStub(users ...persistence.User) *userStoreStub {
	s := &userStoreStub{users: make(map[string]persistence.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *userStoreStub) CreateUser(_ context.Context, user persistence.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.ID == user.ID || existing.Email == user.Email {
			return persistence.ErrDuplicate
		}
	}
	s.users[user.ID] = user
	return nil
}

func (s *userStoreStub) UpdateUser(_ context.Context, user persistence.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return persistence.ErrNotFound
	}
	s.users[user.ID] = user
	s.updates++
	return nil
}

func (s *userStoreStub) GetUser(_ context.Context, id string) (persistence.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return persistence.User{}, persistence.ErrNotFound
	}
	return user, nil
}

func (s *userStoreStub) GetUserByEmail(_ context.Context, email string) (persistence.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return persistence.User{}, persistence.ErrNotFound
}

func (s *userStoreStub) GetUserByResetToken(_ context.Context, tokenHash string) (persistence.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if tokenHash != "" && user.PasswordResetToken == tokenHash {
			return user, nil
		}
	}
	return persistence.User{}, persistence.ErrNotFound
}

func (s *userStoreStub) FindUsers(_ context.Context, q query.Query) ([]persistence.User, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]persistence.User, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (s *userStoreStub) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

// ---------------------------------------------------------------------------

type eventStoreStub struct {
	mu      sync.Mutex
	events  map[string]persistence.Event
	saves   int
	lastQ   query.Query
	saveErr error
}

func newEventStoreStub(events ...persistence.Event) *eventStoreStub {
	s := &eventStoreStub{events: make(map[string]persistence.Event)}
	for _, e := range events {
		s.events[e.ID] = e
	}
	return s
}

func (s *eventStoreStub) CreateEvent(_ context.Context, event persistence.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[event.ID]; ok {
		return persistence.ErrDuplicate
	}
	s.events[event.ID] = event
	return nil
}

func (s *eventStoreStub) SaveEvent(_ context.Context, event persistence.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	stored, ok := s.events[event.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	event.Version = stored.Version + 1
	s.events[event.ID] = event
	s.saves++
	return nil
}

func (s *eventStoreStub) GetEvent(_ context.Context, id string) (persistence.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return persistence.Event{}, persistence.ErrNotFound
	}
	event.TicketTiers = append([]persistence.TicketTier(nil), event.TicketTiers...)
	return event, nil
}

// FindEvents honours equality conditions on published and organizer only.
func (s *eventStoreStub) FindEvents(_ context.Context, q query.Query) ([]persistence.Event, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastQ = q
	out := make([]persistence.Event, 0)
	for _, event := range s.events {
		if matchesEvent(event, q) {
			out = append(out, event)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func matchesEvent(event persistence.Event, q query.Query) bool {
	for _, c := range q.Conditions {
		switch c.Field {
		case "published":
			if fmt.Sprint(event.Published) != c.Value {
				return false
			}
		case "organizer":
			if event.OrganizerID != c.Value {
				return false
			}
		}
	}
	return true
}

func (s *eventStoreStub) stored(id string) persistence.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[id]
}

// ---------------------------------------------------------------------------

type bookingStoreStub struct {
	mu       sync.Mutex
	bookings []persistence.Booking
	failSave map[string]error
}

func newBookingStoreStub(bookings ...persistence.Booking) *bookingStoreStub {
	return &bookingStoreStub{bookings: append([]persistence.Booking(nil), bookings...), failSave: map[string]error{}}
}

func (s *bookingStoreStub) CreateBookings(_ context.Context, bookings []persistence.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings = append(s.bookings, bookings...)
	return nil
}

func (s *bookingStoreStub) SaveBooking(_ context.Context, booking persistence.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failSave[booking.ID]; err != nil {
		return err
	}
	for i := range s.bookings {
		if s.bookings[i].ID == booking.ID {
			s.bookings[i] = booking
			return nil
		}
	}
	return persistence.ErrNotFound
}

func (s *bookingStoreStub) GetBooking(_ context.Context, id string) (persistence.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if b.ID == id {
			return b, nil
		}
	}
	return persistence.Booking{}, persistence.ErrNotFound
}

func (s *bookingStoreStub) DeleteBooking(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.bookings {
		if b.ID == id {
			s.bookings = append(s.bookings[:i], s.bookings[i+1:]...)
			return nil
		}
	}
	return persistence.ErrNotFound
}

func (s *bookingStoreStub) ListBookings(_ context.Context, f persistence.BookingFilter) ([]persistence.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]persistence.Booking, 0)
	for _, b := range s.bookings {
		if matchesBooking(b, f) {
			cp := b
			if b.RefundRequest != nil {
				rr := *b.RefundRequest
				cp.RefundRequest = &rr
			}
			out = append(out, cp)
		}
	}
	return out, nil
}

func matchesBooking(b persistence.Booking, f persistence.BookingFilter) bool {
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if id == b.ID {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	eq := func(want, got string) bool { return want == "" || want == got }
	if !eq(f.EventID, b.EventID) || !eq(f.TicketID, b.TicketID) || !eq(f.UserID, b.UserID) || !eq(f.OrderID, b.OrderID) {
		return false
	}
	if f.RefundRequestID != "" && (b.RefundRequest == nil || b.RefundRequest.RequestID != f.RefundRequestID) {
		return false
	}
	if f.Active != nil && b.Active != *f.Active {
		return false
	}
	if f.HasRefundRequest != nil && (b.RefundRequest != nil) != *f.HasRefundRequest {
		return false
	}
	if f.RefundResolved != nil {
		resolved := b.RefundRequest != nil && b.RefundRequest.Resolved
		if resolved != *f.RefundResolved {
			return false
		}
	}
	return true
}

func (s *bookingStoreStub) FindBookings(_ context.Context, q query.Query) ([]persistence.Booking, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]persistence.Booking(nil), s.bookings...)
	return out, len(out), nil
}

func (s *bookingStoreStub) AggregateByTicket(_ context.Context, eventID string) ([]persistence.TicketAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byTicket := make(map[string]*persistence.TicketAggregate)
	order := make([]string, 0)
	for _, b := range s.bookings {
		if b.EventID != eventID || !b.Active {
			continue
		}
		agg, ok := byTicket[b.TicketID]
		if !ok {
			agg = &persistence.TicketAggregate{TicketID: b.TicketID}
			byTicket[b.TicketID] = agg
			order = append(order, b.TicketID)
		}
		agg.Count++
		agg.Revenue += b.Price
	}
	out := make([]persistence.TicketAggregate, 0, len(order))
	for _, id := range order {
		out = append(out, *byTicket[id])
	}
	return out, nil
}

func (s *bookingStoreStub) CountActiveByEventForUser(_ context.Context, userID string) ([]persistence.EventBookingCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, b := range s.bookings {
		if b.UserID != userID || !b.Active {
			continue
		}
		if _, ok := counts[b.EventID]; !ok {
			order = append(order, b.EventID)
		}
		counts[b.EventID]++
	}
	out := make([]persistence.EventBookingCount, 0, len(order))
	for _, id := range order {
		out = append(out, persistence.EventBookingCount{EventID: id, Count: counts[id]})
	}
	return out, nil
}

func (s *bookingStoreStub) get(id string) persistence.Booking {
	b, _ := s.GetBooking(context.Background(), id)
	return b
}

// ---------------------------------------------------------------------------

type mailerStub struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (m *mailerStub) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mailerStub) messages(template string) []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]notify.Message, 0)
	for _, msg := range m.sent {
		if msg.Template == template {
			out = append(out, msg)
		}
	}
	return out
}

type cascadeStub struct {
	calls  []string
	report CascadeReport
	err    error
}

func (c *cascadeStub) CancelAllBookingsBy(_ context.Context, key CascadeKey, value string) (CascadeReport, error) {
	c.calls = append(c.calls, string(key)+":"+value)
	return c.report, c.err
}

type gatewayStub struct {
	requests []payment.ChargeRequest
	charge   payment.Charge
	err      error
	events   map[string]payment.Event
}

func (g *gatewayStub) CreateCharge(_ context.Context, req payment.ChargeRequest) (payment.Charge, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return payment.Charge{}, g.err
	}
	charge := g.charge
	charge.Amount = req.Amount
	charge.Currency = req.Currency
	charge.Metadata = req.Metadata
	return charge, nil
}

func (g *gatewayStub) RetrieveEvent(_ context.Context, id string) (payment.Event, error) {
	evt, ok := g.events[id]
	if !ok {
		return payment.Event{}, errors.New("event not found at processor")
	}
	return evt, nil
}

type blobStoreStub struct {
	objects map[string][]byte
}

func (b *blobStoreStub) Put(_ context.Context, key string, data []byte) error {
	if b.objects == nil {
		b.objects = make(map[string][]byte)
	}
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

func (b *blobStoreStub) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := b.objects[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return data, nil
}
