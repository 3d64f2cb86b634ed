package persistence_test

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/example/eventhub/internal/persistence"
	"github.com/example/eventhub/internal/query"
	"github.com/example/eventhub/internal/testfixtures"
)

func newPersistenceUser(opts ...testfixtures.UserOption) persistence.User {
	return testfixtures.NewUserFixture(opts...).Persistence()
}

func newPersistenceEvent(opts ...testfixtures.EventOption) persistence.Event {
	return testfixtures.NewEventFixture(opts...).Persistence()
}

func mustParse(t *testing.T, params url.Values) query.Query {
	t.Helper()
	q, err := query.Parse(params)
	if err != nil {
		t.Fatalf("query.Parse failed: %v", err)
	}
	return q
}

func TestUserRepository(t *testing.T) {
	t.Parallel()

	t.Run("creates, reads, updates, and deletes users", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)

		user := newPersistenceUser(
			testfixtures.WithUserID("user-1"),
			testfixtures.WithUserEmail("alice@example.com"),
			testfixtures.WithUserName("Alice"),
		)
		if err := harness.Users.CreateUser(ctx, user); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}

		fetched, err := harness.Users.GetUser(ctx, user.ID)
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if fetched.Name != "Alice" || fetched.Role != persistence.RoleUser || !fetched.Active {
			t.Fatalf("unexpected user %+v", fetched)
		}
		if !fetched.CreatedAt.Equal(user.CreatedAt) {
			t.Fatalf("expected CreatedAt %v, got %v", user.CreatedAt, fetched.CreatedAt)
		}

		changed := testfixtures.ReferenceTime().Add(-time.Second)
		fetched.Tagline = "Loves jazz"
		fetched.Interests = []string{"music", "art"}
		fetched.Favorites = []string{"event-9"}
		fetched.PrivateFavorites = true
		fetched.PasswordChangedAt = &changed
		fetched.UpdatedAt = testfixtures.ReferenceTime().Add(time.Hour)
		if err := harness.Users.UpdateUser(ctx, fetched); err != nil {
			t.Fatalf("UpdateUser failed: %v", err)
		}

		updated, err := harness.Users.GetUser(ctx, user.ID)
		if err != nil {
			t.Fatalf("GetUser after update failed: %v", err)
		}
		if updated.Tagline != "Loves jazz" || !updated.PrivateFavorites {
			t.Fatalf("profile fields not persisted: %+v", updated)
		}
		if len(updated.Interests) != 2 || updated.Interests[1] != "art" {
			t.Fatalf("unexpected interests %v", updated.Interests)
		}
		if len(updated.Favorites) != 1 || updated.Favorites[0] != "event-9" {
			t.Fatalf("unexpected favorites %v", updated.Favorites)
		}
		if updated.PasswordChangedAt == nil || !updated.PasswordChangedAt.Equal(changed) {
			t.Fatalf("unexpected PasswordChangedAt %v", updated.PasswordChangedAt)
		}
		if !updated.CreatedAt.Equal(user.CreatedAt) {
			t.Fatalf("CreatedAt must not change on update")
		}

		if err := harness.Users.DeleteUser(ctx, user.ID); err != nil {
			t.Fatalf("DeleteUser failed: %v", err)
		}
		if _, err := harness.Users.GetUser(ctx, user.ID); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
		if err := harness.Users.DeleteUser(ctx, user.ID); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
		}
	})

	t.Run("enforces unique emails case-insensitively", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)

		harness.SeedUsers(t, newPersistenceUser(testfixtures.WithUserEmail("Bob@Example.com")))

		duplicate := newPersistenceUser(testfixtures.WithUserEmail("bob@example.com"))
		if err := harness.Users.CreateUser(ctx, duplicate); !errors.Is(err, persistence.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}

		found, err := harness.Users.GetUserByEmail(ctx, "  BOB@example.COM ")
		if err != nil {
			t.Fatalf("GetUserByEmail failed: %v", err)
		}
		if found.Email != "bob@example.com" {
			t.Fatalf("expected stored email to be lowercased, got %q", found.Email)
		}
	})

	t.Run("looks users up by reset token hash", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)

		user := newPersistenceUser()
		expires := testfixtures.ReferenceTime().Add(10 * time.Minute)
		user.PasswordResetToken = "token-hash"
		user.PasswordResetExpires = &expires
		harness.SeedUsers(t, user)

		found, err := harness.Users.GetUserByResetToken(ctx, "token-hash")
		if err != nil {
			t.Fatalf("GetUserByResetToken failed: %v", err)
		}
		if found.ID != user.ID || found.PasswordResetExpires == nil || !found.PasswordResetExpires.Equal(expires) {
			t.Fatalf("unexpected user %+v", found)
		}
		if _, err := harness.Users.GetUserByResetToken(ctx, ""); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for empty token, got %v", err)
		}
	})

	t.Run("finds users with search and pagination", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)

		harness.SeedUsers(t,
			newPersistenceUser(testfixtures.WithUserName("Alice Smith")),
			newPersistenceUser(testfixtures.WithUserName("Bob Smith")),
			newPersistenceUser(testfixtures.WithUserName("Carol Jones"), testfixtures.WithUserAdmin()),
		)

		users, total, err := harness.Users.FindUsers(ctx, mustParse(t, url.Values{
			"search":   {"smith"},
			"sort":     {"name"},
			"paginate": {`{"page":2,"limit":1}`},
		}))
		if err != nil {
			t.Fatalf("FindUsers failed: %v", err)
		}
		if total != 2 {
			t.Fatalf("expected total 2, got %d", total)
		}
		if len(users) != 1 || users[0].Name != "Bob Smith" {
			t.Fatalf("unexpected page %+v", users)
		}

		admins, total, err := harness.Users.FindUsers(ctx, mustParse(t, url.Values{"role": {"admin"}}))
		if err != nil {
			t.Fatalf("FindUsers by role failed: %v", err)
		}
		if total != 1 || len(admins) != 1 || admins[0].Name != "Carol Jones" {
			t.Fatalf("unexpected admins %+v (total %d)", admins, total)
		}
	})
}

func TestEventRepository(t *testing.T) {
	t.Parallel()

	t.Run("round-trips events with ordered tiers", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)

		event := newPersistenceEvent(
			testfixtures.WithEventLocation("1 Main Road", 100.5, 13.7),
			testfixtures.WithEventCapacity(300, 200, 100),
		)
		event.Description = "An evening of jazz"
		harness.SeedEvents(t, event)

		fetched, err := harness.Events.GetEvent(ctx, event.ID)
		if err != nil {
			t.Fatalf("GetEvent failed: %v", err)
		}
		if fetched.Name != event.Name || fetched.Version != 1 || fetched.TotalCapacity != 300 {
			t.Fatalf("unexpected event %+v", fetched)
		}
		if fetched.Location == nil || fetched.Location.Lon != 100.5 || fetched.Location.Lat != 13.7 {
			t.Fatalf("unexpected location %+v", fetched.Location)
		}
		if !fetched.DateTimeStart.Equal(event.DateTimeStart) {
			t.Fatalf("expected start %v, got %v", event.DateTimeStart, fetched.DateTimeStart)
		}
		if len(fetched.TicketTiers) != 2 {
			t.Fatalf("expected two tiers, got %+v", fetched.TicketTiers)
		}
		if fetched.TicketTiers[0].Name != "General" || fetched.TicketTiers[1].Name != "VIP" {
			t.Fatalf("tier order not preserved: %+v", fetched.TicketTiers)
		}
		if fetched.TicketTiers[1].Capacity != 100 || fetched.TicketTiers[1].Price != 1500 {
			t.Fatalf("unexpected VIP tier %+v", fetched.TicketTiers[1])
		}
	})

	t.Run("save replaces tiers and bumps the version", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)

		event := newPersistenceEvent()
		harness.SeedEvents(t, event)

		event.Published = true
		event.FeePolicy = "passFee"
		event.TicketTiers[0].Canceled = true
		event.TicketTiers = append(event.TicketTiers, persistence.TicketTier{
			ID: event.ID + "-late", Name: "Late", Description: "Late entry", Price: 250, Online: false,
		})
		event.UpdatedAt = testfixtures.ReferenceTime().Add(time.Hour)
		if err := harness.Events.SaveEvent(ctx, event); err != nil {
			t.Fatalf("SaveEvent failed: %v", err)
		}

		fetched, err := harness.Events.GetEvent(ctx, event.ID)
		if err != nil {
			t.Fatalf("GetEvent failed: %v", err)
		}
		if fetched.Version != 2 || !fetched.Published || fetched.FeePolicy != "passFee" {
			t.Fatalf("unexpected saved event %+v", fetched)
		}
		if len(fetched.TicketTiers) != 3 || !fetched.TicketTiers[0].Canceled || fetched.TicketTiers[2].Name != "Late" {
			t.Fatalf("unexpected tiers %+v", fetched.TicketTiers)
		}

		missing := newPersistenceEvent()
		if err := harness.Events.SaveEvent(ctx, missing); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound saving unknown event, got %v", err)
		}
	})

	t.Run("finds events by filter, range, geo, and search", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)

		harness.SeedEvents(t,
			newPersistenceEvent(testfixtures.WithEventName("Jazz Night"), testfixtures.WithEventPublished(),
				testfixtures.WithEventLocation("Bangkok", 100.5, 13.7), testfixtures.WithEventCapacity(100)),
			newPersistenceEvent(testfixtures.WithEventName("Rock Fest"), testfixtures.WithEventPublished(),
				testfixtures.WithEventLocation("Chiang Mai", 98.9, 18.8), testfixtures.WithEventCapacity(1000)),
			newPersistenceEvent(testfixtures.WithEventName("Jazz Brunch"), testfixtures.WithEventCategory("food"),
				testfixtures.WithEventCapacity(40)),
		)

		published, total, err := harness.Events.FindEvents(ctx, mustParse(t, url.Values{"published": {"true"}}))
		if err != nil {
			t.Fatalf("FindEvents failed: %v", err)
		}
		if total != 2 || len(published) != 2 {
			t.Fatalf("expected two published events, got %d", total)
		}
		for _, event := range published {
			if len(event.TicketTiers) != 2 {
				t.Fatalf("expected tiers to be loaded for %s", event.ID)
			}
		}

		ranged, _, err := harness.Events.FindEvents(ctx, mustParse(t, url.Values{
			"totalCapacity[gte]": {"50"},
			"totalCapacity[lt]":  {"500"},
		}))
		if err != nil {
			t.Fatalf("FindEvents by range failed: %v", err)
		}
		if len(ranged) != 1 || ranged[0].Name != "Jazz Night" {
			t.Fatalf("unexpected range result %+v", ranged)
		}

		nearby, _, err := harness.Events.FindEvents(ctx, mustParse(t, url.Values{
			"loc": {`{"center":[100.4,13.8],"radius":0.5}`},
		}))
		if err != nil {
			t.Fatalf("FindEvents by location failed: %v", err)
		}
		if len(nearby) != 1 || nearby[0].Name != "Jazz Night" {
			t.Fatalf("unexpected geo result %+v", nearby)
		}

		searched, total, err := harness.Events.FindEvents(ctx, mustParse(t, url.Values{"search": {"JAZZ"}, "sort": {"name"}}))
		if err != nil {
			t.Fatalf("FindEvents by search failed: %v", err)
		}
		if total != 2 || searched[0].Name != "Jazz Brunch" || searched[1].Name != "Jazz Night" {
			t.Fatalf("unexpected search result %+v", searched)
		}

		if _, _, err := harness.Events.FindEvents(ctx, mustParse(t, url.Values{"totalCapacity": {"lots"}})); !errors.Is(err, query.ErrMalformedQuery) {
			t.Fatalf("expected ErrMalformedQuery for non-numeric capacity, got %v", err)
		}
	})

	t.Run("paginates events", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)

		for i := 0; i < 10; i++ {
			harness.SeedEvents(t, newPersistenceEvent(testfixtures.WithEventPublished()))
		}

		q := mustParse(t, url.Values{"paginate": {`{"page":1,"limit":5}`}})
		events, total, err := harness.Events.FindEvents(ctx, q)
		if err != nil {
			t.Fatalf("FindEvents failed: %v", err)
		}
		page := query.NewPage(events, total, q.Pagination)
		if len(page.Items) != 5 || page.Total != 10 || page.Pages != 2 || page.Page != 1 {
			t.Fatalf("unexpected page %+v", page)
		}
	})
}

func TestBookingRepository(t *testing.T) {
	t.Parallel()

	seedEvent := func(t *testing.T, harness *testfixtures.SQLiteHarness) persistence.Event {
		t.Helper()
		event := newPersistenceEvent(testfixtures.WithEventPublished())
		harness.SeedEvents(t, event)
		return event
	}

	t.Run("filters bookings", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)
		event := seedEvent(t, harness)
		general, vip := event.TicketTiers[0].ID, event.TicketTiers[1].ID

		harness.SeedBookings(t,
			testfixtures.NewBookingFixture(event.ID, general, testfixtures.WithBookingID("b1"), testfixtures.WithBookingUser("u1")).Persistence(),
			testfixtures.NewBookingFixture(event.ID, general, testfixtures.WithBookingID("b2"), testfixtures.WithBookingInactive()).Persistence(),
			testfixtures.NewBookingFixture(event.ID, vip, testfixtures.WithBookingID("b3"), testfixtures.WithBookingUser("u1"),
				testfixtures.WithBookingRefund("rr-1", "sick")).Persistence(),
		)

		active, err := harness.Bookings.ListBookings(ctx, persistence.BookingFilter{EventID: event.ID, Active: persistence.Flag(true)})
		if err != nil {
			t.Fatalf("ListBookings failed: %v", err)
		}
		if len(active) != 2 {
			t.Fatalf("expected two active bookings, got %+v", active)
		}

		byTicket, err := harness.Bookings.ListBookings(ctx, persistence.BookingFilter{TicketID: general})
		if err != nil {
			t.Fatalf("ListBookings by ticket failed: %v", err)
		}
		if len(byTicket) != 2 {
			t.Fatalf("expected two bookings for %s, got %d", general, len(byTicket))
		}

		pending, err := harness.Bookings.ListBookings(ctx, persistence.BookingFilter{
			UserID:           "u1",
			HasRefundRequest: persistence.Flag(false),
		})
		if err != nil {
			t.Fatalf("ListBookings without refund failed: %v", err)
		}
		if len(pending) != 1 || pending[0].ID != "b1" {
			t.Fatalf("unexpected bookings without refund %+v", pending)
		}

		byIDs, err := harness.Bookings.ListBookings(ctx, persistence.BookingFilter{IDs: []string{"b1", "b3", "missing"}})
		if err != nil {
			t.Fatalf("ListBookings by ids failed: %v", err)
		}
		if len(byIDs) != 2 {
			t.Fatalf("expected two bookings by id, got %d", len(byIDs))
		}

		open, err := harness.Bookings.ListBookings(ctx, persistence.BookingFilter{RefundRequestID: "rr-1", RefundResolved: persistence.Flag(false)})
		if err != nil {
			t.Fatalf("ListBookings by refund request failed: %v", err)
		}
		if len(open) != 1 || open[0].RefundRequest == nil || open[0].RefundRequest.Reason != "sick" {
			t.Fatalf("unexpected refund request bookings %+v", open)
		}
	})

	t.Run("aggregates active bookings per ticket", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)
		event := seedEvent(t, harness)
		general, vip := event.TicketTiers[0].ID, event.TicketTiers[1].ID

		harness.SeedBookings(t,
			testfixtures.NewBookingFixture(event.ID, general, testfixtures.WithBookingPrice(500)).Persistence(),
			testfixtures.NewBookingFixture(event.ID, general, testfixtures.WithBookingPrice(450)).Persistence(),
			testfixtures.NewBookingFixture(event.ID, general, testfixtures.WithBookingInactive()).Persistence(),
			testfixtures.NewBookingFixture(event.ID, vip, testfixtures.WithBookingPrice(1500)).Persistence(),
		)

		aggregates, err := harness.Bookings.AggregateByTicket(ctx, event.ID)
		if err != nil {
			t.Fatalf("AggregateByTicket failed: %v", err)
		}
		got := make(map[string]persistence.TicketAggregate, len(aggregates))
		for _, agg := range aggregates {
			got[agg.TicketID] = agg
		}
		if got[general].Count != 2 || got[general].Revenue != 950 {
			t.Fatalf("unexpected general aggregate %+v", got[general])
		}
		if got[vip].Count != 1 || got[vip].Revenue != 1500 {
			t.Fatalf("unexpected vip aggregate %+v", got[vip])
		}
	})

	t.Run("counts a user's active bookings per event", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)
		first := seedEvent(t, harness)
		second := seedEvent(t, harness)

		harness.SeedBookings(t,
			testfixtures.NewBookingFixture(first.ID, first.TicketTiers[0].ID, testfixtures.WithBookingUser("u1")).Persistence(),
			testfixtures.NewBookingFixture(first.ID, first.TicketTiers[1].ID, testfixtures.WithBookingUser("u1")).Persistence(),
			testfixtures.NewBookingFixture(second.ID, second.TicketTiers[0].ID, testfixtures.WithBookingUser("u1")).Persistence(),
			testfixtures.NewBookingFixture(second.ID, second.TicketTiers[0].ID, testfixtures.WithBookingUser("u1"), testfixtures.WithBookingInactive()).Persistence(),
			testfixtures.NewBookingFixture(second.ID, second.TicketTiers[0].ID, testfixtures.WithBookingUser("u2")).Persistence(),
		)

		counts, err := harness.Bookings.CountActiveByEventForUser(ctx, "u1")
		if err != nil {
			t.Fatalf("CountActiveByEventForUser failed: %v", err)
		}
		if len(counts) != 2 {
			t.Fatalf("expected two events, got %+v", counts)
		}
		if counts[0].EventID != first.ID || counts[0].Count != 2 || counts[1].Count != 1 {
			t.Fatalf("unexpected counts %+v", counts)
		}
	})

	t.Run("persists refund request resolution", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)
		event := seedEvent(t, harness)

		booking := testfixtures.NewBookingFixture(event.ID, event.TicketTiers[0].ID,
			testfixtures.WithBookingRefund("rr-9", "cannot attend")).Persistence()
		harness.SeedBookings(t, booking)

		booking.RefundRequest.Resolved = true
		booking.RefundRequest.Status = persistence.RefundAccepted
		booking.Active = false
		if err := harness.Bookings.SaveBooking(ctx, booking); err != nil {
			t.Fatalf("SaveBooking failed: %v", err)
		}

		fetched, err := harness.Bookings.GetBooking(ctx, booking.ID)
		if err != nil {
			t.Fatalf("GetBooking failed: %v", err)
		}
		rr := fetched.RefundRequest
		if fetched.Active || rr == nil || !rr.Resolved || rr.Status != persistence.RefundAccepted || rr.RefundProcessed {
			t.Fatalf("unexpected refund state %+v / %+v", fetched, rr)
		}
		if !rr.CreatedAt.Equal(testfixtures.ReferenceTime()) {
			t.Fatalf("unexpected refund CreatedAt %v", rr.CreatedAt)
		}

		// A resolved request without a status breaks the schema check.
		broken := fetched
		brokenRR := *rr
		brokenRR.Status = ""
		broken.RefundRequest = &brokenRR
		if err := harness.Bookings.SaveBooking(ctx, broken); !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation, got %v", err)
		}
	})

	t.Run("rejects bookings for unknown events", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)

		orphan := testfixtures.NewBookingFixture("no-such-event", "no-such-ticket").Persistence()
		if err := harness.Bookings.CreateBookings(ctx, []persistence.Booking{orphan}); !errors.Is(err, persistence.ErrConstraintViolation) {
			t.Fatalf("expected ErrConstraintViolation, got %v", err)
		}
	})

	t.Run("finds and deletes bookings", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		harness := testfixtures.NewSQLiteHarness(t)
		event := seedEvent(t, harness)

		for i := 0; i < 3; i++ {
			harness.SeedBookings(t, testfixtures.NewBookingFixture(event.ID, event.TicketTiers[0].ID).Persistence())
		}
		extra := testfixtures.NewBookingFixture(event.ID, event.TicketTiers[1].ID, testfixtures.WithBookingPrice(1500)).Persistence()
		harness.SeedBookings(t, extra)

		expensive, total, err := harness.Bookings.FindBookings(ctx, mustParse(t, url.Values{"price[gt]": {"1000"}}))
		if err != nil {
			t.Fatalf("FindBookings failed: %v", err)
		}
		if total != 1 || expensive[0].ID != extra.ID {
			t.Fatalf("unexpected bookings %+v", expensive)
		}

		if err := harness.Bookings.DeleteBooking(ctx, extra.ID); err != nil {
			t.Fatalf("DeleteBooking failed: %v", err)
		}
		if _, err := harness.Bookings.GetBooking(ctx, extra.ID); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})
}
