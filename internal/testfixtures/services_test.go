package testfixtures

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/eventhub/internal/application"
	"github.com/example/eventhub/internal/persistence"
)

func TestServiceFactoryEventStackUsesSharedClockAndIDs(t *testing.T) {
	harness := NewSQLiteHarness(t)
	factory := NewServiceFactory(WithIDGenerator(NewIDGenerator("gen")))
	events, _ := factory.NewEventStack(harness, nil)

	organizer := NewUserFixture()
	input := NewEventFixture().Input()

	created, err := events.CreateEvent(context.Background(), organizer.Principal(), input)
	if err != nil {
		t.Fatalf("CreateEvent returned error: %v", err)
	}
	if created.ID != "gen-1" {
		t.Fatalf("expected generated ID gen-1, got %q", created.ID)
	}
	if created.TicketTiers[0].ID != "gen-2" || created.TicketTiers[1].ID != "gen-3" {
		t.Fatalf("unexpected tier ids %q %q", created.TicketTiers[0].ID, created.TicketTiers[1].ID)
	}
	if !created.CreatedAt.Equal(ReferenceTime()) {
		t.Fatalf("expected CreatedAt %v, got %v", ReferenceTime(), created.CreatedAt)
	}

	stored, err := harness.Events.GetEvent(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetEvent returned error: %v", err)
	}
	if stored.OrganizerID != organizer.ID || stored.Published {
		t.Fatalf("unexpected stored event %+v", stored)
	}
}

func TestServiceFactoryAuthServiceIssuesVerifiableTokens(t *testing.T) {
	harness := NewSQLiteHarness(t)
	factory := NewServiceFactory()
	auth, err := factory.NewAuthService(AuthServiceDeps{Users: harness.Users})
	if err != nil {
		t.Fatalf("NewAuthService returned error: %v", err)
	}

	ctx := context.Background()
	result, err := auth.Signup(ctx, application.SignupParams{
		Name:            "Ada",
		Email:           " Ada@Example.com ",
		Password:        "correct horse",
		PasswordConfirm: "correct horse",
	})
	if err != nil {
		t.Fatalf("Signup returned error: %v", err)
	}
	if result.User.Email != "ada@example.com" || result.User.Role != persistence.RoleUser {
		t.Fatalf("unexpected user %+v", result.User)
	}

	principal, err := auth.PrincipalFromToken(ctx, result.Token)
	if err != nil {
		t.Fatalf("PrincipalFromToken returned error: %v", err)
	}
	if principal.UserID != result.User.ID {
		t.Fatalf("expected principal %q, got %q", result.User.ID, principal.UserID)
	}

	factory.Clock.Advance(2 * time.Hour)
	if _, err := auth.PrincipalFromToken(ctx, result.Token); !errors.Is(err, application.ErrUnauthenticated) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestServiceFactoryRefundResolutionIgnoresBlankRequestID(t *testing.T) {
	harness := NewSQLiteHarness(t)
	factory := NewServiceFactory()
	_, bookings := factory.NewEventStack(harness, nil)

	admin := NewUserFixture(WithUserAdmin())
	event := NewEventFixture(WithEventPublished()).Persistence()
	harness.SeedEvents(t, event)
	tier := event.TicketTiers[0].ID
	withRequest := NewBookingFixture(event.ID, tier, WithBookingRefund("req-A", "sick")).Persistence()
	plain := NewBookingFixture(event.ID, tier).Persistence()
	harness.SeedBookings(t, withRequest, plain)

	ctx := context.Background()
	var vErr *application.ValidationError
	if _, err := bookings.ResolveRefundRequest(ctx, admin.Principal(), " ", persistence.RefundAccepted); !errors.As(err, &vErr) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if _, err := bookings.MarkRefundProcessed(ctx, admin.Principal(), ""); !errors.As(err, &vErr) {
		t.Fatalf("expected a validation error, got %v", err)
	}

	stored, err := harness.Bookings.GetBooking(ctx, withRequest.ID)
	if err != nil {
		t.Fatalf("GetBooking returned error: %v", err)
	}
	if !stored.Active || stored.RefundRequest == nil || stored.RefundRequest.Resolved {
		t.Fatalf("unrelated refund request was resolved: %+v", stored)
	}

	resolved, err := bookings.ResolveRefundRequest(ctx, admin.Principal(), "req-A", persistence.RefundRejected)
	if err != nil {
		t.Fatalf("ResolveRefundRequest returned error: %v", err)
	}
	if len(resolved) != 1 || resolved[0].ID != withRequest.ID {
		t.Fatalf("expected only the requested booking, got %+v", resolved)
	}
}
