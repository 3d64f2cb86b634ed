package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/eventhub/internal/persistence"
	"github.com/example/eventhub/internal/persistence/sqlite"
	"github.com/example/eventhub/internal/persistence/sqlite/migration"
)

// SQLiteHarness exposes repositories backed by a migrated temporary database.
type SQLiteHarness struct {
	Users    persistence.UserRepository
	Events   persistence.EventRepository
	Bookings persistence.BookingRepository

	Storage *sqlite.Storage
}

// NewSQLiteHarness opens and migrates a database file in tb.TempDir. The
// storage is closed by a tb cleanup.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "eventhub.db")
	storage, err := sqlite.OpenWithConfig(migration.TempFileTestSQLiteConfig(path))
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	tb.Cleanup(func() { _ = storage.Close() })

	if err := storage.Migrate(context.Background(), nil); err != nil {
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	return &SQLiteHarness{
		Users:    storage.Users,
		Events:   storage.Events,
		Bookings: storage.Bookings,
		Storage:  storage,
	}
}

// SeedUsers stores users or fails the test.
func (h *SQLiteHarness) SeedUsers(tb testing.TB, users ...persistence.User) {
	tb.Helper()
	for _, user := range users {
		if err := h.Users.CreateUser(context.Background(), user); err != nil {
			tb.Fatalf("seed user %s: %v", user.ID, err)
		}
	}
}

// SeedEvents stores events or fails the test.
func (h *SQLiteHarness) SeedEvents(tb testing.TB, events ...persistence.Event) {
	tb.Helper()
	for _, event := range events {
		if err := h.Events.CreateEvent(context.Background(), event); err != nil {
			tb.Fatalf("seed event %s: %v", event.ID, err)
		}
	}
}

// SeedBookings stores bookings or fails the test.
func (h *SQLiteHarness) SeedBookings(tb testing.TB, bookings ...persistence.Booking) {
	tb.Helper()
	if len(bookings) == 0 {
		return
	}
	if err := h.Bookings.CreateBookings(context.Background(), bookings); err != nil {
		tb.Fatalf("seed bookings: %v", err)
	}
}
