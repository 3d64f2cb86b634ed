package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/eventhub/internal/persistence"
	"github.com/example/eventhub/internal/persistence/sqlite"
	"github.com/example/eventhub/internal/persistence/sqlite/migration"
	"github.com/example/eventhub/internal/query"
)

var seedNow = time.Date(2030, time.March, 1, 9, 0, 0, 0, time.UTC)

func plainHash(password string) (string, error) {
	return "plain:" + password, nil
}

func openSeedStorage(t *testing.T) *sqlite.Storage {
	t.Helper()
	storage, err := sqlite.OpenWithConfig(migration.TempFileTestSQLiteConfig(filepath.Join(t.TempDir(), "seed.db")))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })
	if err := storage.Migrate(context.Background(), nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return storage
}

func loadTestSeed(t *testing.T) seedFile {
	t.Helper()
	f, err := os.Open(filepath.Join("testdata", "seed.yaml"))
	if err != nil {
		t.Fatalf("open seed: %v", err)
	}
	defer f.Close()
	file, err := decodeSeed(f)
	if err != nil {
		t.Fatalf("decode seed: %v", err)
	}
	return file
}

func TestDecodeSeed(t *testing.T) {
	t.Parallel()

	file := loadTestSeed(t)
	if len(file.Users) != 2 || len(file.Events) != 2 {
		t.Fatalf("unexpected seed %d users, %d events", len(file.Users), len(file.Events))
	}
	jazz := file.Events[0]
	if !jazz.Start.Equal(time.Date(2031, time.May, 10, 18, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", jazz.Start)
	}
	if len(jazz.Tiers) != 2 || jazz.Tiers[1].LimitPerCustomer != 2 {
		t.Fatalf("unexpected tiers %+v", jazz.Tiers)
	}

	if _, err := decodeSeed(strings.NewReader("users:\n  - nickname: x\n")); err == nil {
		t.Fatalf("unknown fields must be rejected")
	}
	if file, err := decodeSeed(strings.NewReader("")); err != nil || len(file.Users) != 0 {
		t.Fatalf("empty seed: %+v, %v", file, err)
	}
}

func TestSeederApply(t *testing.T) {
	t.Parallel()

	storage := openSeedStorage(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := newSeeder(storage, plainHash, func() time.Time { return seedNow }, logger)
	ctx := context.Background()

	report, err := s.apply(ctx, loadTestSeed(t))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if report.UsersCreated != 2 || report.EventsCreated != 2 {
		t.Fatalf("unexpected report %+v", report)
	}

	admin, err := storage.Users.GetUserByEmail(ctx, "admin@eventhub.test")
	if err != nil {
		t.Fatalf("admin not stored: %v", err)
	}
	if admin.Role != persistence.RoleAdmin || admin.PasswordHash != "plain:admin-pass-1" {
		t.Fatalf("unexpected admin %+v", admin)
	}
	organizer, err := storage.Users.GetUserByEmail(ctx, "nok@eventhub.test")
	if err != nil {
		t.Fatalf("organizer email must be normalized: %v", err)
	}

	events, total, err := storage.Events.FindEvents(ctx, query.Query{}.With("organizer", organizer.ID))
	if err != nil || total != 2 {
		t.Fatalf("expected 2 events for the organizer, got %d (%v)", total, err)
	}
	published := 0
	for _, event := range events {
		if event.Published {
			published++
			if event.FeePolicy != "absorbFee" || event.Location == nil {
				t.Fatalf("unexpected published event %+v", event)
			}
		}
	}
	if published != 1 {
		t.Fatalf("expected one published event, got %d", published)
	}

	again, err := s.apply(ctx, seedFile{Users: loadTestSeed(t).Users})
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if again.UsersSkipped != 2 || again.UsersCreated != 0 {
		t.Fatalf("existing users must be skipped, got %+v", again)
	}
}

func TestSeederRejectsInvalidEntries(t *testing.T) {
	t.Parallel()

	storage := openSeedStorage(t)
	s := newSeeder(storage, plainHash, func() time.Time { return seedNow }, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	if _, err := s.apply(ctx, seedFile{Users: []seedUser{{Name: "X", Email: "x@eventhub.test", Password: "longenough", Role: "root"}}}); err == nil {
		t.Fatalf("unknown role must fail")
	}
	if _, err := s.apply(ctx, seedFile{Events: []seedEvent{{Name: "Orphan", Organizer: "nobody@eventhub.test"}}}); err == nil {
		t.Fatalf("unknown organizer must fail")
	}
}
