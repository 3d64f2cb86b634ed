// Command eventhub-seed loads users and events from a YAML file into the
// SQLite database used by the API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/example/eventhub/internal/application"
	"github.com/example/eventhub/internal/logging"
	"github.com/example/eventhub/internal/persistence/sqlite"
)

func main() {
	flags := pflag.NewFlagSet("eventhub-seed", pflag.ExitOnError)
	dsn := flags.String("dsn", envOr("EVENTHUB_SQLITE_DSN", "data/eventhub.db"), "SQLite database file")
	file := flags.StringP("file", "f", "seed.yaml", "YAML seed file")
	logFormat := flags.String("log-format", "text", "log format: json or text")
	verbose := flags.BoolP("verbose", "v", false, "log service activity")
	_ = flags.Parse(os.Args[1:])

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger := logging.New(level, *logFormat, os.Stderr)

	if err := run(*dsn, *file, logger); err != nil {
		logger.Error("seeding failed", "error", err)
		os.Exit(1)
	}
}

func run(dsn, path string, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	file, err := decodeSeed(f)
	if err != nil {
		return err
	}

	storage, err := sqlite.Open(dsn)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	if err := storage.Migrate(ctx, logger); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	report, err := newSeeder(storage, application.NewArgon2idHasher(application.DefaultArgon2idParams), time.Now, logger).apply(ctx, file)
	if err != nil {
		return err
	}
	fmt.Printf("users created: %d, skipped: %d, events created: %d\n", report.UsersCreated, report.UsersSkipped, report.EventsCreated)
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
