// Package sqlite implements the persistence repositories on top of
// modernc.org/sqlite.
package sqlite

import (
	"context"
	"embed"
	"log/slog"

	"github.com/example/eventhub/internal/persistence"
	"github.com/example/eventhub/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Storage bundles the repositories that share one connection pool.
type Storage struct {
	pool *ConnectionPool

	Users    *UserRepository
	Events   *EventRepository
	Bookings *BookingRepository
}

var (
	_ persistence.UserRepository    = (*UserRepository)(nil)
	_ persistence.EventRepository   = (*EventRepository)(nil)
	_ persistence.BookingRepository = (*BookingRepository)(nil)
)

// Open returns a Storage for dsn using the default connection settings.
func Open(dsn string) (*Storage, error) {
	return OpenWithConfig(migration.DefaultSQLiteConfig(dsn))
}

// OpenWithConfig returns a Storage using config.
func OpenWithConfig(config migration.SQLiteConfig) (*Storage, error) {
	pool, err := NewConnectionPool(config)
	if err != nil {
		return nil, err
	}
	return &Storage{
		pool:     pool,
		Users:    NewUserRepository(pool),
		Events:   NewEventRepository(pool),
		Bookings: NewBookingRepository(pool),
	}, nil
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate(ctx context.Context, logger *slog.Logger) error {
	manager := migration.NewMigrationManager(
		migration.NewFileScanner(migrationFiles, "migrations"),
		migration.NewSQLiteExecutor(s.pool.DB()),
		logger,
	)
	return manager.RunMigrations(ctx)
}
