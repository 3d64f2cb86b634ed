package migration

import (
	"context"
	"time"
)

// Migration is a single versioned schema change.
type Migration struct {
	Version     string // numeric, e.g. "001"
	Description string
	SQL         string
	FilePath    string
	Checksum    string
}

// AppliedMigration is a row of the schema_migrations table.
type AppliedMigration struct {
	Version       string
	AppliedAt     time.Time
	ExecutionTime time.Duration
	Checksum      string
}

// MigrationStatus summarises applied and pending migrations.
type MigrationStatus struct {
	CurrentVersion    string
	PendingCount      int
	AppliedMigrations []AppliedMigration
	PendingMigrations []Migration
}

// MigrationManager orchestrates the migration process.
type MigrationManager interface {
	// RunMigrations executes all pending migrations in version order.
	RunMigrations(ctx context.Context) error
	GetPendingMigrations(ctx context.Context) ([]Migration, error)
	GetMigrationStatus(ctx context.Context) (*MigrationStatus, error)
}

// FileScanner discovers migration files.
type FileScanner interface {
	ScanMigrations() ([]Migration, error)
	ValidateFileName(filename string) error
}

// Executor applies migrations and maintains the version table.
type Executor interface {
	// ExecuteMigration runs a single migration within a transaction.
	ExecuteMigration(ctx context.Context, migration Migration) error
	InitializeVersionTable(ctx context.Context) error
	RecordMigration(ctx context.Context, migration Migration, executionTime time.Duration) error
	GetAppliedVersions(ctx context.Context) ([]AppliedMigration, error)
}
