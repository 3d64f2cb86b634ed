package migration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

type migrationManager struct {
	scanner  FileScanner
	executor Executor
	logger   *slog.Logger
}

// NewMigrationManager creates a MigrationManager. A nil logger discards output.
func NewMigrationManager(scanner FileScanner, executor Executor, logger *slog.Logger) MigrationManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &migrationManager{scanner: scanner, executor: executor, logger: logger}
}

// RunMigrations executes all pending migrations in sequential order and stops
// at the first failure.
func (m *migrationManager) RunMigrations(ctx context.Context) error {
	started := time.Now()

	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return fmt.Errorf("failed to initialize version table: %w", err)
	}

	pending, err := m.GetPendingMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get pending migrations: %w", err)
	}
	if len(pending) == 0 {
		m.logger.DebugContext(ctx, "database schema up to date")
		return nil
	}

	for i, migration := range pending {
		migrationStarted := time.Now()
		m.logger.InfoContext(ctx, "applying migration",
			"version", migration.Version,
			"description", migration.Description,
			"position", i+1,
			"pending", len(pending),
		)

		if err := m.executor.ExecuteMigration(ctx, migration); err != nil {
			m.logger.ErrorContext(ctx, "migration failed", "version", migration.Version, "error", err)
			return NewMigrationError(migration.Version, migration.FilePath, "execute migration",
				fmt.Errorf("%w: %v", ErrMigrationFailed, err))
		}

		elapsed := time.Since(migrationStarted)
		if err := m.executor.RecordMigration(ctx, migration, elapsed); err != nil {
			return NewMigrationError(migration.Version, migration.FilePath, "record migration", err)
		}
	}

	m.logger.InfoContext(ctx, "migrations applied", "count", len(pending), "duration", time.Since(started))
	return nil
}

// GetPendingMigrations returns available migrations that are not yet applied.
func (m *migrationManager) GetPendingMigrations(ctx context.Context) ([]Migration, error) {
	available, err := m.scanner.ScanMigrations()
	if err != nil {
		return nil, fmt.Errorf("failed to scan migrations: %w", err)
	}

	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied versions: %w", err)
	}

	if err := validateSequence(available, applied); err != nil {
		return nil, err
	}

	done := make(map[string]bool, len(applied))
	for _, a := range applied {
		done[normalizeVersion(a.Version)] = true
	}

	var pending []Migration
	for _, migration := range available {
		if !done[normalizeVersion(migration.Version)] {
			pending = append(pending, migration)
		}
	}
	return pending, nil
}

// GetMigrationStatus reports the latest applied version and what is pending.
func (m *migrationManager) GetMigrationStatus(ctx context.Context) (*MigrationStatus, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize version table: %w", err)
	}
	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}
	pending, err := m.GetPendingMigrations(ctx)
	if err != nil {
		return nil, err
	}

	status := &MigrationStatus{
		PendingCount:      len(pending),
		AppliedMigrations: applied,
		PendingMigrations: pending,
	}
	highest := -1
	for _, a := range applied {
		if n := versionNumber(a.Version); n > highest {
			highest = n
			status.CurrentVersion = a.Version
		}
	}
	return status, nil
}

// validateSequence rejects gaps between available versions and applied
// versions that no longer have a file.
func validateSequence(available []Migration, applied []AppliedMigration) error {
	known := make(map[int]bool, len(available))
	for _, migration := range available {
		known[versionNumber(migration.Version)] = true
	}

	if len(available) > 0 {
		first := versionNumber(available[0].Version)
		last := versionNumber(available[len(available)-1].Version)
		for v := first; v <= last; v++ {
			if !known[v] {
				return fmt.Errorf("%w: missing migration version %03d in sequence", ErrVersionConflict, v)
			}
		}
	}

	for _, a := range applied {
		if !known[versionNumber(a.Version)] {
			return fmt.Errorf("%w: applied migration %s not found in available migrations", ErrVersionConflict, a.Version)
		}
	}
	return nil
}
