// Package migration applies versioned SQL schema changes to a SQLite database.
//
// Migration files are named {version}_{description}.sql (for example
// "001_initial_schema.sql") and are read from an fs.FS, usually an embedded
// directory. Applied versions are tracked in the schema_migrations table so
// every file runs exactly once, inside its own transaction.
//
//	scanner := migration.NewFileScanner(files, "migrations")
//	manager := migration.NewMigrationManager(scanner, migration.NewSQLiteExecutor(db), logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return err
//	}
package migration
