// Package migration applies versioned SQL files to the reservation store.
//
// Files are named {version}_{description}.sql and are read from an fs.FS,
// normally the files embedded in the sqlite package. Applied versions and
// their checksums are tracked in the schema_migrations table so a file that
// changed after being applied is reported instead of silently skipped.
//
//	db, err := migration.OpenDatabase(migration.DefaultSQLiteConfig(path))
//	manager := migration.NewMigrationManager(migration.NewFileScanner(), migration.NewSQLiteExecutor(db), files, logger)
//	err = manager.RunMigrations(ctx)
package migration
