package migration

import (
	"context"
	"io/fs"
	"time"
)

// Migration is one versioned schema change read from a migration source.
type Migration struct {
	Version     string
	Description string
	SQL         string
	FilePath    string
	// Checksum is the SHA-256 of SQL, hex encoded.
	Checksum string
}

// AppliedMigration is a row of the schema_migrations table.
type AppliedMigration struct {
	Version       string
	AppliedAt     time.Time
	ExecutionTime time.Duration
	Checksum      string
}

// Status summarises the schema state of a database.
type Status struct {
	CurrentVersion    string
	PendingCount      int
	AppliedMigrations []AppliedMigration
	PendingMigrations []Migration
}

// Scanner reads migrations from a file system.
type Scanner interface {
	ScanMigrations(source fs.FS) ([]Migration, error)
}

// Executor applies migrations and tracks applied versions.
type Executor interface {
	InitializeVersionTable(ctx context.Context) error
	// ExecuteMigration applies the statements of m and records it in one
	// transaction.
	ExecuteMigration(ctx context.Context, m Migration) (time.Duration, error)
	GetAppliedVersions(ctx context.Context) ([]AppliedMigration, error)
}
