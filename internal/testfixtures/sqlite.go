package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/reservation-scheduler/internal/persistence/sqlite"
	"github.com/example/reservation-scheduler/internal/persistence/sqlite/migration"
)

// NewSQLiteStore opens a migrated reservation store in a file below
// tb.TempDir. The store is closed when the test ends.
func NewSQLiteStore(tb testing.TB) *sqlite.Store {
	tb.Helper()

	dsn := filepath.Join(tb.TempDir(), "reservations.db")
	store, err := sqlite.Open(migration.DefaultSQLiteConfig(dsn), zerolog.Nop())
	if err != nil {
		tb.Fatalf("open %s: %v", dsn, err)
	}
	tb.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		tb.Fatalf("migrate %s: %v", dsn, err)
	}
	return store
}
