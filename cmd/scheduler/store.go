package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/reservation-scheduler/internal/application"
	"github.com/example/reservation-scheduler/internal/persistence"
	"github.com/example/reservation-scheduler/internal/persistence/memory"
	"github.com/example/reservation-scheduler/internal/persistence/sqlite"
	"github.com/example/reservation-scheduler/internal/persistence/sqlite/migration"
)

// openSQLite opens the configured database and brings its schema up to date.
func (a *app) openSQLite(ctx context.Context) (*sqlite.Store, error) {
	store, err := sqlite.Open(migration.DefaultSQLiteConfig(a.cfg.SQLiteDSN), a.logger)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", a.cfg.SQLiteDSN, err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate %s: %w", a.cfg.SQLiteDSN, err)
	}
	return store, nil
}

// openStore returns an in-memory store for dry runs and the SQLite store
// otherwise.
func (a *app) openStore(ctx context.Context, dryRun bool) (persistence.ReservationRepository, func(), error) {
	if dryRun {
		return memory.New(), func() {}, nil
	}
	store, err := a.openSQLite(ctx)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close database")
		}
	}, nil
}

func newMigrateCommand(a *app) *cobra.Command {
	var statusOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := sqlite.Open(migration.DefaultSQLiteConfig(a.cfg.SQLiteDSN), a.logger)
			if err != nil {
				return fmt.Errorf("open %s: %w", a.cfg.SQLiteDSN, err)
			}
			defer store.Close()

			if !statusOnly {
				started := time.Now()
				if err := store.Migrate(ctx); err != nil {
					return err
				}
				a.logger.Info().Dur("elapsed", time.Since(started)).Msg("database migrations completed")
			}
			status, err := store.MigrationStatus(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "schema version: %s\n", displayVersion(status.CurrentVersion))
			fmt.Fprintf(out, "applied: %d\n", len(status.AppliedMigrations))
			fmt.Fprintf(out, "pending: %d\n", status.PendingCount)
			for _, pending := range status.PendingMigrations {
				fmt.Fprintf(out, "  %s %s\n", pending.Version, pending.Description)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&statusOnly, "status", false, "report the schema state without migrating")
	return cmd
}

func displayVersion(v string) string {
	if v == "" {
		return "none"
	}
	return v
}

func newReleaseCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "release REQUEST...",
		Short: "Delete the reservations allocated for requests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openSQLite(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			service := application.NewReservationServiceWithLogger(nil, store, time.Now, a.logger)
			for _, requestID := range args {
				released, err := service.Release(ctx, requestID)
				if err != nil {
					return fmt.Errorf("release %s: %w", requestID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\treleased %d\n", requestID, released)
			}
			return nil
		},
	}
}
