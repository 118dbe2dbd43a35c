package migration

import (
	"context"
	"fmt"
	"io/fs"
	"sort"

	"github.com/rs/zerolog"
)

// Manager orchestrates scanning and applying migrations.
type Manager struct {
	scanner  Scanner
	executor Executor
	source   fs.FS
	logger   zerolog.Logger
}

// NewMigrationManager returns a manager applying the migrations in source.
func NewMigrationManager(scanner Scanner, executor Executor, source fs.FS, logger zerolog.Logger) *Manager {
	return &Manager{
		scanner:  scanner,
		executor: executor,
		source:   source,
		logger:   logger.With().Str("component", "migration").Logger(),
	}
}

// RunMigrations applies every pending migration in version order. It stops at
// the first failure; earlier migrations stay applied.
func (m *Manager) RunMigrations(ctx context.Context) error {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return fmt.Errorf("initialize version table: %w", err)
	}

	pending, err := m.GetPendingMigrations(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		m.logger.Debug().Msg("schema up to date")
		return nil
	}

	for i, migration := range pending {
		m.logger.Info().
			Str("version", migration.Version).
			Str("description", migration.Description).
			Int("position", i+1).
			Int("pending", len(pending)).
			Msg("applying migration")

		elapsed, err := m.executor.ExecuteMigration(ctx, migration)
		if err != nil {
			m.logger.Error().Err(err).Str("version", migration.Version).Msg("migration failed")
			return NewMigrationError(migration.Version, migration.FilePath, "execute migration",
				fmt.Errorf("%w: %w", ErrMigrationFailed, err))
		}
		m.logger.Info().Str("version", migration.Version).Dur("elapsed", elapsed).Msg("migration applied")
	}
	return nil
}

// GetPendingMigrations returns migrations that are not applied yet. Applied
// migrations must still exist with an unchanged checksum.
func (m *Manager) GetPendingMigrations(ctx context.Context) ([]Migration, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return nil, fmt.Errorf("initialize version table: %w", err)
	}
	available, err := m.scanner.ScanMigrations(m.source)
	if err != nil {
		return nil, fmt.Errorf("scan migrations: %w", err)
	}
	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("get applied versions: %w", err)
	}
	if err := validateSequence(available, applied); err != nil {
		return nil, err
	}

	appliedByVersion := make(map[string]AppliedMigration, len(applied))
	for _, a := range applied {
		appliedByVersion[a.Version] = a
	}
	var pending []Migration
	for _, migration := range available {
		if _, ok := appliedByVersion[migration.Version]; !ok {
			pending = append(pending, migration)
		}
	}
	return pending, nil
}

// GetMigrationStatus reports the current version and the pending migrations.
func (m *Manager) GetMigrationStatus(ctx context.Context) (*Status, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return nil, fmt.Errorf("initialize version table: %w", err)
	}
	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("get applied versions: %w", err)
	}
	pending, err := m.GetPendingMigrations(ctx)
	if err != nil {
		return nil, err
	}
	status := &Status{
		PendingCount:      len(pending),
		AppliedMigrations: applied,
		PendingMigrations: pending,
	}
	if len(applied) > 0 {
		status.CurrentVersion = applied[len(applied)-1].Version
	}
	return status, nil
}

func validateSequence(available []Migration, applied []AppliedMigration) error {
	byVersion := make(map[string]Migration, len(available))
	for i, migration := range available {
		byVersion[migration.Version] = migration
		if i > 0 && versionNumber(migration.Version) != versionNumber(available[i-1].Version)+1 {
			return fmt.Errorf("%w: gap before version %s", ErrVersionConflict, migration.Version)
		}
	}
	for _, a := range applied {
		migration, ok := byVersion[a.Version]
		if !ok {
			return fmt.Errorf("%w: applied version %s has no migration file", ErrVersionConflict, a.Version)
		}
		if a.Checksum != "" && a.Checksum != migration.Checksum {
			return NewMigrationError(a.Version, migration.FilePath, "verify checksum", ErrChecksumMismatch)
		}
	}
	return nil
}

func sortApplied(applied []AppliedMigration) {
	sort.Slice(applied, func(i, j int) bool {
		return versionNumber(applied[i].Version) < versionNumber(applied[j].Version)
	})
}
