package migrations

import (
	"context"
	"fmt"

	"netspace-tracker/internal/core"
)

// Manager handles network status migrations
type Manager struct {
	migrationService *core.MigrationService
	logger           *core.Logger
}

// NewManager creates a new network status migration manager
func NewManager(db *core.Database, logger *core.Logger) *Manager {
	return &Manager{
		migrationService: core.NewMigrationService(db, logger),
		logger:           logger,
	}
}

// Migrations returns all network status migrations in order
func (m *Manager) Migrations() []core.Migration {
	return []core.Migration{
		Migration001CreateNetStatusTables,
	}
}

// Migrate applies all pending network status migrations
func (m *Manager) Migrate(ctx context.Context) error {
	migrations := m.Migrations()
	m.logger.Info("Starting network status migrations", "count", len(migrations))

	if err := m.migrationService.ApplyAll(ctx, migrations); err != nil {
		return fmt.Errorf("network status migrations: %w", err)
	}

	m.logger.Info("Network status migrations completed successfully")
	return nil
}

// Rollback rolls back the most recently applied network status migration
func (m *Manager) Rollback(ctx context.Context) error {
	if err := m.migrationService.InitMigrations(ctx); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	applied, err := m.migrationService.GetAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	owned := make(map[int]core.Migration)
	for _, migration := range m.Migrations() {
		owned[migration.Version] = migration
	}

	var last *core.Migration
	for _, migration := range applied {
		if mine, ok := owned[migration.Version]; ok {
			last = &mine
		}
	}

	if last == nil {
		return fmt.Errorf("no network status migrations have been applied")
	}

	if err := m.migrationService.RollbackMigration(ctx, *last); err != nil {
		return fmt.Errorf("failed to rollback migration %d (%s): %w", last.Version, last.Name, err)
	}

	return nil
}

// Pending returns migrations that haven't been applied yet
func (m *Manager) Pending(ctx context.Context) ([]core.Migration, error) {
	if err := m.migrationService.InitMigrations(ctx); err != nil {
		return nil, err
	}

	var pending []core.Migration
	for _, migration := range m.Migrations() {
		applied, err := m.migrationService.IsMigrationApplied(ctx, migration.Version)
		if err != nil {
			return nil, err
		}
		if !applied {
			pending = append(pending, migration)
		}
	}

	return pending, nil
}
