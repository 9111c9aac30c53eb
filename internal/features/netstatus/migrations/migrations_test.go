package migrations

import (
	"context"
	"testing"

	"netspace-tracker/internal/core"

	_ "modernc.org/sqlite"
)

var netstatusTables = []string{"email_subscriptions", "webhook_subscriptions", "browser_subscriptions", "network_status_history"}

func newManager(t *testing.T) (*Manager, *core.Database) {
	t.Helper()

	db, err := core.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := core.NewDiscardLogger()
	coreDB := core.NewDatabase(db, logger)
	return NewManager(coreDB, logger), coreDB
}

func TestNetStatusMigrations(t *testing.T) {
	manager, db := newManager(t)
	ctx := context.Background()

	if err := manager.Migrate(ctx); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	for _, table := range netstatusTables {
		var tableCount int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&tableCount)
		if err != nil {
			t.Fatalf("Failed to check table %s: %v", table, err)
		}
		if tableCount != 1 {
			t.Errorf("Table %s was not created", table)
		}
	}

	// Migrations are idempotent and the seed row is only inserted once
	if err := manager.Migrate(ctx); err != nil {
		t.Fatalf("Failed to re-apply migrations: %v", err)
	}

	var status, source string
	var rows int
	err := db.QueryRow("SELECT COUNT(*), MAX(status), MAX(source) FROM network_status_history").Scan(&rows, &status, &source)
	if err != nil {
		t.Fatalf("Failed to query history: %v", err)
	}
	if rows != 1 || status != "up" || source != "initialization" {
		t.Errorf("Expected one initialization row with status up, got %d rows (%s, %s)", rows, status, source)
	}

	pending, err := manager.Pending(ctx)
	if err != nil {
		t.Fatalf("Failed to list pending migrations: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no pending migrations, got %d", len(pending))
	}
}

func TestHistoryRejectsUnknownStatus(t *testing.T) {
	manager, db := newManager(t)
	if err := manager.Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	_, err := db.Exec("INSERT INTO network_status_history (status, message) VALUES ('offline', 'x')")
	if err == nil {
		t.Error("Expected check constraint to reject unknown status")
	}
}

func TestMigrationRollback(t *testing.T) {
	manager, db := newManager(t)
	ctx := context.Background()

	if err := manager.Migrate(ctx); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	if err := manager.Rollback(ctx); err != nil {
		t.Fatalf("Failed to rollback migrations: %v", err)
	}

	for _, table := range netstatusTables {
		var tableCount int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&tableCount)
		if err != nil {
			t.Fatalf("Failed to check table %s: %v", table, err)
		}
		if tableCount != 0 {
			t.Errorf("Table %s was not removed during rollback", table)
		}
	}

	if err := manager.Rollback(ctx); err == nil {
		t.Error("Expected second rollback to report nothing to roll back")
	}
}
