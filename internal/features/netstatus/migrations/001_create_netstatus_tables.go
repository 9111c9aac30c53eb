package migrations

import (
	"netspace-tracker/internal/core"
)

// Migration001CreateNetStatusTables creates subscriber and history tables and seeds
// the history with an initial "up" row when it is empty
var Migration001CreateNetStatusTables = core.Migration{
	Version:     1,
	Name:        "create_netstatus_tables",
	Description: "Create subscription and network status history tables",
	UpSQL: `
		CREATE TABLE IF NOT EXISTS email_subscriptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT UNIQUE NOT NULL,
			token TEXT UNIQUE NOT NULL,
			verified BOOLEAN DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS webhook_subscriptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT UNIQUE NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS browser_subscriptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			endpoint TEXT UNIQUE NOT NULL,
			auth TEXT NOT NULL,
			p256dh TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS network_status_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			status TEXT NOT NULL CHECK (status IN ('up', 'down', 'degraded', 'maintenance')),
			message TEXT NOT NULL,
			details TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
			source TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_network_status_history_timestamp ON network_status_history(timestamp);
		CREATE INDEX IF NOT EXISTS idx_email_subscriptions_verified ON email_subscriptions(verified);

		INSERT INTO network_status_history (status, message, timestamp, source)
		SELECT 'up', 'Network operating normally', strftime('%Y-%m-%d %H:%M:%f000000', 'now'), 'initialization'
		WHERE NOT EXISTS (SELECT 1 FROM network_status_history);
	`,
	DownSQL: `
		DROP INDEX IF EXISTS idx_email_subscriptions_verified;
		DROP INDEX IF EXISTS idx_network_status_history_timestamp;

		DROP TABLE IF EXISTS network_status_history;
		DROP TABLE IF EXISTS browser_subscriptions;
		DROP TABLE IF EXISTS webhook_subscriptions;
		DROP TABLE IF EXISTS email_subscriptions;
	`,
}
