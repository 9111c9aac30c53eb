package core

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultQueryTimeout bounds every statement issued through the *WithTimeout helpers
const DefaultQueryTimeout = 30 * time.Second

// Database wraps sql.DB with additional functionality
type Database struct {
	*sql.DB
	logger  *Logger
	timeout time.Duration
}

// NewDatabase creates a new database wrapper
func NewDatabase(db *sql.DB, logger *Logger) *Database {
	return &Database{
		DB:      db,
		logger:  logger,
		timeout: DefaultQueryTimeout,
	}
}

// OpenSQLite opens a SQLite database with WAL and a busy timeout. A path of ":memory:"
// or one starting with "file:" is passed through unchanged.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serialises writers; one connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	return db, nil
}

// Transaction executes a function within a database transaction
func (db *Database) Transaction(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			// A panic occurred, rollback and re-panic
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	err = fn(tx)
	return err
}

// PingWithTimeout pings the database with a timeout
func (db *Database) PingWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return db.PingContext(ctx)
}

// Rows releases its query timeout when closed
type Rows struct {
	*sql.Rows
	cancel context.CancelFunc
}

// Close closes the result set and releases the timeout
func (r *Rows) Close() error {
	err := r.Rows.Close()
	r.cancel()
	return err
}

// Row releases its query timeout once scanned
type Row struct {
	row    *sql.Row
	cancel context.CancelFunc
}

// Scan copies the row into dest and releases the timeout
func (r *Row) Scan(dest ...any) error {
	defer r.cancel()
	return r.row.Scan(dest...)
}

// QueryWithTimeout executes a query with a timeout. Callers must Close the rows.
func (db *Database) QueryWithTimeout(ctx context.Context, query string, args ...any) (*Rows, error) {
	queryCtx, cancel := context.WithTimeout(ctx, db.timeout)

	rows, err := db.QueryContext(queryCtx, query, args...)
	if err != nil {
		cancel()
		return nil, err
	}

	return &Rows{Rows: rows, cancel: cancel}, nil
}

// QueryRowWithTimeout executes a single-row query with a timeout
func (db *Database) QueryRowWithTimeout(ctx context.Context, query string, args ...any) *Row {
	queryCtx, cancel := context.WithTimeout(ctx, db.timeout)

	return &Row{row: db.QueryRowContext(queryCtx, query, args...), cancel: cancel}
}

// ExecWithTimeout executes a command with a timeout
func (db *Database) ExecWithTimeout(ctx context.Context, query string, args ...any) (sql.Result, error) {
	queryCtx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	return db.ExecContext(queryCtx, query, args...)
}

// Close closes the database connection
func (db *Database) Close() error {
	db.logger.Info("Closing database connection")
	return db.DB.Close()
}

// LogStats logs database statistics
func (db *Database) LogStats() {
	stats := db.Stats()
	db.logger.Info("Database stats",
		"max_open_connections", stats.MaxOpenConnections,
		"open_connections", stats.OpenConnections,
		"in_use", stats.InUse,
		"idle", stats.Idle,
		"wait_count", stats.WaitCount,
		"wait_duration", stats.WaitDuration,
	)
}
