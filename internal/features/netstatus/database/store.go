package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"netspace-tracker/internal/core"
	"netspace-tracker/internal/features/netstatus/models"
)

// Common errors
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicate      = errors.New("duplicate record")
)

// timeLayout is fixed width so that lexical order of the stored text matches time order
const timeLayout = "2006-01-02 15:04:05.000000000"

// Store persists subscribers and the status history
type Store struct {
	db     *core.Database
	logger *core.Logger
}

// NewStore creates a new store
func NewStore(db *core.Database, logger *core.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// InsertEvent appends an event to the history and sets its ID
func (s *Store) InsertEvent(ctx context.Context, event *models.NetworkStatusEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	query := `
		INSERT INTO network_status_history (status, message, details, timestamp, source)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecWithTimeout(ctx, query,
		string(event.Status), event.Message, event.Details, formatTime(event.Timestamp), event.Source)
	if err != nil {
		return fmt.Errorf("insert status event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert status event: %w", err)
	}
	event.ID = id

	return nil
}

// LatestEventAt returns the newest history row timestamped at or before at.
// Rows for maintenance windows that have not started yet are skipped.
func (s *Store) LatestEventAt(ctx context.Context, at time.Time) (*models.NetworkStatusEvent, error) {
	query := `
		SELECT id, status, message, details, timestamp, source
		FROM network_status_history
		WHERE timestamp <= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`

	events, err := s.queryEvents(ctx, query, formatTime(at))
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrRecordNotFound
	}
	return &events[0], nil
}

// History returns up to limit events, newest first
func (s *Store) History(ctx context.Context, limit int) ([]models.NetworkStatusEvent, error) {
	query := `
		SELECT id, status, message, details, timestamp, source
		FROM network_status_history
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`

	return s.queryEvents(ctx, query, limit)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]models.NetworkStatusEvent, error) {
	rows, err := s.db.QueryWithTimeout(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	events := []models.NetworkStatusEvent{}
	for rows.Next() {
		var event models.NetworkStatusEvent
		var status string
		var timestamp sql.NullString

		if err := rows.Scan(&event.ID, &status, &event.Message, &event.Details, &timestamp, &event.Source); err != nil {
			return nil, fmt.Errorf("scan status event: %w", err)
		}

		event.Status = models.Status(status)
		if timestamp.Valid {
			if event.Timestamp, err = parseTimeFlexible(timestamp.String); err != nil {
				return nil, err
			}
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// InsertEmail stores a new unverified email subscription
func (s *Store) InsertEmail(ctx context.Context, sub *models.EmailSubscription) error {
	query := `
		INSERT INTO email_subscriptions (email, token, verified, created_at)
		VALUES (?, ?, ?, ?)
	`

	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}

	result, err := s.db.ExecWithTimeout(ctx, query, sub.Email, sub.Token, sub.Verified, formatTime(sub.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert email subscription: %w", err)
	}

	sub.ID, err = result.LastInsertId()
	return err
}

// GetEmail retrieves a subscription by address
func (s *Store) GetEmail(ctx context.Context, email string) (*models.EmailSubscription, error) {
	query := `
		SELECT id, email, token, verified, created_at
		FROM email_subscriptions
		WHERE email = ?
	`

	var sub models.EmailSubscription
	var createdAt sql.NullString

	err := s.db.QueryRowWithTimeout(ctx, query, email).Scan(&sub.ID, &sub.Email, &sub.Token, &sub.Verified, &createdAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, fmt.Errorf("get email subscription: %w", err)
		}
	}

	if createdAt.Valid {
		if sub.CreatedAt, err = parseTimeFlexible(createdAt.String); err != nil {
			return nil, err
		}
	}

	return &sub, nil
}

// VerifyEmailToken marks the subscription holding token as verified. Verifying twice succeeds.
func (s *Store) VerifyEmailToken(ctx context.Context, token string) error {
	result, err := s.db.ExecWithTimeout(ctx, `UPDATE email_subscriptions SET verified = 1 WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("verify email token: %w", err)
	}
	return expectAffected(result)
}

// DeleteEmail removes the subscription for email
func (s *Store) DeleteEmail(ctx context.Context, email string) error {
	result, err := s.db.ExecWithTimeout(ctx, `DELETE FROM email_subscriptions WHERE email = ?`, email)
	if err != nil {
		return fmt.Errorf("delete email subscription: %w", err)
	}
	return expectAffected(result)
}

// VerifiedEmails returns every verified address
func (s *Store) VerifiedEmails(ctx context.Context) ([]string, error) {
	return s.strings(ctx, `SELECT email FROM email_subscriptions WHERE verified = 1 ORDER BY id`)
}

// InsertWebhook stores a webhook URL
func (s *Store) InsertWebhook(ctx context.Context, url string) (*models.WebhookSubscription, error) {
	sub := &models.WebhookSubscription{URL: url, CreatedAt: time.Now()}

	result, err := s.db.ExecWithTimeout(ctx,
		`INSERT INTO webhook_subscriptions (url, created_at) VALUES (?, ?)`, url, formatTime(sub.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert webhook subscription: %w", err)
	}

	sub.ID, err = result.LastInsertId()
	return sub, err
}

// DeleteWebhook removes a webhook URL
func (s *Store) DeleteWebhook(ctx context.Context, url string) error {
	result, err := s.db.ExecWithTimeout(ctx, `DELETE FROM webhook_subscriptions WHERE url = ?`, url)
	if err != nil {
		return fmt.Errorf("delete webhook subscription: %w", err)
	}
	return expectAffected(result)
}

// WebhookURLs returns every subscribed webhook URL
func (s *Store) WebhookURLs(ctx context.Context) ([]string, error) {
	return s.strings(ctx, `SELECT url FROM webhook_subscriptions ORDER BY id`)
}

// InsertBrowser stores a browser push endpoint
func (s *Store) InsertBrowser(ctx context.Context, sub *models.BrowserSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}

	result, err := s.db.ExecWithTimeout(ctx,
		`INSERT INTO browser_subscriptions (endpoint, auth, p256dh, created_at) VALUES (?, ?, ?, ?)`,
		sub.Endpoint, sub.Auth, sub.P256dh, formatTime(sub.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert browser subscription: %w", err)
	}

	sub.ID, err = result.LastInsertId()
	return err
}

// DeleteBrowser removes a browser push endpoint
func (s *Store) DeleteBrowser(ctx context.Context, endpoint string) error {
	result, err := s.db.ExecWithTimeout(ctx, `DELETE FROM browser_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("delete browser subscription: %w", err)
	}
	return expectAffected(result)
}

// Stats counts subscribers per channel in a single statement
func (s *Store) Stats(ctx context.Context) (models.SubscriptionStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM email_subscriptions WHERE verified = 1),
			(SELECT COUNT(*) FROM webhook_subscriptions),
			(SELECT COUNT(*) FROM browser_subscriptions)
	`

	var stats models.SubscriptionStats
	if err := s.db.QueryRowWithTimeout(ctx, query).Scan(&stats.Email, &stats.Webhook, &stats.Browser); err != nil {
		return stats, fmt.Errorf("count subscriptions: %w", err)
	}
	stats.Total = stats.Email + stats.Webhook + stats.Browser

	return stats, nil
}

func (s *Store) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryWithTimeout(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func expectAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTimeFlexible accepts the layouts SQLite and the driver may hand back
func parseTimeFlexible(timeStr string) (time.Time, error) {
	formats := []string{
		timeLayout,
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.ParseInLocation(format, timeStr, time.UTC); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse time: %s", timeStr)
}
