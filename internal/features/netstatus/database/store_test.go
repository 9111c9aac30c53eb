package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/guregu/null/v5"
	_ "modernc.org/sqlite"

	"netspace-tracker/internal/core"
	"netspace-tracker/internal/features/netstatus/migrations"
	"netspace-tracker/internal/features/netstatus/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := core.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := core.NewDiscardLogger()
	coreDB := core.NewDatabase(db, logger)
	if err := migrations.NewManager(coreDB, logger).Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	// Drop the seed row so each test starts from an empty history
	if _, err := db.Exec("DELETE FROM network_status_history"); err != nil {
		t.Fatalf("Failed to clear history: %v", err)
	}

	return NewStore(coreDB, logger)
}

func TestHistoryOrderAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// Insert out of order so the query, not insertion order, decides the result
	for i := 59; i >= 0; i-- {
		event := &models.NetworkStatusEvent{
			Status:    models.StatusUp,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Message:   fmt.Sprintf("event %d", i),
			Source:    null.StringFrom(models.SourceUptimeRobot),
		}
		if err := store.InsertEvent(ctx, event); err != nil {
			t.Fatalf("Failed to insert event: %v", err)
		}
		if event.ID == 0 {
			t.Fatal("Expected event ID to be set")
		}
	}

	history, err := store.History(ctx, 50)
	if err != nil {
		t.Fatalf("Failed to read history: %v", err)
	}
	if len(history) != 50 {
		t.Fatalf("Expected 50 rows, got %d", len(history))
	}
	if history[0].Message != "event 59" {
		t.Errorf("Expected newest event first, got %q", history[0].Message)
	}
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp.After(history[i-1].Timestamp) {
			t.Fatalf("History not ordered DESC at index %d", i)
		}
	}
	if !history[0].Timestamp.Equal(base.Add(59 * time.Minute)) {
		t.Errorf("Timestamp did not round-trip: %v", history[0].Timestamp)
	}

	latest, err := store.LatestEventAt(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Failed to read latest: %v", err)
	}
	if latest.ID != history[0].ID {
		t.Errorf("Expected latest to match head of history")
	}

	earlier, err := store.LatestEventAt(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Failed to read latest at cutoff: %v", err)
	}
	if !earlier.Timestamp.Equal(base.Add(30 * time.Minute)) {
		t.Errorf("Expected row at the cutoff, got %v", earlier.Timestamp)
	}
}

func TestEventNullableColumns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	event := &models.NetworkStatusEvent{Status: models.StatusDown, Message: "Network outage detected"}
	if err := store.InsertEvent(ctx, event); err != nil {
		t.Fatalf("Failed to insert event: %v", err)
	}

	got, err := store.LatestEventAt(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Failed to read latest: %v", err)
	}
	if got.Details.Valid || got.Source.Valid {
		t.Errorf("Expected NULL details and source, got %+v", got)
	}
}

func TestEmptyHistory(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.LatestEventAt(context.Background(), time.Now()); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
}

func TestEmailSubscriptionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sub := &models.EmailSubscription{Email: "ops@example.com", Token: "abc123"}
	if err := store.InsertEmail(ctx, sub); err != nil {
		t.Fatalf("Failed to insert email: %v", err)
	}
	if err := store.InsertEmail(ctx, &models.EmailSubscription{Email: "ops@example.com", Token: "other"}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}

	emails, err := store.VerifiedEmails(ctx)
	if err != nil {
		t.Fatalf("Failed to list verified emails: %v", err)
	}
	if len(emails) != 0 {
		t.Errorf("Expected no verified emails before verification, got %v", emails)
	}

	for i := 0; i < 2; i++ {
		if err := store.VerifyEmailToken(ctx, "abc123"); err != nil {
			t.Fatalf("Verification %d failed: %v", i+1, err)
		}
	}
	if err := store.VerifyEmailToken(ctx, "missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound for unknown token, got %v", err)
	}

	got, err := store.GetEmail(ctx, "ops@example.com")
	if err != nil {
		t.Fatalf("Failed to get email: %v", err)
	}
	if !got.Verified || got.Token != "abc123" {
		t.Errorf("Unexpected subscription: %+v", got)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.Email != 1 || stats.Total != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	if err := store.DeleteEmail(ctx, "ops@example.com"); err != nil {
		t.Fatalf("Failed to delete email: %v", err)
	}
	if err := store.DeleteEmail(ctx, "ops@example.com"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound on second delete, got %v", err)
	}
}

func TestStatsCountsOnlyVerifiedEmail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.InsertEmail(ctx, &models.EmailSubscription{Email: "a@example.com", Token: "t1", Verified: true})
	store.InsertEmail(ctx, &models.EmailSubscription{Email: "b@example.com", Token: "t2"})
	store.InsertWebhook(ctx, "https://hooks.example.com/a")
	store.InsertWebhook(ctx, "https://hooks.example.com/b")
	store.InsertBrowser(ctx, &models.BrowserSubscription{Endpoint: "https://push.example.com/1", Auth: "a", P256dh: "p"})

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	want := models.SubscriptionStats{Total: 4, Email: 1, Webhook: 2, Browser: 1}
	if stats != want {
		t.Errorf("Expected %+v, got %+v", want, stats)
	}
}

func TestWebhookAndBrowserDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.InsertWebhook(ctx, "https://hooks.example.com/x"); err != nil {
		t.Fatalf("Failed to insert webhook: %v", err)
	}
	if _, err := store.InsertWebhook(ctx, "https://hooks.example.com/x"); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}

	browser := &models.BrowserSubscription{Endpoint: "https://push.example.com/1", Auth: "a", P256dh: "p"}
	if err := store.InsertBrowser(ctx, browser); err != nil {
		t.Fatalf("Failed to insert browser subscription: %v", err)
	}
	if err := store.InsertBrowser(ctx, browser); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}
	if err := store.DeleteBrowser(ctx, browser.Endpoint); err != nil {
		t.Errorf("Failed to delete browser subscription: %v", err)
	}

	urls, err := store.WebhookURLs(ctx)
	if err != nil {
		t.Fatalf("Failed to list webhooks: %v", err)
	}
	if len(urls) != 1 {
		t.Errorf("Expected 1 webhook, got %v", urls)
	}
}

func TestParseTimeFlexible(t *testing.T) {
	inputs := []string{
		"2026-01-02 03:04:05.000000000",
		"2026-01-02T03:04:05Z",
		"2026-01-02 03:04:05",
		"2026-01-02 03:04:05.5+00:00",
	}
	for _, in := range inputs {
		if _, err := parseTimeFlexible(in); err != nil {
			t.Errorf("Failed to parse %q: %v", in, err)
		}
	}
	if _, err := parseTimeFlexible("yesterday"); err == nil {
		t.Error("Expected garbage to fail")
	}
}
