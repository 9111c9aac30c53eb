package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"netspace-tracker/internal/core"
	"netspace-tracker/internal/features/netstatus/database"
	"netspace-tracker/internal/features/netstatus/migrations"
	"netspace-tracker/internal/features/netstatus/models"
	"netspace-tracker/internal/metrics"
)

func newTestStore(t *testing.T) *database.Store {
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
	if _, err := db.Exec("DELETE FROM network_status_history"); err != nil {
		t.Fatalf("Failed to clear history: %v", err)
	}

	return database.NewStore(coreDB, logger)
}

func historyLen(t *testing.T, store *database.Store) int {
	t.Helper()
	events, err := store.History(context.Background(), 1000)
	if err != nil {
		t.Fatalf("Failed to read history: %v", err)
	}
	return len(events)
}

// recordingNotifier captures dispatched events
type recordingNotifier struct {
	mu     sync.Mutex
	events []models.NetworkStatusEvent
}

func (n *recordingNotifier) Dispatch(event models.NetworkStatusEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) Events() []models.NetworkStatusEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.NetworkStatusEvent(nil), n.events...)
}

type sentMail struct {
	recipients []string
	template   string
	data       any
}

// fakeMailer records sends. fail decides per call whether the send errors.
type fakeMailer struct {
	mu    sync.Mutex
	sent  []sentMail
	calls int
	fail  func(call int) bool
	panic bool
}

var errFakeSend = errors.New("smtp unavailable")

func (m *fakeMailer) record(recipients []string, template string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.panic {
		panic("mailer exploded")
	}
	m.calls++
	if m.fail != nil && m.fail(m.calls) {
		return errFakeSend
	}
	m.sent = append(m.sent, sentMail{recipients: append([]string(nil), recipients...), template: template, data: data})
	return nil
}

func (m *fakeMailer) Send(_ context.Context, recipient, templateFile string, data any) error {
	return m.record([]string{recipient}, templateFile, data)
}

func (m *fakeMailer) SendBCC(_ context.Context, recipients []string, templateFile string, data any) error {
	return m.record(recipients, templateFile, data)
}

func (m *fakeMailer) Sent() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

func (m *fakeMailer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// failingStore refuses every write
type failingStore struct{}

func (failingStore) InsertEvent(context.Context, *models.NetworkStatusEvent) error {
	return errors.New("disk full")
}

func newTestBus() *EventBus {
	return NewEventBus(core.NewDiscardLogger(), metrics.Noop{})
}
