package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"netspace-tracker/internal/core"
	"netspace-tracker/internal/features/netstatus/models"
	"netspace-tracker/internal/metrics"
)

// statusServer serves body with code on every request
func statusServer(t *testing.T, code int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func endpoint(srv *httptest.Server) *EndpointSource {
	return NewEndpointSource("test", srv.URL, nil, 2*time.Second, srv.Client(), NewSanitizer())
}

func newTestResolver(sources []Source, initial models.Status, store EventStore, bus *EventBus, notifier Notifier) (*Resolver, *MonitorState) {
	state := NewMonitorState(initial)
	return NewResolver(sources, state, store, bus, notifier, core.NewDiscardLogger(), metrics.Noop{}), state
}

func TestCheckNoSignalKeepsStatus(t *testing.T) {
	store := newTestStore(t)
	notifier := &recordingNotifier{}

	failing := statusServer(t, http.StatusInternalServerError, `{"status":"down"}`)
	empty := statusServer(t, http.StatusOK, `{"message":"nothing decisive"}`)

	resolver, state := newTestResolver([]Source{endpoint(failing), endpoint(empty)}, models.StatusUp, store, newTestBus(), notifier)

	result := resolver.Check(context.Background())
	if result.Outcome != CheckNoSignal {
		t.Fatalf("Expected no_signal, got %s", result.Outcome)
	}
	if got := state.Snapshot().Status; got != models.StatusUp {
		t.Errorf("Expected status to stay up, got %s", got)
	}
	if n := historyLen(t, store); n != 0 {
		t.Errorf("Expected no history rows, got %d", n)
	}
	if n := len(notifier.Events()); n != 0 {
		t.Errorf("Expected no dispatches, got %d", n)
	}
}

func TestCheckNoSourcesIsNoop(t *testing.T) {
	store := newTestStore(t)
	resolver, _ := newTestResolver(nil, models.StatusUp, store, newTestBus(), &recordingNotifier{})

	if result := resolver.Check(context.Background()); result.Outcome != CheckNoSignal {
		t.Fatalf("Expected no_signal, got %s", result.Outcome)
	}
}

func TestCheckUnchangedStatusIsDeduplicated(t *testing.T) {
	store := newTestStore(t)
	notifier := &recordingNotifier{}
	srv := statusServer(t, http.StatusOK, `{"status":"up","message":"fine"}`)

	resolver, state := newTestResolver([]Source{endpoint(srv)}, models.StatusUp, store, newTestBus(), notifier)
	before := state.Snapshot().LastChecked

	for i := 0; i < 2; i++ {
		if result := resolver.Check(context.Background()); result.Outcome != CheckUnchanged {
			t.Fatalf("Check %d: expected unchanged, got %s", i, result.Outcome)
		}
	}

	if n := historyLen(t, store); n != 0 {
		t.Errorf("Expected no history rows, got %d", n)
	}
	if n := len(notifier.Events()); n != 0 {
		t.Errorf("Expected no dispatches, got %d", n)
	}
	if state.Snapshot().LastChecked.Before(before) {
		t.Error("Expected lastChecked to advance")
	}
}

func TestCheckTransitionPersistsAndNotifies(t *testing.T) {
	store := newTestStore(t)
	notifier := &recordingNotifier{}
	bus := newTestBus()
	observer := bus.Subscribe()
	defer bus.Unsubscribe(observer)

	srv := statusServer(t, http.StatusOK, `{"status":"down","message":"<b>Core router</b> offline","details":"rack 4"}`)
	resolver, state := newTestResolver([]Source{endpoint(srv)}, models.StatusUp, store, bus, notifier)

	result := resolver.Check(context.Background())
	if result.Outcome != CheckTransition || !result.Notified {
		t.Fatalf("Expected notified transition, got %+v", result)
	}
	if state.Snapshot().Status != models.StatusDown {
		t.Errorf("Expected state down, got %s", state.Snapshot().Status)
	}

	history, err := store.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("Failed to read history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected 1 history row, got %d", len(history))
	}
	row := history[0]
	if row.Message != "Core router offline" {
		t.Errorf("Expected sanitized message, got %q", row.Message)
	}
	if row.Source.ValueOrZero() != models.SourceCustomEndpoint {
		t.Errorf("Expected source %s, got %q", models.SourceCustomEndpoint, row.Source.ValueOrZero())
	}

	events := notifier.Events()
	if len(events) != 1 || events[0].ID != row.ID {
		t.Fatalf("Expected one dispatch for event %d, got %+v", row.ID, events)
	}

	select {
	case published := <-observer:
		if published.ID != row.ID {
			t.Errorf("Expected bus event %d, got %d", row.ID, published.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected event on bus")
	}
}

func TestConcurrentChecksTransitionOnce(t *testing.T) {
	store := newTestStore(t)
	notifier := &recordingNotifier{}

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"down","message":"Core router offline"}`)
	}))
	t.Cleanup(slow.Close)

	resolver, state := newTestResolver([]Source{endpoint(slow)}, models.StatusUp, store, newTestBus(), notifier)

	const checks = 8
	outcomes := make(chan CheckOutcome, checks)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < checks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			outcomes <- resolver.Check(context.Background()).Outcome
		}()
	}
	close(start)
	wg.Wait()
	close(outcomes)

	transitions := 0
	for outcome := range outcomes {
		switch outcome {
		case CheckTransition:
			transitions++
		case CheckUnchanged:
		default:
			t.Errorf("Unexpected outcome %s", outcome)
		}
	}

	if transitions != 1 {
		t.Errorf("Expected exactly one transition, got %d", transitions)
	}
	if n := historyLen(t, store); n != 1 {
		t.Errorf("Expected exactly one history row, got %d", n)
	}
	if n := len(notifier.Events()); n != 1 {
		t.Errorf("Expected exactly one dispatch, got %d", n)
	}
	if state.Snapshot().Status != models.StatusDown {
		t.Errorf("Expected state down, got %s", state.Snapshot().Status)
	}
}

func TestCheckMaintenanceToUpIsNotNotified(t *testing.T) {
	store := newTestStore(t)
	notifier := &recordingNotifier{}
	srv := statusServer(t, http.StatusOK, `{"operational":true}`)

	resolver, _ := newTestResolver([]Source{endpoint(srv)}, models.StatusMaintenance, store, newTestBus(), notifier)

	result := resolver.Check(context.Background())
	if result.Outcome != CheckTransition {
		t.Fatalf("Expected transition, got %s", result.Outcome)
	}
	if result.Notified {
		t.Error("Expected maintenance to up to be silent")
	}
	if n := historyLen(t, store); n != 1 {
		t.Errorf("Expected 1 history row, got %d", n)
	}
	if n := len(notifier.Events()); n != 0 {
		t.Errorf("Expected no dispatches, got %d", n)
	}
}

func TestCheckFallsThroughToNextSource(t *testing.T) {
	store := newTestStore(t)

	broken := statusServer(t, http.StatusOK, `{"status":"sideways"}`)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()
	good := statusServer(t, http.StatusOK, `{"status":"degraded"}`)

	slowSource := NewEndpointSource("slow", slow.URL, nil, 50*time.Millisecond, slow.Client(), NewSanitizer())
	resolver, _ := newTestResolver([]Source{endpoint(broken), slowSource, endpoint(good)}, models.StatusUp, store, newTestBus(), &recordingNotifier{})

	start := time.Now()
	result := resolver.Check(context.Background())
	if result.Current != models.StatusDegraded {
		t.Fatalf("Expected degraded from third source, got %+v", result)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Slow source was not bounded by its timeout: %v", elapsed)
	}
}

func TestCheckPersistFailureStillNotifies(t *testing.T) {
	notifier := &recordingNotifier{}
	srv := statusServer(t, http.StatusOK, `{"up":false}`)

	resolver, state := newTestResolver([]Source{endpoint(srv)}, models.StatusUp, failingStore{}, newTestBus(), notifier)

	result := resolver.Check(context.Background())
	if result.Outcome != CheckTransition {
		t.Fatalf("Expected transition, got %s", result.Outcome)
	}
	if state.Snapshot().Status != models.StatusDown {
		t.Errorf("Expected state down, got %s", state.Snapshot().Status)
	}
	if n := len(notifier.Events()); n != 1 {
		t.Errorf("Expected 1 dispatch, got %d", n)
	}
}

func TestEnterMaintenance(t *testing.T) {
	notifier := &recordingNotifier{}
	resolver, state := newTestResolver(nil, models.StatusUp, newTestStore(t), newTestBus(), notifier)

	resolver.EnterMaintenance(context.Background(), models.NetworkStatusEvent{ID: 7, Status: models.StatusMaintenance})

	if state.Snapshot().Status != models.StatusMaintenance {
		t.Errorf("Expected maintenance, got %s", state.Snapshot().Status)
	}
	if events := notifier.Events(); len(events) != 1 || events[0].ID != 7 {
		t.Errorf("Expected dispatch of event 7, got %+v", events)
	}
}

func TestParseEndpointPayload(t *testing.T) {
	sanitizer := NewSanitizer()

	tests := []struct {
		name     string
		body     string
		want     models.Status
		wantErr  bool
		noSignal bool
	}{
		{name: "explicit status", body: `{"status":"maintenance"}`, want: models.StatusMaintenance},
		{name: "operational false", body: `{"operational":false}`, want: models.StatusDown},
		{name: "up true", body: `{"up":true}`, want: models.StatusUp},
		{name: "status wins over operational", body: `{"status":"degraded","operational":true}`, want: models.StatusDegraded},
		{name: "unknown status", body: `{"status":"fine"}`, wantErr: true},
		{name: "status wrong type", body: `{"status":1}`, wantErr: true},
		{name: "operational wrong type", body: `{"operational":"yes"}`, wantErr: true},
		{name: "bad timestamp", body: `{"status":"up","timestamp":"yesterday"}`, wantErr: true},
		{name: "not json", body: `<html>`, wantErr: true},
		{name: "no decisive field", body: `{"message":"hello"}`, wantErr: true, noSignal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseEndpointPayload([]byte(tt.body), sanitizer)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error, got %+v", res)
				}
				if tt.noSignal && !errors.Is(err, ErrNoSignal) {
					t.Errorf("Expected ErrNoSignal, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if res.Status != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, res.Status)
			}
		})
	}
}

func TestParseEndpointPayloadTimestampAndText(t *testing.T) {
	res, err := ParseEndpointPayload([]byte(`{"status":"up","message":"  <script>x</script>All &amp; good ","timestamp":"2026-03-01T10:00:00Z"}`), NewSanitizer())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Message != "All & good" {
		t.Errorf("Expected plain message, got %q", res.Message)
	}
	if !res.Timestamp.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected timestamp %v", res.Timestamp)
	}
}

func TestUptimeRobotSource(t *testing.T) {
	tests := []struct {
		name     string
		monitors string
		want     models.Status
		details  string
	}{
		{
			name:     "all up",
			monitors: `[{"id":1,"friendly_name":"API","status":2},{"id":2,"friendly_name":"Web","status":1}]`,
			want:     models.StatusUp,
		},
		{
			name:     "down beats seems down",
			monitors: `[{"id":1,"friendly_name":"API","status":8},{"id":2,"friendly_name":"Web","status":9},{"id":3,"friendly_name":"DNS","status":0}]`,
			want:     models.StatusDown,
			details:  "API: Experiencing issues, Web: Down, DNS: Paused",
		},
		{
			name:     "paused only",
			monitors: `[{"id":1,"friendly_name":"API","status":0},{"id":2,"friendly_name":"Web","status":2}]`,
			want:     models.StatusMaintenance,
			details:  "API: Paused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				if r.URL.Path != "/getMonitors" {
					t.Errorf("Expected /getMonitors, got %s", r.URL.Path)
				}
				if !strings.Contains(string(body), `"monitors":"1-2"`) {
					t.Errorf("Expected dash-joined monitor ids in %s", body)
				}
				fmt.Fprintf(w, `{"stat":"ok","monitors":%s}`, tt.monitors)
			}))
			defer srv.Close()

			source := NewUptimeRobotSource(srv.URL, "key", []string{"1", "2"}, time.Second, srv.Client(), NewSanitizer())
			res, err := source.Query(context.Background())
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if res.Status != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, res.Status)
			}
			if res.Details.ValueOrZero() != tt.details {
				t.Errorf("Expected details %q, got %q", tt.details, res.Details.ValueOrZero())
			}
			if res.Source != models.SourceUptimeRobot {
				t.Errorf("Expected source %s, got %s", models.SourceUptimeRobot, res.Source)
			}
		})
	}
}

func TestUptimeRobotSourceFailures(t *testing.T) {
	tests := []struct {
		name string
		code int
		body string
	}{
		{name: "http error", code: http.StatusBadGateway, body: `{}`},
		{name: "api error", code: http.StatusOK, body: `{"stat":"fail","error":{"message":"bad key"}}`},
		{name: "no monitors", code: http.StatusOK, body: `{"stat":"ok","monitors":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := statusServer(t, tt.code, tt.body)
			source := NewUptimeRobotSource(srv.URL, "key", []string{"1"}, time.Second, srv.Client(), NewSanitizer())
			if _, err := source.Query(context.Background()); err == nil {
				t.Fatal("Expected error")
			}
		})
	}
}
