package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/guregu/null/v5"

	"netspace-tracker/internal/core"
	"netspace-tracker/internal/features/netstatus/models"
)

const maintenanceTimeLayout = "2006-01-02 15:04:05 MST"

// Checker runs a status check; satisfied by *Resolver
type Checker interface {
	Check(ctx context.Context) CheckResult
	EnterMaintenance(ctx context.Context, event models.NetworkStatusEvent)
}

type pendingWindow struct {
	info  models.PendingMaintenance
	timer *time.Timer
}

// MaintenanceScheduler records planned maintenance and arms an end-of-window recheck
type MaintenanceScheduler struct {
	mu      sync.Mutex
	store   EventStore
	checker Checker
	logger  *core.Logger
	pending map[int64]*pendingWindow
	wg      sync.WaitGroup
	stopped bool
	now     func() time.Time
}

// NewMaintenanceScheduler creates a scheduler
func NewMaintenanceScheduler(store EventStore, checker Checker, logger *core.Logger) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		store:   store,
		checker: checker,
		logger:  logger,
		pending: make(map[int64]*pendingWindow),
		now:     time.Now,
	}
}

// Schedule persists a maintenance event for window. If the window has already
// started the status switches to maintenance now. If it has not ended, a timer
// re-runs the status check at its end. Returns the persisted event.
func (s *MaintenanceScheduler) Schedule(ctx context.Context, window models.MaintenanceWindow) (models.NetworkStatusEvent, error) {
	if err := window.Validate(); err != nil {
		msg := "End time must be after start time"
		if errors.Is(err, models.ErrWindowMissingBounds) {
			msg = "Start time and end time are required"
		}
		return models.NetworkStatusEvent{}, core.NewValidationError(msg, err)
	}

	event := models.NetworkStatusEvent{
		Status:    models.StatusMaintenance,
		Timestamp: window.Start,
		Message:   window.Message,
		Details: null.StringFrom(fmt.Sprintf("Planned maintenance scheduled from %s to %s",
			window.Start.UTC().Format(maintenanceTimeLayout), window.End.UTC().Format(maintenanceTimeLayout))),
		Source: null.StringFrom(models.SourceScheduled),
	}
	if event.Message == "" {
		event.Message = models.StatusMaintenance.DefaultMessage()
	}

	if err := s.store.InsertEvent(ctx, &event); err != nil {
		return models.NetworkStatusEvent{}, core.NewDatabaseError("Failed to schedule maintenance", err)
	}

	now := s.now()
	if !window.Start.After(now) {
		s.checker.EnterMaintenance(ctx, event)
	}

	if window.End.After(now) {
		s.arm(event.ID, window, window.End.Sub(now))
	}

	s.logger.Info("Scheduled maintenance",
		"event_id", event.ID, "start", window.Start, "end", window.End, "active", !window.Start.After(now))

	return event, nil
}

func (s *MaintenanceScheduler) arm(id int64, window models.MaintenanceWindow, after time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	pw := &pendingWindow{info: models.PendingMaintenance{
		EventID: id,
		Start:   window.Start,
		End:     window.End,
		Message: window.Message,
	}}
	s.wg.Add(1)
	pw.timer = time.AfterFunc(after, func() {
		defer s.wg.Done()

		s.mu.Lock()
		current, ok := s.pending[id]
		if ok && current == pw {
			delete(s.pending, id)
		}
		s.mu.Unlock()
		if !ok || current != pw {
			return
		}

		s.logger.Info("Maintenance window ended, re-checking status", "event_id", id)
		s.checker.Check(context.Background())
	})
	s.pending[id] = pw
}

// Cancel stops the end-of-window timer for the maintenance event id
func (s *MaintenanceScheduler) Cancel(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pw, ok := s.pending[id]
	if !ok {
		return false
	}
	delete(s.pending, id)
	if pw.timer.Stop() {
		s.wg.Done()
	}
	s.logger.Info("Cancelled maintenance end timer", "event_id", id)
	return true
}

// Pending lists armed windows ordered by end time
func (s *MaintenanceScheduler) Pending() []models.PendingMaintenance {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.PendingMaintenance, 0, len(s.pending))
	for _, pw := range s.pending {
		out = append(out, pw.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].End.Before(out[j].End) })
	return out
}

// Stop cancels every pending timer and waits for any that already fired
func (s *MaintenanceScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, pw := range s.pending {
		if pw.timer.Stop() {
			s.wg.Done()
		}
		delete(s.pending, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
