package services

import (
	"sync"
	"time"

	"netspace-tracker/internal/features/netstatus/models"
)

// MonitorState owns the current status and the time it was last checked.
// It is created once per process and shared by the resolver, the maintenance
// scheduler and the HTTP handlers.
type MonitorState struct {
	mu          sync.RWMutex
	status      models.Status
	lastChecked time.Time
}

// NewMonitorState creates a state starting at initial
func NewMonitorState(initial models.Status) *MonitorState {
	return &MonitorState{status: initial, lastChecked: time.Now()}
}

// Snapshot returns a consistent copy of the current status
func (s *MonitorState) Snapshot() models.CurrentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CurrentStatus{Status: s.status, LastChecked: s.lastChecked}
}

// Touch records that a check ran at t without changing the status
func (s *MonitorState) Touch(t time.Time) {
	s.mu.Lock()
	s.lastChecked = t
	s.mu.Unlock()
}

// Swap sets the status to next and reports the previous value and whether it changed
func (s *MonitorState) Swap(next models.Status, t time.Time) (prev models.Status, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev = s.status
	s.lastChecked = t
	if prev == next {
		return prev, false
	}
	s.status = next
	return prev, true
}
