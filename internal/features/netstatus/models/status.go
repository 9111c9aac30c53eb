package models

import (
	"time"

	"github.com/guregu/null/v5"
)

// Status is the canonical network status
type Status string

const (
	StatusUp          Status = "up"
	StatusDown        Status = "down"
	StatusDegraded    Status = "degraded"
	StatusMaintenance Status = "maintenance"
)

// Valid reports whether s is one of the four canonical statuses
func (s Status) Valid() bool {
	switch s {
	case StatusUp, StatusDown, StatusDegraded, StatusMaintenance:
		return true
	}
	return false
}

// DisplayName is the human label used in notifications
func (s Status) DisplayName() string {
	switch s {
	case StatusUp:
		return "Operational"
	case StatusDown:
		return "Outage Detected"
	case StatusDegraded:
		return "Performance Degraded"
	case StatusMaintenance:
		return "Scheduled Maintenance"
	}
	return string(s)
}

// Color is the banner background used in HTML notifications
func (s Status) Color() string {
	switch s {
	case StatusUp:
		return "#edfaf1"
	case StatusDown:
		return "#fdeeee"
	case StatusDegraded:
		return "#fff9e6"
	case StatusMaintenance:
		return "#f0f5ff"
	}
	return "#ffffff"
}

// DefaultMessage is used when a source does not supply one
func (s Status) DefaultMessage() string {
	switch s {
	case StatusUp:
		return "Network operating normally"
	case StatusDown:
		return "Network outage detected"
	case StatusDegraded:
		return "Network performance degraded"
	case StatusMaintenance:
		return "Network undergoing scheduled maintenance"
	}
	return ""
}

// Notifiable reports whether moving from prev to s should reach subscribers.
// Entering down or degraded always notifies; recovering to up notifies unless
// the previous state was a planned maintenance window.
func (s Status) Notifiable(prev Status) bool {
	switch s {
	case StatusDown, StatusDegraded:
		return true
	case StatusUp:
		return prev != StatusMaintenance
	}
	return false
}

// Source tags recorded with each history row
const (
	SourceUptimeRobot    = "uptimerobot"
	SourceCustomEndpoint = "custom_endpoint"
	SourceScheduled      = "scheduled"
	SourceInitialization = "initialization"
)

// NetworkStatusEvent is one row of the append-only status history.
// ID is zero until the event has been persisted.
type NetworkStatusEvent struct {
	ID        int64       `json:"id"`
	Status    Status      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Message   string      `json:"message"`
	Details   null.String `json:"details"`
	Source    null.String `json:"source"`
}

// CurrentStatus is the in-memory view of the latest known status
type CurrentStatus struct {
	Status      Status    `json:"status"`
	LastChecked time.Time `json:"lastChecked"`
}

// Resolution is the normalized answer from the first source that gave a signal
type Resolution struct {
	Status    Status
	Message   string
	Details   null.String
	Timestamp time.Time
	Source    string
}

// Event converts a resolution into an unpersisted history event
func (r Resolution) Event() NetworkStatusEvent {
	return NetworkStatusEvent{
		Status:    r.Status,
		Timestamp: r.Timestamp,
		Message:   r.Message,
		Details:   r.Details,
		Source:    null.StringFrom(r.Source),
	}
}
