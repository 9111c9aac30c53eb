package handlers

import (
	"context"

	"netspace-tracker/internal/features/netstatus/models"
	"netspace-tracker/internal/features/netstatus/services"
)

// StatusReader exposes the in-memory current status
type StatusReader interface {
	Snapshot() models.CurrentStatus
}

// HistoryReader reads the status history, newest first
type HistoryReader interface {
	History(ctx context.Context, limit int) ([]models.NetworkStatusEvent, error)
}

// StatusChecker runs an on-demand status check
type StatusChecker interface {
	Check(ctx context.Context) services.CheckResult
}

// MaintenanceScheduler records planned maintenance windows
type MaintenanceScheduler interface {
	Schedule(ctx context.Context, window models.MaintenanceWindow) (models.NetworkStatusEvent, error)
	Cancel(id int64) bool
	Pending() []models.PendingMaintenance
}

// SubscriptionService manages subscribers on every channel
type SubscriptionService interface {
	SubscribeEmail(ctx context.Context, email string) (models.SubscribeOutcome, error)
	VerifyEmail(ctx context.Context, token string) error
	UnsubscribeEmail(ctx context.Context, email string) error
	SubscribeWebhook(ctx context.Context, url string) (models.SubscribeOutcome, error)
	UnsubscribeWebhook(ctx context.Context, url string) error
	SubscribeBrowser(ctx context.Context, endpoint, auth, p256dh string) (models.SubscribeOutcome, error)
	UnsubscribeBrowser(ctx context.Context, endpoint string) error
	Stats(ctx context.Context) (models.SubscriptionStats, error)
}

// EventSource hands out channels of published status transitions
type EventSource interface {
	Subscribe() chan models.NetworkStatusEvent
	Unsubscribe(ch chan models.NetworkStatusEvent)
	Len() int
}
