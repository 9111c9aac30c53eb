package models

import (
	"errors"
	"fmt"
	"time"
)

// EmailSubscription is an email subscriber. Only verified rows receive status mail.
type EmailSubscription struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Token     string    `json:"-"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

// WebhookSubscription is a URL that receives a JSON POST per transition
type WebhookSubscription struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// BrowserSubscription is a stored web-push endpoint. Delivery to browsers is not implemented.
type BrowserSubscription struct {
	ID        int64     `json:"id"`
	Endpoint  string    `json:"endpoint"`
	Auth      string    `json:"auth"`
	P256dh    string    `json:"p256dh"`
	CreatedAt time.Time `json:"created_at"`
}

// SubscriptionStats counts subscribers by channel. Email counts verified rows only.
type SubscriptionStats struct {
	Total   int `json:"total"`
	Email   int `json:"email"`
	Webhook int `json:"webhook"`
	Browser int `json:"browser"`
}

// SubscribeOutcome describes what a subscribe call did
type SubscribeOutcome int

const (
	VerificationSent SubscribeOutcome = iota
	VerificationResent
	AlreadySubscribed
	Subscribed
)

func (o SubscribeOutcome) String() string {
	switch o {
	case VerificationSent:
		return "verification_sent"
	case VerificationResent:
		return "verification_resent"
	case AlreadySubscribed:
		return "already_subscribed"
	case Subscribed:
		return "subscribed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MaintenanceWindow is a planned outage interval
type MaintenanceWindow struct {
	Start   time.Time `json:"startTime"`
	End     time.Time `json:"endTime"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

var (
	ErrWindowMissingBounds = errors.New("start and end time are required")
	ErrWindowOrder         = errors.New("end time must be after start time")
)

// Validate checks the window bounds
func (w MaintenanceWindow) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return ErrWindowMissingBounds
	}
	if !w.End.After(w.Start) {
		return ErrWindowOrder
	}
	return nil
}

// PendingMaintenance describes an armed end-of-window timer
type PendingMaintenance struct {
	EventID int64     `json:"eventId"`
	Start   time.Time `json:"startTime"`
	End     time.Time `json:"endTime"`
	Message string    `json:"message"`
}
