package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"netspace-tracker/internal/core"
	"netspace-tracker/internal/features/netstatus/database"
	"netspace-tracker/internal/features/netstatus/models"
)

const rollbackTimeout = 5 * time.Second

// WebhookPorts are the only ports the webhook client will connect to
var WebhookPorts = []int{80, 443}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// SubscriptionStore is the persistence SubscriptionManager needs
type SubscriptionStore interface {
	InsertEmail(ctx context.Context, sub *models.EmailSubscription) error
	GetEmail(ctx context.Context, email string) (*models.EmailSubscription, error)
	VerifyEmailToken(ctx context.Context, token string) error
	DeleteEmail(ctx context.Context, email string) error
	InsertWebhook(ctx context.Context, url string) (*models.WebhookSubscription, error)
	DeleteWebhook(ctx context.Context, url string) error
	InsertBrowser(ctx context.Context, sub *models.BrowserSubscription) error
	DeleteBrowser(ctx context.Context, endpoint string) error
	Stats(ctx context.Context) (models.SubscriptionStats, error)
}

// VerificationEmailData is the template data for the verification mail
type VerificationEmailData struct {
	Email     string
	VerifyURL string
}

// SubscriptionManager registers and removes subscribers
type SubscriptionManager struct {
	store   SubscriptionStore
	mailer  MailSender
	baseURL string
	logger  *core.Logger
}

// NewSubscriptionManager creates a manager. Verification links point at baseURL.
func NewSubscriptionManager(store SubscriptionStore, mailer MailSender, baseURL string, logger *core.Logger) *SubscriptionManager {
	return &SubscriptionManager{
		store:   store,
		mailer:  mailer,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// ValidEmail reports whether email looks like an address
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// SubscribeEmail registers email and sends a verification link. A pending
// address gets its existing link again; a verified one is left alone.
func (m *SubscriptionManager) SubscribeEmail(ctx context.Context, email string) (models.SubscribeOutcome, error) {
	email = strings.TrimSpace(email)
	if !ValidEmail(email) {
		return 0, core.NewValidationError("Invalid email address", nil)
	}

	existing, err := m.store.GetEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Verified {
			return models.AlreadySubscribed, nil
		}
		if err := m.sendVerification(ctx, email, existing.Token); err != nil {
			return 0, err
		}
		m.logger.Info("Resent verification email", "email", email)
		return models.VerificationResent, nil
	case !errors.Is(err, database.ErrRecordNotFound):
		return 0, core.NewDatabaseError("Failed to look up subscription", err)
	}

	sub := &models.EmailSubscription{Email: email, Token: newVerificationToken(email)}
	if err := m.store.InsertEmail(ctx, sub); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return models.AlreadySubscribed, nil
		}
		return 0, core.NewDatabaseError("Failed to save subscription", err)
	}

	if err := m.sendVerification(ctx, email, sub.Token); err != nil {
		// The row must not outlive a verification mail that never went out,
		// even when the request that created it is gone.
		rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		if delErr := m.store.DeleteEmail(rollbackCtx, email); delErr != nil {
			m.logger.Error("Failed to roll back unverified subscription", "email", email, "error", delErr)
		}
		return 0, err
	}

	m.logger.Info("Email subscription created", "email", email)
	return models.VerificationSent, nil
}

func (m *SubscriptionManager) sendVerification(ctx context.Context, email, token string) error {
	data := VerificationEmailData{
		Email:     email,
		VerifyURL: m.baseURL + "/api/verify?token=" + url.QueryEscape(token),
	}
	if err := m.mailer.Send(ctx, email, "verification.tmpl", data); err != nil {
		return core.NewDeliveryError("Failed to send verification email", err)
	}
	return nil
}

// newVerificationToken hashes the address with the current time and a random salt
func newVerificationToken(email string) string {
	sum := sha256.Sum256([]byte(email + strconv.FormatInt(time.Now().UnixNano(), 10) + uuid.NewString()))
	return hex.EncodeToString(sum[:])[:32]
}

// VerifyEmail marks the subscription owning token as verified. Verifying twice is not an error.
func (m *SubscriptionManager) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return core.NewValidationError("Missing verification token", nil)
	}
	if err := m.store.VerifyEmailToken(ctx, token); err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return core.NewNotFoundError("Invalid or expired verification token", err)
		}
		return core.NewDatabaseError("Failed to verify subscription", err)
	}
	return nil
}

// UnsubscribeEmail removes the subscription for email
func (m *SubscriptionManager) UnsubscribeEmail(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if !ValidEmail(email) {
		return core.NewValidationError("Invalid email address", nil)
	}
	if err := m.store.DeleteEmail(ctx, email); err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return core.NewNotFoundError("Email not found in our subscription list", err)
		}
		return core.NewDatabaseError("Failed to unsubscribe", err)
	}
	m.logger.Info("Email unsubscribed", "email", email)
	return nil
}

// SubscribeWebhook registers an http(s) URL
func (m *SubscriptionManager) SubscribeWebhook(ctx context.Context, rawURL string) (models.SubscribeOutcome, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !validWebhookURL(rawURL) {
		return 0, core.NewValidationError("Invalid webhook URL", nil)
	}

	if _, err := m.store.InsertWebhook(ctx, rawURL); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return models.AlreadySubscribed, nil
		}
		return 0, core.NewDatabaseError("Failed to save webhook", err)
	}

	m.logger.Info("Webhook subscription created", "url", rawURL)
	return models.Subscribed, nil
}

// UnsubscribeWebhook removes a webhook URL
func (m *SubscriptionManager) UnsubscribeWebhook(ctx context.Context, rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if !validWebhookURL(rawURL) {
		return core.NewValidationError("Invalid webhook URL", nil)
	}
	if err := m.store.DeleteWebhook(ctx, rawURL); err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return core.NewNotFoundError("Webhook not found in our subscription list", err)
		}
		return core.NewDatabaseError("Failed to unsubscribe", err)
	}

	m.logger.Info("Webhook unsubscribed", "url", rawURL)
	return nil
}

func validWebhookURL(raw string) bool {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return false
	}
	if u.Port() == "" {
		return true
	}
	port, err := strconv.Atoi(u.Port())
	return err == nil && slices.Contains(WebhookPorts, port)
}

// SubscribeBrowser stores a web-push subscription
func (m *SubscriptionManager) SubscribeBrowser(ctx context.Context, endpoint, auth, p256dh string) (models.SubscribeOutcome, error) {
	if endpoint == "" || auth == "" || p256dh == "" {
		return 0, core.NewValidationError("Invalid browser notification subscription", nil)
	}

	sub := &models.BrowserSubscription{Endpoint: endpoint, Auth: auth, P256dh: p256dh}
	if err := m.store.InsertBrowser(ctx, sub); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return models.AlreadySubscribed, nil
		}
		return 0, core.NewDatabaseError("Failed to save browser subscription", err)
	}
	return models.Subscribed, nil
}

// UnsubscribeBrowser removes the web-push subscription for endpoint
func (m *SubscriptionManager) UnsubscribeBrowser(ctx context.Context, endpoint string) error {
	if endpoint == "" {
		return core.NewValidationError("Missing endpoint", nil)
	}
	if err := m.store.DeleteBrowser(ctx, endpoint); err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return core.NewNotFoundError("Subscription not found", err)
		}
		return core.NewDatabaseError("Failed to unsubscribe", err)
	}
	return nil
}

// Stats counts subscribers per channel
func (m *SubscriptionManager) Stats(ctx context.Context) (models.SubscriptionStats, error) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return models.SubscriptionStats{}, core.NewDatabaseError("Failed to load subscription stats", err)
	}
	return stats, nil
}
