package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"netspace-tracker/internal/core"
	"netspace-tracker/internal/features/netstatus/database"
	"netspace-tracker/internal/features/netstatus/models"
)

func newTestManager(t *testing.T, mailer *fakeMailer) (*SubscriptionManager, *database.Store) {
	t.Helper()
	store := newTestStore(t)
	return NewSubscriptionManager(store, mailer, "https://status.example.com/", core.NewDiscardLogger()), store
}

func TestSubscribeEmailLifecycle(t *testing.T) {
	mailer := &fakeMailer{}
	manager, store := newTestManager(t, mailer)
	ctx := context.Background()

	outcome, err := manager.SubscribeEmail(ctx, "  alice@example.com ")
	if err != nil || outcome != models.VerificationSent {
		t.Fatalf("Expected verification_sent, got %s (%v)", outcome, err)
	}

	sub, err := store.GetEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("Failed to load subscription: %v", err)
	}
	if sub.Verified || len(sub.Token) != 32 {
		t.Errorf("Expected unverified row with 32 char token, got %+v", sub)
	}

	sent := mailer.Sent()
	if len(sent) != 1 || sent[0].template != "verification.tmpl" {
		t.Fatalf("Expected one verification mail, got %+v", sent)
	}
	data := sent[0].data.(VerificationEmailData)
	if data.VerifyURL != "https://status.example.com/api/verify?token="+sub.Token {
		t.Errorf("Unexpected verify URL %s", data.VerifyURL)
	}

	// A second subscribe resends the same link and leaves one row
	outcome, err = manager.SubscribeEmail(ctx, "alice@example.com")
	if err != nil || outcome != models.VerificationResent {
		t.Fatalf("Expected verification_resent, got %s (%v)", outcome, err)
	}
	if resent := mailer.Sent()[1].data.(VerificationEmailData); resent.VerifyURL != data.VerifyURL {
		t.Errorf("Expected the same token to be resent, got %s", resent.VerifyURL)
	}

	// Verification is idempotent
	for i := 0; i < 2; i++ {
		if err := manager.VerifyEmail(ctx, sub.Token); err != nil {
			t.Fatalf("Verify %d failed: %v", i, err)
		}
	}

	outcome, err = manager.SubscribeEmail(ctx, "alice@example.com")
	if err != nil || outcome != models.AlreadySubscribed {
		t.Fatalf("Expected already_subscribed, got %s (%v)", outcome, err)
	}
	if n := len(mailer.Sent()); n != 2 {
		t.Errorf("Expected no mail for a verified subscriber, got %d sends", n)
	}

	stats, err := manager.Stats(ctx)
	if err != nil {
		t.Fatalf("Failed to load stats: %v", err)
	}
	if stats.Email != 1 || stats.Total != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	if err := manager.UnsubscribeEmail(ctx, "alice@example.com"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if err := manager.UnsubscribeEmail(ctx, "alice@example.com"); !core.IsCode(err, core.ErrCodeNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestSubscribeEmailRollsBackOnSendFailure(t *testing.T) {
	mailer := &fakeMailer{fail: func(int) bool { return true }}
	manager, store := newTestManager(t, mailer)
	ctx := context.Background()

	_, err := manager.SubscribeEmail(ctx, "bob@example.com")
	if !core.IsCode(err, core.ErrCodeDelivery) {
		t.Fatalf("Expected delivery error, got %v", err)
	}
	if !errors.Is(err, errFakeSend) {
		t.Errorf("Expected send error to be wrapped, got %v", err)
	}
	if _, err := store.GetEmail(ctx, "bob@example.com"); !errors.Is(err, database.ErrRecordNotFound) {
		t.Errorf("Expected row to be rolled back, got %v", err)
	}
}

// cancellingMailer cancels the request context and then fails, as a client
// disconnecting during the verification send would.
type cancellingMailer struct {
	cancel context.CancelFunc
}

func (m cancellingMailer) Send(context.Context, string, string, any) error {
	m.cancel()
	return errFakeSend
}

func (m cancellingMailer) SendBCC(context.Context, []string, string, any) error {
	return nil
}

func TestSubscribeEmailRollsBackAfterCancellation(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager := NewSubscriptionManager(store, cancellingMailer{cancel: cancel}, "https://status.example.com/", core.NewDiscardLogger())

	if _, err := manager.SubscribeEmail(ctx, "dave@example.com"); !core.IsCode(err, core.ErrCodeDelivery) {
		t.Fatalf("Expected delivery error, got %v", err)
	}
	if ctx.Err() == nil {
		t.Fatal("Expected the request context to be cancelled")
	}
	if _, err := store.GetEmail(context.Background(), "dave@example.com"); !errors.Is(err, database.ErrRecordNotFound) {
		t.Errorf("Expected row to be rolled back, got %v", err)
	}
}

func TestSubscribeEmailResendFailureKeepsRow(t *testing.T) {
	mailer := &fakeMailer{fail: func(call int) bool { return call > 1 }}
	manager, store := newTestManager(t, mailer)
	ctx := context.Background()

	if _, err := manager.SubscribeEmail(ctx, "carol@example.com"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := manager.SubscribeEmail(ctx, "carol@example.com"); !core.IsCode(err, core.ErrCodeDelivery) {
		t.Fatalf("Expected delivery error, got %v", err)
	}
	if _, err := store.GetEmail(ctx, "carol@example.com"); err != nil {
		t.Errorf("Expected existing row to survive a failed resend, got %v", err)
	}
}

func TestEmailValidation(t *testing.T) {
	manager, _ := newTestManager(t, &fakeMailer{})
	ctx := context.Background()

	for _, email := range []string{"", "plain", "a@b", "two words@example.com", "a@@example.com"} {
		if _, err := manager.SubscribeEmail(ctx, email); !core.IsCode(err, core.ErrCodeValidation) {
			t.Errorf("SubscribeEmail(%q): expected validation error, got %v", email, err)
		}
		if err := manager.UnsubscribeEmail(ctx, email); !core.IsCode(err, core.ErrCodeValidation) {
			t.Errorf("UnsubscribeEmail(%q): expected validation error, got %v", email, err)
		}
	}
}

func TestVerifyEmailErrors(t *testing.T) {
	manager, _ := newTestManager(t, &fakeMailer{})
	ctx := context.Background()

	if err := manager.VerifyEmail(ctx, ""); !core.IsCode(err, core.ErrCodeValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
	if err := manager.VerifyEmail(ctx, "nope"); !core.IsCode(err, core.ErrCodeNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestSubscribeWebhook(t *testing.T) {
	manager, store := newTestManager(t, &fakeMailer{})
	ctx := context.Background()

	invalid := []string{
		"not-a-url",
		"ftp://a.test/hook",
		"https://",
		"http:///path",
		"https://hooks.example.com:8443/hook",
		"http://a.test:22/hook",
		"https://a.test:abc/hook",
	}
	for _, u := range invalid {
		if _, err := manager.SubscribeWebhook(ctx, u); !core.IsCode(err, core.ErrCodeValidation) {
			t.Errorf("SubscribeWebhook(%q): expected validation error, got %v", u, err)
		}
	}

	urls, _ := store.WebhookURLs(ctx)
	if len(urls) != 0 {
		t.Fatalf("Expected no rows after invalid input, got %v", urls)
	}

	outcome, err := manager.SubscribeWebhook(ctx, "https://a.test/hook")
	if err != nil || outcome != models.Subscribed {
		t.Fatalf("Expected subscribed, got %s (%v)", outcome, err)
	}
	outcome, err = manager.SubscribeWebhook(ctx, "https://a.test/hook")
	if err != nil || outcome != models.AlreadySubscribed {
		t.Fatalf("Expected already_subscribed, got %s (%v)", outcome, err)
	}

	for _, u := range []string{"https://b.test:443/hook", "http://c.test:80/hook"} {
		if outcome, err := manager.SubscribeWebhook(ctx, u); err != nil || outcome != models.Subscribed {
			t.Errorf("SubscribeWebhook(%q): expected subscribed, got %s (%v)", u, outcome, err)
		}
	}

	urls, _ = store.WebhookURLs(ctx)
	if len(urls) != 3 {
		t.Errorf("Expected three rows, got %v", urls)
	}

	if err := manager.UnsubscribeWebhook(ctx, "https://a.test/hook"); err != nil {
		t.Fatalf("UnsubscribeWebhook failed: %v", err)
	}
	if err := manager.UnsubscribeWebhook(ctx, "https://a.test/hook"); !core.IsCode(err, core.ErrCodeNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestSubscribeBrowser(t *testing.T) {
	manager, _ := newTestManager(t, &fakeMailer{})
	ctx := context.Background()

	if _, err := manager.SubscribeBrowser(ctx, "https://push.test/1", "", "key"); !core.IsCode(err, core.ErrCodeValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}

	outcome, err := manager.SubscribeBrowser(ctx, "https://push.test/1", "auth", "key")
	if err != nil || outcome != models.Subscribed {
		t.Fatalf("Expected subscribed, got %s (%v)", outcome, err)
	}
	outcome, err = manager.SubscribeBrowser(ctx, "https://push.test/1", "auth", "key")
	if err != nil || outcome != models.AlreadySubscribed {
		t.Fatalf("Expected already_subscribed, got %s (%v)", outcome, err)
	}

	if err := manager.UnsubscribeBrowser(ctx, "https://push.test/1"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if err := manager.UnsubscribeBrowser(ctx, "https://push.test/1"); !core.IsCode(err, core.ErrCodeNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestVerificationTokensAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token := newVerificationToken("same@example.com")
		if len(token) != 32 || strings.Trim(token, "0123456789abcdef") != "" {
			t.Fatalf("Unexpected token format %q", token)
		}
		if seen[token] {
			t.Fatalf("Duplicate token %q", token)
		}
		seen[token] = true
	}
}
