package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guregu/null/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"netspace-tracker/internal/core"
	"netspace-tracker/internal/features/netstatus/models"
	"netspace-tracker/internal/metrics"
)

// SubscriberStore lists notification targets
type SubscriberStore interface {
	VerifiedEmails(ctx context.Context) ([]string, error)
	WebhookURLs(ctx context.Context) ([]string, error)
}

// MailSender sends templated mail. SendBCC hides recipients from each other.
type MailSender interface {
	Send(ctx context.Context, recipient, templateFile string, data any) error
	SendBCC(ctx context.Context, recipients []string, templateFile string, data any) error
}

// StreamPublisher forwards transitions to an external event stream
type StreamPublisher interface {
	Publish(ctx context.Context, event models.NetworkStatusEvent) error
}

// DispatcherConfig tunes delivery
type DispatcherConfig struct {
	BaseURL            string
	EmailBatchSize     int
	EmailBatchPause    time.Duration
	WebhookTimeout     time.Duration
	WebhookConcurrency int
}

// Dispatcher delivers status transitions to email, webhook and stream subscribers
type Dispatcher struct {
	config   DispatcherConfig
	store    SubscriberStore
	mailer   MailSender
	client   *http.Client
	stream   StreamPublisher
	logger   *core.Logger
	recorder metrics.Recorder
	tracer   trace.Tracer

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher creates a dispatcher. client should refuse private addresses
// because webhook URLs come from anonymous subscribers. stream may be nil.
func NewDispatcher(config DispatcherConfig, store SubscriberStore, mailer MailSender, client *http.Client, stream StreamPublisher, logger *core.Logger, recorder metrics.Recorder) *Dispatcher {
	if config.EmailBatchSize <= 0 {
		config.EmailBatchSize = 20
	}
	if config.WebhookConcurrency <= 0 {
		config.WebhookConcurrency = 10
	}
	if config.WebhookTimeout <= 0 {
		config.WebhookTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		config:   config,
		store:    store,
		mailer:   mailer,
		client:   client,
		stream:   stream,
		logger:   logger,
		recorder: recorder,
		tracer:   otel.Tracer("netspace-tracker/netstatus"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Dispatch starts background delivery on every channel and returns immediately.
// Each channel runs on its own so a slow or failing one does not hold up the rest.
func (d *Dispatcher) Dispatch(event models.NetworkStatusEvent) {
	d.goSafe("email", func(ctx context.Context) error { return d.NotifyEmail(ctx, event) })
	d.goSafe("webhook", func(ctx context.Context) error { return d.NotifyWebhook(ctx, event) })
	if d.stream != nil {
		d.goSafe("stream", func(ctx context.Context) error { return d.stream.Publish(ctx, event) })
	}
}

func (d *Dispatcher) goSafe(channel string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				d.recorder.RecordPanic("dispatch_" + channel)
				d.logger.Error("Recovered panic in notification task", "channel", channel, "panic", p, "stack", string(debug.Stack()))
			}
		}()

		if err := fn(d.ctx); err != nil {
			d.logger.Error("Notification channel failed", "channel", channel, "error", err)
		}
	}()
}

// Wait blocks until all background deliveries have finished
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close waits for in-flight deliveries until ctx expires, then cancels them
func (d *Dispatcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return fmt.Errorf("notification tasks cancelled: %w", ctx.Err())
	}
}

// StatusEmailData is the template data for status update mail
type StatusEmailData struct {
	Status         string
	DisplayName    string
	Color          string
	Message        string
	Details        string
	Timestamp      string
	StatusPageURL  string
	UnsubscribeURL string
}

// NotifyEmail mails every verified subscriber in BCC batches, pausing between batches
func (d *Dispatcher) NotifyEmail(ctx context.Context, event models.NetworkStatusEvent) error {
	ctx, span := d.tracer.Start(ctx, "netstatus.NotifyEmail", trace.WithAttributes(attribute.Int64("netstatus.event_id", event.ID)))
	defer span.End()

	recipients, err := d.store.VerifiedEmails(ctx)
	if err != nil {
		return core.NewDatabaseError("load email subscribers", err)
	}
	if len(recipients) == 0 {
		return nil
	}

	data := StatusEmailData{
		Status:         string(event.Status),
		DisplayName:    event.Status.DisplayName(),
		Color:          event.Status.Color(),
		Message:        event.Message,
		Details:        event.Details.ValueOrZero(),
		Timestamp:      event.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"),
		StatusPageURL:  d.config.BaseURL + "/network-status",
		UnsubscribeURL: d.config.BaseURL + "/unsubscribe",
	}

	// One token per pause; the first batch goes out immediately.
	pacer := rate.NewLimiter(rate.Every(d.config.EmailBatchPause), 1)

	var failed int
	batches := chunk(recipients, d.config.EmailBatchSize)
	for i, batch := range batches {
		if err := pacer.Wait(ctx); err != nil {
			return fmt.Errorf("email batches interrupted after %d of %d: %w", i, len(batches), err)
		}

		if err := d.mailer.SendBCC(ctx, batch, "status_update.tmpl", data); err != nil {
			failed++
			d.recorder.RecordDelivery("email", false)
			d.logger.Error("Failed to send status email batch", "batch", i+1, "batches", len(batches), "recipients", len(batch), "error", err)
			continue
		}
		d.recorder.RecordDelivery("email", true)
	}

	d.logger.Info("Status email notifications sent", "event_id", event.ID, "recipients", len(recipients), "failed_batches", failed)
	if failed > 0 {
		return core.NewDeliveryError(fmt.Sprintf("%d of %d email batches failed", failed, len(batches)), nil)
	}
	return nil
}

// WebhookPayload is the JSON body posted to webhook subscribers
type WebhookPayload struct {
	Timestamp string        `json:"timestamp"`
	Status    models.Status `json:"status"`
	Message   string        `json:"message"`
	Details   null.String   `json:"details"`
}

// NotifyWebhook POSTs the event to every webhook concurrently. Failures are isolated per URL.
func (d *Dispatcher) NotifyWebhook(ctx context.Context, event models.NetworkStatusEvent) error {
	ctx, span := d.tracer.Start(ctx, "netstatus.NotifyWebhook", trace.WithAttributes(attribute.Int64("netstatus.event_id", event.ID)))
	defer span.End()

	urls, err := d.store.WebhookURLs(ctx)
	if err != nil {
		return core.NewDatabaseError("load webhook subscribers", err)
	}
	if len(urls) == 0 {
		return nil
	}

	body, err := json.Marshal(WebhookPayload{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Status:    event.Status,
		Message:   event.Message,
		Details:   event.Details,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var failed atomic.Int64
	var eg errgroup.Group
	eg.SetLimit(d.config.WebhookConcurrency)

	for _, url := range urls {
		eg.Go(func() error {
			if err := d.postWebhook(ctx, url, body); err != nil {
				failed.Add(1)
				d.recorder.RecordDelivery("webhook", false)
				d.logger.Warn("Webhook delivery failed", "url", url, "error", err)
				return nil
			}
			d.recorder.RecordDelivery("webhook", true)
			return nil
		})
	}
	eg.Wait()

	d.logger.Info("Webhook notifications sent", "event_id", event.ID, "targets", len(urls), "failed", failed.Load())
	if n := failed.Load(); n > 0 {
		return core.NewDeliveryError(fmt.Sprintf("%d of %d webhooks failed", n, len(urls)), nil)
	}
	return nil
}

func (d *Dispatcher) postWebhook(ctx context.Context, url string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.config.WebhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "netspace-tracker/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func chunk(items []string, size int) [][]string {
	var out [][]string
	for size < len(items) {
		items, out = items[size:], append(out, items[:size:size])
	}
	return append(out, items)
}
