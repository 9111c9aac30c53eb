package netstatus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/doyensec/safeurl"

	"netspace-tracker/internal/core"
	"netspace-tracker/internal/features/netstatus/database"
	"netspace-tracker/internal/features/netstatus/handlers"
	"netspace-tracker/internal/features/netstatus/migrations"
	"netspace-tracker/internal/features/netstatus/models"
	"netspace-tracker/internal/features/netstatus/services"
	"netspace-tracker/internal/metrics"
)

// Feature represents the network status feature
type Feature struct {
	*core.BaseFeature
	config        *Config
	migrationMgr  *migrations.Manager
	store         *database.Store
	state         *services.MonitorState
	bus           *services.EventBus
	sanitizer     *services.Sanitizer
	sourceClient  *http.Client
	publisher     *services.KafkaPublisher
	dispatcher    *services.Dispatcher
	resolver      *services.Resolver
	scheduler     *services.MaintenanceScheduler
	subscriptions *services.SubscriptionManager
	monitor       *services.Monitor
	handlers      *handlers.Handlers
	recorder      metrics.Recorder
}

// NewFeature creates a new network status feature. Sources are attached in
// Init because the optional sources file is read there.
func NewFeature(logger *core.Logger, db *core.Database, config *Config, mailer services.MailSender, recorder metrics.Recorder) *Feature {
	if recorder == nil {
		recorder = metrics.Noop{}
	}

	// Create migration manager and store
	migrationMgr := migrations.NewManager(db, logger)
	store := database.NewStore(db, logger)

	state := services.NewMonitorState(models.StatusUp)
	bus := services.NewEventBus(logger, recorder)

	// Optional Kafka stream of transitions
	var publisher *services.KafkaPublisher
	var stream services.StreamPublisher
	if len(config.KafkaBrokers) > 0 && config.KafkaTopic != "" {
		producer, err := services.NewKafkaProducer(config.KafkaBrokers)
		if err != nil {
			logger.Warn("Kafka unavailable, status stream disabled", "brokers", config.KafkaBrokers, "error", err)
		} else {
			publisher = services.NewKafkaPublisher(producer, config.KafkaTopic, logger, recorder)
			stream = publisher
		}
	}

	// Webhook URLs come from anonymous subscribers, so their client refuses private addresses
	webhookTimeout := config.Dispatch.WebhookTimeout
	if webhookTimeout <= 0 {
		webhookTimeout = 10 * time.Second
	}
	webhookConfig := safeurl.GetConfigBuilder().
		SetTimeout(webhookTimeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(services.WebhookPorts...).
		Build()
	webhookClient := safeurl.Client(webhookConfig).Client

	dispatcher := services.NewDispatcher(config.Dispatch, store, mailer, webhookClient, stream, logger, recorder)

	resolver := services.NewResolver(nil, state, store, bus, dispatcher, logger, recorder)
	scheduler := services.NewMaintenanceScheduler(store, resolver, logger)
	subscriptions := services.NewSubscriptionManager(store, mailer, config.BaseURL, logger)

	// Create handlers
	handlers := handlers.NewHandlers(logger, handlers.Deps{
		State:         state,
		History:       store,
		Checker:       resolver,
		Maintenance:   scheduler,
		Subscriptions: subscriptions,
		Events:        bus,
		BaseURL:       config.BaseURL,
	})

	return &Feature{
		BaseFeature:   core.NewBaseFeature("netstatus", "Network Status Monitor", config.Enabled, logger, db),
		config:        config,
		migrationMgr:  migrationMgr,
		store:         store,
		state:         state,
		bus:           bus,
		sanitizer:     services.NewSanitizer(),
		sourceClient:  &http.Client{},
		publisher:     publisher,
		dispatcher:    dispatcher,
		resolver:      resolver,
		scheduler:     scheduler,
		subscriptions: subscriptions,
		monitor:       services.NewMonitor(resolver, config.CheckInterval, logger, recorder),
		handlers:      handlers,
		recorder:      recorder,
	}
}

// Init initializes the network status feature
func (f *Feature) Init(ctx context.Context) error {
	if err := f.BaseFeature.Init(ctx); err != nil {
		return err
	}

	// Validate configuration
	if err := f.config.LoadSourcesFile(); err != nil {
		return core.NewConfigurationError("Failed to load status sources", err)
	}
	if err := f.config.Validate(); err != nil {
		return core.NewConfigurationError("Invalid network status configuration", err)
	}

	// Run migrations
	if err := f.migrationMgr.Migrate(ctx); err != nil {
		return err
	}

	// Resume from the last recorded status
	status, err := f.restoreStatus(ctx, time.Now())
	if err != nil {
		return core.NewDatabaseError("Failed to load latest status", err)
	}
	f.state.Swap(status, time.Now())
	f.recorder.SetStatus(string(status))

	sources := f.config.BuildSources(f.sourceClient, f.sanitizer)
	f.resolver.SetSources(sources)
	if len(sources) == 0 {
		f.Logger().Warn("No status sources configured, checks will keep the current status")
	}

	if f.config.Enabled {
		f.monitor.Start(context.Background())
		f.Logger().Info("Status monitor started", "interval", f.config.CheckInterval, "sources", len(sources))
	}

	f.Logger().Info("Network status feature initialized successfully", "status", f.state.Snapshot().Status)
	return nil
}

// restoreStatus returns the status of the newest history row that is not in
// the future, or up when there is none.
func (f *Feature) restoreStatus(ctx context.Context, now time.Time) (models.Status, error) {
	event, err := f.store.LatestEventAt(ctx, now)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return models.StatusUp, nil
		}
		return "", err
	}
	return event.Status, nil
}

// Routes returns the HTTP routes for the network status feature
func (f *Feature) Routes() []core.Route {
	return []core.Route{
		// Subscriptions
		{Method: http.MethodPost, Path: "/api/subscribe", Handler: f.handlers.Subscribe, Access: core.AccessPublicLimited},
		{Method: http.MethodGet, Path: "/api/subscribe", Handler: f.handlers.SubscriptionStats, Access: core.AccessPublic},
		{Method: http.MethodPost, Path: "/api/unsubscribe", Handler: f.handlers.Unsubscribe, Access: core.AccessPublicLimited},
		{Method: http.MethodGet, Path: "/api/verify", Handler: f.handlers.Verify, Access: core.AccessPublic},

		// Status
		{Method: http.MethodGet, Path: "/api/network-status", Handler: f.handlers.NetworkStatus, Access: core.AccessPublic},
		{Method: http.MethodGet, Path: "/api/network-status/stream", Handler: f.handlers.Stream, Access: core.AccessPublic},

		// Admin
		{Method: http.MethodPost, Path: "/api/admin/check-status", Handler: f.handlers.CheckStatus, Access: core.AccessAdmin},
		{Method: http.MethodGet, Path: "/api/admin/maintenance", Handler: f.handlers.PendingMaintenance, Access: core.AccessAdmin},
		{Method: http.MethodPost, Path: "/api/admin/maintenance", Handler: f.handlers.ScheduleMaintenance, Access: core.AccessAdmin},
		{Method: http.MethodDelete, Path: "/api/admin/maintenance/{id}", Handler: f.handlers.CancelMaintenance, Access: core.AccessAdmin},
		{Method: http.MethodGet, Path: "/api/admin/network-status", Handler: f.handlers.AdminNetworkStatus, Access: core.AccessAdmin},
	}
}

// Shutdown stops the monitor and timers, then drains in-flight notifications
func (f *Feature) Shutdown(ctx context.Context) error {
	f.Logger().Info("Shutting down network status feature")

	f.monitor.Stop()
	f.scheduler.Stop()

	var shutdownErr error
	if err := f.dispatcher.Close(ctx); err != nil {
		f.Logger().Error("Failed to drain notifications", "error", err)
		shutdownErr = fmt.Errorf("netstatus shutdown: %w", err)
	}

	if f.publisher != nil {
		f.publisher.Close()
	}

	if err := f.BaseFeature.Shutdown(ctx); err != nil {
		return err
	}
	return shutdownErr
}

// State returns the shared monitor state
func (f *Feature) State() *services.MonitorState {
	return f.state
}
