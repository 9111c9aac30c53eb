package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"netspace-tracker/internal/core"
	"netspace-tracker/internal/features/netstatus/models"
	"netspace-tracker/internal/metrics"
)

// EventStore is the persistence the resolver and scheduler need
type EventStore interface {
	InsertEvent(ctx context.Context, event *models.NetworkStatusEvent) error
}

// Notifier fans a persisted transition out to subscribers in the background
type Notifier interface {
	Dispatch(event models.NetworkStatusEvent)
}

// CheckOutcome describes what a status check did
type CheckOutcome string

const (
	CheckNoSignal   CheckOutcome = "no_signal"
	CheckUnchanged  CheckOutcome = "unchanged"
	CheckTransition CheckOutcome = "transition"
)

// CheckResult is returned by Resolver.Check
type CheckResult struct {
	Outcome  CheckOutcome
	Previous models.Status
	Current  models.Status
	Event    *models.NetworkStatusEvent
	Notified bool
}

// Resolver turns source answers into deduplicated, persisted transitions
type Resolver struct {
	mu       sync.Mutex
	sources  []Source
	state    *MonitorState
	store    EventStore
	bus      *EventBus
	notifier Notifier
	logger   *core.Logger
	recorder metrics.Recorder
	tracer   trace.Tracer
	now      func() time.Time
}

// NewResolver creates a resolver that queries sources in the given order
func NewResolver(sources []Source, state *MonitorState, store EventStore, bus *EventBus, notifier Notifier, logger *core.Logger, recorder metrics.Recorder) *Resolver {
	return &Resolver{
		sources:  sources,
		state:    state,
		store:    store,
		bus:      bus,
		notifier: notifier,
		logger:   logger,
		recorder: recorder,
		tracer:   otel.Tracer("netspace-tracker/netstatus"),
		now:      time.Now,
	}
}

// SetSources replaces the source list. It waits for an in-flight check.
func (r *Resolver) SetSources(sources []Source) {
	r.mu.Lock()
	r.sources = sources
	r.mu.Unlock()
}

// Check resolves the current status and records a transition if it changed.
// Only one check runs at a time; concurrent callers wait their turn.
func (r *Resolver) Check(ctx context.Context) CheckResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := r.tracer.Start(ctx, "netstatus.Check")
	defer span.End()

	now := r.now()
	r.state.Touch(now)

	res, ok := r.resolve(ctx)
	if !ok {
		current := r.state.Snapshot().Status
		r.recorder.RecordCheck(string(CheckNoSignal))
		span.SetAttributes(attribute.String("netstatus.outcome", string(CheckNoSignal)))
		r.logger.Warn("No status source produced a signal, keeping current status", "status", current)
		return CheckResult{Outcome: CheckNoSignal, Previous: current, Current: current}
	}

	prev, changed := r.state.Swap(res.Status, now)
	span.SetAttributes(
		attribute.String("netstatus.source", res.Source),
		attribute.String("netstatus.status", string(res.Status)),
	)
	if !changed {
		r.recorder.RecordCheck(string(CheckUnchanged))
		span.SetAttributes(attribute.String("netstatus.outcome", string(CheckUnchanged)))
		r.logger.Debug("Status unchanged", "status", res.Status, "source", res.Source)
		return CheckResult{Outcome: CheckUnchanged, Previous: prev, Current: prev}
	}

	event := res.Event()
	r.persist(ctx, span, &event)

	r.recorder.RecordCheck(string(CheckTransition))
	r.recorder.RecordTransition(string(prev), string(res.Status))
	r.recorder.SetStatus(string(res.Status))
	span.SetAttributes(attribute.String("netstatus.outcome", string(CheckTransition)))

	r.logger.Info("Network status changed",
		"from", prev, "to", res.Status, "source", res.Source, "event_id", event.ID)

	r.bus.Publish(event)

	notify := res.Status.Notifiable(prev)
	if notify {
		r.notifier.Dispatch(event)
	}

	return CheckResult{Outcome: CheckTransition, Previous: prev, Current: res.Status, Event: &event, Notified: notify}
}

// EnterMaintenance moves the state to maintenance for an already persisted
// event, publishes it and notifies subscribers. It shares the check lock so a
// concurrent Check cannot interleave.
func (r *Resolver) EnterMaintenance(ctx context.Context, event models.NetworkStatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, changed := r.state.Swap(models.StatusMaintenance, r.now())
	if changed {
		r.recorder.RecordTransition(string(prev), string(models.StatusMaintenance))
		r.recorder.SetStatus(string(models.StatusMaintenance))
	}

	r.logger.Info("Entering scheduled maintenance", "from", prev, "event_id", event.ID)
	r.bus.Publish(event)
	r.notifier.Dispatch(event)
}

// resolve queries sources in order and returns the first usable answer
func (r *Resolver) resolve(ctx context.Context) (models.Resolution, bool) {
	for _, source := range r.sources {
		res, err := r.query(ctx, source)
		if err == nil {
			return res, true
		}

		outcome := "error"
		if errors.Is(err, ErrNoSignal) {
			outcome = "no_signal"
		}
		r.logger.Warn("Status source gave no signal",
			"source", source.Name(), "outcome", outcome,
			"error", core.NewSourceUnavailableError(source.Name(), err))
	}
	return models.Resolution{}, false
}

func (r *Resolver) query(ctx context.Context, source Source) (models.Resolution, error) {
	ctx, span := r.tracer.Start(ctx, "netstatus.Source", trace.WithAttributes(attribute.String("netstatus.source", source.Name())))
	defer span.End()

	if timeout := source.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := source.Query(ctx)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no signal")
		r.recorder.RecordSourceQuery(source.Name(), "failure", elapsed)
		return res, err
	}

	r.recorder.RecordSourceQuery(source.Name(), "signal", elapsed)
	return res, nil
}

// persist writes the event. A failed write is logged and counted; the
// transition still stands and notifications still go out.
func (r *Resolver) persist(ctx context.Context, span trace.Span, event *models.NetworkStatusEvent) {
	if err := r.store.InsertEvent(ctx, event); err != nil {
		span.RecordError(err)
		r.recorder.RecordPersistFailure("insert_event")
		r.logger.Error("Failed to persist status event", "status", event.Status, "error", core.NewDatabaseError("insert status event", err))
	}
}
