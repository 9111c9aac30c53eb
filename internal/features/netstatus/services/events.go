package services

import (
	"sync"

	"netspace-tracker/internal/core"
	"netspace-tracker/internal/features/netstatus/models"
	"netspace-tracker/internal/metrics"
)

const subscriberBuffer = 16

// EventBus broadcasts persisted status transitions to in-process observers
type EventBus struct {
	mu       sync.RWMutex
	clients  map[chan models.NetworkStatusEvent]struct{}
	logger   *core.Logger
	recorder metrics.Recorder
}

// NewEventBus creates an empty bus
func NewEventBus(logger *core.Logger, recorder metrics.Recorder) *EventBus {
	return &EventBus{
		clients:  make(map[chan models.NetworkStatusEvent]struct{}),
		logger:   logger,
		recorder: recorder,
	}
}

// Subscribe registers a new observer. Callers must Unsubscribe when done.
func (b *EventBus) Subscribe() chan models.NetworkStatusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan models.NetworkStatusEvent, subscriberBuffer)
	b.clients[ch] = struct{}{}
	b.recorder.SetStreamClients(len(b.clients))
	return ch
}

// Unsubscribe removes and closes an observer channel
func (b *EventBus) Unsubscribe(ch chan models.NetworkStatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
		b.recorder.SetStreamClients(len(b.clients))
	}
}

// Publish delivers event to every observer without blocking. Observers with a
// full buffer miss the event.
func (b *EventBus) Publish(event models.NetworkStatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.clients {
		select {
		case ch <- event:
		default:
			b.logger.Warn("Dropping status event for slow subscriber", "event_id", event.ID, "status", event.Status)
			b.recorder.RecordDrop("event_bus")
		}
	}
}

// Len returns the number of observers
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
