package services

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"netspace-tracker/internal/core"
	"netspace-tracker/internal/metrics"
)

// Monitor runs the resolver on a fixed interval
type Monitor struct {
	checker  Checker
	interval time.Duration
	logger   *core.Logger
	recorder metrics.Recorder

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor that checks every interval
func NewMonitor(checker Checker, interval time.Duration, logger *core.Logger, recorder metrics.Recorder) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Monitor{
		checker:  checker,
		interval: interval,
		logger:   logger,
		recorder: recorder,
	}
}

// Start monitoring in a goroutine. Calling Start twice is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
}

// Stop ends the loop and waits for an in-flight check to finish
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Network status monitoring started", "interval", m.interval)

	// Do initial check
	m.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Network status monitoring stopped")
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			m.recorder.RecordPanic("monitor")
			m.logger.Error("Recovered panic in status check", "panic", p, "stack", string(debug.Stack()))
		}
	}()

	m.checker.Check(ctx)
}
