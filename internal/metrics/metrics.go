// Package metrics exposes Prometheus metrics for the status monitor.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by services and middleware
type Recorder interface {
	RecordSourceQuery(source, outcome string, duration time.Duration)
	RecordCheck(outcome string)
	RecordTransition(from, to string)
	SetStatus(status string)
	RecordPersistFailure(operation string)
	RecordDelivery(channel string, ok bool)
	RecordDrop(component string)
	RecordPanic(component string)
	SetStreamClients(n int)
	RecordHTTPStatus(statusCode int)
}

var knownStatuses = []string{"up", "down", "degraded", "maintenance"}

// Collector is the Prometheus implementation of Recorder
type Collector struct {
	sourceQueries   *prometheus.CounterVec
	sourceLatency   *prometheus.HistogramVec
	checks          *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	status          *prometheus.GaugeVec
	persistFailures *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	drops           *prometheus.CounterVec
	panics          *prometheus.CounterVec
	streamClients   prometheus.Gauge
	httpStatus      *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sourceQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netstatus_source_queries_total",
			Help: "Status source queries by source and outcome",
		}, []string{"source", "outcome"}),
		sourceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "netstatus_source_latency_seconds",
			Help:    "Status source query latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netstatus_checks_total",
			Help: "Status checks by outcome (no_signal, unchanged, transition)",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netstatus_transitions_total",
			Help: "Status transitions by previous and next status",
		}, []string{"from", "to"}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netstatus_current_status",
			Help: "1 for the current status, 0 otherwise",
		}, []string{"status"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netstatus_persist_failures_total",
			Help: "Failed writes to the status store",
		}, []string{"operation"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netstatus_deliveries_total",
			Help: "Notification deliveries by channel and result",
		}, []string{"channel", "result"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netstatus_dropped_events_total",
			Help: "Events dropped because a consumer was full",
		}, []string{"component"}),
		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netstatus_recovered_panics_total",
			Help: "Panics recovered in background tasks",
		}, []string{"component"}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netstatus_stream_clients",
			Help: "Connected live status stream clients",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netstatus_http_responses_total",
			Help: "HTTP responses by status code",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.sourceQueries,
		c.sourceLatency,
		c.checks,
		c.transitions,
		c.status,
		c.persistFailures,
		c.deliveries,
		c.drops,
		c.panics,
		c.streamClients,
		c.httpStatus,
	)

	return c
}

func (c *Collector) RecordSourceQuery(source, outcome string, duration time.Duration) {
	c.sourceQueries.WithLabelValues(source, outcome).Inc()
	c.sourceLatency.WithLabelValues(source).Observe(duration.Seconds())
}

func (c *Collector) RecordCheck(outcome string) {
	c.checks.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordTransition(from, to string) {
	c.transitions.WithLabelValues(from, to).Inc()
}

// SetStatus flips the status gauge so exactly one label reads 1
func (c *Collector) SetStatus(status string) {
	for _, s := range knownStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		c.status.WithLabelValues(s).Set(v)
	}
}

func (c *Collector) RecordPersistFailure(operation string) {
	c.persistFailures.WithLabelValues(operation).Inc()
}

func (c *Collector) RecordDelivery(channel string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	c.deliveries.WithLabelValues(channel, result).Inc()
}

func (c *Collector) RecordDrop(component string) {
	c.drops.WithLabelValues(component).Inc()
}

func (c *Collector) RecordPanic(component string) {
	c.panics.WithLabelValues(component).Inc()
}

func (c *Collector) SetStreamClients(n int) {
	c.streamClients.Set(float64(n))
}

func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler returns the Prometheus scrape handler for gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Noop discards everything. Used in tests and when metrics are not wired.
type Noop struct{}

func (Noop) RecordSourceQuery(string, string, time.Duration) {}
func (Noop) RecordCheck(string)                              {}
func (Noop) RecordTransition(string, string)                 {}
func (Noop) SetStatus(string)                                {}
func (Noop) RecordPersistFailure(string)                     {}
func (Noop) RecordDelivery(string, bool)                     {}
func (Noop) RecordDrop(string)                               {}
func (Noop) RecordPanic(string)                              {}
func (Noop) SetStreamClients(int)                            {}
func (Noop) RecordHTTPStatus(int)                            {}
