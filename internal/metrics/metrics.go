package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mor/automatr/internal/logger"
	"github.com/mor/automatr/rules"
)

// Collector holds the worker's Prometheus metrics on a private registry.
// It implements rules.Recorder.
type Collector struct {
	registry      *prometheus.Registry
	events        *prometheus.CounterVec
	actions       *prometheus.CounterVec
	auditNotes    *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	deliveries    *prometheus.CounterVec
}

var _ rules.Recorder = (*Collector)(nil)

// NewCollector registers every worker metric plus the Go runtime collectors
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "automatr_log_warnings_total",
		Help: "Warnings logged, counted before sampling",
	}, func() float64 { return float64(logger.TotalWarnings.Load()) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "automatr_log_errors_total",
		Help: "Errors logged, counted before sampling",
	}, func() float64 { return float64(logger.TotalErrors.Load()) })

	return &Collector{
		registry: registry,
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "automatr_events_total",
			Help: "Events handled per workflow and outcome",
		}, []string{"workflow", "outcome"}),
		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "automatr_actions_total",
			Help: "Case actions attempted per workflow, action and outcome",
		}, []string{"workflow", "action", "outcome"}),
		auditNotes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "automatr_audit_notes_total",
			Help: "Audit notes posted per workflow and outcome",
		}, []string{"workflow", "outcome"}),
		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "automatr_event_duration_seconds",
			Help:    "Time taken to handle one event",
			Buckets: prometheus.DefBuckets,
		}, []string{"workflow"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "automatr_deliveries_total",
			Help: "Broker deliveries per workflow and disposition",
		}, []string{"workflow", "disposition"}),
	}
}

// EventProcessed records one handled event
func (c *Collector) EventProcessed(workflow, outcome string, d time.Duration) {
	c.events.WithLabelValues(workflow, outcome).Inc()
	c.eventDuration.WithLabelValues(workflow).Observe(d.Seconds())
}

// ActionIssued records one attempted case action
func (c *Collector) ActionIssued(workflow string, action rules.ActionKind, outcome string) {
	c.actions.WithLabelValues(workflow, string(action), outcome).Inc()
}

// AuditNote records one audit note attempt
func (c *Collector) AuditNote(workflow, outcome string) {
	c.auditNotes.WithLabelValues(workflow, outcome).Inc()
}

// Delivery records how a broker delivery was settled, e.g. "acked" or "rejected"
func (c *Collector) Delivery(workflow, disposition string) {
	c.deliveries.WithLabelValues(workflow, disposition).Inc()
}

// Registry exposes the underlying registry, mainly for tests
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
