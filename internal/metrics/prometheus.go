package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors holds the Prometheus series exported on /metrics.
type Collectors struct {
	registry *prometheus.Registry

	toolRuns      *prometheus.CounterVec
	toolDuration  *prometheus.HistogramVec
	decisions     *prometheus.CounterVec
	taskOutcomes  *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	approvals     *prometheus.CounterVec
	channelSends  *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// NewCollectors registers every gatekeep series on a private registry.
func NewCollectors() *Collectors {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collectors{
		registry: reg,
		toolRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeep_tool_executions_total",
			Help: "Total number of tool executions",
		}, []string{"tool", "result"}),
		toolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatekeep_tool_execution_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeep_policy_decisions_total",
			Help: "Total number of policy decisions by action",
		}, []string{"action"}),
		taskOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeep_task_outcomes_total",
			Help: "Total number of task lifecycle outcomes",
		}, []string{"outcome"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gatekeep_task_queue_depth",
			Help: "Number of tasks in the queue by status",
		}, []string{"status"}),
		approvals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeep_approval_transitions_total",
			Help: "Total number of approval ledger transitions",
		}, []string{"status"}),
		channelSends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeep_channel_sends_total",
			Help: "Total number of outbound channel sends",
		}, []string{"result"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeep_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDurations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatekeep_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry exposes the underlying registry for gathering in tests.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the Prometheus exposition handler.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetQueueDepth sets the gauge for one task status.
func (c *Collectors) SetQueueDepth(status string, count int) {
	if c == nil {
		return
	}
	c.queueDepth.WithLabelValues(status).Set(float64(count))
}

// RecordApproval counts a ledger transition into status.
func (c *Collectors) RecordApproval(status string) {
	if c == nil {
		return
	}
	c.approvals.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (c *Collectors) RecordHTTPRequest(method, route string, statusCode int, durationSeconds float64) {
	if c == nil {
		return
	}
	status := "unknown"
	switch {
	case statusCode >= 500:
		status = "5xx"
	case statusCode >= 400:
		status = "4xx"
	case statusCode >= 300:
		status = "3xx"
	case statusCode >= 200:
		status = "2xx"
	}
	c.httpRequests.WithLabelValues(method, route, status).Inc()
	c.httpDurations.WithLabelValues(method, route).Observe(durationSeconds)
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
