// Package metrics defines the Prometheus instrumentation shared by the
// HTTP server, the pipeline orchestrator, and the task workers. All
// pipeline metrics live under the sre_agent namespace; queue_depth is
// exported unprefixed because dashboards treat it as a broker-level
// gauge rather than an agent-level one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "sre_agent"

// Metrics bundles every vector the service exports together with the
// registry they are registered on. The server exposes Registry via
// promhttp; everything else increments through the fields.
type Metrics struct {
	Registry *prometheus.Registry

	// HTTPRequests counts completed HTTP requests by method, chi route
	// pattern, and response status code.
	HTTPRequests *prometheus.CounterVec

	// PipelineRuns counts status transitions of fix pipeline runs. The
	// status label carries the run status being entered, so terminal
	// outcomes can be rated without joining against the database.
	PipelineRuns *prometheus.CounterVec

	// PipelineRetries counts stage retries scheduled after transient
	// failures.
	PipelineRetries prometheus.Counter

	// PipelineThrottled counts runs delayed because their repository was
	// at its concurrency limit.
	PipelineThrottled prometheus.Counter

	// PipelineLoopBlocked counts runs refused before execution, labelled
	// by reason (cooldown, attempt_limit, duplicate).
	PipelineLoopBlocked *prometheus.CounterVec

	// PolicyViolations counts safety policy violations by violation code.
	PolicyViolations *prometheus.CounterVec

	// WebhookDeduped counts webhook deliveries dropped as duplicates of
	// an already-ingested idempotency key.
	WebhookDeduped prometheus.Counter

	// TasksProcessed counts worker task executions by task name and
	// outcome (succeeded, failed, retried).
	TasksProcessed *prometheus.CounterVec

	// QueueDepth reports the number of queued jobs per queue.
	QueueDepth *prometheus.GaugeVec
}

// New builds a Metrics bundle on a fresh registry that also carries the
// standard Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry builds a Metrics bundle registered on reg. Tests pass
// a bare registry to keep scrapes limited to the service's own series.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Registry: reg,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests served, by method, route pattern, and status code.",
			},
			[]string{"method", "route", "status"},
		),
		PipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Fix pipeline status transitions, by status entered.",
			},
			[]string{"status"},
		),
		PipelineRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_retry_total",
				Help:      "Stage retries scheduled after transient failures.",
			},
		),
		PipelineThrottled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_throttled_total",
				Help:      "Runs delayed by the per-repository concurrency limit.",
			},
		),
		PipelineLoopBlocked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_loop_blocked_total",
				Help:      "Runs refused before execution, by reason.",
			},
			[]string{"reason"},
		),
		PolicyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Safety policy violations recorded, by violation code.",
			},
			[]string{"code"},
		),
		WebhookDeduped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_deduped_total",
				Help:      "Webhook deliveries dropped as duplicates.",
			},
		),
		TasksProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "celery_tasks_total",
				Help:      "Worker task executions, by task name and outcome.",
			},
			[]string{"task", "status"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "queue_depth",
				Help: "Queued jobs per queue.",
			},
			[]string{"queue"},
		),
	}
	reg.MustRegister(
		m.HTTPRequests,
		m.PipelineRuns,
		m.PipelineRetries,
		m.PipelineThrottled,
		m.PipelineLoopBlocked,
		m.PolicyViolations,
		m.WebhookDeduped,
		m.TasksProcessed,
		m.QueueDepth,
	)
	return m
}
