package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricNames(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.HTTPRequests.WithLabelValues("POST", "/webhook/{provider}", "202").Inc()
	m.PipelineRuns.WithLabelValues("pr_created").Inc()
	m.PipelineRetries.Inc()
	m.PipelineThrottled.Inc()
	m.PipelineLoopBlocked.WithLabelValues("cooldown").Inc()
	m.PolicyViolations.WithLabelValues("forbidden_path").Inc()
	m.WebhookDeduped.Inc()
	m.TasksProcessed.WithLabelValues("pipeline.run_stage", "succeeded").Inc()
	m.QueueDepth.WithLabelValues("pipeline").Set(3)

	want := []string{
		"sre_agent_http_requests_total",
		"sre_agent_pipeline_runs_total",
		"sre_agent_pipeline_retry_total",
		"sre_agent_pipeline_throttled_total",
		"sre_agent_pipeline_loop_blocked_total",
		"sre_agent_policy_violations_total",
		"sre_agent_webhook_deduped_total",
		"sre_agent_celery_tasks_total",
		"queue_depth",
	}
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := make(map[string]bool, len(families))
	for _, f := range families {
		got[f.GetName()] = true
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("metric %q not exported", name)
		}
	}
}

func TestLabelWiring(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.PipelineRuns.WithLabelValues("pr_created").Inc()
	m.PipelineRuns.WithLabelValues("pr_created").Inc()
	m.PipelineRuns.WithLabelValues("sandbox_failed").Inc()

	if got := testutil.ToFloat64(m.PipelineRuns.WithLabelValues("pr_created")); got != 2 {
		t.Errorf("pipeline_runs_total{status=pr_created} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.PipelineRuns.WithLabelValues("sandbox_failed")); got != 1 {
		t.Errorf("pipeline_runs_total{status=sandbox_failed} = %v, want 1", got)
	}

	m.QueueDepth.WithLabelValues("pipeline").Set(7)
	m.QueueDepth.WithLabelValues("pipeline").Set(4)
	if got := testutil.ToFloat64(m.QueueDepth.WithLabelValues("pipeline")); got != 4 {
		t.Errorf("queue_depth{queue=pipeline} = %v, want 4", got)
	}
}

func TestExposition(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())
	m.PolicyViolations.WithLabelValues("secret_pattern").Inc()

	const expected = `
# HELP sre_agent_policy_violations_total Safety policy violations recorded, by violation code.
# TYPE sre_agent_policy_violations_total counter
sre_agent_policy_violations_total{code="secret_pattern"} 1
`
	if err := testutil.GatherAndCompare(m.Registry, strings.NewReader(expected), "sre_agent_policy_violations_total"); err != nil {
		t.Errorf("unexpected exposition: %v", err)
	}
}

func TestNewIncludesRuntimeCollectors(t *testing.T) {
	m := New()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var hasGo bool
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "go_") {
			hasGo = true
			break
		}
	}
	if !hasGo {
		t.Error("default registry missing Go runtime collectors")
	}
}
