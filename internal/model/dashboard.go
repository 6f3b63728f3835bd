package model

// DashboardEvent is the payload published on the dashboard channel for
// every run transition. Publication is best-effort; no subscriber can
// hold back the pipeline.
type DashboardEvent struct {
	Type          string            `json:"type"`
	Stage         string            `json:"stage,omitempty"`
	Status        string            `json:"status,omitempty"`
	FailureID     string            `json:"failure_id,omitempty"`
	RunID         string            `json:"run_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Dashboard event types.
const (
	EventTypeStage      = "stage"
	EventTypeRunBlocked = "run_blocked"
	EventTypeStabilized = "stabilized"
	EventTypeRegressed  = "regressed"
	EventTypePROpened   = "pr_opened"
)
