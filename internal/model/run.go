package model

import (
	"encoding/json"
	"time"
)

// Stage blob names. Each maps to one jsonb column on fix_pipeline_runs; the
// run row exclusively owns its blobs.
const (
	BlobContext     = "context"
	BlobDetection   = "detection"
	BlobRCA         = "rca"
	BlobPlan        = "plan"
	BlobPlanPolicy  = "plan_policy"
	BlobCritic      = "critic"
	BlobIssueGraph  = "issue_graph"
	BlobConsensus   = "consensus"
	BlobPatchDiff   = "patch_diff"
	BlobPatchStats  = "patch_stats"
	BlobPatchPolicy = "patch_policy"
	BlobValidation  = "validation"
	BlobPR          = "pr"
	BlobMerge       = "merge"
	BlobPostMerge   = "post_merge"
	BlobArtifact    = "artifact"
)

// FixPipelineRun is one end-to-end healing attempt for one pipeline event.
type FixPipelineRun struct {
	ID                   string         `db:"id" json:"id"`
	EventID              string         `db:"event_id" json:"event_id"`
	RunKey               string         `db:"run_key" json:"run_key"`
	Repo                 string         `db:"repo" json:"repo"`
	Branch               string         `db:"branch" json:"branch"`
	CommitSHA            string         `db:"commit_sha" json:"commit_sha"`
	Status               RunStatus      `db:"status" json:"status"`
	AdapterName          string         `db:"adapter_name" json:"adapter_name,omitempty"`
	AttemptCount         int            `db:"attempt_count" json:"attempt_count"`
	RetryLimitSnapshot   int            `db:"retry_limit_snapshot" json:"retry_limit_snapshot"`
	BlockedReason        string         `db:"blocked_reason" json:"blocked_reason,omitempty"`
	ErrorMessage         string         `db:"error_message" json:"error_message,omitempty"`
	AutomationMode       AutomationMode `db:"automation_mode" json:"automation_mode"`
	ManualReviewRequired bool           `db:"manual_review_required" json:"manual_review_required"`
	LastPRURL            string         `db:"last_pr_url" json:"last_pr_url,omitempty"`
	LastPRNumber         int            `db:"last_pr_number" json:"last_pr_number,omitempty"`
	LastPRCreatedAt      *time.Time     `db:"last_pr_created_at" json:"last_pr_created_at,omitempty"`
	SBOMPath             string         `db:"sbom_path" json:"sbom_path,omitempty"`
	SBOMSHA256           string         `db:"sbom_sha256" json:"sbom_sha256,omitempty"`
	SBOMSizeBytes        int64          `db:"sbom_size_bytes" json:"sbom_size_bytes,omitempty"`
	CorrelationID        string         `db:"correlation_id" json:"correlation_id"`
	CreatedAt            time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at" json:"updated_at"`

	// Stage outputs, keyed by the Blob* names. Values are redacted before
	// they leave the persistence layer.
	Stages map[string]json.RawMessage `db:"-" json:"stages,omitempty"`
}

// Stage returns the raw blob for a stage name, or nil when the stage has not
// persisted output yet.
func (r *FixPipelineRun) Stage(name string) json.RawMessage {
	if r == nil || r.Stages == nil {
		return nil
	}
	return r.Stages[name]
}

// SetStage records a stage blob on the in-memory run. Persistence happens
// through the store in the same transaction as the status transition.
func (r *FixPipelineRun) SetStage(name string, blob json.RawMessage) {
	if r.Stages == nil {
		r.Stages = map[string]json.RawMessage{}
	}
	r.Stages[name] = blob
}

// DecodeStage unmarshals a stage blob into out. Missing blobs are an error so
// callers never operate on a zero value silently.
func (r *FixPipelineRun) DecodeStage(name string, out any) error {
	raw := r.Stage(name)
	if len(raw) == 0 {
		return &MissingStageError{Stage: name}
	}
	return json.Unmarshal(raw, out)
}

// MissingStageError reports a stage blob that should exist at the current
// status but does not. It signals a state conflict, not a transient failure.
type MissingStageError struct {
	Stage string
}

func (e *MissingStageError) Error() string {
	return "missing stage output: " + e.Stage
}

// TimelineStep is one entry of a run's ordered execution timeline.
type TimelineStep struct {
	Step        string     `json:"step"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms,omitempty"`
}
