package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NormalizedPipelineEvent is the provider-agnostic shape every CI webhook is
// reduced to before it enters the core. Provider adapters own the reduction;
// the core never sees raw provider payloads.
type NormalizedPipelineEvent struct {
	Provider    string          `json:"provider"`
	Repo        string          `json:"repo"`
	CommitSHA   string          `json:"commit_sha"`
	Branch      string          `json:"branch"`
	RunID       string          `json:"run_id"`
	JobID       string          `json:"job_id"`
	Attempt     int             `json:"attempt"`
	Stage       string          `json:"stage"`
	FailureType string          `json:"failure_type"`
	Conclusion  string          `json:"conclusion"`
	LogURL      string          `json:"log_url,omitempty"`
	PRNumber    int             `json:"pr_number,omitempty"`
	RawPayload  json.RawMessage `json:"raw_payload,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// IdempotencyKey is the stable dedup key for a CI delivery:
// {provider}:{repo}:{run_id}:{job_id}:{attempt}.
func (e NormalizedPipelineEvent) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:%s:%s:%d", e.Provider, e.Repo, e.RunID, e.JobID, e.Attempt)
}

func (e NormalizedPipelineEvent) Validate() error {
	if strings.TrimSpace(e.Provider) == "" {
		return fmt.Errorf("event provider is required")
	}
	if strings.TrimSpace(e.Repo) == "" {
		return fmt.Errorf("event repo is required")
	}
	if strings.TrimSpace(e.RunID) == "" {
		return fmt.Errorf("event run_id is required")
	}
	if e.Attempt < 0 {
		return fmt.Errorf("event attempt must be >= 0")
	}
	return nil
}

// FailureConclusions are the CI conclusions that open a healing run.
// Success-family conclusions only matter to the post-merge monitor.
func (e NormalizedPipelineEvent) IsFailure() bool {
	switch strings.ToLower(e.Conclusion) {
	case "failure", "failed", "timed_out", "cancelled", "canceled":
		return true
	}
	return false
}

// PipelineEvent is the persisted form of a normalized event.
type PipelineEvent struct {
	ID             string          `db:"id" json:"id"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key"`
	Provider       string          `db:"provider" json:"provider"`
	Repo           string          `db:"repo" json:"repo"`
	CommitSHA      string          `db:"commit_sha" json:"commit_sha"`
	Branch         string          `db:"branch" json:"branch"`
	RunID          string          `db:"run_id" json:"run_id"`
	JobID          string          `db:"job_id" json:"job_id"`
	Attempt        int             `db:"attempt" json:"attempt"`
	Stage          string          `db:"stage" json:"stage"`
	FailureType    string          `db:"failure_type" json:"failure_type"`
	RawPayload     json.RawMessage `db:"raw_payload" json:"raw_payload,omitempty"`
	Status         EventStatus     `db:"status" json:"status"`
	CorrelationID  string          `db:"correlation_id" json:"correlation_id"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// WebhookDelivery records every webhook arrival; the unique delivery_id is the
// at-least-once dedup ring for providers that redeliver.
type WebhookDelivery struct {
	ID         int64     `db:"id" json:"id"`
	DeliveryID string    `db:"delivery_id" json:"delivery_id"`
	EventType  string    `db:"event_type" json:"event_type"`
	Repository string    `db:"repository" json:"repository"`
	Status     string    `db:"status" json:"status"`
	Details    string    `db:"details" json:"details,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// GitHubAppInstallation maps a (user, repo) pair to its automation mode.
type GitHubAppInstallation struct {
	ID             string         `db:"id" json:"id"`
	UserID         string         `db:"user_id" json:"user_id"`
	RepoID         string         `db:"repo_id" json:"repo_id"`
	RepoFullName   string         `db:"repo_full_name" json:"repo_full_name"`
	InstallationID int64          `db:"installation_id" json:"installation_id"`
	AutomationMode AutomationMode `db:"automation_mode" json:"automation_mode"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// ActorIdentity identifies who triggered a manual operation. The core treats
// it as an opaque audit value; authentication happens upstream.
type ActorIdentity struct {
	Subject string `json:"subject"`
	Kind    string `json:"kind"` // "user", "service", "system"
}

func (a ActorIdentity) String() string {
	if a.Kind == "" {
		return a.Subject
	}
	return a.Kind + ":" + a.Subject
}
