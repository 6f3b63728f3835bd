package model

import (
	"fmt"
	"strings"
)

// RunStatus is the persisted state of a fix pipeline run. Transitions are
// monotonic along the stage order; a worker must never move a run backwards.
type RunStatus string

const (
	StatusCreated          RunStatus = "created"
	StatusContextBuilt     RunStatus = "context_built"
	StatusRCAReady         RunStatus = "rca_ready"
	StatusPlanReady        RunStatus = "plan_ready"
	StatusPlanBlocked      RunStatus = "plan_blocked"
	StatusCriticReady      RunStatus = "critic_ready"
	StatusConsensusReady   RunStatus = "consensus_ready"
	StatusPatchReady       RunStatus = "patch_ready"
	StatusPatchBlocked     RunStatus = "patch_blocked"
	StatusValidationPassed RunStatus = "validation_passed"
	StatusValidationFailed RunStatus = "validation_failed"
	StatusPRCreated        RunStatus = "pr_created"
	StatusPRFailed         RunStatus = "pr_failed"
	StatusAwaitingApproval RunStatus = "awaiting_approval"
	StatusMonitoring       RunStatus = "monitoring"
	StatusMerged           RunStatus = "merged"
	StatusEscalated        RunStatus = "escalated"
	StatusBlocked          RunStatus = "blocked"
)

// statusRank orders statuses along the pipeline. Blocked/failed branches share
// the rank of the stage they terminate so that "already past this stage"
// checks treat them as settled.
var statusRank = map[RunStatus]int{
	StatusCreated:          0,
	StatusContextBuilt:     10,
	StatusRCAReady:         20,
	StatusPlanReady:        30,
	StatusPlanBlocked:      30,
	StatusCriticReady:      40,
	StatusConsensusReady:   50,
	StatusPatchReady:       60,
	StatusPatchBlocked:     60,
	StatusValidationPassed: 70,
	StatusValidationFailed: 70,
	StatusAwaitingApproval: 75,
	StatusPRCreated:        80,
	StatusPRFailed:         80,
	StatusMonitoring:       90,
	StatusMerged:           100,
	StatusEscalated:        100,
	StatusBlocked:          100,
}

// terminalStatuses are the states from which no worker cycle advances a run.
// awaiting_approval is deliberately absent: it is a pause, not a terminal,
// and exits only through the explicit approval operation.
var terminalStatuses = map[RunStatus]bool{
	StatusPlanBlocked:      true,
	StatusPatchBlocked:     true,
	StatusValidationFailed: true,
	StatusPRFailed:         true,
	StatusMerged:           true,
	StatusEscalated:        true,
	StatusBlocked:          true,
}

func ParseRunStatus(s string) (RunStatus, error) {
	st := RunStatus(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := statusRank[st]; !ok {
		return "", fmt.Errorf("invalid run status: %q", s)
	}
	return st, nil
}

func (s RunStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank returns the position of the status in the stage order. Unknown
// statuses rank below created so they never satisfy an "already done" check.
func (s RunStatus) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

func (s RunStatus) Terminal() bool {
	return terminalStatuses[s]
}

// CanAdvance reports whether a transition from s to next moves forward along
// the stage order. Same-rank sibling outcomes (e.g. plan_ready vs
// plan_blocked) are not reachable from each other.
func (s RunStatus) CanAdvance(next RunStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	// blocked is reachable from any non-terminal state (loop breaker).
	if next == StatusBlocked {
		return true
	}
	// awaiting_approval only exits into the PR stage.
	if s == StatusAwaitingApproval {
		return next == StatusPRCreated || next == StatusPRFailed
	}
	return next.Rank() > s.Rank()
}

// EventStatus is the lifecycle status of an ingested pipeline event.
type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventDispatched EventStatus = "dispatched"
	EventProcessing EventStatus = "processing"
	EventCompleted  EventStatus = "completed"
	EventFailed     EventStatus = "failed"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventPending, EventDispatched, EventProcessing, EventCompleted, EventFailed:
		return true
	}
	return false
}

// AutomationMode controls how far a run may progress without a human.
type AutomationMode string

const (
	ModeSuggest   AutomationMode = "suggest"
	ModeAutoPR    AutomationMode = "auto_pr"
	ModeAutoMerge AutomationMode = "auto_merge"
)

func ParseAutomationMode(s string) (AutomationMode, error) {
	m := AutomationMode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeSuggest, ModeAutoPR, ModeAutoMerge:
		return m, nil
	case "":
		return ModeAutoPR, nil
	}
	return "", fmt.Errorf("invalid automation mode: %q", s)
}

// Blocked-reason strings persisted on runs. These are part of the stored
// contract; dashboards and tests match on them.
const (
	BlockedMaxAttempts     = "max_attempts"
	BlockedCooldown        = "cooldown"
	BlockedPostMergeRegres = "post_merge_regression"
	BlockedConsensus       = "consensus_rejected"
	BlockedPlanPolicy      = "plan_policy"
	BlockedPatchPolicy     = "patch_policy"
	BlockedSyntaxGate      = "patch_syntax_gate"
	BlockedLLMUnavailable  = "llm_patch_unavailable"
)
