package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

const runColumns = `id, event_id, run_key, repo, branch, commit_sha, status,
	adapter_name, attempt_count, retry_limit_snapshot, blocked_reason,
	error_message, automation_mode, manual_review_required, last_pr_url,
	last_pr_number, last_pr_created_at, sbom_path, sbom_sha256, sbom_size_bytes,
	correlation_id,
	context, detection, rca, plan, plan_policy, critic, issue_graph, consensus,
	patch_diff, patch_stats, patch_policy, validation, pr, merge, post_merge,
	artifact, created_at, updated_at`

// stageColumns whitelists the jsonb columns a stage blob may land in. The
// names double as model.Blob* values; anything else is a programming error.
var stageColumns = map[string]string{
	model.BlobContext:     "context",
	model.BlobDetection:   "detection",
	model.BlobRCA:         "rca",
	model.BlobPlan:        "plan",
	model.BlobPlanPolicy:  "plan_policy",
	model.BlobCritic:      "critic",
	model.BlobIssueGraph:  "issue_graph",
	model.BlobConsensus:   "consensus",
	model.BlobPatchDiff:   "patch_diff",
	model.BlobPatchStats:  "patch_stats",
	model.BlobPatchPolicy: "patch_policy",
	model.BlobValidation:  "validation",
	model.BlobPR:          "pr",
	model.BlobMerge:       "merge",
	model.BlobPostMerge:   "post_merge",
	model.BlobArtifact:    "artifact",
}

// runRow is the scan target for fix_pipeline_runs. Stage blobs scan into
// their own fields and are folded into the Stages map afterwards.
type runRow struct {
	model.FixPipelineRun
	ContextBlob     []byte `db:"context"`
	DetectionBlob   []byte `db:"detection"`
	RCABlob         []byte `db:"rca"`
	PlanBlob        []byte `db:"plan"`
	PlanPolicyBlob  []byte `db:"plan_policy"`
	CriticBlob      []byte `db:"critic"`
	IssueGraphBlob  []byte `db:"issue_graph"`
	ConsensusBlob   []byte `db:"consensus"`
	PatchDiffBlob   []byte `db:"patch_diff"`
	PatchStatsBlob  []byte `db:"patch_stats"`
	PatchPolicyBlob []byte `db:"patch_policy"`
	ValidationBlob  []byte `db:"validation"`
	PRBlob          []byte `db:"pr"`
	MergeBlob       []byte `db:"merge"`
	PostMergeBlob   []byte `db:"post_merge"`
	ArtifactBlob    []byte `db:"artifact"`
}

func (r *runRow) toRun() *model.FixPipelineRun {
	run := r.FixPipelineRun
	blobs := map[string][]byte{
		model.BlobContext:     r.ContextBlob,
		model.BlobDetection:   r.DetectionBlob,
		model.BlobRCA:         r.RCABlob,
		model.BlobPlan:        r.PlanBlob,
		model.BlobPlanPolicy:  r.PlanPolicyBlob,
		model.BlobCritic:      r.CriticBlob,
		model.BlobIssueGraph:  r.IssueGraphBlob,
		model.BlobConsensus:   r.ConsensusBlob,
		model.BlobPatchDiff:   r.PatchDiffBlob,
		model.BlobPatchStats:  r.PatchStatsBlob,
		model.BlobPatchPolicy: r.PatchPolicyBlob,
		model.BlobValidation:  r.ValidationBlob,
		model.BlobPR:          r.PRBlob,
		model.BlobMerge:       r.MergeBlob,
		model.BlobPostMerge:   r.PostMergeBlob,
		model.BlobArtifact:    r.ArtifactBlob,
	}
	for name, b := range blobs {
		if len(b) > 0 {
			run.SetStage(name, json.RawMessage(b))
		}
	}
	return &run
}

// CreateRun inserts a run for an event, enforcing one run per event. When
// another worker created the run first, the existing row is returned and
// created is false.
func (q Queries) CreateRun(ctx context.Context, run *model.FixPipelineRun) (*model.FixPipelineRun, bool, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = model.StatusCreated
	}
	if run.AutomationMode == "" {
		run.AutomationMode = model.ModeAutoPR
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO fix_pipeline_runs (
			id, event_id, run_key, repo, branch, commit_sha, status,
			automation_mode, retry_limit_snapshot, correlation_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING`,
		run.ID, run.EventID, run.RunKey, run.Repo, run.Branch, run.CommitSHA,
		string(run.Status), string(run.AutomationMode), run.RetryLimitSnapshot,
		run.CorrelationID)
	if err != nil {
		return nil, false, fmt.Errorf("create run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("create run: %w", err)
	}
	if n == 0 {
		existing, err := q.GetRunByEventID(ctx, run.EventID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return run, true, nil
}

func (q Queries) GetRun(ctx context.Context, id string) (*model.FixPipelineRun, error) {
	var row runRow
	err := q.q.GetContext(ctx, &row,
		`SELECT `+runColumns+` FROM fix_pipeline_runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return row.toRun(), nil
}

func (q Queries) GetRunByEventID(ctx context.Context, eventID string) (*model.FixPipelineRun, error) {
	var row runRow
	err := q.q.GetContext(ctx, &row,
		`SELECT `+runColumns+` FROM fix_pipeline_runs WHERE event_id = $1`, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run by event: %w", err)
	}
	return row.toRun(), nil
}

// ListRunsByRunKey returns runs sharing a failure signature, newest first.
// Loop detection and similar-incident lookups read history through this.
func (q Queries) ListRunsByRunKey(ctx context.Context, runKey string, limit int) ([]*model.FixPipelineRun, error) {
	var rows []runRow
	err := q.q.SelectContext(ctx, &rows,
		`SELECT `+runColumns+` FROM fix_pipeline_runs
		 WHERE run_key = $1 ORDER BY created_at DESC LIMIT $2`, runKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs by run key: %w", err)
	}
	runs := make([]*model.FixPipelineRun, 0, len(rows))
	for i := range rows {
		runs = append(runs, rows[i].toRun())
	}
	return runs, nil
}

func (q Queries) ListRecentRuns(ctx context.Context, limit int) ([]*model.FixPipelineRun, error) {
	var rows []runRow
	err := q.q.SelectContext(ctx, &rows,
		`SELECT `+runColumns+` FROM fix_pipeline_runs
		 ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	runs := make([]*model.FixPipelineRun, 0, len(rows))
	for i := range rows {
		runs = append(runs, rows[i].toRun())
	}
	return runs, nil
}

// AdvanceRun moves a run from one status to the next and persists the
// produced stage blobs in the same statement. The fixed WHERE clause makes
// the move safe under concurrent workers: whoever matches the expected
// status wins, everyone else gets ErrStatusConflict and re-reads.
func (q Queries) AdvanceRun(ctx context.Context, id string, from, to model.RunStatus, stages map[string]json.RawMessage) error {
	if !from.CanAdvance(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	set := []string{"status = $2", "updated_at = now()"}
	args := []any{id, string(to)}
	names := make([]string, 0, len(stages))
	for name := range stages {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		col, ok := stageColumns[name]
		if !ok {
			return fmt.Errorf("advance run: unknown stage %q", name)
		}
		args = append(args, nullJSON(stages[name]))
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	args = append(args, string(from))
	query := fmt.Sprintf(
		"UPDATE fix_pipeline_runs SET %s WHERE id = $1 AND status = $%d",
		strings.Join(set, ", "), len(args))
	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("advance run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: run %s expected status %s", ErrStatusConflict, id, from)
	}
	return nil
}

// BlockRun is AdvanceRun into blocked with the reason recorded.
func (q Queries) BlockRun(ctx context.Context, id string, from model.RunStatus, reason string) error {
	if !from.CanAdvance(model.StatusBlocked) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, model.StatusBlocked)
	}
	res, err := q.q.ExecContext(ctx, `
		UPDATE fix_pipeline_runs
		SET status = $2, blocked_reason = $3, updated_at = now()
		WHERE id = $1 AND status = $4`,
		id, string(model.StatusBlocked), reason, string(from))
	if err != nil {
		return fmt.Errorf("block run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: run %s expected status %s", ErrStatusConflict, id, from)
	}
	return nil
}

// IncrementRunAttempt bumps the attempt counter and returns the new value.
// The counter never decreases; callers compare it to the run's
// retry_limit_snapshot.
func (q Queries) IncrementRunAttempt(ctx context.Context, id string) (int, error) {
	var n int
	err := q.q.GetContext(ctx, &n, `
		UPDATE fix_pipeline_runs
		SET attempt_count = attempt_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING attempt_count`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment run attempt: %w", err)
	}
	return n, nil
}

// SetRunPR records the opened pull request exactly once. A second call
// returns recorded=false and leaves the original URL in place.
func (q Queries) SetRunPR(ctx context.Context, id, url string, number int, at time.Time) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		UPDATE fix_pipeline_runs
		SET last_pr_url = $2, last_pr_number = $3, last_pr_created_at = $4, updated_at = now()
		WHERE id = $1 AND last_pr_url = ''`,
		id, url, number, at.UTC())
	if err != nil {
		return false, fmt.Errorf("set run pr: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set run pr: %w", err)
	}
	return n > 0, nil
}

func (q Queries) SetRunAdapter(ctx context.Context, id, adapter string) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE fix_pipeline_runs SET adapter_name = $2, updated_at = now() WHERE id = $1`,
		id, adapter)
	if err != nil {
		return fmt.Errorf("set run adapter: %w", err)
	}
	return nil
}

// SetRunBlockedReason records why a run landed on a failure-branch
// status. BlockRun sets the reason for status=blocked; this covers the
// sibling branches (plan_blocked, patch_blocked, escalated).
func (q Queries) SetRunBlockedReason(ctx context.Context, id, reason string) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE fix_pipeline_runs SET blocked_reason = $2, updated_at = now() WHERE id = $1`,
		id, reason)
	if err != nil {
		return fmt.Errorf("set run blocked reason: %w", err)
	}
	return nil
}

func (q Queries) SetRunManualReview(ctx context.Context, id string, required bool) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE fix_pipeline_runs SET manual_review_required = $2, updated_at = now() WHERE id = $1`,
		id, required)
	if err != nil {
		return fmt.Errorf("set run manual review: %w", err)
	}
	return nil
}

func (q Queries) SetRunError(ctx context.Context, id, msg string) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE fix_pipeline_runs SET error_message = $2, updated_at = now() WHERE id = $1`,
		id, msg)
	if err != nil {
		return fmt.Errorf("set run error: %w", err)
	}
	return nil
}

func (q Queries) SetRunSBOM(ctx context.Context, id, path, sha256 string, sizeBytes int64) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE fix_pipeline_runs SET sbom_path = $2, sbom_sha256 = $3, sbom_size_bytes = $4,
			updated_at = now() WHERE id = $1`,
		id, path, sha256, sizeBytes)
	if err != nil {
		return fmt.Errorf("set run sbom: %w", err)
	}
	return nil
}
