package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

const eventColumns = `id, idempotency_key, provider, repo, commit_sha, branch,
	run_id, job_id, attempt, stage, failure_type, raw_payload, status,
	correlation_id, created_at, updated_at`

// InsertEvent writes a pipeline event, deduplicating on idempotency_key.
// When the key already exists the stored event is returned and inserted is
// false; the caller treats that as a duplicate delivery.
func (q Queries) InsertEvent(ctx context.Context, ev *model.PipelineEvent) (*model.PipelineEvent, bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Status == "" {
		ev.Status = model.EventPending
	}
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO pipeline_events (
			id, idempotency_key, provider, repo, commit_sha, branch,
			run_id, job_id, attempt, stage, failure_type, raw_payload,
			status, correlation_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		ev.ID, ev.IdempotencyKey, ev.Provider, ev.Repo, ev.CommitSHA, ev.Branch,
		ev.RunID, ev.JobID, ev.Attempt, ev.Stage, ev.FailureType, nullJSON(ev.RawPayload),
		string(ev.Status), ev.CorrelationID)
	if err != nil {
		return nil, false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert event: %w", err)
	}
	if n == 0 {
		existing, err := q.GetEventByIdempotencyKey(ctx, ev.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return ev, true, nil
}

func (q Queries) GetEvent(ctx context.Context, id string) (*model.PipelineEvent, error) {
	var ev model.PipelineEvent
	err := q.q.GetContext(ctx, &ev,
		`SELECT `+eventColumns+` FROM pipeline_events WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &ev, nil
}

func (q Queries) GetEventByIdempotencyKey(ctx context.Context, key string) (*model.PipelineEvent, error) {
	var ev model.PipelineEvent
	err := q.q.GetContext(ctx, &ev,
		`SELECT `+eventColumns+` FROM pipeline_events WHERE idempotency_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event by key: %w", err)
	}
	return &ev, nil
}

// UpdateEventStatus moves the coarse event lifecycle status. It is not
// conditional; the fine-grained state machine lives on the run.
func (q Queries) UpdateEventStatus(ctx context.Context, id string, status model.EventStatus) error {
	if !status.Valid() {
		return fmt.Errorf("update event status: invalid status %q", status)
	}
	res, err := q.q.ExecContext(ctx,
		`UPDATE pipeline_events SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
