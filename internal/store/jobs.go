package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// QueuePipeline is the default queue every pipeline job lands on.
const QueuePipeline = "pipeline"

// Job task names.
const (
	// TaskProcessEvent advances the run belonging to an ingested event by
	// one stage per claim.
	TaskProcessEvent = "process_event"
	// TaskApprovePR resumes a run parked in awaiting_approval.
	TaskApprovePR = "approve_pr"
)

// Job is one durable unit of work. Jobs survive process crashes; a claim
// takes a lease, and expired leases make the job claimable again.
type Job struct {
	ID             int64           `db:"id"`
	Queue          string          `db:"queue"`
	Task           string          `db:"task"`
	RunID          string          `db:"run_id"`
	EventID        string          `db:"event_id"`
	Payload        json.RawMessage `db:"payload"`
	Attempts       int             `db:"attempts"`
	RunAt          time.Time       `db:"run_at"`
	LeaseExpiresAt *time.Time      `db:"lease_expires_at"`
	CreatedAt      time.Time       `db:"created_at"`
}

const jobColumns = `id, queue, task, run_id, event_id, payload, attempts,
	run_at, lease_expires_at, created_at`

// EnqueueJob inserts a job and fills in its assigned id. Call it inside
// the same transaction as the state change that makes the job necessary.
func (q Queries) EnqueueJob(ctx context.Context, job *Job) error {
	if job.Queue == "" {
		job.Queue = QueuePipeline
	}
	err := q.q.GetContext(ctx, &job.ID, `
		INSERT INTO pipeline_jobs (queue, task, run_id, event_id, payload, run_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
		RETURNING id`,
		job.Queue, job.Task, job.RunID, job.EventID, nullJSON(job.Payload), nullTime(job.RunAt))
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// ClaimJob leases the oldest due job on a queue. It returns (nil, nil)
// when nothing is due. SKIP LOCKED keeps concurrent workers from blocking
// on each other; the lease makes a crashed worker's job claimable again
// once the lease expires.
func (q Queries) ClaimJob(ctx context.Context, queue string, lease time.Duration) (*Job, error) {
	var job Job
	err := q.q.GetContext(ctx, &job, `
		UPDATE pipeline_jobs
		SET lease_expires_at = now() + make_interval(secs => $2), attempts = attempts + 1
		WHERE id = (
			SELECT id FROM pipeline_jobs
			WHERE queue = $1
			  AND run_at <= now()
			  AND (lease_expires_at IS NULL OR lease_expires_at < now())
			ORDER BY run_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		queue, lease.Seconds())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return &job, nil
}

// CompleteJob removes a finished job.
func (q Queries) CompleteJob(ctx context.Context, id int64) error {
	_, err := q.q.ExecContext(ctx, `DELETE FROM pipeline_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// RetryJob reschedules a job after delay and releases its lease.
func (q Queries) RetryJob(ctx context.Context, id int64, delay time.Duration) error {
	_, err := q.q.ExecContext(ctx, `
		UPDATE pipeline_jobs
		SET run_at = now() + make_interval(secs => $2), lease_expires_at = NULL
		WHERE id = $1`,
		id, delay.Seconds())
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	return nil
}

// QueueDepths counts outstanding jobs per queue, leased or not.
func (q Queries) QueueDepths(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Queue string `db:"queue"`
		Depth int    `db:"depth"`
	}
	err := q.q.SelectContext(ctx, &rows,
		`SELECT queue, count(*) AS depth FROM pipeline_jobs GROUP BY queue`)
	if err != nil {
		return nil, fmt.Errorf("queue depths: %w", err)
	}
	depths := make(map[string]int, len(rows))
	for _, r := range rows {
		depths[r.Queue] = r.Depth
	}
	return depths, nil
}

// nullTime maps the zero time to NULL so the column default applies.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
