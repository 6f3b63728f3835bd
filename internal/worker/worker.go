// Package worker runs the pool that drains the durable pipeline queue.
//
// Each worker claims one job at a time with a lease, hands it to the
// orchestrator, and settles the job according to the returned outcome:
// completed, or rescheduled after a delay. Handler errors are job
// infrastructure failures (bad payloads, unknown tasks) and retry with
// a short linear backoff until the attempt cap drops the job.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/metrics"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/orchestrator"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/store"
)

// maxJobAttempts drops a job whose handler keeps erroring. Run-level
// retries are accounted separately on the run; this cap only catches
// jobs that cannot be dispatched at all.
const maxJobAttempts = 10

// Handler processes one claimed job.
type Handler interface {
	HandleJob(ctx context.Context, job *store.Job) (orchestrator.Outcome, error)
}

// Config tunes the pool. Zero values take the defaults below.
type Config struct {
	// Queue is the job queue to drain.
	Queue string
	// Count is the number of concurrent workers.
	Count int
	// Lease is the claim lease. It must outlast the slowest stage,
	// which is sandbox validation.
	Lease time.Duration
	// PollInterval is the idle sleep between claims when the queue is
	// empty or the claim failed.
	PollInterval time.Duration
	// DepthInterval is how often queue depths are exported.
	DepthInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Queue == "" {
		c.Queue = store.QueuePipeline
	}
	if c.Count <= 0 {
		c.Count = 4
	}
	if c.Lease <= 0 {
		c.Lease = 45 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.DepthInterval <= 0 {
		c.DepthInterval = 15 * time.Second
	}
	return c
}

// Pool claims and dispatches jobs until its context is cancelled.
type Pool struct {
	store   *store.Store
	handler Handler
	m       *metrics.Metrics
	log     *zap.Logger
	cfg     Config
}

// New builds a pool. A nil logger logs nowhere.
func New(st *store.Store, h Handler, m *metrics.Metrics, log *zap.Logger, cfg Config) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{store: st, handler: h, m: m, log: log, cfg: cfg.withDefaults()}
}

// Run blocks until ctx is cancelled, then returns nil once every worker
// has finished its in-flight job.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Count; i++ {
		g.Go(func() error { return p.loop(ctx) })
	}
	g.Go(func() error { return p.reportDepths(ctx) })
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context) error {
	for ctx.Err() == nil {
		job, err := p.store.ClaimJob(ctx, p.cfg.Queue, p.cfg.Lease)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.log.Error("claim job failed", zap.Error(err))
			sleep(ctx, p.cfg.PollInterval)
			continue
		}
		if job == nil {
			sleep(ctx, p.cfg.PollInterval)
			continue
		}
		p.process(ctx, job)
	}
	return nil
}

// process dispatches one job and settles it. Settlement runs on a
// detached context so a finished job is not re-run just because the
// pool is shutting down.
func (p *Pool) process(ctx context.Context, job *store.Job) {
	out, err := p.handler.HandleJob(ctx, job)

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	switch {
	case err != nil:
		p.m.TasksProcessed.WithLabelValues(job.Task, "failed").Inc()
		if job.Attempts >= maxJobAttempts {
			p.log.Error("dropping job after repeated handler failures",
				zap.Int64("job_id", job.ID), zap.String("task", job.Task),
				zap.Int("attempts", job.Attempts), zap.Error(err))
			if derr := p.store.CompleteJob(settleCtx, job.ID); derr != nil {
				p.log.Error("drop job failed", zap.Int64("job_id", job.ID), zap.Error(derr))
			}
			return
		}
		p.log.Error("job handler failed",
			zap.Int64("job_id", job.ID), zap.String("task", job.Task), zap.Error(err))
		if rerr := p.store.RetryJob(settleCtx, job.ID, handlerRetryDelay(job.Attempts)); rerr != nil {
			p.log.Error("retry job failed", zap.Int64("job_id", job.ID), zap.Error(rerr))
		}
	case out.Requeue:
		p.m.TasksProcessed.WithLabelValues(job.Task, "retried").Inc()
		if rerr := p.store.RetryJob(settleCtx, job.ID, out.Delay); rerr != nil {
			p.log.Error("retry job failed", zap.Int64("job_id", job.ID), zap.Error(rerr))
		}
	default:
		p.m.TasksProcessed.WithLabelValues(job.Task, "succeeded").Inc()
		if cerr := p.store.CompleteJob(settleCtx, job.ID); cerr != nil {
			p.log.Error("complete job failed", zap.Int64("job_id", job.ID), zap.Error(cerr))
		}
	}
}

// handlerRetryDelay spaces out infrastructure retries linearly; the
// deterministic per-run backoff lives in the orchestrator.
func handlerRetryDelay(attempts int) time.Duration {
	d := time.Duration(attempts) * 5 * time.Second
	if d > 2*time.Minute {
		d = 2 * time.Minute
	}
	return d
}

func (p *Pool) reportDepths(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.DepthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.reportOnce(ctx)
		}
	}
}

func (p *Pool) reportOnce(ctx context.Context) {
	depths, err := p.store.QueueDepths(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("queue depths failed", zap.Error(err))
		}
		return
	}
	// The drained queue must report zero, not its last nonzero sample.
	if _, ok := depths[p.cfg.Queue]; !ok {
		depths[p.cfg.Queue] = 0
	}
	for queue, depth := range depths {
		p.m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
