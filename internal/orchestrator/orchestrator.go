// Package orchestrator drives the fix pipeline state machine.
//
// A worker claims a durable job and calls HandleJob, which advances the
// job's run by at most one stage: the stage output and the status
// transition persist together, then the job is rescheduled for the next
// stage. Conditional status updates in the store make re-entry safe
// under at-least-once delivery; per-repo leases in Redis bound how many
// workers heal one repository at once.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/adapters"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/artifact"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/config"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/consensus"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/coord"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/incidents"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/intel"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/llm"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/logparse"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/metrics"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/policy"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/redact"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/sandbox"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/store"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/vcs"
)

// leaseTTL bounds how long one worker may hold a repo concurrency slot.
// Longer than the slowest stage (sandbox validation) so a live worker
// never loses its slot mid-stage.
const leaseTTL = 45 * time.Minute

// significantLineCount is how many leading error lines feed the run key.
const significantLineCount = 5

// Validator runs a candidate fix in isolation. The sandbox package's
// Validator satisfies it; tests substitute a stub.
type Validator interface {
	Validate(ctx context.Context, req *sandbox.Request) (*sandbox.Result, error)
}

// Deps wires the orchestrator's collaborators. Store, Coord, VCS,
// Validator, and Metrics are required; the rest default to usable
// implementations when nil.
type Deps struct {
	Store     *store.Store
	Coord     *coord.Coordinator
	VCS       vcs.Client
	LLM       llm.Provider
	Policy    *policy.Engine
	Adapters  *adapters.Registry
	Validator Validator
	Incidents incidents.Index
	Redactor  *redact.Redactor
	Metrics   *metrics.Metrics
	Log       *zap.Logger

	Pipeline   config.PipelineConfig
	LLMConfig  config.LLMConfig
	Thresholds consensus.Thresholds

	// CloneBaseURL prefixes "owner/name.git" for sandbox clones.
	CloneBaseURL string
	// MaxLogBytes bounds how much CI log the parser keeps.
	MaxLogBytes int
}

// Orchestrator advances fix pipeline runs.
type Orchestrator struct {
	store     *store.Store
	coord     *coord.Coordinator
	vcs       vcs.Client
	llm       llm.Provider
	intel     *intel.Engine
	policy    *policy.Engine
	adapters  *adapters.Registry
	validator Validator
	incidents incidents.Index
	artifacts *artifact.Builder
	red       *redact.Redactor
	parser    *logparse.Parser
	metrics   *metrics.Metrics
	log       *zap.Logger

	cfg        config.PipelineConfig
	thresholds consensus.Thresholds
	cloneBase  string
}

func New(d Deps) *Orchestrator {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Redactor == nil {
		d.Redactor = redact.NewDefault()
	}
	if d.Incidents == nil {
		d.Incidents = incidents.NewMemory(0)
	}
	if d.Thresholds == (consensus.Thresholds{}) {
		d.Thresholds = consensus.DefaultThresholds()
	}
	if d.Policy == nil {
		d.Policy, _ = policy.NewEngine(policy.Default())
	}
	if d.Adapters == nil {
		d.Adapters = adapters.Default()
	}
	if d.CloneBaseURL == "" {
		d.CloneBaseURL = "https://github.com"
	}
	if d.MaxLogBytes <= 0 {
		d.MaxLogBytes = 512 * 1024
	}
	return &Orchestrator{
		store:      d.Store,
		coord:      d.Coord,
		vcs:        d.VCS,
		llm:        d.LLM,
		intel:      intel.New(d.LLM, d.LLMConfig.MaxRetries, d.LLMConfig.MaxTokens),
		policy:     d.Policy,
		adapters:   d.Adapters,
		validator:  d.Validator,
		incidents:  d.Incidents,
		artifacts:  artifact.NewBuilder(d.Redactor),
		red:        d.Redactor,
		parser:     logparse.NewParser(d.MaxLogBytes),
		metrics:    d.Metrics,
		log:        d.Log,
		cfg:        d.Pipeline,
		thresholds: d.Thresholds,
		cloneBase:  strings.TrimSuffix(d.CloneBaseURL, "/"),
	}
}

// Outcome tells the worker what to do with the claimed job.
type Outcome struct {
	// Requeue reschedules the job after Delay; false completes it.
	Requeue bool
	Delay   time.Duration
}

var requeueNow = Outcome{Requeue: true}

// HandleJob processes one claimed job. Errors returned here are job
// infrastructure failures; run-level failures are absorbed into run
// state and return a nil error.
func (o *Orchestrator) HandleJob(ctx context.Context, job *store.Job) (Outcome, error) {
	switch job.Task {
	case store.TaskProcessEvent:
		return o.handleEvent(ctx, job)
	case store.TaskApprovePR:
		return o.handleApprove(ctx, job)
	default:
		return Outcome{}, fmt.Errorf("orchestrator: unknown task %q", job.Task)
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, job *store.Job) (Outcome, error) {
	var ev model.NormalizedPipelineEvent
	if err := json.Unmarshal(job.Payload, &ev); err != nil {
		return Outcome{}, fmt.Errorf("orchestrator: decode event payload: %w", err)
	}
	event, err := o.store.GetEvent(ctx, job.EventID)
	if err != nil {
		return o.jobRetry(job, err)
	}
	if event.Status == model.EventDispatched {
		if err := o.store.UpdateEventStatus(ctx, event.ID, model.EventProcessing); err != nil {
			return o.jobRetry(job, err)
		}
	}

	// A CI outcome on a monitored branch settles the merged fix first.
	if err := o.resolvePostMerge(ctx, &ev); err != nil {
		return o.jobRetry(job, err)
	}

	if !ev.IsFailure() {
		// Success-family events only matter to the monitor.
		if err := o.store.UpdateEventStatus(ctx, event.ID, model.EventCompleted); err != nil {
			return o.jobRetry(job, err)
		}
		return Outcome{}, nil
	}

	run, logText, created, err := o.ensureRun(ctx, event, &ev)
	if err != nil {
		if model.IsTransient(err) {
			return o.jobRetry(job, err)
		}
		// No run exists to escalate; settle the event and drop the job.
		o.log.Error("run creation failed", zap.String("event_id", event.ID), zap.Error(err))
		if uerr := o.store.UpdateEventStatus(ctx, event.ID, model.EventFailed); uerr != nil {
			o.log.Warn("event status update failed", zap.String("event_id", event.ID), zap.Error(uerr))
		}
		return Outcome{}, nil
	}
	if run == nil {
		// Refused at creation (cooldown or attempt cap); event settled.
		return Outcome{}, nil
	}
	if settled, out := o.finishIfSettled(ctx, event.ID, run.Status); settled {
		return out, nil
	}

	lease, ok, err := o.coord.AcquireRepo(ctx, run.Repo, o.cfg.RepoConcurrencyLimit, leaseTTL)
	if err != nil {
		return o.jobRetry(job, err)
	}
	if !ok {
		o.metrics.PipelineThrottled.Inc()
		return Outcome{Requeue: true, Delay: delayForAttempt(job.Attempts, o.cfg.BaseBackoff, o.cfg.MaxBackoff, run.Repo)}, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := o.coord.ReleaseRepo(releaseCtx, run.Repo, lease); rerr != nil {
			o.log.Warn("release repo lease failed", zap.String("repo", run.Repo), zap.Error(rerr))
		}
	}()

	if created {
		// Creation already fetched the log; finish the context stage in
		// the same cycle instead of fetching twice.
		err = o.stageContext(ctx, run, &ev, logText)
	} else {
		err = o.step(ctx, run, &ev)
	}
	if err != nil {
		return o.stageFailure(ctx, run, event.ID, err)
	}
	if settled, out := o.finishIfSettled(ctx, event.ID, run.Status); settled {
		return out, nil
	}
	return requeueNow, nil
}

// step advances run by one stage according to its current status.
func (o *Orchestrator) step(ctx context.Context, run *model.FixPipelineRun, ev *model.NormalizedPipelineEvent) error {
	switch run.Status {
	case model.StatusCreated:
		return o.stageContext(ctx, run, ev, "")
	case model.StatusContextBuilt:
		return o.stageRCA(ctx, run)
	case model.StatusRCAReady:
		return o.stagePlan(ctx, run)
	case model.StatusPlanReady:
		return o.stageCritic(ctx, run)
	case model.StatusCriticReady:
		return o.stageConsensus(ctx, run)
	case model.StatusConsensusReady:
		return o.stagePatch(ctx, run)
	case model.StatusPatchReady:
		return o.stageValidate(ctx, run)
	case model.StatusValidationPassed:
		return o.stagePR(ctx, run)
	case model.StatusPRCreated:
		return o.stageHandoff(ctx, run)
	default:
		return model.NewStageError("dispatch", model.ClassConflict,
			fmt.Errorf("run %s not advanceable from %s", run.ID, run.Status))
	}
}

func (o *Orchestrator) handleApprove(ctx context.Context, job *store.Job) (Outcome, error) {
	run, err := o.store.GetRun(ctx, job.RunID)
	if err != nil {
		return o.jobRetry(job, err)
	}
	switch run.Status {
	case model.StatusAwaitingApproval:
		if err := o.stagePR(ctx, run); err != nil {
			return o.stageFailure(ctx, run, run.EventID, err)
		}
		return requeueNow, nil
	case model.StatusPRCreated:
		if err := o.stageHandoff(ctx, run); err != nil {
			return o.stageFailure(ctx, run, run.EventID, err)
		}
		if settled, out := o.finishIfSettled(ctx, run.EventID, run.Status); settled {
			return out, nil
		}
		return requeueNow, nil
	default:
		// Approved twice, or approved after the run moved on.
		o.log.Info("approval job found nothing to do",
			zap.String("run_id", run.ID), zap.String("status", string(run.Status)))
		return Outcome{}, nil
	}
}

// ApproveRun is the external approval operation: it verifies the run is
// parked and enqueues the job that resumes it. A status mismatch returns
// store.ErrStatusConflict for the API layer to map to 409.
func (o *Orchestrator) ApproveRun(ctx context.Context, runID string, actor model.ActorIdentity) error {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != model.StatusAwaitingApproval {
		return fmt.Errorf("%w: run %s is %s, not %s",
			store.ErrStatusConflict, runID, run.Status, model.StatusAwaitingApproval)
	}
	payload, _ := json.Marshal(actor)
	if err := o.store.EnqueueJob(ctx, &store.Job{
		Queue:   store.QueuePipeline,
		Task:    store.TaskApprovePR,
		RunID:   runID,
		EventID: run.EventID,
		Payload: payload,
	}); err != nil {
		return err
	}
	o.publish(ctx, run, model.DashboardEvent{
		Type:     model.EventTypeStage,
		Stage:    "approval",
		Status:   string(run.Status),
		Metadata: map[string]string{"actor": actor.String()},
	})
	o.log.Info("run approved", zap.String("run_id", runID), zap.String("actor", actor.String()))
	return nil
}

// ensureRun loads or creates the run for an event. A nil run with nil
// error means the run was created and immediately refused by the loop
// breaker; the event is settled. created=true means the run was created
// in this call, with logText holding the CI log already fetched for it.
func (o *Orchestrator) ensureRun(ctx context.Context, event *model.PipelineEvent, ev *model.NormalizedPipelineEvent) (run *model.FixPipelineRun, logText string, created bool, err error) {
	run, err = o.store.GetRunByEventID(ctx, event.ID)
	if err == nil {
		return run, "", false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, "", false, model.NewStageError("create", model.ClassTransient, err)
	}

	logText, err = o.fetchLog(ctx, ev)
	if err != nil {
		return nil, "", false, err
	}
	bundle := o.parser.BuildContext(ev, event.ID, logText)
	failureType := logparse.FailureTypeFor(bundle, ev.FailureType)
	runKey := model.ComputeRunKey(ev.Repo, ev.Branch, failureType,
		logparse.SignificantLines(logText, significantLineCount))

	mode, err := o.store.AutomationModeForRepo(ctx, ev.Repo)
	if err != nil {
		return nil, "", false, model.NewStageError("create", model.ClassTransient, err)
	}

	run = &model.FixPipelineRun{
		EventID:            event.ID,
		RunKey:             runKey,
		Repo:               ev.Repo,
		Branch:             ev.Branch,
		CommitSHA:          ev.CommitSHA,
		AutomationMode:     mode,
		RetryLimitSnapshot: o.cfg.MaxAttempts,
		CorrelationID:      event.CorrelationID,
	}
	run, created, err = o.store.CreateRun(ctx, run)
	if err != nil {
		return nil, "", false, model.NewStageError("create", model.ClassTransient, err)
	}
	if !created {
		// Another worker created it first; continue from where it is.
		return run, "", false, nil
	}
	o.metrics.PipelineRuns.WithLabelValues(string(model.StatusCreated)).Inc()
	o.publish(ctx, run, model.DashboardEvent{
		Type: model.EventTypeStage, Stage: "created", Status: string(model.StatusCreated),
	})

	refused, err := o.loopBreaker(ctx, run, event.ID)
	if err != nil {
		return nil, "", false, err
	}
	if refused {
		return nil, "", false, nil
	}
	return run, logText, true, nil
}

// loopBreaker refuses runs whose signature is cooling down or has burned
// through its attempts. Refusal blocks the run and settles the event.
func (o *Orchestrator) loopBreaker(ctx context.Context, run *model.FixPipelineRun, eventID string) (bool, error) {
	cooling, holder, err := o.coord.InCooldown(ctx, run.RunKey)
	if err != nil {
		return false, model.NewStageError("create", model.ClassTransient, err)
	}
	if cooling {
		return true, o.refuseRun(ctx, run, eventID, model.BlockedCooldown,
			fmt.Sprintf("signature cooling down behind run %s", holder))
	}

	prior, err := o.store.ListRunsByRunKey(ctx, run.RunKey, o.cfg.MaxAttempts+1)
	if err != nil {
		return false, model.NewStageError("create", model.ClassTransient, err)
	}
	window := time.Now().UTC().Add(-o.cfg.Cooldown)
	recent := 0
	for _, p := range prior {
		if p.ID != run.ID && p.CreatedAt.After(window) {
			recent++
		}
	}
	if recent >= o.cfg.MaxAttempts {
		return true, o.refuseRun(ctx, run, eventID, model.BlockedMaxAttempts,
			fmt.Sprintf("%d runs with this signature inside the cooldown window", recent))
	}
	return false, nil
}

func (o *Orchestrator) refuseRun(ctx context.Context, run *model.FixPipelineRun, eventID, reason, msg string) error {
	if err := o.store.SetRunError(ctx, run.ID, msg); err != nil {
		return model.NewStageError("create", model.ClassTransient, err)
	}
	if err := o.store.BlockRun(ctx, run.ID, run.Status, reason); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil
		}
		return model.NewStageError("create", model.ClassTransient, err)
	}
	run.Status = model.StatusBlocked
	run.BlockedReason = reason
	run.ErrorMessage = msg
	o.metrics.PipelineLoopBlocked.WithLabelValues(reason).Inc()
	o.metrics.PipelineRuns.WithLabelValues(string(model.StatusBlocked)).Inc()
	o.publish(ctx, run, model.DashboardEvent{
		Type: model.EventTypeRunBlocked, Status: string(model.StatusBlocked),
		Metadata: map[string]string{"reason": reason},
	})
	if err := o.store.UpdateEventStatus(ctx, eventID, model.EventFailed); err != nil {
		o.log.Warn("event status update failed", zap.String("event_id", eventID), zap.Error(err))
	}
	o.log.Info("run refused", zap.String("run_id", run.ID), zap.String("reason", reason))
	return nil
}

// finishIfSettled completes the job when the run has reached a parked or
// terminal status, settling the event's final state.
func (o *Orchestrator) finishIfSettled(ctx context.Context, eventID string, status model.RunStatus) (bool, Outcome) {
	var final model.EventStatus
	switch status {
	case model.StatusMonitoring, model.StatusMerged, model.StatusAwaitingApproval:
		final = model.EventCompleted
	case model.StatusBlocked, model.StatusEscalated, model.StatusPlanBlocked,
		model.StatusPatchBlocked, model.StatusValidationFailed, model.StatusPRFailed:
		final = model.EventFailed
	default:
		return false, Outcome{}
	}
	if eventID != "" {
		if err := o.store.UpdateEventStatus(ctx, eventID, final); err != nil {
			o.log.Warn("event status update failed", zap.String("event_id", eventID), zap.Error(err))
		}
	}
	return true, Outcome{}
}

// stageFailure folds a stage error into run state and decides the job's
// fate. Conflicts requeue without attempt accounting; transient errors
// burn an attempt and back off; everything else escalates the run.
func (o *Orchestrator) stageFailure(ctx context.Context, run *model.FixPipelineRun, eventID string, err error) (Outcome, error) {
	if errors.Is(err, store.ErrStatusConflict) || model.IsConflict(err) {
		o.log.Debug("stage conflict, re-reading", zap.String("run_id", run.ID), zap.Error(err))
		return Outcome{Requeue: true, Delay: time.Second}, nil
	}
	if model.IsTransient(err) {
		attempts, ierr := o.store.IncrementRunAttempt(ctx, run.ID)
		if ierr != nil {
			return Outcome{Requeue: true, Delay: o.cfg.BaseBackoff}, nil
		}
		if attempts > run.RetryLimitSnapshot {
			if berr := o.refuseRun(ctx, run, eventID, model.BlockedMaxAttempts, o.red.String(err.Error())); berr != nil {
				o.log.Warn("blocking exhausted run failed", zap.String("run_id", run.ID), zap.Error(berr))
			}
			return Outcome{}, nil
		}
		o.metrics.PipelineRetries.Inc()
		o.log.Warn("stage failed, retrying",
			zap.String("run_id", run.ID), zap.Int("attempt", attempts), zap.Error(err))
		return Outcome{Requeue: true, Delay: delayForAttempt(attempts, o.cfg.BaseBackoff, o.cfg.MaxBackoff,
			fmt.Sprintf("%s:%d", run.RunKey, attempts))}, nil
	}

	// Fatal: record and escalate; a human takes over.
	msg := o.red.String(err.Error())
	if serr := o.store.SetRunError(ctx, run.ID, msg); serr != nil {
		o.log.Warn("record run error failed", zap.String("run_id", run.ID), zap.Error(serr))
	}
	if aerr := o.advanceWith(ctx, run, model.StatusEscalated, "escalation", nil); aerr != nil {
		o.log.Error("escalate run failed", zap.String("run_id", run.ID), zap.Error(aerr))
	}
	if eventID != "" {
		if uerr := o.store.UpdateEventStatus(ctx, eventID, model.EventFailed); uerr != nil {
			o.log.Warn("event status update failed", zap.String("event_id", eventID), zap.Error(uerr))
		}
	}
	o.log.Error("stage failed fatally", zap.String("run_id", run.ID), zap.Error(err))
	return Outcome{}, nil
}

// jobRetry handles infrastructure errors before any run is in hand: the
// job backs off on its own attempt counter.
func (o *Orchestrator) jobRetry(job *store.Job, err error) (Outcome, error) {
	o.log.Warn("job deferred", zap.Int64("job_id", job.ID), zap.String("task", job.Task), zap.Error(err))
	return Outcome{Requeue: true, Delay: delayForAttempt(job.Attempts, o.cfg.BaseBackoff, o.cfg.MaxBackoff,
		fmt.Sprintf("job:%d", job.ID))}, nil
}

// advanceWith persists one transition with its stage blobs, attaching
// the provenance artifact on parked and terminal targets, then emits the
// observability side effects. run is mutated to the new state.
func (o *Orchestrator) advanceWith(ctx context.Context, run *model.FixPipelineRun, to model.RunStatus, stage string, blobs map[string]json.RawMessage) error {
	if blobs == nil {
		blobs = map[string]json.RawMessage{}
	}
	for name, blob := range blobs {
		run.SetStage(name, blob)
	}
	if to.Terminal() || to == model.StatusAwaitingApproval || to == model.StatusMonitoring {
		if _, raw, err := o.artifacts.Build(run, to, o.evidenceLinks(run)); err != nil {
			o.log.Warn("provenance build failed", zap.String("run_id", run.ID), zap.Error(err))
		} else {
			blobs[model.BlobArtifact] = raw
			run.SetStage(model.BlobArtifact, raw)
		}
	}
	if err := o.store.AdvanceRun(ctx, run.ID, run.Status, to, blobs); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return err
		}
		// A failed write is retryable like any other store error; only
		// a lost status race is a conflict.
		return model.NewStageError(stage, model.ClassTransient, err)
	}
	run.Status = to
	o.metrics.PipelineRuns.WithLabelValues(string(to)).Inc()
	evType := model.EventTypeStage
	if to == model.StatusBlocked {
		evType = model.EventTypeRunBlocked
	}
	o.publish(ctx, run, model.DashboardEvent{
		Type: evType, Stage: stage, Status: string(to),
	})
	o.log.Info("run advanced",
		zap.String("run_id", run.ID), zap.String("stage", stage), zap.String("status", string(to)))
	return nil
}

// publish sends a dashboard event, best-effort. Identity fields are
// filled from the run; failure to publish never fails a stage.
func (o *Orchestrator) publish(ctx context.Context, run *model.FixPipelineRun, ev model.DashboardEvent) {
	ev.RunID = run.ID
	ev.FailureID = run.EventID
	ev.CorrelationID = run.CorrelationID
	if err := o.coord.PublishDashboard(ctx, ev); err != nil {
		o.log.Debug("dashboard publish failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (o *Orchestrator) evidenceLinks(run *model.FixPipelineRun) []string {
	var links []string
	if run.LastPRURL != "" {
		links = append(links, run.LastPRURL)
	}
	if run.SBOMPath != "" {
		links = append(links, run.SBOMPath)
	}
	return links
}

func (o *Orchestrator) fetchLog(ctx context.Context, ev *model.NormalizedPipelineEvent) (string, error) {
	logText, err := o.vcs.FetchJobLog(ctx, ev.Repo, ev.RunID, ev.JobID)
	if err != nil {
		if vcs.Retryable(err) {
			return "", model.NewStageError("context", model.ClassTransient, err)
		}
		return "", model.NewStageError("context", model.ClassFatal, err)
	}
	return logText, nil
}

func (o *Orchestrator) cloneURL(repo string) string {
	return o.cloneBase + "/" + repo + ".git"
}

// mustJSON marshals values the package itself defines; those never fail.
func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("orchestrator: marshal %T: %v", v, err))
	}
	return raw
}
