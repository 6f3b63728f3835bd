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
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/consensus"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/coord"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/diffparse"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/incidents"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/logparse"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/patch"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/policy"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/sandbox"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/vcs"
)

// similarIncidentCount is how many past incidents feed the RCA prompt.
const similarIncidentCount = 5

// stageContext parses the CI log into the failure bundle, selects the
// language adapter, and records the failure for future similarity
// searches. logText is the prefetched log from run creation; empty means
// fetch it here (re-entry after a crash).
func (o *Orchestrator) stageContext(ctx context.Context, run *model.FixPipelineRun, ev *model.NormalizedPipelineEvent, logText string) error {
	if logText == "" {
		var err error
		if logText, err = o.fetchLog(ctx, ev); err != nil {
			return err
		}
	}
	bundle := o.parser.BuildContext(ev, run.EventID, logText)

	files, err := o.vcs.ListFiles(ctx, run.Repo, run.CommitSHA)
	if err != nil {
		if vcs.Retryable(err) {
			return model.NewStageError("context", model.ClassTransient, err)
		}
		// Detection heuristics degrade without the file list; the log
		// patterns alone still carry most of the signal.
		o.log.Warn("list files failed", zap.String("run_id", run.ID), zap.Error(err))
		files = nil
	}

	blobs := map[string]json.RawMessage{model.BlobContext: mustJSON(bundle)}
	if adapter, det := o.adapters.Select(logText, files); adapter != nil {
		if err := o.store.SetRunAdapter(ctx, run.ID, adapter.Name()); err != nil {
			return model.NewStageError("context", model.ClassTransient, err)
		}
		run.AdapterName = adapter.Name()
		blobs[model.BlobDetection] = mustJSON(det)
	}

	if err := o.incidents.Add(ctx, incidents.Incident{
		RunID:       run.ID,
		Repo:        run.Repo,
		FailureType: logparse.FailureTypeFor(bundle, ev.FailureType),
		Status:      "open",
		Text:        incidentText(bundle),
	}); err != nil {
		o.log.Warn("incident index add failed", zap.String("run_id", run.ID), zap.Error(err))
	}

	return o.advanceWith(ctx, run, model.StatusContextBuilt, "context", blobs)
}

// stageRCA asks the model for a root cause analysis of the bundle,
// enriched with similar past incidents.
func (o *Orchestrator) stageRCA(ctx context.Context, run *model.FixPipelineRun) error {
	var bundle logparse.Bundle
	if err := run.DecodeStage(model.BlobContext, &bundle); err != nil {
		return model.NewStageError("rca", model.ClassFatal, err)
	}

	rca, err := o.intel.RootCause(ctx, &bundle)
	if err != nil {
		if model.ClassOf(err) == model.ClassParse {
			return o.parkPlanBlocked(ctx, run, "rca", err)
		}
		return err
	}

	if similar, serr := o.incidents.Search(ctx, bundle.LogSummary, similarIncidentCount); serr != nil {
		o.log.Warn("incident search failed", zap.String("run_id", run.ID), zap.Error(serr))
	} else if len(similar) > 0 {
		rca.SimilarIncidents = similar
	}

	return o.advanceWith(ctx, run, model.StatusRCAReady, "rca",
		map[string]json.RawMessage{model.BlobRCA: mustJSON(rca)})
}

// stagePlan asks the model for a fix plan and screens it against the
// safety policy before any patch is generated.
func (o *Orchestrator) stagePlan(ctx context.Context, run *model.FixPipelineRun) error {
	var bundle logparse.Bundle
	if err := run.DecodeStage(model.BlobContext, &bundle); err != nil {
		return model.NewStageError("plan", model.ClassFatal, err)
	}
	var rca model.RCAResult
	if err := run.DecodeStage(model.BlobRCA, &rca); err != nil {
		return model.NewStageError("plan", model.ClassFatal, err)
	}

	plan, err := o.intel.Plan(ctx, &bundle, &rca)
	if err != nil {
		if model.ClassOf(err) == model.ClassParse {
			return o.parkPlanBlocked(ctx, run, "plan", err)
		}
		return err
	}
	plan.Normalize()

	opTypes := make([]string, 0, len(plan.Operations))
	for _, op := range plan.Operations {
		opTypes = append(opTypes, op.Type)
	}
	dec := o.policy.EvaluatePlan(policy.PlanIntent{
		Files:          plan.Files,
		OperationTypes: opTypes,
		Category:       plan.Category,
	})
	o.countViolations(dec)

	blobs := map[string]json.RawMessage{
		model.BlobPlan:       mustJSON(plan),
		model.BlobPlanPolicy: mustJSON(dec),
	}
	if !dec.Allowed {
		return o.parkWithReason(ctx, run, model.StatusPlanBlocked, "plan",
			model.BlockedPlanPolicy, violationSummary(dec), blobs)
	}
	return o.advanceWith(ctx, run, model.StatusPlanReady, "plan", blobs)
}

// stageCritic reviews the plan for hallucination and reasoning gaps. A
// critic whose output never validates counts as a rejection; consensus
// turns that into a blocked run downstream instead of escalating here.
func (o *Orchestrator) stageCritic(ctx context.Context, run *model.FixPipelineRun) error {
	var plan model.FixPlan
	if err := run.DecodeStage(model.BlobPlan, &plan); err != nil {
		return model.NewStageError("critic", model.ClassFatal, err)
	}
	var rca model.RCAResult
	if err := run.DecodeStage(model.BlobRCA, &rca); err != nil {
		return model.NewStageError("critic", model.ClassFatal, err)
	}

	critic, err := o.intel.Critique(ctx, &plan, &rca)
	if err != nil {
		if model.ClassOf(err) != model.ClassParse {
			return err
		}
		o.log.Warn("critic output rejected, treating as veto",
			zap.String("run_id", run.ID), zap.Error(err))
		critic = &model.CriticDecision{
			Allowed:              false,
			Issues:               []string{"critic output failed validation: " + err.Error()},
			RequiresManualReview: true,
		}
	}

	if critic.RequiresManualReview && !run.ManualReviewRequired {
		if err := o.store.SetRunManualReview(ctx, run.ID, true); err != nil {
			return model.NewStageError("critic", model.ClassTransient, err)
		}
		run.ManualReviewRequired = true
	}

	return o.advanceWith(ctx, run, model.StatusCriticReady, "critic",
		map[string]json.RawMessage{model.BlobCritic: mustJSON(critic)})
}

// stageConsensus builds the issue graph and takes the accept/reject vote
// over planner confidence, critic review, and policy.
func (o *Orchestrator) stageConsensus(ctx context.Context, run *model.FixPipelineRun) error {
	var bundle logparse.Bundle
	if err := run.DecodeStage(model.BlobContext, &bundle); err != nil {
		return model.NewStageError("consensus", model.ClassFatal, err)
	}
	var rca model.RCAResult
	if err := run.DecodeStage(model.BlobRCA, &rca); err != nil {
		return model.NewStageError("consensus", model.ClassFatal, err)
	}
	var plan model.FixPlan
	if err := run.DecodeStage(model.BlobPlan, &plan); err != nil {
		return model.NewStageError("consensus", model.ClassFatal, err)
	}
	var critic model.CriticDecision
	if err := run.DecodeStage(model.BlobCritic, &critic); err != nil {
		return model.NewStageError("consensus", model.ClassFatal, err)
	}
	var planPol policy.Decision
	if err := run.DecodeStage(model.BlobPlanPolicy, &planPol); err != nil {
		return model.NewStageError("consensus", model.ClassFatal, err)
	}

	graph := consensus.BuildIssueGraph(&bundle, &rca)
	dec := consensus.Decide(&plan, &critic, planPol, o.thresholds)

	blobs := map[string]json.RawMessage{
		model.BlobIssueGraph: mustJSON(graph),
		model.BlobConsensus:  mustJSON(dec),
	}
	if !dec.Accepted() {
		return o.parkWithReason(ctx, run, model.StatusBlocked, "consensus",
			model.BlockedConsensus, strings.Join(dec.Rejections, "; "), blobs)
	}
	return o.advanceWith(ctx, run, model.StatusConsensusReady, "consensus", blobs)
}

// patchStats is the persisted patch_stats blob.
type patchStats struct {
	diffparse.Stats
	Source     string            `json:"source"`
	GateIssues []patch.GateIssue `json:"gate_issues,omitempty"`
}

// stagePatch renders the accepted plan into a diff, parse-checks the
// patched files, and screens the diff against the safety policy.
func (o *Orchestrator) stagePatch(ctx context.Context, run *model.FixPipelineRun) error {
	var dec consensus.Decision
	if err := run.DecodeStage(model.BlobConsensus, &dec); err != nil {
		return model.NewStageError("patch", model.ClassFatal, err)
	}
	plan := dec.SelectedPlan
	if plan == nil {
		return model.NewStageError("patch", model.ClassFatal,
			fmt.Errorf("consensus accepted without a selected plan"))
	}

	var patcher adapters.DeterministicPatcher
	if run.AdapterName != "" {
		if a, err := o.adapters.Get(run.AdapterName); err == nil {
			patcher, _ = a.(adapters.DeterministicPatcher)
		}
	}

	gen := patch.NewGenerator(o.llm, patcher)
	read := func(p string) (string, error) {
		return o.vcs.ReadFile(ctx, run.Repo, run.CommitSHA, p)
	}
	res, err := gen.Generate(ctx, plan, read)
	if err != nil {
		var be *patch.BlockedError
		switch {
		case errors.As(err, &be):
			return o.parkWithReason(ctx, run, model.StatusPatchBlocked, "patch",
				be.Reason, be.Error(), nil)
		case vcs.Retryable(err) || model.IsTransient(err):
			return model.NewStageError("patch", model.ClassTransient, err)
		default:
			return model.NewStageError("patch", model.ClassFatal, err)
		}
	}

	gate := patch.CheckSyntax(res.NewContents)
	blobs := map[string]json.RawMessage{
		model.BlobPatchDiff:  mustJSON(res.Diff),
		model.BlobPatchStats: mustJSON(patchStats{Stats: res.Stats, Source: res.Source, GateIssues: gate}),
	}
	if len(gate) > 0 {
		return o.parkWithReason(ctx, run, model.StatusPatchBlocked, "patch",
			model.BlockedSyntaxGate,
			fmt.Sprintf("patched %s does not parse: %s", gate[0].File, gate[0].Message), blobs)
	}

	parsed, err := diffparse.Parse(res.Diff)
	if err != nil {
		return model.NewStageError("patch", model.ClassFatal, err)
	}
	pol := o.policy.EvaluateDiff(parsed)
	o.countViolations(pol)
	blobs[model.BlobPatchPolicy] = mustJSON(pol)

	if !pol.Allowed {
		return o.parkWithReason(ctx, run, model.StatusPatchBlocked, "patch",
			model.BlockedPatchPolicy, violationSummary(pol), blobs)
	}
	return o.advanceWith(ctx, run, model.StatusPatchReady, "patch", blobs)
}

// stageValidate runs the candidate fix through the sandbox: clone,
// apply, adapter-chosen steps, then the scan battery.
func (o *Orchestrator) stageValidate(ctx context.Context, run *model.FixPipelineRun) error {
	var diff string
	if err := run.DecodeStage(model.BlobPatchDiff, &diff); err != nil {
		return model.NewStageError("validate", model.ClassFatal, err)
	}

	var steps []adapters.ValidationStep
	if run.AdapterName != "" {
		if a, err := o.adapters.Get(run.AdapterName); err == nil {
			steps = a.BuildValidationSteps("")
		}
	}

	res, err := o.validator.Validate(ctx, &sandbox.Request{
		FixID:       run.ID,
		EventID:     run.EventID,
		RepoURL:     o.cloneURL(run.Repo),
		Branch:      run.Branch,
		CommitSHA:   run.CommitSHA,
		Diff:        diff,
		AdapterName: run.AdapterName,
		Steps:       steps,
	})
	if err != nil {
		// Engine failures: the container runtime, not the candidate fix.
		return model.NewStageError("validate", model.ClassTransient, err)
	}

	if ref := res.Scans.SBOM; ref != nil {
		if err := o.store.SetRunSBOM(ctx, run.ID, ref.Path, ref.SHA256, ref.SizeBytes); err != nil {
			return model.NewStageError("validate", model.ClassTransient, err)
		}
		run.SBOMPath, run.SBOMSHA256, run.SBOMSizeBytes = ref.Path, ref.SHA256, ref.SizeBytes
	}

	blobs := map[string]json.RawMessage{model.BlobValidation: mustJSON(res)}
	if res.Status != sandbox.StatusPassed {
		msg := res.ErrorMessage
		if msg == "" {
			msg = fmt.Sprintf("validation %s: %d/%d tests failed", res.Status, res.TestsFailed, res.TestsTotal)
		}
		if serr := o.store.SetRunError(ctx, run.ID, msg); serr != nil {
			return model.NewStageError("validate", model.ClassTransient, serr)
		}
		run.ErrorMessage = msg
		return o.advanceWith(ctx, run, model.StatusValidationFailed, "validate", blobs)
	}
	return o.advanceWith(ctx, run, model.StatusValidationPassed, "validate", blobs)
}

// stagePR either parks the run for a human (suggest mode, or the critic
// demanded review) or pushes the fix branch and opens the pull request.
// Re-entry from awaiting_approval skips the gate.
func (o *Orchestrator) stagePR(ctx context.Context, run *model.FixPipelineRun) error {
	if run.Status == model.StatusValidationPassed &&
		(run.AutomationMode == model.ModeSuggest || run.ManualReviewRequired) {
		return o.advanceWith(ctx, run, model.StatusAwaitingApproval, "pr", nil)
	}

	// A replayed job can find the PR already recorded when the previous
	// attempt died between CreatePullRequest and the status write. Each
	// run opens at most one PR; resume with the recorded one.
	if run.LastPRURL != "" {
		o.log.Info("pull request already recorded, resuming",
			zap.String("run_id", run.ID), zap.String("url", run.LastPRURL))
		var blobs map[string]json.RawMessage
		if len(run.Stage(model.BlobPR)) == 0 {
			blobs = map[string]json.RawMessage{model.BlobPR: mustJSON(vcs.PullRequest{
				Number: run.LastPRNumber,
				URL:    run.LastPRURL,
				Branch: fixBranchName(run.ID),
			})}
		}
		return o.advanceWith(ctx, run, model.StatusPRCreated, "pr", blobs)
	}

	var diff string
	if err := run.DecodeStage(model.BlobPatchDiff, &diff); err != nil {
		return model.NewStageError("pr", model.ClassFatal, err)
	}
	parsed, err := diffparse.Parse(diff)
	if err != nil {
		return model.NewStageError("pr", model.ClassFatal, err)
	}

	files := make(map[string]string, len(parsed.Files))
	for _, fp := range parsed.Files {
		old := ""
		if !fp.IsNew() {
			if old, err = o.vcs.ReadFile(ctx, run.Repo, run.CommitSHA, fp.Path()); err != nil {
				if vcs.Retryable(err) {
					return model.NewStageError("pr", model.ClassTransient, err)
				}
				return model.NewStageError("pr", model.ClassFatal, err)
			}
		}
		applied, aerr := fp.Apply(old)
		if aerr != nil {
			return model.NewStageError("pr", model.ClassFatal,
				fmt.Errorf("diff no longer applies to %s: %w", fp.Path(), aerr))
		}
		files[fp.Path()] = applied
	}

	title := o.prTitle(run)
	branch := fixBranchName(run.ID)
	if err := o.vcs.PushFixBranch(ctx, run.Repo, run.CommitSHA, branch, files, title); err != nil {
		return o.prFailure(ctx, run, err)
	}

	labels := []string{"automated-fix"}
	var patchPol policy.Decision
	if derr := run.DecodeStage(model.BlobPatchPolicy, &patchPol); derr == nil && patchPol.PRLabel != "" {
		labels = append(labels, patchPol.PRLabel)
	}
	pr, err := o.vcs.CreatePullRequest(ctx, vcs.PROptions{
		Repo:   run.Repo,
		Title:  title,
		Body:   o.prBody(run),
		Head:   branch,
		Base:   run.Branch,
		Labels: labels,
	})
	if err != nil {
		return o.prFailure(ctx, run, err)
	}

	recorded, err := o.store.SetRunPR(ctx, run.ID, pr.URL, pr.Number, time.Now().UTC())
	if err != nil {
		return model.NewStageError("pr", model.ClassTransient, err)
	}
	if !recorded {
		o.log.Info("run already has a pull request recorded",
			zap.String("run_id", run.ID), zap.String("url", pr.URL))
	}
	run.LastPRURL, run.LastPRNumber = pr.URL, pr.Number

	if err := o.advanceWith(ctx, run, model.StatusPRCreated, "pr",
		map[string]json.RawMessage{model.BlobPR: mustJSON(pr)}); err != nil {
		return err
	}
	o.publish(ctx, run, model.DashboardEvent{
		Type:     model.EventTypePROpened,
		Status:   string(run.Status),
		Metadata: map[string]string{"url": pr.URL, "number": fmt.Sprintf("%d", pr.Number)},
	})
	return nil
}

func (o *Orchestrator) prFailure(ctx context.Context, run *model.FixPipelineRun, err error) error {
	if vcs.Retryable(err) {
		return model.NewStageError("pr", model.ClassTransient, err)
	}
	msg := o.red.String(err.Error())
	if serr := o.store.SetRunError(ctx, run.ID, msg); serr != nil {
		return model.NewStageError("pr", model.ClassTransient, serr)
	}
	run.ErrorMessage = msg
	return o.advanceWith(ctx, run, model.StatusPRFailed, "pr", nil)
}

// stageHandoff finishes the pipeline's active part: optionally merges
// the PR, arms the post-merge watch and the signature cooldown, and
// parks the run in monitoring.
func (o *Orchestrator) stageHandoff(ctx context.Context, run *model.FixPipelineRun) error {
	merged := false
	if run.AutomationMode == model.ModeAutoMerge && run.LastPRNumber > 0 {
		if err := o.vcs.MergePullRequest(ctx, run.Repo, run.LastPRNumber); err != nil {
			if vcs.Retryable(err) {
				return model.NewStageError("merge", model.ClassTransient, err)
			}
			// Branch protection or a conflicting base. The PR stays open
			// for a human; the run still watches the branch.
			o.log.Warn("auto-merge failed, leaving PR open",
				zap.String("run_id", run.ID), zap.Int("pr", run.LastPRNumber), zap.Error(err))
			if cerr := o.vcs.CommentOnPR(ctx, run.Repo, run.LastPRNumber,
				"Automatic merge failed: "+o.red.String(err.Error())); cerr != nil {
				o.log.Warn("pr comment failed", zap.String("run_id", run.ID), zap.Error(cerr))
			}
		} else {
			merged = true
		}
	}

	entry := coord.PostMergeEntry{
		RunID:        run.ID,
		Repo:         run.Repo,
		Branch:       run.Branch,
		PRNumber:     run.LastPRNumber,
		RegisteredAt: time.Now().UTC(),
	}
	if err := o.coord.RegisterPostMerge(ctx, entry, o.cfg.Cooldown); err != nil {
		return model.NewStageError("merge", model.ClassTransient, err)
	}
	if err := o.coord.SetCooldown(ctx, run.RunKey, run.ID, o.cfg.Cooldown); err != nil {
		return model.NewStageError("merge", model.ClassTransient, err)
	}

	blob := struct {
		Merged       bool      `json:"merged"`
		PRNumber     int       `json:"pr_number,omitempty"`
		WatchedUntil time.Time `json:"watched_until"`
	}{merged, run.LastPRNumber, time.Now().UTC().Add(o.cfg.Cooldown)}
	return o.advanceWith(ctx, run, model.StatusMonitoring, "merge",
		map[string]json.RawMessage{model.BlobMerge: mustJSON(blob)})
}

// parkPlanBlocked terminates a run whose model output never validated.
func (o *Orchestrator) parkPlanBlocked(ctx context.Context, run *model.FixPipelineRun, stage string, err error) error {
	return o.parkWithReason(ctx, run, model.StatusPlanBlocked, stage, "",
		o.red.String(err.Error()), nil)
}

// parkWithReason moves a run onto a blocked branch, recording the
// machine-readable reason and a human-readable message.
func (o *Orchestrator) parkWithReason(ctx context.Context, run *model.FixPipelineRun, to model.RunStatus, stage, reason, msg string, blobs map[string]json.RawMessage) error {
	if msg != "" {
		if err := o.store.SetRunError(ctx, run.ID, msg); err != nil {
			return model.NewStageError(stage, model.ClassTransient, err)
		}
		run.ErrorMessage = msg
	}
	if reason != "" {
		if err := o.store.SetRunBlockedReason(ctx, run.ID, reason); err != nil {
			return model.NewStageError(stage, model.ClassTransient, err)
		}
		run.BlockedReason = reason
		o.metrics.PipelineLoopBlocked.WithLabelValues(reason).Inc()
	}
	return o.advanceWith(ctx, run, to, stage, blobs)
}

func (o *Orchestrator) countViolations(dec policy.Decision) {
	for _, v := range dec.Violations {
		o.metrics.PolicyViolations.WithLabelValues(v.Code).Inc()
	}
}

func violationSummary(dec policy.Decision) string {
	for _, v := range dec.Violations {
		if v.Severity == policy.SeverityBlock {
			if v.File != "" {
				return fmt.Sprintf("%s: %s (%s)", v.Code, v.Message, v.File)
			}
			return fmt.Sprintf("%s: %s", v.Code, v.Message)
		}
	}
	return "policy rejected the change"
}

func (o *Orchestrator) prTitle(run *model.FixPipelineRun) string {
	var plan model.FixPlan
	if err := run.DecodeStage(model.BlobPlan, &plan); err == nil && plan.RootCause != "" {
		rc := plan.RootCause
		if len(rc) > 72 {
			rc = rc[:72]
		}
		return "fix: " + rc
	}
	return "fix: automated repair for CI failure on " + run.Branch
}

func (o *Orchestrator) prBody(run *model.FixPipelineRun) string {
	var sb strings.Builder
	sb.WriteString("Automated fix generated from CI failure analysis.\n\n")

	var bundle logparse.Bundle
	if err := run.DecodeStage(model.BlobContext, &bundle); err == nil {
		fmt.Fprintf(&sb, "**Failure:** %s\n", logparse.Describe(&bundle))
	}
	var rca model.RCAResult
	if err := run.DecodeStage(model.BlobRCA, &rca); err == nil {
		fmt.Fprintf(&sb, "**Root cause (%s, %.0f%% confidence):** %s\n",
			rca.Classification.Category, rca.Classification.Confidence*100,
			rca.PrimaryHypothesis.Description)
	}
	var val sandbox.Result
	if err := run.DecodeStage(model.BlobValidation, &val); err == nil {
		fmt.Fprintf(&sb, "**Sandbox validation:** %d passed, %d failed, %d skipped\n",
			val.TestsPassed, val.TestsFailed, val.TestsSkipped)
	}
	var pol policy.Decision
	if err := run.DecodeStage(model.BlobPatchPolicy, &pol); err == nil {
		fmt.Fprintf(&sb, "**Danger score:** %d/100\n", pol.DangerScore)
	}
	fmt.Fprintf(&sb, "\nRun `%s` | correlation `%s`\n", run.ID, run.CorrelationID)
	return o.red.String(sb.String())
}

func fixBranchName(runID string) string {
	id := runID
	if len(id) > 8 {
		id = id[:8]
	}
	return "sre-agent/fix-" + id
}

func incidentText(b *logparse.Bundle) string {
	parts := []string{b.LogSummary}
	parts = append(parts, b.Errors...)
	parts = append(parts, b.TestFailures...)
	return strings.Join(parts, "\n")
}
