package artifact

import (
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

// pipelineSteps orders the timeline. Each step names the stage blob that
// proves it ran and the statuses that mark it failed or blocked.
var pipelineSteps = []struct {
	step string
	blob string
	fail model.RunStatus
}{
	{"context", model.BlobContext, ""},
	{"rca", model.BlobRCA, ""},
	{"plan", model.BlobPlan, model.StatusPlanBlocked},
	{"critic", model.BlobCritic, ""},
	{"consensus", model.BlobConsensus, ""},
	{"patch", model.BlobPatchDiff, model.StatusPatchBlocked},
	{"validation", model.BlobValidation, model.StatusValidationFailed},
	{"pr", model.BlobPR, model.StatusPRFailed},
	{"post_merge", model.BlobPostMerge, model.StatusEscalated},
}

// Timeline derives the ordered step list from which stage blobs exist
// and the run's status. The run row does not keep per-stage clocks, so
// only the first step carries the run's start time and the most recent
// step its last update.
func Timeline(run *model.FixPipelineRun, status model.RunStatus) []model.TimelineStep {
	steps := make([]model.TimelineStep, 0, len(pipelineSteps))
	lastDone := -1
	for i, s := range pipelineSteps {
		st := model.TimelineStep{Step: s.step, Status: "pending"}
		switch {
		case s.fail != "" && status == s.fail:
			st.Status = "failed"
			lastDone = i
		case len(run.Stage(s.blob)) > 0:
			st.Status = "completed"
			lastDone = i
		}
		steps = append(steps, st)
	}

	if status == model.StatusBlocked {
		// The loop breaker interrupts whatever step was next.
		if lastDone+1 < len(steps) {
			steps[lastDone+1].Status = "blocked"
		}
	}
	if status == model.StatusAwaitingApproval {
		for i := range steps {
			if steps[i].Step == "pr" {
				steps[i].Status = "awaiting_approval"
			}
		}
	}

	if len(steps) > 0 {
		start := run.CreatedAt.UTC()
		steps[0].StartedAt = &start
		if lastDone >= 0 {
			end := run.UpdatedAt.UTC()
			steps[lastDone].CompletedAt = &end
		}
	}
	return steps
}
