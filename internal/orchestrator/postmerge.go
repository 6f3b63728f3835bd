package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/store"
)

// postMergeOutcome is the persisted post_merge blob.
type postMergeOutcome struct {
	Conclusion string    `json:"conclusion"`
	CIRunID    string    `json:"ci_run_id"`
	PRNumber   int       `json:"pr_number,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// resolvePostMerge settles a monitored fix when the next CI outcome for
// its branch arrives: success stabilizes the run into merged, failure
// escalates it as a regression. Branches without a watch entry pass
// through untouched, which is the common case.
func (o *Orchestrator) resolvePostMerge(ctx context.Context, ev *model.NormalizedPipelineEvent) error {
	entry, err := o.coord.TakePostMerge(ctx, ev.Repo, ev.Branch)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}

	run, err := o.store.GetRun(ctx, entry.RunID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			o.log.Warn("post-merge watch references unknown run",
				zap.String("run_id", entry.RunID), zap.String("repo", ev.Repo))
			return nil
		}
		return err
	}
	if run.Status != model.StatusMonitoring {
		// Settled by another path; the consumed entry is stale.
		o.log.Info("post-merge outcome for non-monitoring run",
			zap.String("run_id", run.ID), zap.String("status", string(run.Status)))
		return nil
	}

	blobs := map[string]json.RawMessage{model.BlobPostMerge: mustJSON(postMergeOutcome{
		Conclusion: ev.Conclusion,
		CIRunID:    ev.RunID,
		PRNumber:   entry.PRNumber,
		ObservedAt: time.Now().UTC(),
	})}

	if !ev.IsFailure() {
		if err := o.advanceWith(ctx, run, model.StatusMerged, "post_merge", blobs); err != nil {
			if errors.Is(err, store.ErrStatusConflict) {
				return nil
			}
			return err
		}
		o.publish(ctx, run, model.DashboardEvent{
			Type:   model.EventTypeStabilized,
			Status: string(run.Status),
		})
		o.log.Info("post-merge pipeline stabilized",
			zap.String("run_id", run.ID), zap.String("repo", run.Repo), zap.String("branch", run.Branch))
		return nil
	}

	msg := fmt.Sprintf("pipeline regressed on %s/%s after merge (conclusion %s)",
		run.Repo, run.Branch, ev.Conclusion)
	if err := o.parkWithReason(ctx, run, model.StatusEscalated, "post_merge",
		model.BlockedPostMergeRegres, msg, blobs); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil
		}
		return err
	}
	o.publish(ctx, run, model.DashboardEvent{
		Type:     model.EventTypeRegressed,
		Status:   string(run.Status),
		Metadata: map[string]string{"conclusion": ev.Conclusion},
	})
	if run.LastPRNumber > 0 {
		if cerr := o.vcs.CommentOnPR(ctx, run.Repo, run.LastPRNumber,
			"Post-merge monitoring detected a regression on this branch; escalating for manual review."); cerr != nil {
			o.log.Warn("pr comment failed", zap.String("run_id", run.ID), zap.Error(cerr))
		}
	}
	o.log.Warn("post-merge regression", zap.String("run_id", run.ID), zap.String("repo", run.Repo))
	return nil
}
