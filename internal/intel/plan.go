package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/logparse"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

const planSystem = "You are the fix planner inside an automated CI repair service. " +
	"You turn a root cause analysis into the smallest concrete change that heals the build. " +
	"Answer with exactly one JSON object. No prose, no markdown fences."

const planShape = `{"root_cause":"...","category":"infrastructure|dependency|code|configuration|test|flaky|security|unknown","confidence":0.0,"files":["path"],"operations":[{"type":"add_dependency|pin_dependency|update_config|modify_code|remove_unused","file":"path","details":{},"rationale":"...","evidence":["..."]}]}`

// Plan turns an RCA result into a normalized, validated fix plan.
func (e *Engine) Plan(ctx context.Context, bundle *logparse.Bundle, rca *model.RCAResult) (*model.FixPlan, error) {
	var out model.FixPlan
	err := e.complete(ctx, model.BlobPlan, planSystem, planPrompt(bundle, rca), func(obj []byte) error {
		var v model.FixPlan
		if err := validateAgainst(planSchema, obj, &v); err != nil {
			return err
		}
		v.Normalize()
		if err := v.Validate(); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func planPrompt(b *logparse.Bundle, rca *model.RCAResult) string {
	var sb strings.Builder
	sb.WriteString("Plan the minimal fix for this CI failure.\n")
	fmt.Fprintf(&sb, "Repository: %s\nBranch: %s\n", b.Repo, b.Branch)

	if rca != nil {
		if enc, err := json.Marshal(rca); err == nil {
			sb.WriteString("\nRoot cause analysis:\n")
			sb.Write(enc)
			sb.WriteString("\n")
		}
	}
	writeList(&sb, "Errors", b.Errors, 10)
	writeList(&sb, "Test failures", b.TestFailures, 10)

	sb.WriteString("\nRules: at most 10 operations, every operation file must appear in files, ")
	sb.WriteString("touch only what the fix requires, prefer dependency or config edits over code edits.\n")
	sb.WriteString("Answer with a JSON object shaped exactly as:\n")
	sb.WriteString(planShape)
	return sb.String()
}
