package intel

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

const criticSystem = "You are the critic inside an automated CI repair service. " +
	"You review a proposed fix plan against the root cause analysis for hallucination and inconsistency. " +
	"Answer with exactly one JSON object. No prose, no markdown fences."

const criticShape = `{"allowed":true,"hallucination_risk":0.0,"reasoning_consistency":0.0,"issues":["..."],"requires_manual_review":false,"recommended_label":"safe|needs-review"}`

// Critique reviews a plan for hallucinated files, unsupported claims,
// and reasoning drift from the RCA.
func (e *Engine) Critique(ctx context.Context, plan *model.FixPlan, rca *model.RCAResult) (*model.CriticDecision, error) {
	var out model.CriticDecision
	err := e.complete(ctx, model.BlobCritic, criticSystem, criticPrompt(plan, rca), func(obj []byte) error {
		var v model.CriticDecision
		if err := validateAgainst(criticSchema, obj, &v); err != nil {
			return err
		}
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

func criticPrompt(plan *model.FixPlan, rca *model.RCAResult) string {
	var sb strings.Builder
	sb.WriteString("Review this fix plan before it is applied.\n")
	if rca != nil {
		if enc, err := json.Marshal(rca); err == nil {
			sb.WriteString("\nRoot cause analysis:\n")
			sb.Write(enc)
			sb.WriteString("\n")
		}
	}
	if plan != nil {
		if enc, err := json.Marshal(plan); err == nil {
			sb.WriteString("\nProposed plan:\n")
			sb.Write(enc)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\nFlag operations on files the analysis never mentioned, claims without evidence, ")
	sb.WriteString("and fixes that contradict the classified category.\n")
	sb.WriteString("Answer with a JSON object shaped exactly as:\n")
	sb.WriteString(criticShape)
	return sb.String()
}
