package intel

import (
	"context"
	"fmt"
	"strings"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/logparse"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

const rcaSystem = "You are the root cause analyst inside an automated CI repair service. " +
	"You receive a structured failure context and answer with exactly one JSON object. " +
	"No prose, no markdown fences."

const rcaShape = `{"classification":{"category":"infrastructure|dependency|code|configuration|test|flaky|security|unknown","confidence":0.0,"reasoning":"...","indicators":["..."],"secondary":""},"primary_hypothesis":{"description":"...","confidence":0.0,"evidence":["..."],"suggested_fix":""},"alternative_hypotheses":[],"affected_files":["..."],"similar_incidents":[]}`

// RootCause classifies the failure and proposes hypotheses from the
// parsed log context.
func (e *Engine) RootCause(ctx context.Context, bundle *logparse.Bundle) (*model.RCAResult, error) {
	var out model.RCAResult
	err := e.complete(ctx, model.BlobRCA, rcaSystem, rcaPrompt(bundle), func(obj []byte) error {
		var v model.RCAResult
		if err := validateAgainst(rcaSchema, obj, &v); err != nil {
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

func rcaPrompt(b *logparse.Bundle) string {
	var sb strings.Builder
	sb.WriteString("A CI pipeline failed. Determine the root cause.\n")
	fmt.Fprintf(&sb, "Repository: %s\nBranch: %s\nCommit: %s\n", b.Repo, b.Branch, b.CommitSHA)
	if b.JobName != "" {
		fmt.Fprintf(&sb, "Job: %s\n", b.JobName)
	}
	writeList(&sb, "Errors", b.Errors, 20)
	writeList(&sb, "Build errors", b.BuildErrors, 20)
	writeList(&sb, "Test failures", b.TestFailures, 20)
	writeList(&sb, "Stack traces", b.StackTraces, 5)
	if b.LogSummary != "" {
		sb.WriteString("\nLog summary:\n")
		sb.WriteString(b.LogSummary)
		sb.WriteString("\n")
	}
	sb.WriteString("\nAnswer with a JSON object shaped exactly as:\n")
	sb.WriteString(rcaShape)
	return sb.String()
}
