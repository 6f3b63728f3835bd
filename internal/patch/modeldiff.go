package patch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/diffparse"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/llm"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

const patchSystem = "You are the patch generator inside an automated CI repair service. " +
	"You answer with exactly one unified diff in git format. No prose, no markdown fences."

// Cap on how much of each file the prompt embeds. Larger files still
// get their head; the diff must then carry enough context to apply.
const promptContentLimit = 16 * 1024

// modelEdit asks the provider for a unified diff covering the files the
// editors declined, verifies it stays inside those files, and applies
// it locally. Invalid diffs are retried with the rejection appended.
func (g *Generator) modelEdit(ctx context.Context, plan *model.FixPlan, files []string, ops map[string][]model.FixOperation, contents map[string]string) (map[string]string, error) {
	allowed := make(map[string]bool, len(files))
	for _, f := range files {
		allowed[f] = true
	}
	prompt := diffPrompt(plan, files, ops, contents)

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		p := prompt
		if attempt > 0 {
			p = prompt + "\n\nYour previous diff was rejected: " + lastErr.Error() +
				"\nAnswer again with one corrected unified diff."
		}
		raw, err := g.provider.Generate(ctx, llm.Request{System: patchSystem, Prompt: p, MaxTokens: g.maxTokens})
		if err != nil {
			return nil, err
		}
		updated, err := applyModelDiff(raw, allowed, contents)
		if err == nil {
			return updated, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("patch: model diff rejected after %d attempts: %w", g.maxRetries+1, lastErr)
}

func diffPrompt(plan *model.FixPlan, files []string, ops map[string][]model.FixOperation, contents map[string]string) string {
	var sb strings.Builder
	sb.WriteString("Produce a unified diff in git format implementing these operations.\n")
	fmt.Fprintf(&sb, "Root cause: %s\n", plan.RootCause)
	sb.WriteString("Only the files listed below may appear in the diff. Keep the change minimal.\n")

	for _, f := range files {
		fmt.Fprintf(&sb, "\nFile: %s\n", f)
		for _, op := range ops[f] {
			detail := ""
			if len(op.Details) > 0 {
				if enc, err := json.Marshal(op.Details); err == nil {
					detail = " " + string(enc)
				}
			}
			fmt.Fprintf(&sb, "- %s%s: %s\n", op.Type, detail, op.Rationale)
		}
		content := contents[f]
		if content == "" {
			sb.WriteString("The file does not exist yet; the diff must create it.\n")
			continue
		}
		sb.WriteString("Current content:\n")
		sb.WriteString(clipContent(content, promptContentLimit))
		if !strings.HasSuffix(content, "\n") {
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\nAnswer with only the diff, starting at the first \"diff --git\" line.")
	return sb.String()
}

func clipContent(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[file truncated]\n"
}

// applyModelDiff parses one diff out of the response, enforces the file
// allowlist, and applies every hunk. Application failures (stale
// context, bad counts) reject the diff the same way a policy check
// would.
func applyModelDiff(raw string, allowed map[string]bool, contents map[string]string) (map[string]string, error) {
	text, err := extractDiff(raw)
	if err != nil {
		return nil, err
	}
	d, err := diffparse.Parse(text)
	if err != nil {
		return nil, err
	}
	if len(d.Files) == 0 {
		return nil, fmt.Errorf("diff contains no file changes")
	}

	out := map[string]string{}
	for _, fp := range d.Files {
		p := fp.Path()
		if !allowed[p] {
			return nil, fmt.Errorf("diff touches %s outside the requested files", p)
		}
		if fp.Binary {
			return nil, fmt.Errorf("binary patch for %s is not allowed", p)
		}
		applied, err := fp.Apply(contents[p])
		if err != nil {
			return nil, err
		}
		out[p] = applied
	}

	missing := make([]string, 0)
	for f := range allowed {
		if _, ok := out[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("diff leaves %s unchanged", strings.Join(missing, ", "))
	}
	return out, nil
}

// extractDiff cuts the unified diff out of a response that may carry
// fences or prose around it.
func extractDiff(raw string) (string, error) {
	start := strings.Index(raw, "diff --git ")
	if start < 0 {
		start = strings.Index(raw, "--- ")
	}
	if start < 0 {
		return "", fmt.Errorf("no unified diff in output")
	}
	text := raw[start:]
	if end := strings.Index(text, "\n```"); end >= 0 {
		text = text[:end]
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text, nil
}
