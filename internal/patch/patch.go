// Package patch turns an accepted fix plan into a unified diff.
// Dependency and import edits are deterministic text transforms; plans
// the editors cannot express fall back to a model-generated diff that
// is parsed, bounded to the plan's files, and applied locally before
// anything leaves this package.
package patch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/adapters"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/diffparse"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/llm"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

// Sources recorded on the patch result.
const (
	SourceDeterministic = "deterministic"
	SourceLLM           = "llm"
	SourceMixed         = "mixed"
)

// ReasonLLMUnavailable marks plans that need model-generated edits when
// no provider is configured. The run blocks instead of failing noisily.
const ReasonLLMUnavailable = "llm_patch_unavailable"

// BlockedError carries the blocked_reason the orchestrator persists.
type BlockedError struct {
	Reason string
	Err    error
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("patch blocked (%s): %v", e.Reason, e.Err)
}

func (e *BlockedError) Unwrap() error { return e.Err }

// FileReader loads one repository file. A missing file must return an
// error satisfying errors.Is(err, fs.ErrNotExist).
type FileReader func(path string) (string, error)

// Result is the generated patch plus the post-patch file contents the
// syntax gate and sandbox consume.
type Result struct {
	Diff        string            `json:"diff"`
	Stats       diffparse.Stats   `json:"stats"`
	Source      string            `json:"source"`
	NewContents map[string]string `json:"-"`
}

// Generator renders patches. patcher is the selected language adapter's
// optional deterministic capability and is tried first; provider backs
// the fallback path and may be nil.
type Generator struct {
	provider   llm.Provider
	patcher    adapters.DeterministicPatcher
	maxRetries int
	maxTokens  int
}

func NewGenerator(provider llm.Provider, patcher adapters.DeterministicPatcher) *Generator {
	return &Generator{provider: provider, patcher: patcher, maxRetries: 2, maxTokens: 8192}
}

// Generate produces the diff for plan. Identical plan and file contents
// yield byte-identical output on the deterministic path.
func (g *Generator) Generate(ctx context.Context, plan *model.FixPlan, read FileReader) (*Result, error) {
	if plan == nil || len(plan.Operations) == 0 {
		return nil, fmt.Errorf("patch: empty plan")
	}

	if g.patcher != nil {
		diff, err := g.patcher.DeterministicPatch(plan, read)
		if err != nil {
			return nil, err
		}
		if diff != "" {
			return g.fromAdapterDiff(diff, read)
		}
	}

	byFile := map[string][]model.FixOperation{}
	var files []string
	for _, op := range plan.Operations {
		if _, seen := byFile[op.File]; !seen {
			files = append(files, op.File)
		}
		byFile[op.File] = append(byFile[op.File], op)
	}
	sort.Strings(files)

	originals := map[string]string{}
	contents := map[string]string{}
	created := map[string]bool{}
	var llmFiles []string

	for _, f := range files {
		content, err := read(f)
		missing := false
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("patch: read %s: %w", f, err)
			}
			content = ""
			missing = true
			created[f] = true
		}
		originals[f] = content

		// A missing file only has a deterministic path when an editor
		// can build it from nothing.
		routeLLM := missing && !creatable(f)
		cur := content
		for _, op := range byFile[f] {
			if routeLLM {
				break
			}
			next, handled, err := applyDeterministic(f, cur, &op)
			if err != nil {
				return nil, fmt.Errorf("patch: %s: %w", f, err)
			}
			if !handled {
				routeLLM = true
				break
			}
			cur = next
		}
		if routeLLM {
			llmFiles = append(llmFiles, f)
			contents[f] = content
		} else {
			contents[f] = cur
		}
	}

	if len(llmFiles) > 0 {
		if g.provider == nil {
			return nil, &BlockedError{
				Reason: ReasonLLMUnavailable,
				Err:    fmt.Errorf("plan needs model-generated edits for %s", strings.Join(llmFiles, ", ")),
			}
		}
		updated, err := g.modelEdit(ctx, plan, llmFiles, byFile, contents)
		if err != nil {
			return nil, err
		}
		for f, c := range updated {
			contents[f] = c
		}
	}

	var parts []string
	changed := map[string]string{}
	for _, f := range files {
		if contents[f] == originals[f] {
			return nil, fmt.Errorf("patch: operations on %s produced no change", f)
		}
		var d string
		var err error
		if created[f] {
			d, err = diffparse.RenderNewFile(f, contents[f])
		} else {
			d, err = diffparse.Render(f, originals[f], contents[f])
		}
		if err != nil {
			return nil, err
		}
		parts = append(parts, d)
		changed[f] = contents[f]
	}

	diff := strings.Join(parts, "")
	parsed, err := diffparse.Parse(diff)
	if err != nil {
		return nil, fmt.Errorf("patch: rendered diff does not parse: %w", err)
	}

	source := SourceDeterministic
	switch {
	case len(llmFiles) == len(files):
		source = SourceLLM
	case len(llmFiles) > 0:
		source = SourceMixed
	}
	return &Result{Diff: diff, Stats: parsed.Stats(), Source: source, NewContents: changed}, nil
}

// fromAdapterDiff normalizes an adapter-produced diff into a Result by
// applying it to the originals.
func (g *Generator) fromAdapterDiff(diff string, read FileReader) (*Result, error) {
	parsed, err := diffparse.Parse(diff)
	if err != nil {
		return nil, fmt.Errorf("patch: adapter diff does not parse: %w", err)
	}
	changed := map[string]string{}
	for _, fp := range parsed.Files {
		p := fp.Path()
		old := ""
		if !fp.IsNew() {
			if old, err = read(p); err != nil {
				return nil, fmt.Errorf("patch: read %s: %w", p, err)
			}
		}
		applied, err := fp.Apply(old)
		if err != nil {
			return nil, fmt.Errorf("patch: adapter diff does not apply: %w", err)
		}
		changed[p] = applied
	}
	return &Result{Diff: diff, Stats: parsed.Stats(), Source: SourceDeterministic, NewContents: changed}, nil
}

// applyDeterministic routes one operation to the matching editor.
// handled=false sends the file to the model fallback.
func applyDeterministic(file, content string, op *model.FixOperation) (string, bool, error) {
	switch op.Type {
	case model.OpAddDependency, model.OpPinDependency:
		return editDependency(file, content, op)
	case model.OpRemoveUnused:
		return removeUnusedImport(file, content, op)
	default:
		return "", false, nil
	}
}

// creatable reports whether a missing file may be created from scratch
// by a deterministic edit. Only requirements.txt qualifies; the other
// manifests carry structure an insert cannot invent.
func creatable(p string) bool {
	return path.Base(p) == "requirements.txt"
}
