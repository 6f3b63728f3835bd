package adapters

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/diffparse"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

func init() { Register(&golangAdapter{}) }

type golangAdapter struct{}

var golangRules = []categoryRule{
	{regexp.MustCompile(`(?m)^go: .*(?:no required module provides|cannot find module|missing go\.sum entry)`), model.CategoryDependency, 0.9},
	{regexp.MustCompile(`(?m)^go: module .* found .*, but does not contain package`), model.CategoryDependency, 0.85},
	{regexp.MustCompile(`(?m)^\S+\.go:\d+:\d+: undefined:`), model.CategoryCode, 0.85},
	{regexp.MustCompile(`(?m)^\S+\.go:\d+:\d+: .*(?:declared and not used|imported and not used)`), model.CategoryCode, 0.85},
	{regexp.MustCompile(`(?m)^\s*--- FAIL: Test`), model.CategoryTest, 0.8},
	{regexp.MustCompile(`(?m)^panic: `), model.CategoryCode, 0.75},
	{regexp.MustCompile(`(?m)^\S+\.go:\d+:(?:\d+:)? `), model.CategoryCode, 0.6},
}

var goFiles = []string{"go.mod", "go.sum"}

func (a *golangAdapter) Name() string { return "golang" }

func (a *golangAdapter) Detect(logText string, repoFiles []string) *DetectionResult {
	return detectWithRules("go", logText, golangRules, 0.3, hasAnyFile(repoFiles, goFiles...))
}

func (a *golangAdapter) BuildValidationSteps(repoRoot string) []ValidationStep {
	return []ValidationStep{
		{Name: "download", Command: "go mod download", TimeoutSeconds: 300, Workdir: repoRoot},
		{Name: "build", Command: "go build ./...", TimeoutSeconds: 600, Workdir: repoRoot},
		{Name: "test", Command: "go test ./...", TimeoutSeconds: 900, Workdir: repoRoot},
	}
}

func (a *golangAdapter) AllowedFixTypes() []string {
	return []string{model.OpAddDependency, model.OpPinDependency, model.OpUpdateConfig, model.OpModifyCode, model.OpRemoveUnused}
}

func (a *golangAdapter) AllowedCategories() []string {
	return []string{model.CategoryDependency, model.CategoryCode, model.CategoryTest, model.CategoryConfiguration}
}

// DeterministicPatch synthesizes go.mod dependency edits without an LLM.
// Plans whose operations are all add_dependency/pin_dependency on go.mod
// are handled; anything else declines.
func (a *golangAdapter) DeterministicPatch(plan *model.FixPlan, readFile func(string) (string, error)) (string, error) {
	for _, op := range plan.Operations {
		if op.File != "go.mod" {
			return "", nil
		}
		if op.Type != model.OpAddDependency && op.Type != model.OpPinDependency {
			return "", nil
		}
	}

	orig, err := readFile("go.mod")
	if err != nil {
		return "", fmt.Errorf("golang adapter: read go.mod: %w", err)
	}
	updated := orig
	for _, op := range plan.Operations {
		module := op.DetailString("package")
		if module == "" {
			module = op.DetailString("module")
		}
		version := op.DetailString("version")
		if module == "" || version == "" {
			return "", fmt.Errorf("golang adapter: operation %s needs package and version details", op.Type)
		}
		if !strings.HasPrefix(version, "v") {
			version = "v" + version
		}
		updated = UpsertGoModRequire(updated, module, version)
	}
	return diffparse.Render("go.mod", orig, updated)
}

var goRequireLineRe = regexp.MustCompile(`(?m)^(require\s+)?(\t)?(\S+)\s+(v\S+)(\s*//.*)?$`)

// UpsertGoModRequire updates the version of module if it is already
// required, otherwise inserts it into the first require block in sorted
// position (or appends a new require line when no block exists).
func UpsertGoModRequire(content, module, version string) string {
	lines := strings.Split(content, "\n")

	// Update in place when the module is already present.
	for i, line := range lines {
		m := goRequireLineRe.FindStringSubmatch(line)
		if m != nil && m[3] == module {
			lines[i] = strings.Replace(line, m[4], version, 1)
			return strings.Join(lines, "\n")
		}
	}

	// Insert into the first require ( ... ) block, keeping it sorted.
	for i, line := range lines {
		if strings.TrimSpace(line) != "require (" {
			continue
		}
		end := i + 1
		for end < len(lines) && strings.TrimSpace(lines[end]) != ")" {
			end++
		}
		block := append([]string{}, lines[i+1:end]...)
		block = append(block, "\t"+module+" "+version)
		sort.Strings(block)
		out := append([]string{}, lines[:i+1]...)
		out = append(out, block...)
		out = append(out, lines[end:]...)
		return strings.Join(out, "\n")
	}

	// No block: append a standalone require directive.
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + "\nrequire " + module + " " + version + "\n"
}
