package adapters

import (
	"fmt"
	"strings"
	"testing"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

func TestDefaultRegistry_HasAllAdapters(t *testing.T) {
	want := []string{"python", "node", "java", "golang", "docker"}
	names := Default().Names()
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	for _, w := range want {
		if !set[w] {
			t.Fatalf("adapter %q not registered (have %v)", w, names)
		}
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	if _, err := Default().Get("cobol"); err == nil {
		t.Fatalf("expected error for unknown adapter")
	}
}

func TestPythonDetect_MissingModule(t *testing.T) {
	log := `Traceback (most recent call last):
  File "/app/main.py", line 1, in <module>
ModuleNotFoundError: No module named 'requests'
`
	a, _ := Default().Get("python")
	res := a.Detect(log, []string{"requirements.txt", "src/main.py"})
	if res == nil {
		t.Fatalf("python adapter did not detect")
	}
	if res.Category != model.CategoryDependency {
		t.Fatalf("category = %q, want dependency", res.Category)
	}
	if res.Confidence <= 0.9 {
		t.Fatalf("file heuristic should lift confidence above the rule floor: %v", res.Confidence)
	}
	if len(res.EvidenceLines) == 0 || len(res.EvidenceLines) > MaxEvidenceLines {
		t.Fatalf("evidence lines = %d", len(res.EvidenceLines))
	}
}

func TestPythonDetect_FirstRuleWins(t *testing.T) {
	// Both a dependency and a test pattern appear; the table orders
	// dependency first, so category must be dependency.
	log := `ModuleNotFoundError: No module named 'x'
FAILED tests/test_a.py::test_x - ImportError
`
	a, _ := Default().Get("python")
	res := a.Detect(log, nil)
	if res == nil || res.Category != model.CategoryDependency {
		t.Fatalf("first matching rule must decide: %+v", res)
	}
}

func TestDetect_NoSignalNoFiles(t *testing.T) {
	for _, name := range []string{"python", "node", "java", "golang", "docker"} {
		a, err := Default().Get(name)
		if err != nil {
			t.Fatalf("Get(%s): %v", name, err)
		}
		if res := a.Detect("everything is fine\n", nil); res != nil {
			t.Fatalf("%s detected a clean log: %+v", name, res)
		}
	}
}

func TestSelect_HighestConfidenceWins(t *testing.T) {
	log := `npm ERR! code ERESOLVE
npm ERR! Could not resolve dependency
Error: Cannot find module 'left-pad'
`
	a, res := Default().Select(log, []string{"package.json"})
	if a == nil {
		t.Fatalf("no adapter selected")
	}
	if a.Name() != "node" {
		t.Fatalf("selected %q, want node (res %+v)", a.Name(), res)
	}
}

func TestSelect_TieKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	a1 := &fakeAdapter{name: "first", conf: 0.5}
	a2 := &fakeAdapter{name: "second", conf: 0.5}
	r.Register(a1)
	r.Register(a2)
	winner, _ := r.Select("anything", nil)
	if winner.Name() != "first" {
		t.Fatalf("tie should keep earlier registration, got %q", winner.Name())
	}
}

func TestRegister_DuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeAdapter{name: "dup"})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	r.Register(&fakeAdapter{name: "dup"})
}

func TestGolangDeterministicPatch_PinExisting(t *testing.T) {
	gomod := `module example.com/app

go 1.22

require (
	github.com/pkg/a v1.0.0
	github.com/pkg/b v2.0.0
)
`
	plan := &model.FixPlan{
		Category:   model.CategoryDependency,
		Confidence: 0.9,
		Files:      []string{"go.mod"},
		Operations: []model.FixOperation{{
			Type:    model.OpPinDependency,
			File:    "go.mod",
			Details: map[string]any{"package": "github.com/pkg/a", "version": "v1.2.0"},
		}},
	}
	a, _ := Default().Get("golang")
	dp, ok := a.(DeterministicPatcher)
	if !ok {
		t.Fatalf("golang adapter must implement DeterministicPatcher")
	}
	diff, err := dp.DeterministicPatch(plan, func(string) (string, error) { return gomod, nil })
	if err != nil {
		t.Fatalf("DeterministicPatch: %v", err)
	}
	if !strings.Contains(diff, "-\tgithub.com/pkg/a v1.0.0") || !strings.Contains(diff, "+\tgithub.com/pkg/a v1.2.0") {
		t.Fatalf("pin edit missing from diff:\n%s", diff)
	}
}

func TestGolangDeterministicPatch_AddSorted(t *testing.T) {
	gomod := "module example.com/app\n\ngo 1.22\n\nrequire (\n\tgithub.com/pkg/a v1.0.0\n\tgithub.com/pkg/c v1.0.0\n)\n"
	plan := &model.FixPlan{
		Files: []string{"go.mod"},
		Operations: []model.FixOperation{{
			Type:    model.OpAddDependency,
			File:    "go.mod",
			Details: map[string]any{"package": "github.com/pkg/b", "version": "1.5.0"},
		}},
	}
	a, _ := Default().Get("golang")
	diff, err := a.(DeterministicPatcher).DeterministicPatch(plan, func(string) (string, error) { return gomod, nil })
	if err != nil {
		t.Fatalf("DeterministicPatch: %v", err)
	}
	// Version gains the v prefix and lands between a and c.
	if !strings.Contains(diff, "+\tgithub.com/pkg/b v1.5.0") {
		t.Fatalf("add edit missing:\n%s", diff)
	}
}

func TestGolangDeterministicPatch_DeclinesOtherFiles(t *testing.T) {
	plan := &model.FixPlan{
		Files:      []string{"main.go"},
		Operations: []model.FixOperation{{Type: model.OpModifyCode, File: "main.go"}},
	}
	a, _ := Default().Get("golang")
	diff, err := a.(DeterministicPatcher).DeterministicPatch(plan, func(string) (string, error) { return "", nil })
	if err != nil || diff != "" {
		t.Fatalf("expected decline, got diff=%q err=%v", diff, err)
	}
}

func TestGolangDeterministicPatch_Deterministic(t *testing.T) {
	gomod := "module example.com/app\n\nrequire (\n\tgithub.com/pkg/z v1.0.0\n)\n"
	plan := &model.FixPlan{
		Files: []string{"go.mod"},
		Operations: []model.FixOperation{{
			Type:    model.OpAddDependency,
			File:    "go.mod",
			Details: map[string]any{"package": "github.com/pkg/a", "version": "v0.3.0"},
		}},
	}
	a, _ := Default().Get("golang")
	dp := a.(DeterministicPatcher)
	read := func(string) (string, error) { return gomod, nil }
	d1, err1 := dp.DeterministicPatch(plan, read)
	d2, err2 := dp.DeterministicPatch(plan, read)
	if err1 != nil || err2 != nil {
		t.Fatalf("errors: %v %v", err1, err2)
	}
	if d1 != d2 {
		t.Fatalf("patch not byte-stable:\n%s\n---\n%s", d1, d2)
	}
}

func TestValidationSteps_NonEmptyOrdered(t *testing.T) {
	for _, name := range []string{"python", "node", "java", "golang", "docker"} {
		a, _ := Default().Get(name)
		steps := a.BuildValidationSteps("/work/repo")
		if len(steps) == 0 {
			t.Fatalf("%s has no validation steps", name)
		}
		for i, s := range steps {
			if s.Name == "" || s.Command == "" {
				t.Fatalf("%s step %d incomplete: %+v", name, i, s)
			}
		}
	}
}

type fakeAdapter struct {
	name string
	conf float64
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Detect(string, []string) *DetectionResult {
	return &DetectionResult{RepoLanguage: f.name, Category: model.CategoryUnknown, Confidence: f.conf}
}

func (f *fakeAdapter) BuildValidationSteps(root string) []ValidationStep {
	return []ValidationStep{{Name: "noop", Command: fmt.Sprintf("true # %s", root)}}
}

func (f *fakeAdapter) AllowedFixTypes() []string   { return []string{model.OpModifyCode} }
func (f *fakeAdapter) AllowedCategories() []string { return []string{model.CategoryUnknown} }
