package adapters

import (
	"regexp"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

func init() { Register(&pythonAdapter{}) }

type pythonAdapter struct{}

var pythonRules = []categoryRule{
	{regexp.MustCompile(`(?m)^(?:ModuleNotFoundError|ImportError): No module named`), model.CategoryDependency, 0.9},
	{regexp.MustCompile(`ERROR: Could not find a version that satisfies the requirement`), model.CategoryDependency, 0.9},
	{regexp.MustCompile(`pip(?:3)? install .* failed|error: subprocess-exited-with-error`), model.CategoryDependency, 0.8},
	{regexp.MustCompile(`(?m)^(?:SyntaxError|IndentationError|TabError):`), model.CategoryCode, 0.85},
	{regexp.MustCompile(`(?m)^FAILED \S+::\S+`), model.CategoryTest, 0.8},
	{regexp.MustCompile(`(?m)^E\s+assert `), model.CategoryTest, 0.75},
	{regexp.MustCompile(`Traceback \(most recent call last\):`), model.CategoryCode, 0.7},
	{regexp.MustCompile(`(?m)^(?:[A-Za-z_][\w.]*Error|[A-Za-z_][\w.]*Exception):`), model.CategoryCode, 0.6},
}

var pythonFiles = []string{"pyproject.toml", "requirements.txt", "setup.py", "Pipfile", "setup.cfg"}

func (a *pythonAdapter) Name() string { return "python" }

func (a *pythonAdapter) Detect(logText string, repoFiles []string) *DetectionResult {
	return detectWithRules("python", logText, pythonRules, 0.3, hasAnyFile(repoFiles, pythonFiles...))
}

func (a *pythonAdapter) BuildValidationSteps(repoRoot string) []ValidationStep {
	return []ValidationStep{
		{Name: "install", Command: "pip install -r requirements.txt 2>/dev/null || pip install -e . 2>/dev/null || true", TimeoutSeconds: 300, Workdir: repoRoot},
		{Name: "compile", Command: "python -m compileall -q .", TimeoutSeconds: 120, Workdir: repoRoot},
		{Name: "test", Command: "python -m pytest -x -q --no-header", TimeoutSeconds: 600, Workdir: repoRoot},
	}
}

func (a *pythonAdapter) AllowedFixTypes() []string {
	return []string{model.OpAddDependency, model.OpPinDependency, model.OpUpdateConfig, model.OpModifyCode, model.OpRemoveUnused}
}

func (a *pythonAdapter) AllowedCategories() []string {
	return []string{model.CategoryDependency, model.CategoryCode, model.CategoryTest, model.CategoryConfiguration, model.CategoryFlaky}
}
