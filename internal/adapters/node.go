package adapters

import (
	"regexp"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

func init() { Register(&nodeAdapter{}) }

type nodeAdapter struct{}

var nodeRules = []categoryRule{
	{regexp.MustCompile(`Error: Cannot find module '`), model.CategoryDependency, 0.9},
	{regexp.MustCompile(`npm ERR! (?:code )?E(?:RESOLVE|NOENT|404)`), model.CategoryDependency, 0.85},
	{regexp.MustCompile(`npm ERR! peer dep missing`), model.CategoryDependency, 0.85},
	{regexp.MustCompile(`(?m)^\s*(?:SyntaxError|TypeError|ReferenceError):`), model.CategoryCode, 0.8},
	{regexp.MustCompile(`(?m)^\s*(?:✕|✗|FAIL) `), model.CategoryTest, 0.8},
	{regexp.MustCompile(`Tests:\s+\d+ failed`), model.CategoryTest, 0.8},
	{regexp.MustCompile(`npm ERR!`), model.CategoryDependency, 0.6},
}

var nodeFiles = []string{"package.json", "package-lock.json", "yarn.lock", "pnpm-lock.yaml"}

func (a *nodeAdapter) Name() string { return "node" }

func (a *nodeAdapter) Detect(logText string, repoFiles []string) *DetectionResult {
	return detectWithRules("javascript", logText, nodeRules, 0.3, hasAnyFile(repoFiles, nodeFiles...))
}

func (a *nodeAdapter) BuildValidationSteps(repoRoot string) []ValidationStep {
	return []ValidationStep{
		{Name: "install", Command: "npm ci --no-audit --no-fund 2>/dev/null || npm install --no-audit --no-fund", TimeoutSeconds: 300, Workdir: repoRoot},
		{Name: "test", Command: "npm test --silent", TimeoutSeconds: 600, Workdir: repoRoot},
	}
}

func (a *nodeAdapter) AllowedFixTypes() []string {
	return []string{model.OpAddDependency, model.OpPinDependency, model.OpUpdateConfig, model.OpModifyCode, model.OpRemoveUnused}
}

func (a *nodeAdapter) AllowedCategories() []string {
	return []string{model.CategoryDependency, model.CategoryCode, model.CategoryTest, model.CategoryConfiguration}
}
