package adapters

import (
	"regexp"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

func init() { Register(&dockerAdapter{}) }

type dockerAdapter struct{}

var dockerRules = []categoryRule{
	{regexp.MustCompile(`dockerfile parse error|Dockerfile parse error`), model.CategoryConfiguration, 0.9},
	{regexp.MustCompile(`failed to solve: `), model.CategoryConfiguration, 0.8},
	{regexp.MustCompile(`(?:COPY|ADD) failed: `), model.CategoryConfiguration, 0.85},
	{regexp.MustCompile(`pull access denied|manifest for \S+ not found`), model.CategoryInfrastructure, 0.85},
	{regexp.MustCompile(`(?m)^The command '.*' returned a non-zero code: \d+`), model.CategoryCode, 0.7},
	{regexp.MustCompile(`docker: Error response from daemon`), model.CategoryInfrastructure, 0.7},
}

var dockerFilesList = []string{"Dockerfile", "docker-compose.yml", "docker-compose.yaml", "Containerfile"}

func (a *dockerAdapter) Name() string { return "docker" }

func (a *dockerAdapter) Detect(logText string, repoFiles []string) *DetectionResult {
	return detectWithRules("docker", logText, dockerRules, 0.2, hasAnyFile(repoFiles, dockerFilesList...))
}

func (a *dockerAdapter) BuildValidationSteps(repoRoot string) []ValidationStep {
	return []ValidationStep{
		{Name: "lint", Command: "docker build --check . 2>/dev/null || true", TimeoutSeconds: 120, Workdir: repoRoot},
		{Name: "build", Command: "docker build -t sandbox-validate .", TimeoutSeconds: 900, Workdir: repoRoot},
	}
}

func (a *dockerAdapter) AllowedFixTypes() []string {
	return []string{model.OpUpdateConfig, model.OpPinDependency, model.OpModifyCode}
}

func (a *dockerAdapter) AllowedCategories() []string {
	return []string{model.CategoryConfiguration, model.CategoryInfrastructure, model.CategoryCode}
}
