package adapters

import (
	"regexp"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

func init() { Register(&javaAdapter{}) }

type javaAdapter struct{}

var javaRules = []categoryRule{
	{regexp.MustCompile(`Could not resolve dependencies for project`), model.CategoryDependency, 0.9},
	{regexp.MustCompile(`\[ERROR\] .*COMPILATION ERROR`), model.CategoryCode, 0.85},
	{regexp.MustCompile(`(?m)^\[ERROR\] .*\.java:\[\d+,\d+\]`), model.CategoryCode, 0.85},
	{regexp.MustCompile(`Tests run: \d+, Failures: [1-9]`), model.CategoryTest, 0.85},
	{regexp.MustCompile(`> Task :\w*(?:test|Test)\w* FAILED`), model.CategoryTest, 0.8},
	{regexp.MustCompile(`(?m)^(?:Exception in thread|[a-z][\w.]*\.[A-Z]\w*(?:Exception|Error))`), model.CategoryCode, 0.7},
	{regexp.MustCompile(`BUILD FAILURE`), model.CategoryCode, 0.6},
}

var javaFiles = []string{"pom.xml", "build.gradle", "build.gradle.kts", "settings.gradle"}

func (a *javaAdapter) Name() string { return "java" }

func (a *javaAdapter) Detect(logText string, repoFiles []string) *DetectionResult {
	return detectWithRules("java", logText, javaRules, 0.3, hasAnyFile(repoFiles, javaFiles...))
}

func (a *javaAdapter) BuildValidationSteps(repoRoot string) []ValidationStep {
	return []ValidationStep{
		{Name: "build", Command: "mvn -B -q compile 2>/dev/null || gradle --console=plain assemble", TimeoutSeconds: 600, Workdir: repoRoot},
		{Name: "test", Command: "mvn -B -q test 2>/dev/null || gradle --console=plain test", TimeoutSeconds: 900, Workdir: repoRoot},
	}
}

func (a *javaAdapter) AllowedFixTypes() []string {
	return []string{model.OpAddDependency, model.OpPinDependency, model.OpUpdateConfig, model.OpModifyCode}
}

func (a *javaAdapter) AllowedCategories() []string {
	return []string{model.CategoryDependency, model.CategoryCode, model.CategoryTest, model.CategoryConfiguration}
}
