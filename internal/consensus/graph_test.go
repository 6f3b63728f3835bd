package consensus

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/logparse"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

func graphInputs() (*logparse.Bundle, *model.RCAResult) {
	bundle := &logparse.Bundle{
		Repo:         "acme/api",
		BuildErrors:  []string{"src/main.go:12:5: undefined: helper"},
		TestFailures: []string{"--- FAIL: TestHelper"},
		Errors:       []string{"exit status 2"},
		StackTraces:  []string{"goroutine 1 [running]:\nmain.main()"},
	}
	rca := &model.RCAResult{
		Classification:    model.RCAClassification{Category: model.CategoryCode, Confidence: 0.8, Reasoning: "r"},
		PrimaryHypothesis: model.Hypothesis{Description: "helper was removed but still referenced", Confidence: 0.8},
		AffectedFiles:     []string{"src/main.go"},
	}
	return bundle, rca
}

func TestBuildIssueGraph(t *testing.T) {
	bundle, rca := graphInputs()
	g := BuildIssueGraph(bundle, rca)

	if len(g.Issues) != 5 {
		t.Fatalf("issues: %d", len(g.Issues))
	}
	root := g.Root()
	if root == nil || root.ID != "issue-0001" || root.Severity != SeverityError {
		t.Fatalf("root: %+v", root)
	}
	if !reflect.DeepEqual(root.Files, []string{"src/main.go"}) {
		t.Fatalf("root files: %v", root.Files)
	}

	build := g.Issues[1]
	if build.Severity != SeverityError || !reflect.DeepEqual(build.Files, []string{"src/main.go"}) {
		t.Fatalf("build issue: %+v", build)
	}
	if !reflect.DeepEqual(build.DependsOn, []string{"issue-0001"}) {
		t.Fatalf("build deps: %v", build.DependsOn)
	}

	if g.Issues[3].Severity != SeverityWarning {
		t.Fatalf("generic error severity: %s", g.Issues[3].Severity)
	}
	if g.Issues[4].Severity != SeverityInfo {
		t.Fatalf("stack trace severity: %s", g.Issues[4].Severity)
	}
	if g.Issues[4].Title != "goroutine 1 [running]:" {
		t.Fatalf("multiline title not clipped: %q", g.Issues[4].Title)
	}
}

func TestBuildIssueGraph_Deterministic(t *testing.T) {
	bundle, rca := graphInputs()
	a, _ := json.Marshal(BuildIssueGraph(bundle, rca))
	b, _ := json.Marshal(BuildIssueGraph(bundle, rca))
	if string(a) != string(b) {
		t.Fatalf("graph not deterministic:\n%s\n%s", a, b)
	}
}

func TestBuildIssueGraph_NoRCA(t *testing.T) {
	bundle, _ := graphInputs()
	g := BuildIssueGraph(bundle, nil)
	if len(g.Issues) != 4 {
		t.Fatalf("issues: %d", len(g.Issues))
	}
	if len(g.Issues[0].DependsOn) != 0 {
		t.Fatalf("no root to depend on: %v", g.Issues[0].DependsOn)
	}
}

func TestBuildIssueGraph_Empty(t *testing.T) {
	g := BuildIssueGraph(nil, nil)
	if g.Root() != nil || len(g.Issues) != 0 {
		t.Fatalf("graph: %+v", g)
	}
}
