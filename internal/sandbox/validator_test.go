package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/adapters"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/config"
)

func testConfig() config.SandboxConfig {
	return config.SandboxConfig{
		Image:              "sre-agent/sandbox:latest",
		MemoryLimitMB:      2048,
		CPULimit:           2,
		FailOnVulnSeverity: "HIGH",
	}
}

func testRequest() *Request {
	return &Request{
		FixID:     "fix-1",
		EventID:   "evt-1",
		RepoURL:   "https://github.com/acme/api.git",
		Branch:    "main",
		CommitSHA: "abc123",
		Diff:      "--- a/app.py\n+++ b/app.py\n@@ -1 +1 @@\n-x\n+y\n",
		Steps: []adapters.ValidationStep{
			{Name: "install_deps", Command: "pip install -r requirements.txt", TimeoutSeconds: 300},
			{Name: "run_tests", Command: "pytest -x", TimeoutSeconds: 600},
		},
	}
}

func cleanScans(rt *FakeRuntime) *FakeRuntime {
	rt.On("gitleaks detect", 0, "[]")
	rt.On("trivy fs", 0, `{"Results":[]}`)
	rt.On("syft dir:", 0, `{"artifacts":[]}`)
	return rt
}

func TestValidatePassed(t *testing.T) {
	rt := cleanScans(NewFakeRuntime())
	rt.On("pytest", 0, "========= 7 passed, 1 skipped in 2.10s =========")

	v := New(rt, nil, nil, testConfig(), nil)
	res, err := v.Validate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Status != StatusPassed {
		t.Fatalf("status = %s, logs:\n%s", res.Status, res.Logs)
	}
	if res.TestsPassed != 7 || res.TestsSkipped != 1 || res.TestsTotal != 8 {
		t.Fatalf("test counts = %d/%d/%d", res.TestsPassed, res.TestsFailed, res.TestsSkipped)
	}

	ws := rt.Workspaces[0]
	if !ws.Ran("git clone") || !ws.Ran("git apply") {
		t.Fatalf("commands = %v", ws.Commands)
	}
	if _, ok := ws.Files[patchPath]; !ok {
		t.Fatal("patch never written")
	}
	if !ws.NetworkDisabled {
		t.Fatal("network stayed up for validation steps")
	}
	if !ws.Closed {
		t.Fatal("workspace leaked")
	}
}

func TestValidateNetworkStaysUpWhenEnabled(t *testing.T) {
	rt := cleanScans(NewFakeRuntime())
	cfg := testConfig()
	cfg.NetworkEnabled = true

	v := New(rt, nil, nil, cfg, nil)
	if _, err := v.Validate(context.Background(), testRequest()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rt.Workspaces[0].NetworkDisabled {
		t.Fatal("network disabled despite NetworkEnabled")
	}
}

func TestValidateStepFailure(t *testing.T) {
	rt := cleanScans(NewFakeRuntime())
	rt.On("pytest", 1, "========= 3 passed, 2 failed in 1.02s =========")

	v := New(rt, nil, nil, testConfig(), nil)
	res, err := v.Validate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("step failure is not an engine error: %v", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if res.TestsFailed != 2 {
		t.Fatalf("tests failed = %d", res.TestsFailed)
	}
	// Scans run only on a green build.
	if rt.Workspaces[0].Ran("trivy") {
		t.Fatal("scans ran after a failed step")
	}
}

func TestValidatePatchRejected(t *testing.T) {
	rt := cleanScans(NewFakeRuntime())
	rt.On("git apply", 1, "error: patch failed: app.py:1")

	v := New(rt, nil, nil, testConfig(), nil)
	res, err := v.Validate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if rt.Workspaces[0].Ran("pytest") {
		t.Fatal("validation steps ran after a rejected patch")
	}
}

func TestValidateGitleaksFindingFailsScan(t *testing.T) {
	rt := cleanScans(NewFakeRuntime())
	rt.On("gitleaks detect", 1, `[{"RuleID":"aws-access-key","File":"app.py"}]`)

	v := New(rt, nil, nil, testConfig(), nil)
	res, err := v.Validate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Scans.Gitleaks.Status != ScanFail {
		t.Fatalf("gitleaks = %+v", res.Scans.Gitleaks)
	}
	if !strings.Contains(res.Scans.Gitleaks.Details, "aws-access-key") {
		t.Fatalf("details = %q", res.Scans.Gitleaks.Details)
	}
}

func TestValidateOpenFailure(t *testing.T) {
	rt := NewFakeRuntime()
	rt.OpenErr = errors.New("no docker daemon")

	v := New(rt, nil, nil, testConfig(), nil)
	res, err := v.Validate(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected engine error")
	}
	if res.Status != StatusError {
		t.Fatalf("status = %s", res.Status)
	}
}

func TestValidateCloneFailureIsError(t *testing.T) {
	rt := cleanScans(NewFakeRuntime())
	rt.On("git clone", 128, "fatal: could not read from remote repository")

	v := New(rt, nil, nil, testConfig(), nil)
	res, err := v.Validate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.Status != StatusError {
		t.Fatalf("status = %s", res.Status)
	}
}
