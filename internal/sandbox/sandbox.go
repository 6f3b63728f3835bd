// Package sandbox validates candidate fixes in isolated containers.
//
// The Validator clones the repository at the failing commit, applies the
// generated diff, runs the adapter-chosen validation steps, and finishes
// with secret, vulnerability, and SBOM scans. Runtime abstracts the
// container engine; the Docker implementation lives in docker.go and the
// scripted fake in fake.go backs tests.
package sandbox

import (
	"context"
	"time"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/adapters"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/artifact"
)

// Validation statuses.
const (
	StatusPending    = "pending"
	StatusCloning    = "cloning"
	StatusPatching   = "patching"
	StatusInstalling = "installing"
	StatusRunning    = "running"
	StatusPassed     = "passed"
	StatusFailed     = "failed"
	StatusError      = "error"
	StatusTimeout    = "timeout"
	StatusCancelled  = "cancelled"
)

// Scan outcomes.
const (
	ScanPass = "pass"
	ScanFail = "fail"
	ScanSkip = "skipped"
)

// Request describes one validation job.
type Request struct {
	FixID       string                    `json:"fix_id"`
	EventID     string                    `json:"event_id"`
	RepoURL     string                    `json:"repo_url"`
	Branch      string                    `json:"branch"`
	CommitSHA   string                    `json:"commit_sha"`
	Diff        string                    `json:"diff"`
	AdapterName string                    `json:"adapter_name,omitempty"`
	Steps       []adapters.ValidationStep `json:"validation_steps,omitempty"`
}

// StepResult records one executed command.
type StepResult struct {
	Name       string `json:"name"`
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Output     string `json:"output"`
	TimedOut   bool   `json:"timed_out,omitempty"`
}

// ScanResult is one scanner's verdict.
type ScanResult struct {
	Tool     string `json:"tool"`
	Version  string `json:"version,omitempty"`
	Status   string `json:"status"`
	Findings int    `json:"findings"`
	Details  string `json:"details,omitempty"`
}

// ScanSummary aggregates the three scanners.
type ScanSummary struct {
	Gitleaks ScanResult        `json:"gitleaks"`
	Trivy    ScanResult        `json:"trivy"`
	SBOM     *artifact.SBOMRef `json:"sbom,omitempty"`
}

// Failed reports whether any scanner vetoed the change.
func (s ScanSummary) Failed() bool {
	return s.Gitleaks.Status == ScanFail || s.Trivy.Status == ScanFail
}

// Result is the persisted validation stage output.
type Result struct {
	Status            string       `json:"status"`
	TestsPassed       int          `json:"tests_passed"`
	TestsFailed       int          `json:"tests_failed"`
	TestsSkipped      int          `json:"tests_skipped"`
	TestsTotal        int          `json:"tests_total"`
	TestResults       []StepResult `json:"test_results"`
	ExecutionTimeMS   int64        `json:"execution_time_ms"`
	Logs              string       `json:"logs"`
	FrameworkDetected string       `json:"framework_detected,omitempty"`
	DockerImage       string       `json:"docker_image"`
	Scans             ScanSummary  `json:"scans"`
	ErrorMessage      string       `json:"error_message,omitempty"`
}

// WorkspaceOptions size and shape the container a workspace runs in.
type WorkspaceOptions struct {
	Image         string
	MemoryLimitMB int64
	CPULimit      float64
	WorkDir       string
}

// Workspace is one live isolated environment. Exec runs a shell command
// and always returns the step result when the command itself ran,
// including non-zero exits; the error return is for engine failures.
type Workspace interface {
	Exec(ctx context.Context, name, command string, timeout time.Duration) (StepResult, error)
	WriteFile(ctx context.Context, path string, content []byte) error
	DisableNetwork(ctx context.Context) error
	Close(ctx context.Context) error
}

// Runtime creates workspaces.
type Runtime interface {
	Open(ctx context.Context, opts WorkspaceOptions) (Workspace, error)
}
