package sandbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/artifact"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/config"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/redact"
)

const (
	workDir          = "/work"
	patchPath        = "/tmp/fix.patch"
	defaultStepLimit = 10 * time.Minute
	maxLogBytes      = 64 * 1024
)

// Validator runs validation requests against a Runtime.
type Validator struct {
	runtime Runtime
	sboms   *artifact.SBOMStore
	red     *redact.Redactor
	cfg     config.SandboxConfig
	log     *zap.Logger
}

func New(rt Runtime, sboms *artifact.SBOMStore, red *redact.Redactor, cfg config.SandboxConfig, log *zap.Logger) *Validator {
	if red == nil {
		red = redact.NewDefault()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{runtime: rt, sboms: sboms, red: red, cfg: cfg, log: log}
}

// Validate executes one request end to end. The Result always describes
// what happened; a non-nil error additionally signals an engine failure
// the caller may retry.
func (v *Validator) Validate(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	res := &Result{Status: StatusPending, DockerImage: v.cfg.Image, FrameworkDetected: req.AdapterName}
	finish := func() *Result {
		res.ExecutionTimeMS = time.Since(start).Milliseconds()
		res.Logs = v.red.String(clip(res.Logs, maxLogBytes))
		return res
	}

	if v.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.cfg.Timeout)
		defer cancel()
	}

	ws, err := v.runtime.Open(ctx, WorkspaceOptions{
		Image:         v.cfg.Image,
		MemoryLimitMB: v.cfg.MemoryLimitMB,
		CPULimit:      v.cfg.CPULimit,
		WorkDir:       workDir,
	})
	if err != nil {
		res.Status = statusForErr(ctx, err)
		res.ErrorMessage = v.red.String(err.Error())
		return finish(), fmt.Errorf("sandbox: open workspace: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if cerr := ws.Close(closeCtx); cerr != nil {
			v.log.Warn("workspace close failed", zap.Error(cerr))
		}
	}()

	// Clone and patch need the registry and the remote; the network goes
	// away before any project code runs.
	res.Status = StatusCloning
	clone := fmt.Sprintf(
		"git clone --depth 50 --branch %q %q %s && cd %s && git checkout %q",
		req.Branch, req.RepoURL, workDir, workDir, req.CommitSHA)
	if failed, err := v.step(ctx, ws, res, "clone", clone, 0); failed || err != nil {
		return v.finishStep(finish(), StatusError, err)
	}

	res.Status = StatusPatching
	if err := ws.WriteFile(ctx, patchPath, []byte(req.Diff)); err != nil {
		res.Status = statusForErr(ctx, err)
		res.ErrorMessage = v.red.String(err.Error())
		return finish(), fmt.Errorf("sandbox: write patch: %w", err)
	}
	apply := fmt.Sprintf("cd %s && git apply --whitespace=nowarn %s", workDir, patchPath)
	if failed, err := v.step(ctx, ws, res, "apply_patch", apply, 0); failed || err != nil {
		return v.finishStep(finish(), StatusFailed, err)
	}

	steps := req.Steps
	installed := false
	for i, s := range steps {
		if !installed && isInstallStep(s.Name) {
			res.Status = StatusInstalling
		}
		if !isInstallStep(s.Name) {
			if !installed {
				// Everything after dependency installation runs offline.
				installed = true
				if !v.cfg.NetworkEnabled {
					if err := ws.DisableNetwork(ctx); err != nil {
						res.Status = statusForErr(ctx, err)
						res.ErrorMessage = v.red.String(err.Error())
						return finish(), fmt.Errorf("sandbox: disable network: %w", err)
					}
				}
			}
			res.Status = StatusRunning
		}
		timeout := time.Duration(s.TimeoutSeconds) * time.Second
		cmd := s.Command
		if s.Workdir != "" {
			cmd = fmt.Sprintf("cd %s && %s", s.Workdir, cmd)
		} else {
			cmd = fmt.Sprintf("cd %s && %s", workDir, cmd)
		}
		failed, err := v.step(ctx, ws, res, s.Name, cmd, timeout)
		if err != nil {
			return v.finishStep(finish(), StatusError, err)
		}
		if failed {
			res.Status = StatusFailed
			v.countTests(res)
			v.log.Info("validation step failed",
				zap.String("fix_id", req.FixID), zap.String("step", s.Name), zap.Int("remaining", len(steps)-i-1))
			return finish(), nil
		}
	}
	v.countTests(res)

	if err := v.runScans(ctx, ws, req, res); err != nil {
		return v.finishStep(finish(), StatusError, err)
	}

	if res.Scans.Failed() {
		res.Status = StatusFailed
	} else {
		res.Status = StatusPassed
	}
	return finish(), nil
}

// step executes one command, records its result, and reports whether it
// failed. Engine errors come back as err; command failures as failed.
func (v *Validator) step(ctx context.Context, ws Workspace, res *Result, name, cmd string, timeout time.Duration) (failed bool, err error) {
	if timeout <= 0 {
		timeout = defaultStepLimit
	}
	sr, err := ws.Exec(ctx, name, cmd, timeout)
	if err != nil {
		return false, fmt.Errorf("sandbox: step %s: %w", name, err)
	}
	sr.Output = v.red.String(clip(sr.Output, 8*1024))
	res.TestResults = append(res.TestResults, sr)
	res.Logs += fmt.Sprintf("\n=== %s (exit %d) ===\n%s", sr.Name, sr.ExitCode, sr.Output)
	if sr.TimedOut {
		res.Status = StatusTimeout
		return true, nil
	}
	return sr.ExitCode != 0, nil
}

func (v *Validator) finishStep(res *Result, fallback string, err error) (*Result, error) {
	switch res.Status {
	case StatusTimeout, StatusCancelled:
	default:
		if err != nil {
			res.Status = fallback
			res.ErrorMessage = v.red.String(err.Error())
		} else if res.Status != StatusFailed {
			res.Status = fallback
		}
	}
	return res, err
}

func (v *Validator) runScans(ctx context.Context, ws Workspace, req *Request, res *Result) error {
	// gitleaks: any finding fails. The report lands on stdout via the
	// cat so one exec captures both exit code and content.
	gl, err := ws.Exec(ctx, "gitleaks",
		fmt.Sprintf("cd %s && gitleaks detect --source . --no-banner --report-format json --report-path /tmp/gitleaks.json; cat /tmp/gitleaks.json", workDir),
		5*time.Minute)
	if err != nil {
		return fmt.Errorf("sandbox: gitleaks: %w", err)
	}
	res.Scans.Gitleaks = parseGitleaks(tailJSON(gl.Output))
	if ver, err := ws.Exec(ctx, "gitleaks_version", "gitleaks version", time.Minute); err == nil {
		res.Scans.Gitleaks.Version = firstLine(ver.Output)
	}

	tr, err := ws.Exec(ctx, "trivy",
		fmt.Sprintf("trivy fs --quiet --format json --scanners vuln %s", workDir),
		10*time.Minute)
	if err != nil {
		return fmt.Errorf("sandbox: trivy: %w", err)
	}
	res.Scans.Trivy = parseTrivy(tailJSON(tr.Output), v.cfg.FailOnVulnSeverity)
	if ver, err := ws.Exec(ctx, "trivy_version", "trivy --version", time.Minute); err == nil {
		res.Scans.Trivy.Version = firstLine(ver.Output)
	}

	sy, err := ws.Exec(ctx, "syft", fmt.Sprintf("syft dir:%s -o json", workDir), 10*time.Minute)
	if err != nil {
		return fmt.Errorf("sandbox: syft: %w", err)
	}
	if sy.ExitCode == 0 && v.sboms != nil {
		ref, err := v.sboms.Put(req.FixID, []byte(tailJSON(sy.Output)))
		if err != nil {
			v.log.Warn("sbom store failed", zap.String("fix_id", req.FixID), zap.Error(err))
		} else {
			res.Scans.SBOM = ref
		}
	}
	return nil
}

// countTests folds every step output into the aggregate test counters.
func (v *Validator) countTests(res *Result) {
	for _, sr := range res.TestResults {
		p, f, s := parseTestCounts(sr.Output)
		res.TestsPassed += p
		res.TestsFailed += f
		res.TestsSkipped += s
	}
	res.TestsTotal = res.TestsPassed + res.TestsFailed + res.TestsSkipped
}

var (
	// pytest: "= 12 passed, 2 failed, 1 skipped in 3.21s ="
	pytestCountRe = regexp.MustCompile(`(\d+) (passed|failed|skipped|error(?:s)?)`)
	// jest: "Tests:       1 failed, 2 passed, 3 total"
	jestLineRe = regexp.MustCompile(`^Tests:\s+(.+)$`)
	goPassRe   = regexp.MustCompile(`(?m)^\s*--- PASS:`)
	goFailRe   = regexp.MustCompile(`(?m)^\s*--- FAIL:`)
	goSkipRe   = regexp.MustCompile(`(?m)^\s*--- SKIP:`)
)

// parseTestCounts recognizes pytest, jest, and go test -v summaries.
func parseTestCounts(output string) (passed, failed, skipped int) {
	if p := len(goPassRe.FindAllString(output, -1)); p > 0 || goFailRe.MatchString(output) {
		return p, len(goFailRe.FindAllString(output, -1)), len(goSkipRe.FindAllString(output, -1))
	}
	for _, line := range strings.Split(output, "\n") {
		scope := line
		if m := jestLineRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			scope = m[1]
		} else if !strings.Contains(line, "passed") && !strings.Contains(line, "failed") {
			continue
		}
		for _, m := range pytestCountRe.FindAllStringSubmatch(scope, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			switch {
			case m[2] == "passed":
				passed += n
			case m[2] == "skipped":
				skipped += n
			default:
				failed += n
			}
		}
		if passed+failed+skipped > 0 {
			return passed, failed, skipped
		}
	}
	return passed, failed, skipped
}

func isInstallStep(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "install") || strings.Contains(n, "deps") || strings.Contains(n, "restore")
}

// tailJSON returns the trailing JSON document in mixed command output:
// the last line that starts a document at column zero. Tool banners and
// progress noise precede the report; nothing follows it.
func tailJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		if strings.LastIndex(s, "\n{") < 0 && strings.LastIndex(s, "\n[") < 0 {
			return s
		}
	}
	idx := strings.LastIndex(s, "\n{")
	if i := strings.LastIndex(s, "\n["); i > idx {
		idx = i
	}
	if idx < 0 {
		return s
	}
	return strings.TrimSpace(s[idx+1:])
}

func statusForErr(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return StatusTimeout
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return StatusCancelled
	default:
		return StatusError
	}
}
