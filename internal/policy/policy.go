// Package policy implements the safety policy engine.
//
// The engine is a pure function from a policy plus a plan intent or parsed
// diff to a Decision. It performs no I/O and no logging; identical inputs
// produce identical output, including violation ordering.
package policy

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/diffparse"
)

// Severity classifies a violation. Only block severities veto a change.
type Severity string

const (
	SeverityBlock Severity = "block"
	SeverityWarn  Severity = "warn"
	SeverityInfo  Severity = "info"
)

// Violation codes.
const (
	CodeForbiddenPath  = "forbidden_path"
	CodePathNotAllowed = "path_not_allowed"
	CodeSecretPattern  = "secret_pattern"
	CodeMaxFiles       = "max_files"
	CodeMaxLinesAdded  = "max_lines_added"
	CodeMaxLinesRemov  = "max_lines_removed"
	CodeMaxDiffBytes   = "max_diff_bytes"
)

// PR labels attached to the eventual pull request.
const (
	LabelSafe        = "safe"
	LabelNeedsReview = "needs-review"
)

// Violation is one policy finding.
type Violation struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	File     string   `json:"file,omitempty"`
}

// Decision is the engine output. Allowed is true exactly when no violation
// carries block severity.
type Decision struct {
	Allowed       bool        `json:"allowed"`
	Violations    []Violation `json:"violations"`
	DangerScore   int         `json:"danger_score"`
	DangerReasons []string    `json:"danger_reasons"`
	PRLabel       string      `json:"pr_label"`
}

// PlanIntent is the pre-patch view of a fix: which files the plan wants to
// touch and what it intends to do to them.
type PlanIntent struct {
	Files          []string
	OperationTypes []string
	Category       string
}

// PatchLimits bounds the size of an acceptable diff. Zero means unlimited.
type PatchLimits struct {
	MaxFiles        int `json:"max_files" yaml:"max_files"`
	MaxLinesAdded   int `json:"max_lines_added" yaml:"max_lines_added"`
	MaxLinesRemoved int `json:"max_lines_removed" yaml:"max_lines_removed"`
	MaxDiffBytes    int `json:"max_diff_bytes" yaml:"max_diff_bytes"`
}

// DangerWeights parameterize the danger score heuristic.
type DangerWeights struct {
	PerFile           int `json:"per_file" yaml:"per_file"`
	Per50LinesChanged int `json:"per_50_lines_changed" yaml:"per_50_lines_changed"`
	Per10KBDiff       int `json:"per_10kb_diff" yaml:"per_10kb_diff"`
}

// RiskyPathRule raises the danger score for files matching a glob.
type RiskyPathRule struct {
	Glob    string `json:"glob" yaml:"glob"`
	Weight  int    `json:"weight" yaml:"weight"`
	Message string `json:"message" yaml:"message"`
}

// SafetyPolicy is the declarative rule set, loadable from YAML or JSON.
type SafetyPolicy struct {
	AllowedPaths   []string        `json:"allowed_paths" yaml:"allowed_paths"`
	ForbiddenPaths []string        `json:"forbidden_paths" yaml:"forbidden_paths"`
	SecretPatterns []string        `json:"secret_patterns" yaml:"secret_patterns"`
	Limits         PatchLimits     `json:"limits" yaml:"limits"`
	Weights        DangerWeights   `json:"danger_weights" yaml:"danger_weights"`
	RiskyPaths     []RiskyPathRule `json:"risky_paths" yaml:"risky_paths"`
	SafeMax        int             `json:"safe_max" yaml:"safe_max"`
}

// Engine evaluates plans and diffs against one compiled policy. Construct
// with NewEngine so pattern errors surface before any evaluation runs.
type Engine struct {
	policy  SafetyPolicy
	secrets []*regexp.Regexp
}

// NewEngine compiles the policy's secret patterns and validates its globs.
func NewEngine(p SafetyPolicy) (*Engine, error) {
	for _, globs := range [][]string{p.AllowedPaths, p.ForbiddenPaths} {
		for _, g := range globs {
			if !doublestar.ValidatePattern(g) {
				return nil, fmt.Errorf("policy: invalid path glob %q", g)
			}
		}
	}
	for _, r := range p.RiskyPaths {
		if !doublestar.ValidatePattern(r.Glob) {
			return nil, fmt.Errorf("policy: invalid risky path glob %q", r.Glob)
		}
	}
	secrets := make([]*regexp.Regexp, 0, len(p.SecretPatterns))
	for _, pat := range p.SecretPatterns {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("policy: invalid secret pattern %q: %w", pat, err)
		}
		secrets = append(secrets, re)
	}
	return &Engine{policy: p, secrets: secrets}, nil
}

// Policy returns the engine's policy value.
func (e *Engine) Policy() SafetyPolicy { return e.policy }

// EvaluatePlan checks a plan's target files against the path policy and
// scores it. Line and byte contributions are zero before a diff exists.
func (e *Engine) EvaluatePlan(intent PlanIntent) Decision {
	files := normalizeAll(intent.Files)
	violations := e.checkPaths(files)
	score, reasons := e.dangerScore(files, 0, 0)
	return e.finish(violations, score, reasons)
}

// EvaluateDiff checks a parsed diff: path policy, secret scan over added
// lines, and patch size limits.
func (e *Engine) EvaluateDiff(d *diffparse.Diff) Decision {
	files := normalizeAll(d.Paths())
	violations := e.checkPaths(files)

	for _, f := range d.Files {
		path := diffparse.NormalizePath(f.Path())
		for _, line := range f.AddedLines() {
			if re := e.matchSecret(line); re != nil {
				violations = append(violations, Violation{
					Code:     CodeSecretPattern,
					Severity: SeverityBlock,
					Message:  fmt.Sprintf("added line matches secret pattern %q", re.String()),
					File:     path,
				})
				break // one violation per file is enough to block
			}
		}
	}

	stats := d.Stats()
	lim := e.policy.Limits
	if lim.MaxFiles > 0 && stats.TotalFiles > lim.MaxFiles {
		violations = append(violations, Violation{
			Code: CodeMaxFiles, Severity: SeverityBlock,
			Message: fmt.Sprintf("%d files exceeds limit %d", stats.TotalFiles, lim.MaxFiles),
		})
	}
	if lim.MaxLinesAdded > 0 && stats.TotalLinesAdded > lim.MaxLinesAdded {
		violations = append(violations, Violation{
			Code: CodeMaxLinesAdded, Severity: SeverityBlock,
			Message: fmt.Sprintf("%d added lines exceeds limit %d", stats.TotalLinesAdded, lim.MaxLinesAdded),
		})
	}
	if lim.MaxLinesRemoved > 0 && stats.TotalLinesRemoved > lim.MaxLinesRemoved {
		violations = append(violations, Violation{
			Code: CodeMaxLinesRemov, Severity: SeverityBlock,
			Message: fmt.Sprintf("%d removed lines exceeds limit %d", stats.TotalLinesRemoved, lim.MaxLinesRemoved),
		})
	}
	if lim.MaxDiffBytes > 0 && stats.DiffBytes > lim.MaxDiffBytes {
		violations = append(violations, Violation{
			Code: CodeMaxDiffBytes, Severity: SeverityBlock,
			Message: fmt.Sprintf("diff of %d bytes exceeds limit %d", stats.DiffBytes, lim.MaxDiffBytes),
		})
	}

	score, reasons := e.dangerScore(files, stats.TotalLinesAdded+stats.TotalLinesRemoved, stats.DiffBytes)
	return e.finish(violations, score, reasons)
}

func (e *Engine) matchSecret(line string) *regexp.Regexp {
	for _, re := range e.secrets {
		if re.MatchString(line) {
			return re
		}
	}
	return nil
}

func (e *Engine) checkPaths(files []string) []Violation {
	var out []Violation
	for _, f := range files {
		if g := matchAny(e.policy.ForbiddenPaths, f); g != "" {
			out = append(out, Violation{
				Code: CodeForbiddenPath, Severity: SeverityBlock,
				Message: fmt.Sprintf("path matches forbidden glob %q", g),
				File:    f,
			})
			continue
		}
		if len(e.policy.AllowedPaths) > 0 && matchAny(e.policy.AllowedPaths, f) == "" {
			out = append(out, Violation{
				Code: CodePathNotAllowed, Severity: SeverityBlock,
				Message: "path matches no allowed glob",
				File:    f,
			})
		}
	}
	return out
}

func (e *Engine) dangerScore(files []string, linesChanged, diffBytes int) (int, []string) {
	score := 0
	var reasons []string

	for _, f := range files {
		for _, r := range e.policy.RiskyPaths {
			if ok, _ := doublestar.Match(r.Glob, f); ok {
				score += r.Weight
				reasons = append(reasons, fmt.Sprintf("%s: %s", f, r.Message))
			}
		}
	}
	if w := e.policy.Weights.PerFile; w > 0 && len(files) > 0 {
		score += w * len(files)
		reasons = append(reasons, fmt.Sprintf("%d files touched", len(files)))
	}
	if w := e.policy.Weights.Per50LinesChanged; w > 0 && linesChanged >= 50 {
		score += w * (linesChanged / 50)
		reasons = append(reasons, fmt.Sprintf("%d lines changed", linesChanged))
	}
	if w := e.policy.Weights.Per10KBDiff; w > 0 && diffBytes >= 10240 {
		score += w * (diffBytes / 10240)
		reasons = append(reasons, fmt.Sprintf("diff size %d bytes", diffBytes))
	}

	if score > 100 {
		score = 100
	}
	return score, reasons
}

func (e *Engine) finish(violations []Violation, score int, reasons []string) Decision {
	sortViolations(violations)
	allowed := true
	for _, v := range violations {
		if v.Severity == SeverityBlock {
			allowed = false
			break
		}
	}
	label := LabelNeedsReview
	if allowed && score <= e.policy.SafeMax {
		label = LabelSafe
	}
	if violations == nil {
		violations = []Violation{}
	}
	if reasons == nil {
		reasons = []string{}
	}
	return Decision{
		Allowed:       allowed,
		Violations:    violations,
		DangerScore:   score,
		DangerReasons: reasons,
		PRLabel:       label,
	}
}

func severityRank(s Severity) int {
	switch s {
	case SeverityBlock:
		return 0
	case SeverityWarn:
		return 1
	default:
		return 2
	}
}

// sortViolations orders by severity (block first), then code, then file.
func sortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		if ra, rb := severityRank(a.Severity), severityRank(b.Severity); ra != rb {
			return ra < rb
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		return a.File < b.File
	})
}

func matchAny(globs []string, path string) string {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, path); ok {
			return g
		}
	}
	return ""
}

func normalizeAll(files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, diffparse.NormalizePath(f))
	}
	return out
}
