// Package logparse turns raw CI build logs into a structured failure
// context. Recognizers cover Python tracebacks, JS/TS errors, Java
// exceptions, Go panics and test failures, pytest output, and GCC-style
// compiler diagnostics. Findings keep source order.
package logparse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

// Bundle is the failure context persisted as the run's context stage blob
// and fed to the intelligence stages.
type Bundle struct {
	EventID      string   `json:"event_id"`
	Repo         string   `json:"repo"`
	CommitSHA    string   `json:"commit_sha"`
	Branch       string   `json:"branch"`
	PipelineID   string   `json:"pipeline_id"`
	JobName      string   `json:"job_name"`
	Errors       []string `json:"errors"`
	BuildErrors  []string `json:"build_errors"`
	TestFailures []string `json:"test_failures"`
	StackTraces  []string `json:"stack_traces"`
	LogSummary   string   `json:"log_summary"`
	Truncated    bool     `json:"truncated,omitempty"`
}

const (
	// DefaultMaxLogBytes caps how much log text is scanned. Longer logs
	// keep their tail; failures cluster at the end.
	DefaultMaxLogBytes = 512 * 1024

	summaryLineCount = 12
	summaryLineWidth = 300
	maxTraceLines    = 30
	maxListEntries   = 50
)

var (
	pythonTracebackRe = regexp.MustCompile(`^Traceback \(most recent call last\):`)
	pythonExcRe       = regexp.MustCompile(`^([A-Za-z_][\w.]*(?:Error|Exception|Exit|Interrupt|Warning))(:.*)?$`)
	pytestFailedRe    = regexp.MustCompile(`^(?:FAILED|ERROR)\s+\S+::\S+`)
	jsErrorRe         = regexp.MustCompile(`^\s*(?:Uncaught\s+)?((?:Type|Reference|Syntax|Range|Eval)Error|Error)(?: \[[A-Z_]+\])?:\s+.+`)
	npmErrRe          = regexp.MustCompile(`^npm ERR!\s+`)
	nodeAtRe          = regexp.MustCompile(`^\s+at\s+\S+`)
	javaExcRe         = regexp.MustCompile(`^(?:Exception in thread "[^"]*"\s+)?([a-z][\w.]*\.[A-Z]\w*(?:Exception|Error))(?::.*)?$`)
	javaAtRe          = regexp.MustCompile(`^\s+at\s+[\w.$]+\(`)
	goPanicRe         = regexp.MustCompile(`^panic:\s+.+`)
	goTestFailRe      = regexp.MustCompile(`^\s*--- FAIL:\s+\S+`)
	goBuildErrRe      = regexp.MustCompile(`^\S+\.go:\d+:(?:\d+:)?\s+.+`)
	gccDiagRe         = regexp.MustCompile(`^(.+?):(\d+):(?:(\d+):)?\s*(fatal error|error|warning):\s*(.+)$`)
	genericErrorRe    = regexp.MustCompile(`(?i)\b(error|failed|failure|fatal|exception|panic)\b`)
)

// Parser scans logs with a fixed byte ceiling.
type Parser struct {
	maxBytes int
}

// NewParser returns a Parser; maxBytes <= 0 selects DefaultMaxLogBytes.
func NewParser(maxBytes int) *Parser {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxLogBytes
	}
	return &Parser{maxBytes: maxBytes}
}

// BuildContext parses logText for the given event, truncating oversized
// logs tail-first.
func (p *Parser) BuildContext(ev *model.NormalizedPipelineEvent, eventID, logText string) *Bundle {
	b := &Bundle{
		EventID:    eventID,
		Repo:       ev.Repo,
		CommitSHA:  ev.CommitSHA,
		Branch:     ev.Branch,
		PipelineID: ev.RunID,
		JobName:    ev.Stage,
	}
	if len(logText) > p.maxBytes {
		logText = logText[len(logText)-p.maxBytes:]
		// Drop the partial first line left by the byte cut.
		if idx := strings.IndexByte(logText, '\n'); idx >= 0 {
			logText = logText[idx+1:]
		}
		b.Truncated = true
	}

	lines := strings.Split(logText, "\n")
	var significant []string

	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")

		switch {
		case pythonTracebackRe.MatchString(line):
			block, last := captureIndentedBlock(lines, i, func(s string) bool {
				return pythonExcRe.MatchString(strings.TrimRight(s, "\r"))
			})
			appendBounded(&b.StackTraces, strings.Join(block, "\n"))
			if exc := strings.TrimRight(lines[last], "\r"); pythonExcRe.MatchString(exc) {
				appendBounded(&b.Errors, exc)
				significant = appendSummary(significant, exc)
			} else {
				significant = appendSummary(significant, line)
			}
			i = last

		case pytestFailedRe.MatchString(line):
			appendBounded(&b.TestFailures, line)
			significant = appendSummary(significant, line)

		case goPanicRe.MatchString(line):
			block := captureRunBlock(lines, i)
			appendBounded(&b.StackTraces, strings.Join(block, "\n"))
			appendBounded(&b.Errors, line)
			significant = appendSummary(significant, line)
			i += len(block) - 1

		case goTestFailRe.MatchString(line):
			appendBounded(&b.TestFailures, strings.TrimSpace(line))
			significant = appendSummary(significant, line)

		case javaExcRe.MatchString(line):
			block := []string{line}
			j := i + 1
			for j < len(lines) && len(block) < maxTraceLines {
				next := strings.TrimRight(lines[j], "\r")
				if !javaAtRe.MatchString(next) && !strings.HasPrefix(next, "Caused by:") {
					break
				}
				block = append(block, next)
				j++
			}
			if len(block) > 1 {
				appendBounded(&b.StackTraces, strings.Join(block, "\n"))
			}
			appendBounded(&b.Errors, line)
			significant = appendSummary(significant, line)
			i = j - 1

		case jsErrorRe.MatchString(line):
			block := []string{line}
			j := i + 1
			for j < len(lines) && len(block) < maxTraceLines {
				next := strings.TrimRight(lines[j], "\r")
				if !nodeAtRe.MatchString(next) {
					break
				}
				block = append(block, next)
				j++
			}
			if len(block) > 1 {
				appendBounded(&b.StackTraces, strings.Join(block, "\n"))
			}
			appendBounded(&b.Errors, strings.TrimSpace(line))
			significant = appendSummary(significant, line)
			i = j - 1

		case npmErrRe.MatchString(line):
			appendBounded(&b.BuildErrors, line)
			significant = appendSummary(significant, line)

		// Bare exception lines show up when the traceback header was cut
		// off by log truncation.
		case pythonExcRe.MatchString(strings.TrimSpace(line)):
			appendBounded(&b.Errors, strings.TrimSpace(line))
			significant = appendSummary(significant, line)

		case gccDiagRe.MatchString(line):
			m := gccDiagRe.FindStringSubmatch(line)
			if m[4] == "warning" {
				significant = appendSummary(significant, line)
				break
			}
			appendBounded(&b.BuildErrors, line)
			significant = appendSummary(significant, line)

		case goBuildErrRe.MatchString(line):
			appendBounded(&b.BuildErrors, line)
			significant = appendSummary(significant, line)

		case genericErrorRe.MatchString(line) && strings.TrimSpace(line) != "":
			significant = appendSummary(significant, line)
		}
	}

	b.LogSummary = strings.Join(significant, "\n")
	if b.Errors == nil {
		b.Errors = []string{}
	}
	if b.BuildErrors == nil {
		b.BuildErrors = []string{}
	}
	if b.TestFailures == nil {
		b.TestFailures = []string{}
	}
	if b.StackTraces == nil {
		b.StackTraces = []string{}
	}
	return b
}

// SignificantLines returns up to n significant error lines from logText in
// source order. Used for failure signatures.
func SignificantLines(logText string, n int) []string {
	var out []string
	for _, raw := range strings.Split(logText, "\n") {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if pythonExcRe.MatchString(trimmed) || pytestFailedRe.MatchString(trimmed) ||
			jsErrorRe.MatchString(line) || javaExcRe.MatchString(trimmed) ||
			goPanicRe.MatchString(trimmed) || goTestFailRe.MatchString(trimmed) ||
			gccDiagRe.MatchString(trimmed) || npmErrRe.MatchString(trimmed) ||
			genericErrorRe.MatchString(trimmed) {
			out = append(out, trimmed)
			if len(out) >= n {
				break
			}
		}
	}
	return out
}

// captureIndentedBlock collects lines[start..] until stop matches or the
// block exceeds maxTraceLines. It returns the block including the stop
// line and the index of the last consumed line.
func captureIndentedBlock(lines []string, start int, stop func(string) bool) ([]string, int) {
	block := []string{strings.TrimRight(lines[start], "\r")}
	i := start + 1
	for i < len(lines) && len(block) < maxTraceLines {
		line := strings.TrimRight(lines[i], "\r")
		block = append(block, line)
		if stop(line) {
			return block, i
		}
		i++
	}
	return block, i - 1
}

// captureRunBlock collects consecutive non-blank lines starting at start.
func captureRunBlock(lines []string, start int) []string {
	block := []string{strings.TrimRight(lines[start], "\r")}
	for i := start + 1; i < len(lines) && len(block) < maxTraceLines; i++ {
		line := strings.TrimRight(lines[i], "\r")
		if strings.TrimSpace(line) == "" {
			break
		}
		block = append(block, line)
	}
	return block
}

func appendBounded(dst *[]string, s string) {
	if len(*dst) >= maxListEntries {
		return
	}
	*dst = append(*dst, s)
}

func appendSummary(acc []string, line string) []string {
	if len(acc) >= summaryLineCount {
		return acc
	}
	line = strings.TrimSpace(line)
	if len(line) > summaryLineWidth {
		line = line[:summaryLineWidth]
	}
	return append(acc, line)
}

// FailureTypeFor maps a bundle to the coarse failure type used in run
// keys: build failures dominate, then test failures, then generic errors.
func FailureTypeFor(b *Bundle, eventFailureType string) string {
	if eventFailureType != "" {
		return eventFailureType
	}
	switch {
	case len(b.BuildErrors) > 0:
		return "build_failure"
	case len(b.TestFailures) > 0:
		return "test_failure"
	case len(b.Errors) > 0:
		return "runtime_error"
	default:
		return "unknown_failure"
	}
}

// Describe renders a one-line description of the bundle for PR bodies and
// dashboard events.
func Describe(b *Bundle) string {
	switch {
	case len(b.TestFailures) > 0:
		return fmt.Sprintf("%d test failure(s), first: %s", len(b.TestFailures), b.TestFailures[0])
	case len(b.BuildErrors) > 0:
		return fmt.Sprintf("%d build error(s), first: %s", len(b.BuildErrors), b.BuildErrors[0])
	case len(b.Errors) > 0:
		return b.Errors[0]
	default:
		return "no recognized failure signature"
	}
}
