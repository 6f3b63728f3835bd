package consensus

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/logparse"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

// Issue severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

const maxIssuesPerSource = 20

// Issue is one node in the issue graph. DependsOn holds issue IDs, an
// adjacency list rather than nested nodes, so cycles stay representable
// and the graph serializes flat.
type Issue struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Severity  string   `json:"severity"`
	Files     []string `json:"files,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// IssueGraph is the consensus stage's structured view of the failure.
type IssueGraph struct {
	Issues []Issue `json:"issues"`
}

func (g *IssueGraph) Root() *Issue {
	if len(g.Issues) == 0 {
		return nil
	}
	return &g.Issues[0]
}

var buildErrFileRe = regexp.MustCompile(`^([\w./-]+\.\w+):\d+`)

// BuildIssueGraph derives the graph deterministically: the RCA primary
// hypothesis is the root, every parsed finding becomes a node depending
// on it. Identical inputs produce identical graphs.
func BuildIssueGraph(bundle *logparse.Bundle, rca *model.RCAResult) *IssueGraph {
	g := &IssueGraph{Issues: []Issue{}}
	next := 0
	id := func() string {
		next++
		return fmt.Sprintf("issue-%04d", next)
	}

	rootID := ""
	if rca != nil && rca.PrimaryHypothesis.Description != "" {
		root := Issue{
			ID:       id(),
			Title:    clipTitle(rca.PrimaryHypothesis.Description),
			Severity: SeverityError,
			Files:    append([]string(nil), rca.AffectedFiles...),
		}
		rootID = root.ID
		g.Issues = append(g.Issues, root)
	}

	add := func(lines []string, severity string) {
		if len(lines) > maxIssuesPerSource {
			lines = lines[:maxIssuesPerSource]
		}
		for _, line := range lines {
			iss := Issue{ID: id(), Title: clipTitle(line), Severity: severity}
			if m := buildErrFileRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
				iss.Files = []string{model.NormalizeRepoPath(m[1])}
			}
			if rootID != "" {
				iss.DependsOn = []string{rootID}
			}
			g.Issues = append(g.Issues, iss)
		}
	}

	if bundle != nil {
		add(bundle.BuildErrors, SeverityError)
		add(bundle.TestFailures, SeverityError)
		add(bundle.Errors, SeverityWarning)
		add(bundle.StackTraces, SeverityInfo)
	}
	return g
}

func clipTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 200
	if len(s) > max {
		return s[:max]
	}
	return s
}
