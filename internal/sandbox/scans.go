package sandbox

import (
	"encoding/json"
	"fmt"
	"strings"
)

// severityRank orders Trivy severities. Unknown strings rank lowest so a
// malformed severity never trips the threshold by accident.
var severityRank = map[string]int{
	"NEGLIGIBLE": 1,
	"UNKNOWN":    1,
	"LOW":        2,
	"MEDIUM":     3,
	"HIGH":       4,
	"CRITICAL":   5,
}

// parseGitleaks interprets a gitleaks JSON report. Any finding fails the
// scan; leaked secrets are never acceptable in a generated fix.
func parseGitleaks(reportJSON string) ScanResult {
	res := ScanResult{Tool: "gitleaks", Status: ScanPass}
	trimmed := strings.TrimSpace(reportJSON)
	if trimmed == "" || trimmed == "null" {
		return res
	}
	var findings []struct {
		RuleID string `json:"RuleID"`
		File   string `json:"File"`
	}
	if err := json.Unmarshal([]byte(trimmed), &findings); err != nil {
		res.Status = ScanFail
		res.Details = "unparseable gitleaks report: " + clip(err.Error(), 200)
		return res
	}
	res.Findings = len(findings)
	if len(findings) > 0 {
		res.Status = ScanFail
		rules := make([]string, 0, len(findings))
		for _, f := range findings {
			rules = append(rules, f.RuleID+":"+f.File)
		}
		res.Details = clip(strings.Join(rules, ", "), 500)
	}
	return res
}

// parseTrivy counts vulnerabilities at or above the threshold severity.
func parseTrivy(reportJSON, failOnSeverity string) ScanResult {
	res := ScanResult{Tool: "trivy", Status: ScanPass}
	threshold, ok := severityRank[strings.ToUpper(failOnSeverity)]
	if !ok {
		threshold = severityRank["HIGH"]
	}
	var report struct {
		Results []struct {
			Target          string `json:"Target"`
			Vulnerabilities []struct {
				VulnerabilityID string `json:"VulnerabilityID"`
				Severity        string `json:"Severity"`
			} `json:"Vulnerabilities"`
		} `json:"Results"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(reportJSON)), &report); err != nil {
		res.Status = ScanFail
		res.Details = "unparseable trivy report: " + clip(err.Error(), 200)
		return res
	}
	var over []string
	total := 0
	for _, r := range report.Results {
		for _, v := range r.Vulnerabilities {
			total++
			if severityRank[strings.ToUpper(v.Severity)] >= threshold {
				over = append(over, fmt.Sprintf("%s(%s)", v.VulnerabilityID, v.Severity))
			}
		}
	}
	res.Findings = total
	if len(over) > 0 {
		res.Status = ScanFail
		res.Details = clip(fmt.Sprintf("%d at or above %s: %s",
			len(over), strings.ToUpper(failOnSeverity), strings.Join(over, ", ")), 500)
	}
	return res
}

// firstLine extracts a tool's version banner from command output.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return clip(strings.TrimSpace(s), 80)
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
