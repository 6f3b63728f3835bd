package model

import (
	"fmt"
	"sort"
	"strings"
)

// Fix operation types a plan may request.
const (
	OpAddDependency = "add_dependency"
	OpPinDependency = "pin_dependency"
	OpUpdateConfig  = "update_config"
	OpModifyCode    = "modify_code"
	OpRemoveUnused  = "remove_unused"
)

// RCA categories.
const (
	CategoryInfrastructure = "infrastructure"
	CategoryDependency     = "dependency"
	CategoryCode           = "code"
	CategoryConfiguration  = "configuration"
	CategoryTest           = "test"
	CategoryFlaky          = "flaky"
	CategorySecurity       = "security"
	CategoryUnknown        = "unknown"
)

// MaxPlanOperations bounds how many operations a single plan may carry.
const MaxPlanOperations = 10

var validOpTypes = map[string]bool{
	OpAddDependency: true,
	OpPinDependency: true,
	OpUpdateConfig:  true,
	OpModifyCode:    true,
	OpRemoveUnused:  true,
}

var validCategories = map[string]bool{
	CategoryInfrastructure: true,
	CategoryDependency:     true,
	CategoryCode:           true,
	CategoryConfiguration:  true,
	CategoryTest:           true,
	CategoryFlaky:          true,
	CategorySecurity:       true,
	CategoryUnknown:        true,
}

// ValidOperationType reports whether t is a known fix operation type.
func ValidOperationType(t string) bool { return validOpTypes[t] }

// ValidCategory reports whether c is a known RCA category.
func ValidCategory(c string) bool { return validCategories[c] }

// NormalizeRepoPath canonicalizes a repository-relative path: backslashes
// become slashes and leading "./" segments are stripped.
func NormalizeRepoPath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return p
}

// FixOperation is one concrete action in a fix plan.
type FixOperation struct {
	Type      string         `json:"type"`
	File      string         `json:"file"`
	Details   map[string]any `json:"details"`
	Rationale string         `json:"rationale"`
	Evidence  []string       `json:"evidence,omitempty"`
}

// DetailString returns a string-valued detail field, or "" when absent.
func (op *FixOperation) DetailString(key string) string {
	if op.Details == nil {
		return ""
	}
	if v, ok := op.Details[key].(string); ok {
		return v
	}
	return ""
}

// FixPlan is the planner's output: which files to touch and how.
type FixPlan struct {
	RootCause  string         `json:"root_cause"`
	Category   string         `json:"category"`
	Confidence float64        `json:"confidence"`
	Files      []string       `json:"files"`
	Operations []FixOperation `json:"operations"`
}

// Normalize canonicalizes paths, dedupes and sorts files lexicographically,
// and sorts operations by (file, type). Call before Validate.
func (p *FixPlan) Normalize() {
	seen := make(map[string]bool, len(p.Files))
	files := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		nf := NormalizeRepoPath(f)
		if nf == "" || seen[nf] {
			continue
		}
		seen[nf] = true
		files = append(files, nf)
	}
	sort.Strings(files)
	p.Files = files

	for i := range p.Operations {
		p.Operations[i].File = NormalizeRepoPath(p.Operations[i].File)
	}
	sort.SliceStable(p.Operations, func(i, j int) bool {
		a, b := p.Operations[i], p.Operations[j]
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Type < b.Type
	})
}

// Validate checks the plan invariants: known category and operation types,
// confidence in [0,1], at most MaxPlanOperations operations, and every
// operation file a member of Files.
func (p *FixPlan) Validate() error {
	if !ValidCategory(p.Category) {
		return fmt.Errorf("plan: unknown category %q", p.Category)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("plan: confidence %v out of [0,1]", p.Confidence)
	}
	if len(p.Operations) == 0 {
		return fmt.Errorf("plan: no operations")
	}
	if len(p.Operations) > MaxPlanOperations {
		return fmt.Errorf("plan: %d operations exceeds limit %d", len(p.Operations), MaxPlanOperations)
	}
	inFiles := make(map[string]bool, len(p.Files))
	for _, f := range p.Files {
		inFiles[f] = true
	}
	for i, op := range p.Operations {
		if !ValidOperationType(op.Type) {
			return fmt.Errorf("plan: operation %d has unknown type %q", i, op.Type)
		}
		if op.File == "" {
			return fmt.Errorf("plan: operation %d has no file", i)
		}
		if !inFiles[op.File] {
			return fmt.Errorf("plan: operation %d targets %q outside plan files", i, op.File)
		}
	}
	return nil
}

// Hypothesis is one candidate explanation in an RCA result.
type Hypothesis struct {
	Description  string   `json:"description"`
	Confidence   float64  `json:"confidence"`
	Evidence     []string `json:"evidence"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
}

// RCAClassification is the coarse failure classification.
type RCAClassification struct {
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Indicators []string `json:"indicators"`
	Secondary  string   `json:"secondary,omitempty"`
}

// SimilarIncident links a past run with a matching failure shape.
type SimilarIncident struct {
	RunID       string  `json:"run_id"`
	Repo        string  `json:"repo"`
	FailureType string  `json:"failure_type"`
	Status      string  `json:"status"`
	Similarity  float64 `json:"similarity"`
}

// RCAResult is the root-cause stage output.
type RCAResult struct {
	Classification        RCAClassification `json:"classification"`
	PrimaryHypothesis     Hypothesis        `json:"primary_hypothesis"`
	AlternativeHypotheses []Hypothesis      `json:"alternative_hypotheses"`
	AffectedFiles         []string          `json:"affected_files"`
	SimilarIncidents      []SimilarIncident `json:"similar_incidents"`
}

// Validate checks classification category and confidence ranges.
func (r *RCAResult) Validate() error {
	if !ValidCategory(r.Classification.Category) {
		return fmt.Errorf("rca: unknown category %q", r.Classification.Category)
	}
	if c := r.Classification.Confidence; c < 0 || c > 1 {
		return fmt.Errorf("rca: classification confidence %v out of [0,1]", c)
	}
	if c := r.PrimaryHypothesis.Confidence; c < 0 || c > 1 {
		return fmt.Errorf("rca: hypothesis confidence %v out of [0,1]", c)
	}
	return nil
}

// CriticDecision is the critic stage output.
type CriticDecision struct {
	Allowed              bool     `json:"allowed"`
	HallucinationRisk    float64  `json:"hallucination_risk"`
	ReasoningConsistency float64  `json:"reasoning_consistency"`
	Issues               []string `json:"issues"`
	RequiresManualReview bool     `json:"requires_manual_review"`
	RecommendedLabel     string   `json:"recommended_label"`
}

// Validate checks the critic's score ranges.
func (c *CriticDecision) Validate() error {
	if c.HallucinationRisk < 0 || c.HallucinationRisk > 1 {
		return fmt.Errorf("critic: hallucination_risk %v out of [0,1]", c.HallucinationRisk)
	}
	if c.ReasoningConsistency < 0 || c.ReasoningConsistency > 1 {
		return fmt.Errorf("critic: reasoning_consistency %v out of [0,1]", c.ReasoningConsistency)
	}
	return nil
}
