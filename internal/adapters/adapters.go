// Package adapters holds the per-language CI failure adapters.
//
// Each adapter is a deterministic rules table: Detect scans the log against
// ordered patterns and stops on the first category match; file heuristics
// set the confidence floor. Adapters register themselves in init() and the
// orchestrator selects the one with strictly greatest detection confidence,
// ties broken by registration order.
package adapters

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

// MaxEvidenceLines bounds DetectionResult.EvidenceLines.
const MaxEvidenceLines = 8

// DetectionResult reports that an adapter recognizes the failure.
type DetectionResult struct {
	RepoLanguage  string   `json:"repo_language"`
	Category      string   `json:"category"`
	EvidenceLines []string `json:"evidence_lines"`
	Confidence    float64  `json:"confidence"`
}

// ValidationStep is one sandbox command chosen by an adapter.
type ValidationStep struct {
	Name           string `json:"name"`
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	Workdir        string `json:"workdir,omitempty"`
}

// Adapter recognizes failures for one language ecosystem and chooses how
// to validate a candidate fix.
type Adapter interface {
	Name() string
	// Detect returns nil when the log does not look like this ecosystem.
	Detect(logText string, repoFiles []string) *DetectionResult
	BuildValidationSteps(repoRoot string) []ValidationStep
	AllowedFixTypes() []string
	AllowedCategories() []string
}

// DeterministicPatcher is an optional capability: adapters that can
// synthesize a patch for some plans without an LLM implement it. A ("", nil)
// return means the adapter declines this plan.
type DeterministicPatcher interface {
	DeterministicPatch(plan *model.FixPlan, readFile func(string) (string, error)) (string, error)
}

// Registry holds adapters in registration order.
type Registry struct {
	mu       sync.RWMutex
	adapters []Adapter
	byName   map[string]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]Adapter{}}
}

// Register adds an adapter. Registering a duplicate name panics; adapters
// register once from init().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[a.Name()]; dup {
		panic(fmt.Sprintf("adapters: duplicate registration of %q", a.Name()))
	}
	r.byName[a.Name()] = a
	r.adapters = append(r.adapters, a)
}

// Get returns the adapter with the given name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("adapters: unknown adapter %q (available: %v)", name, r.names())
	}
	return a, nil
}

// Names returns adapter names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	out := make([]string, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Name())
	}
	return out
}

// Select runs every adapter's Detect and returns the winner plus its
// result. Strictly greatest confidence wins; ties keep the earlier
// registration. A nil return means no adapter recognized the log.
func (r *Registry) Select(logText string, repoFiles []string) (Adapter, *DetectionResult) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		best    Adapter
		bestRes *DetectionResult
	)
	for _, a := range r.adapters {
		res := a.Detect(logText, repoFiles)
		if res == nil {
			continue
		}
		if bestRes == nil || res.Confidence > bestRes.Confidence {
			best, bestRes = a, res
		}
	}
	return best, bestRes
}

var defaultRegistry = NewRegistry()

// Register adds an adapter to the process-wide registry.
func Register(a Adapter) { defaultRegistry.Register(a) }

// Default returns the process-wide registry populated by init().
func Default() *Registry { return defaultRegistry }

// categoryRule maps a log pattern to a failure category. Tables are
// evaluated in order; the first match decides.
type categoryRule struct {
	re         *regexp.Regexp
	category   string
	confidence float64
}

// detectWithRules is the shared rules-table scan: the first matching rule
// fixes category and confidence, then up to MaxEvidenceLines matching log
// lines are collected as evidence. baseConfidence is the file-heuristic
// floor applied even when no rule matches but the floor holds.
func detectWithRules(language, logText string, rules []categoryRule, baseConfidence float64, anyFile bool) *DetectionResult {
	var matched *categoryRule
	for i := range rules {
		if rules[i].re.MatchString(logText) {
			matched = &rules[i]
			break
		}
	}
	if matched == nil && !anyFile {
		return nil
	}

	res := &DetectionResult{RepoLanguage: language}
	if matched != nil {
		res.Category = matched.category
		res.Confidence = matched.confidence
		if anyFile && res.Confidence < 1.0 {
			res.Confidence += 0.05
		}
		for _, line := range strings.Split(logText, "\n") {
			line = strings.TrimRight(line, "\r")
			if matched.re.MatchString(line) {
				res.EvidenceLines = append(res.EvidenceLines, strings.TrimSpace(line))
				if len(res.EvidenceLines) >= MaxEvidenceLines {
					break
				}
			}
		}
	} else {
		res.Category = model.CategoryUnknown
		res.Confidence = baseConfidence
	}
	if res.Confidence > 1.0 {
		res.Confidence = 1.0
	}
	return res
}

// hasAnyFile reports whether any of names appears in repoFiles (exact
// match on the normalized relative path, or as a basename at repo root).
func hasAnyFile(repoFiles []string, names ...string) bool {
	set := make(map[string]bool, len(repoFiles))
	for _, f := range repoFiles {
		set[model.NormalizeRepoPath(f)] = true
	}
	for _, n := range names {
		if set[n] {
			return true
		}
	}
	return false
}
