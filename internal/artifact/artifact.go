// Package artifact assembles the tamper-evident provenance record each
// run emits. Every string reachable from the artifact passes through the
// redactor before it is persisted; the content hash is computed over the
// redacted form so the stored hash matches what readers can verify.
package artifact

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/redact"
)

// Provenance is the immutable audit record of one run.
type Provenance struct {
	RunID        string    `json:"run_id"`
	FailureID    string    `json:"failure_id"`
	Repo         string    `json:"repo"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	ErrorMessage string    `json:"error_message,omitempty"`

	Plan        json.RawMessage `json:"plan,omitempty"`
	PlanPolicy  json.RawMessage `json:"plan_policy,omitempty"`
	PatchStats  json.RawMessage `json:"patch_stats,omitempty"`
	PatchPolicy json.RawMessage `json:"patch_policy,omitempty"`
	Validation  json.RawMessage `json:"validation,omitempty"`

	Timeline      []model.TimelineStep `json:"timeline"`
	EvidenceLinks []string             `json:"evidence_links,omitempty"`
	SBOM          *SBOMRef             `json:"sbom,omitempty"`

	// ContentHash is blake3 over the artifact JSON with this field empty.
	ContentHash string `json:"content_hash"`
}

// SBOMRef points at the stored SBOM file.
type SBOMRef struct {
	Path      string `json:"path"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
	Format    string `json:"format"`
}

// Builder assembles redacted provenance artifacts.
type Builder struct {
	red *redact.Redactor
}

func NewBuilder(r *redact.Redactor) *Builder {
	if r == nil {
		r = redact.NewDefault()
	}
	return &Builder{red: r}
}

// Build assembles the artifact for a run at its given status and returns
// both the value and its JSON encoding. status overrides the run row's
// status so the artifact can be written in the same transaction as the
// transition that produces it.
func (b *Builder) Build(run *model.FixPipelineRun, status model.RunStatus, evidence []string) (*Provenance, json.RawMessage, error) {
	if run == nil {
		return nil, nil, fmt.Errorf("artifact: nil run")
	}
	p := &Provenance{
		RunID:        run.ID,
		FailureID:    run.EventID,
		Repo:         run.Repo,
		Status:       string(status),
		StartedAt:    run.CreatedAt.UTC(),
		ErrorMessage: b.red.String(run.ErrorMessage),
		Plan:         b.red.JSON(run.Stage(model.BlobPlan)),
		PlanPolicy:   b.red.JSON(run.Stage(model.BlobPlanPolicy)),
		PatchStats:   b.red.JSON(run.Stage(model.BlobPatchStats)),
		PatchPolicy:  b.red.JSON(run.Stage(model.BlobPatchPolicy)),
		Validation:   b.red.JSON(run.Stage(model.BlobValidation)),
		Timeline:     Timeline(run, status),
	}
	for _, e := range evidence {
		p.EvidenceLinks = append(p.EvidenceLinks, b.red.String(e))
	}
	if run.SBOMPath != "" {
		p.SBOM = &SBOMRef{
			Path:      run.SBOMPath,
			SHA256:    run.SBOMSHA256,
			SizeBytes: run.SBOMSizeBytes,
			Format:    "syft-json",
		}
	}

	unhashed, err := json.Marshal(p)
	if err != nil {
		return nil, nil, fmt.Errorf("artifact: encode: %w", err)
	}
	sum := blake3.Sum256(unhashed)
	p.ContentHash = fmt.Sprintf("%x", sum[:])

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, nil, fmt.Errorf("artifact: encode: %w", err)
	}
	return p, raw, nil
}

// Verify recomputes the content hash of a stored artifact and reports
// whether it matches. Any mutation after emission fails this check.
func Verify(raw json.RawMessage) (bool, error) {
	var p Provenance
	if err := json.Unmarshal(raw, &p); err != nil {
		return false, fmt.Errorf("artifact: decode: %w", err)
	}
	stored := p.ContentHash
	p.ContentHash = ""
	unhashed, err := json.Marshal(&p)
	if err != nil {
		return false, fmt.Errorf("artifact: encode: %w", err)
	}
	sum := blake3.Sum256(unhashed)
	return fmt.Sprintf("%x", sum[:]) == stored, nil
}
