package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default returns the built-in policy used when no policy file is
// configured. It forbids CI workflow and credential material outright and
// flags the usual deployment-sensitive paths as risky.
func Default() SafetyPolicy {
	return SafetyPolicy{
		AllowedPaths: []string{"**"},
		ForbiddenPaths: []string{
			".github/workflows/**",
			"**/.git/**",
			"**/secrets/**",
			"**/*.pem",
			"**/*.key",
			"**/.env",
			"**/.env.*",
			"**/credentials*",
			"**/id_rsa*",
		},
		SecretPatterns: []string{
			`(?i)password\s*[:=]`,
			`(?i)passwd\s*[:=]`,
			`(?i)secret\s*[:=]`,
			`(?i)api[_-]?key\s*[:=]`,
			`(?i)auth[_-]?token\s*[:=]`,
			`AKIA[0-9A-Z]{16}`,
			`ghp_[A-Za-z0-9]{36}`,
			`sk-[A-Za-z0-9_-]{20,}`,
			`-----BEGIN [A-Z ]*PRIVATE KEY-----`,
		},
		Limits: PatchLimits{
			MaxFiles:        10,
			MaxLinesAdded:   500,
			MaxLinesRemoved: 300,
			MaxDiffBytes:    150_000,
		},
		Weights: DangerWeights{
			PerFile:           5,
			Per50LinesChanged: 5,
			Per10KBDiff:       5,
		},
		RiskyPaths: []RiskyPathRule{
			{Glob: "**/Dockerfile*", Weight: 15, Message: "container build file"},
			{Glob: "**/*.sql", Weight: 20, Message: "database schema or migration"},
			{Glob: "**/auth/**", Weight: 20, Message: "authentication code"},
			{Glob: "**/Makefile", Weight: 10, Message: "build system file"},
			{Glob: "**/*config*", Weight: 10, Message: "configuration file"},
		},
		SafeMax: 30,
	}
}

// Load reads a policy file (YAML unless the extension is .json), rejecting
// unknown fields. Zero-valued sections inherit the built-in defaults so a
// partial policy file only overrides what it names.
func Load(path string) (SafetyPolicy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return SafetyPolicy{}, fmt.Errorf("policy: read %s: %w", path, err)
	}
	var p SafetyPolicy
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := decodeJSONStrict(b, &p); err != nil {
			return SafetyPolicy{}, fmt.Errorf("policy: parse %s: %w", path, err)
		}
	default:
		if err := decodeYAMLStrict(b, &p); err != nil {
			return SafetyPolicy{}, fmt.Errorf("policy: parse %s: %w", path, err)
		}
	}
	applyPolicyDefaults(&p)
	if err := validatePolicy(&p); err != nil {
		return SafetyPolicy{}, fmt.Errorf("policy: %s: %w", path, err)
	}
	return p, nil
}

func decodeJSONStrict(b []byte, p *SafetyPolicy) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func decodeYAMLStrict(b []byte, p *SafetyPolicy) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func applyPolicyDefaults(p *SafetyPolicy) {
	def := Default()
	if len(p.AllowedPaths) == 0 {
		p.AllowedPaths = def.AllowedPaths
	}
	if len(p.ForbiddenPaths) == 0 {
		p.ForbiddenPaths = def.ForbiddenPaths
	}
	if len(p.SecretPatterns) == 0 {
		p.SecretPatterns = def.SecretPatterns
	}
	if p.Limits == (PatchLimits{}) {
		p.Limits = def.Limits
	}
	if p.Weights == (DangerWeights{}) {
		p.Weights = def.Weights
	}
	if len(p.RiskyPaths) == 0 {
		p.RiskyPaths = def.RiskyPaths
	}
	if p.SafeMax == 0 {
		p.SafeMax = def.SafeMax
	}
}

func validatePolicy(p *SafetyPolicy) error {
	if p.SafeMax < 0 || p.SafeMax > 100 {
		return fmt.Errorf("safe_max %d out of range [0,100]", p.SafeMax)
	}
	for _, v := range []struct {
		name string
		val  int
	}{
		{"limits.max_files", p.Limits.MaxFiles},
		{"limits.max_lines_added", p.Limits.MaxLinesAdded},
		{"limits.max_lines_removed", p.Limits.MaxLinesRemoved},
		{"limits.max_diff_bytes", p.Limits.MaxDiffBytes},
		{"danger_weights.per_file", p.Weights.PerFile},
		{"danger_weights.per_50_lines_changed", p.Weights.Per50LinesChanged},
		{"danger_weights.per_10kb_diff", p.Weights.Per10KBDiff},
	} {
		if v.val < 0 {
			return fmt.Errorf("%s must not be negative", v.name)
		}
	}
	for _, r := range p.RiskyPaths {
		if r.Weight < 0 {
			return fmt.Errorf("risky path %q weight must not be negative", r.Glob)
		}
	}
	// Glob and regex syntax are checked again at engine construction, but
	// failing here names the file instead of a later pipeline stage.
	_, err := NewEngine(*p)
	return err
}
