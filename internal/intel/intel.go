// Package intel runs the model-backed pipeline stages: root cause
// analysis, fix planning, and the critic review. All three share one
// repair loop: generate, extract the first JSON object, validate
// against a strict schema, decode, and on failure re-prompt with the
// last error until the retry budget runs out.
package intel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/llm"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

const (
	defaultMaxRetries = 2
	defaultMaxTokens  = 4096

	// How much of a rejected response is echoed into the repair prompt
	// and kept on the ParseError.
	repairEchoLimit = 2000
	parseEchoLimit  = 4096
)

var errNoProvider = errors.New("no llm provider configured")

// ParseError reports that every attempt produced output the schema or
// domain validation rejected. LastRaw is clipped, not the full response.
type ParseError struct {
	Attempts int
	LastErr  error
	LastRaw  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("output rejected after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ParseError) Unwrap() error { return e.LastErr }

// Engine holds the provider and the retry budget shared by the stages.
type Engine struct {
	provider   llm.Provider
	maxRetries int
	maxTokens  int
}

// New builds an Engine. maxRetries counts repair rounds after the first
// attempt; values below zero fall back to the default.
func New(provider llm.Provider, maxRetries, maxTokens int) *Engine {
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Engine{provider: provider, maxRetries: maxRetries, maxTokens: maxTokens}
}

// complete drives the repair loop for one stage. accept parses and
// validates one extracted JSON object; any error it returns feeds the
// next repair prompt. Provider failures end the loop immediately, they
// are transport problems, not output problems.
func (e *Engine) complete(ctx context.Context, stage, system, prompt string, accept func([]byte) error) error {
	if e.provider == nil {
		return model.NewStageError(stage, model.ClassFatal, errNoProvider)
	}

	var lastErr error
	var lastRaw string
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		p := prompt
		if attempt > 0 {
			p = repairPrompt(prompt, lastErr, lastRaw)
		}
		raw, err := e.provider.Generate(ctx, llm.Request{System: system, Prompt: p, MaxTokens: e.maxTokens})
		if err != nil {
			return classifyProviderErr(stage, err)
		}
		obj, err := ExtractJSONObject(raw)
		if err == nil {
			if err = accept(obj); err == nil {
				return nil
			}
		}
		lastErr = err
		lastRaw = raw
	}
	return model.NewStageError(stage, model.ClassParse, &ParseError{
		Attempts: e.maxRetries + 1,
		LastErr:  lastErr,
		LastRaw:  clip(lastRaw, parseEchoLimit),
	})
}

func classifyProviderErr(stage string, err error) error {
	if llm.IsRetryable(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return model.NewStageError(stage, model.ClassTransient, err)
	}
	return model.NewStageError(stage, model.ClassFatal, err)
}

func repairPrompt(initial string, lastErr error, lastRaw string) string {
	var sb strings.Builder
	sb.WriteString(initial)
	sb.WriteString("\n\nYour previous response was rejected.\nError: ")
	sb.WriteString(lastErr.Error())
	sb.WriteString("\nPrevious response:\n")
	sb.WriteString(clip(lastRaw, repairEchoLimit))
	sb.WriteString("\n\nRespond again with only a corrected JSON object. No prose, no fences.")
	return sb.String()
}

// ExtractJSONObject returns the first balanced {...} in raw, skipping
// any prose or markdown fences around it. Brace matching is aware of
// JSON strings and escapes.
func ExtractJSONObject(raw string) ([]byte, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return nil, fmt.Errorf("no JSON object in output")
	}
	depth := 0
	inStr := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			escaped = false
		case inStr:
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inStr = false
			}
		case c == '"':
			inStr = true
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return []byte(raw[start : i+1]), nil
			}
		}
	}
	return nil, fmt.Errorf("unterminated JSON object in output")
}

// validateAgainst runs schema validation over the decoded form, then a
// strict decode into out. Unknown fields fail both layers.
func validateAgainst(schema *jsonschema.Schema, obj []byte, out any) error {
	var v any
	if err := json.Unmarshal(obj, &v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(obj))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[truncated]"
}

func writeList(sb *strings.Builder, heading string, items []string, max int) {
	if len(items) == 0 {
		return
	}
	if len(items) > max {
		items = items[:max]
	}
	sb.WriteString("\n")
	sb.WriteString(heading)
	sb.WriteString(":\n")
	for _, it := range items {
		sb.WriteString("- ")
		sb.WriteString(it)
		sb.WriteString("\n")
	}
}
