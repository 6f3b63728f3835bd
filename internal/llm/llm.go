// Package llm abstracts the language model behind the intelligence
// stages. Concrete HTTP adapters live outside the core; the pipeline
// only depends on Provider, the circuit-breaker wrapper, and the
// scripted provider used by tests and single-node dry runs.
package llm

import (
	"context"
	"strings"
)

// Request is one completion call. Stages always run at temperature 0;
// the field exists so tests can assert it was requested.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return &ConfigurationError{Message: "prompt is required"}
	}
	if r.MaxTokens < 0 {
		return &ConfigurationError{Message: "max tokens must be >= 0"}
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return &ConfigurationError{Message: "temperature out of range"}
	}
	return nil
}

// Provider produces a completion for a prompt. Implementations return
// taxonomy errors so callers can branch on retryability.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}
