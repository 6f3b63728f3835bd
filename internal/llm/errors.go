package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error is the unified error surface returned by providers and wrappers.
// The orchestrator branches on Retryable(); everything else is context
// for logs and artifacts.
type Error interface {
	error
	Provider() string
	StatusCode() int
	Retryable() bool
	RetryAfter() *time.Duration
}

type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "llm configuration error: " + strings.TrimSpace(e.Message)
}
func (e *ConfigurationError) Provider() string           { return "" }
func (e *ConfigurationError) StatusCode() int            { return 0 }
func (e *ConfigurationError) Retryable() bool            { return false }
func (e *ConfigurationError) RetryAfter() *time.Duration { return nil }

type errorBase struct {
	provider   string
	statusCode int
	message    string
	retryable  bool
	retryAfter *time.Duration
}

func (e *errorBase) Error() string {
	msg := strings.TrimSpace(e.message)
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("%s error (status=%d): %s", e.provider, e.statusCode, msg)
}
func (e *errorBase) Provider() string           { return e.provider }
func (e *errorBase) StatusCode() int            { return e.statusCode }
func (e *errorBase) Retryable() bool            { return e.retryable }
func (e *errorBase) RetryAfter() *time.Duration { return e.retryAfter }

type InvalidRequestError struct{ errorBase }
type AuthenticationError struct{ errorBase }
type ContextLengthError struct{ errorBase }
type ContentFilterError struct{ errorBase }
type RateLimitError struct{ errorBase }
type RequestTimeoutError struct{ errorBase }
type ServerError struct{ errorBase }
type UnknownHTTPError struct{ errorBase }

// CircuitOpenError reports a call short-circuited by the breaker. It is
// retryable: the pipeline backs off and the breaker heals on its own.
type CircuitOpenError struct {
	ProviderName string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("%s provider circuit open", e.ProviderName)
}
func (e *CircuitOpenError) Provider() string           { return e.ProviderName }
func (e *CircuitOpenError) StatusCode() int            { return 0 }
func (e *CircuitOpenError) Retryable() bool            { return true }
func (e *CircuitOpenError) RetryAfter() *time.Duration { return nil }

// ErrorFromHTTPStatus classifies a provider HTTP failure. Ambiguous 400s
// are refined by message hints; unknown statuses default to retryable.
func ErrorFromHTTPStatus(provider string, statusCode int, message string, retryAfter *time.Duration) error {
	base := errorBase{
		provider:   strings.TrimSpace(provider),
		statusCode: statusCode,
		message:    message,
		retryAfter: retryAfter,
	}
	switch statusCode {
	case 400, 422:
		base.retryable = false
		if err := classifyByMessage(base); err != nil {
			return err
		}
		return &InvalidRequestError{base}
	case 401, 403:
		base.retryable = false
		return &AuthenticationError{base}
	case 408:
		base.retryable = true
		return &RequestTimeoutError{base}
	case 413:
		base.retryable = false
		return &ContextLengthError{base}
	case 429:
		base.retryable = true
		return &RateLimitError{base}
	case 500, 502, 503, 504:
		base.retryable = true
		return &ServerError{base}
	default:
		base.retryable = true
		return &UnknownHTTPError{base}
	}
}

func classifyByMessage(base errorBase) error {
	lower := strings.ToLower(base.message)
	switch {
	case strings.Contains(lower, "content filter") || strings.Contains(lower, "safety"):
		return &ContentFilterError{base}
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		return &ContextLengthError{base}
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid key"):
		return &AuthenticationError{base}
	}
	return nil
}

// IsRetryable reports whether an error is worth another attempt after
// backoff. Errors outside the taxonomy are not retried.
func IsRetryable(err error) bool {
	var lerr Error
	if errors.As(err, &lerr) {
		return lerr.Retryable()
	}
	return false
}
