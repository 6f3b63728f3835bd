package llm

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorFromHTTPStatus_MappingAndRetryable(t *testing.T) {
	cases := []struct {
		status    int
		want      string
		retryable bool
	}{
		{status: 400, want: "*llm.InvalidRequestError", retryable: false},
		{status: 401, want: "*llm.AuthenticationError", retryable: false},
		{status: 403, want: "*llm.AuthenticationError", retryable: false},
		{status: 408, want: "*llm.RequestTimeoutError", retryable: true},
		{status: 413, want: "*llm.ContextLengthError", retryable: false},
		{status: 422, want: "*llm.InvalidRequestError", retryable: false},
		{status: 429, want: "*llm.RateLimitError", retryable: true},
		{status: 500, want: "*llm.ServerError", retryable: true},
		{status: 503, want: "*llm.ServerError", retryable: true},
		{status: 599, want: "*llm.UnknownHTTPError", retryable: true},
	}
	for _, tc := range cases {
		err := ErrorFromHTTPStatus("p", tc.status, "msg", nil)
		if got := fmt.Sprintf("%T", err); got != tc.want {
			t.Fatalf("status %d: got %s want %s", tc.status, got, tc.want)
		}
		e, ok := err.(Error)
		if !ok {
			t.Fatalf("status %d: not an llm.Error (%T)", tc.status, err)
		}
		if e.Retryable() != tc.retryable {
			t.Fatalf("status %d: retryable=%t want %t", tc.status, e.Retryable(), tc.retryable)
		}
		if e.StatusCode() != tc.status {
			t.Fatalf("status %d: StatusCode()=%d", tc.status, e.StatusCode())
		}
	}
}

func TestErrorFromHTTPStatus_MessageBasedClassification(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		message string
		want    string
	}{
		{"400 content filter", 400, "content filter policy violated", "*llm.ContentFilterError"},
		{"400 safety", 400, "blocked by safety settings", "*llm.ContentFilterError"},
		{"400 context length", 400, "context length exceeded", "*llm.ContextLengthError"},
		{"400 too many tokens", 400, "too many tokens in request", "*llm.ContextLengthError"},
		{"400 unauthorized", 400, "invalid key", "*llm.AuthenticationError"},
		{"400 plain", 400, "bad request", "*llm.InvalidRequestError"},
		{"422 content filter", 422, "this violates safety policy", "*llm.ContentFilterError"},
		{"422 plain", 422, "invalid field", "*llm.InvalidRequestError"},
		{"429 not refined", 429, "safety quota", "*llm.RateLimitError"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ErrorFromHTTPStatus("p", tc.status, tc.message, nil)
			if got := fmt.Sprintf("%T", err); got != tc.want {
				t.Fatalf("ErrorFromHTTPStatus(%d, %q) = %s, want %s", tc.status, tc.message, got, tc.want)
			}
		})
	}
}

func TestErrorFromHTTPStatus_RetryAfterCarried(t *testing.T) {
	after := 12 * time.Second
	err := ErrorFromHTTPStatus("p", 429, "slow down", &after)
	e, ok := err.(Error)
	if !ok {
		t.Fatalf("not an llm.Error: %T", err)
	}
	if e.RetryAfter() == nil || *e.RetryAfter() != after {
		t.Fatalf("RetryAfter: %v", e.RetryAfter())
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ErrorFromHTTPStatus("p", 500, "", nil)) {
		t.Fatalf("server error should be retryable")
	}
	if IsRetryable(ErrorFromHTTPStatus("p", 401, "", nil)) {
		t.Fatalf("auth error should not be retryable")
	}
	if !IsRetryable(&CircuitOpenError{ProviderName: "p"}) {
		t.Fatalf("circuit open should be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("untyped error should not be retryable")
	}
	if IsRetryable(nil) {
		t.Fatalf("nil should not be retryable")
	}
}

func TestIsRetryable_Wrapped(t *testing.T) {
	inner := ErrorFromHTTPStatus("p", 429, "busy", nil)
	wrapped := fmt.Errorf("rca stage: %w", inner)
	if !IsRetryable(wrapped) {
		t.Fatalf("wrapping should not hide retryability")
	}
}

func TestConfigurationError_NotRetryable(t *testing.T) {
	var e Error = &ConfigurationError{Message: "prompt is required"}
	if e.Retryable() {
		t.Fatalf("configuration errors must not retry")
	}
	if e.Provider() != "" {
		t.Fatalf("Provider: %q", e.Provider())
	}
}
