package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestStageError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStageError("rca", ClassTransient, cause)

	if !strings.Contains(err.Error(), "rca") || !strings.Contains(err.Error(), "transient") {
		t.Fatalf("message: %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatalf("Unwrap lost the cause")
	}

	bare := NewStageError("plan", ClassParse, nil)
	if bare.Error() != "stage plan failed (parse)" {
		t.Fatalf("message without cause: %q", bare.Error())
	}
}

func TestStageError_Retryable(t *testing.T) {
	cases := []struct {
		kind ErrorClass
		want bool
	}{
		{ClassIngestion, false},
		{ClassParse, false},
		{ClassPolicy, false},
		{ClassSandbox, false},
		{ClassTransient, true},
		{ClassConflict, false},
		{ClassFatal, false},
	}
	for _, tc := range cases {
		err := NewStageError("s", tc.kind, nil)
		if err.Retryable() != tc.want {
			t.Fatalf("%s: retryable=%t want %t", tc.kind, err.Retryable(), tc.want)
		}
	}
}

func TestClassOf(t *testing.T) {
	if got := ClassOf(NewStageError("patch", ClassPolicy, nil)); got != ClassPolicy {
		t.Fatalf("got %s", got)
	}

	wrapped := fmt.Errorf("worker: %w", NewStageError("pr", ClassConflict, errors.New("status moved")))
	if got := ClassOf(wrapped); got != ClassConflict {
		t.Fatalf("wrapped: got %s", got)
	}
	if !IsConflict(wrapped) {
		t.Fatalf("IsConflict false on conflict error")
	}

	if got := ClassOf(errors.New("anonymous")); got != ClassFatal {
		t.Fatalf("untagged errors must be fatal, got %s", got)
	}
	if IsTransient(errors.New("anonymous")) {
		t.Fatalf("untagged errors must not retry")
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(NewStageError("context", ClassTransient, errors.New("redis timeout"))) {
		t.Fatalf("transient stage error not detected")
	}
	if IsTransient(NewStageError("context", ClassFatal, nil)) {
		t.Fatalf("fatal misreported as transient")
	}
}
