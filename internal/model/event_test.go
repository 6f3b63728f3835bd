package model

import (
	"testing"
	"time"
)

func sampleEvent() NormalizedPipelineEvent {
	return NormalizedPipelineEvent{
		Provider:    "github",
		Repo:        "org/repo",
		CommitSHA:   "deadbeef",
		Branch:      "main",
		RunID:       "42",
		JobID:       "7",
		Attempt:     1,
		Stage:       "test",
		FailureType: "test_failure",
		Conclusion:  "failure",
		ReceivedAt:  time.Now().UTC(),
	}
}

func TestNormalizedPipelineEvent_IdempotencyKey(t *testing.T) {
	ev := sampleEvent()
	want := "github:org/repo:42:7:1"
	if got := ev.IdempotencyKey(); got != want {
		t.Fatalf("IdempotencyKey()=%q want %q", got, want)
	}
	ev.Attempt = 2
	if ev.IdempotencyKey() == want {
		t.Fatalf("attempt must be part of the key")
	}
}

func TestNormalizedPipelineEvent_Validate(t *testing.T) {
	ev := sampleEvent()
	if err := ev.Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}
	for _, mutate := range []func(*NormalizedPipelineEvent){
		func(e *NormalizedPipelineEvent) { e.Provider = "" },
		func(e *NormalizedPipelineEvent) { e.Repo = "" },
		func(e *NormalizedPipelineEvent) { e.RunID = "" },
		func(e *NormalizedPipelineEvent) { e.JobID = "" },
		func(e *NormalizedPipelineEvent) { e.Attempt = 0 },
	} {
		bad := sampleEvent()
		mutate(&bad)
		if err := bad.Validate(); err == nil {
			t.Fatalf("expected validation error for %+v", bad)
		}
	}
}

func TestNormalizedPipelineEvent_IsFailure(t *testing.T) {
	cases := []struct {
		conclusion string
		want       bool
	}{
		{"failure", true},
		{"failed", true},
		{"timed_out", true},
		{"cancelled", true},
		{"canceled", true},
		{"success", false},
		{"neutral", false},
		{"", false},
	}
	for _, tc := range cases {
		ev := sampleEvent()
		ev.Conclusion = tc.conclusion
		if got := ev.IsFailure(); got != tc.want {
			t.Fatalf("IsFailure(%q)=%v want %v", tc.conclusion, got, tc.want)
		}
	}
}
