package llm

import (
	"context"
	"strings"
	"testing"
)

func TestScripted_PlaysStepsInOrder(t *testing.T) {
	p := NewScripted(
		ScriptStep{Response: "first"},
		ScriptStep{Response: "second"},
	)

	for _, want := range []string{"first", "second"} {
		got, err := p.Generate(context.Background(), Request{Prompt: "go"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	}

	_, err := p.Generate(context.Background(), Request{Prompt: "go"})
	if err == nil || !strings.Contains(err.Error(), "exhausted") {
		t.Fatalf("expected exhaustion error, got %v", err)
	}
}

func TestScripted_RecordsCalls(t *testing.T) {
	p := NewScripted(ScriptStep{Response: "ok"})
	req := Request{System: "sys", Prompt: "analyze", MaxTokens: 512}
	if _, err := p.Generate(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls: %d", len(calls))
	}
	if calls[0].Prompt != "analyze" || calls[0].System != "sys" || calls[0].MaxTokens != 512 {
		t.Fatalf("recorded call mismatch: %+v", calls[0])
	}
}

func TestScripted_ValidateRejectsWithoutConsumingStep(t *testing.T) {
	p := NewScripted(ScriptStep{Response: "ok"})
	_, err := p.Generate(context.Background(), Request{Prompt: "   "})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if IsRetryable(err) {
		t.Fatalf("validation errors must not retry")
	}
	if p.Remaining() != 1 {
		t.Fatalf("step consumed by invalid request")
	}
	if len(p.Calls()) != 0 {
		t.Fatalf("invalid request recorded")
	}
}

func TestScripted_Append(t *testing.T) {
	p := NewScripted()
	p.Append(ScriptStep{Response: "late"})
	got, err := p.Generate(context.Background(), Request{Prompt: "go"})
	if err != nil || got != "late" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestScripted_ContextCancelled(t *testing.T) {
	p := NewScripted(ScriptStep{Response: "ok"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Generate(ctx, Request{Prompt: "go"}); err == nil {
		t.Fatalf("expected context error")
	}
	if p.Remaining() != 1 {
		t.Fatalf("step consumed after cancellation")
	}
}
