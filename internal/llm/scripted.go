package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptStep is one canned turn for a ScriptedProvider.
type ScriptStep struct {
	Response string
	Err      error
}

// ScriptedProvider replays a fixed sequence of responses. It backs the
// pipeline tests and the single-node dry-run mode, where the stages run
// end to end without a real backend.
type ScriptedProvider struct {
	mu    sync.Mutex
	name  string
	steps []ScriptStep
	calls []Request
}

func NewScripted(steps ...ScriptStep) *ScriptedProvider {
	return &ScriptedProvider{name: "scripted", steps: steps}
}

func (p *ScriptedProvider) Name() string {
	return p.name
}

// Append queues more steps after construction. Useful when a test
// scripts one stage at a time.
func (p *ScriptedProvider) Append(steps ...ScriptStep) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, steps...)
}

func (p *ScriptedProvider) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if len(p.steps) == 0 {
		return "", fmt.Errorf("scripted provider exhausted after %d calls", len(p.calls))
	}
	step := p.steps[0]
	p.steps = p.steps[1:]
	if step.Err != nil {
		return "", step.Err
	}
	return step.Response, nil
}

// Calls returns a copy of every request seen so far, in order.
func (p *ScriptedProvider) Calls() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.calls))
	copy(out, p.calls)
	return out
}

// Remaining reports how many scripted steps are still queued. Tests use
// it to assert a stage consumed exactly the turns it was given.
func (p *ScriptedProvider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.steps)
}
