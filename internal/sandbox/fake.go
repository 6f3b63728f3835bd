package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FakeRuntime is a scripted Runtime for tests. Commands match scripted
// entries by substring; unmatched commands succeed with empty output.
type FakeRuntime struct {
	mu sync.Mutex

	// Script maps a command substring to its result.
	Script map[string]StepResult
	// OpenErr, when set, fails Open.
	OpenErr error

	Workspaces []*FakeWorkspace
}

func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{Script: map[string]StepResult{}}
}

// On scripts the result for any command containing match.
func (f *FakeRuntime) On(match string, exitCode int, output string) *FakeRuntime {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Script[match] = StepResult{ExitCode: exitCode, Output: output}
	return f
}

func (f *FakeRuntime) Open(_ context.Context, opts WorkspaceOptions) (Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	ws := &FakeWorkspace{parent: f, Opts: opts, Files: map[string][]byte{}}
	f.Workspaces = append(f.Workspaces, ws)
	return ws, nil
}

// FakeWorkspace records everything executed against it.
type FakeWorkspace struct {
	parent *FakeRuntime

	mu       sync.Mutex
	Opts     WorkspaceOptions
	Commands []string
	Files    map[string][]byte

	NetworkDisabled bool
	Closed          bool
}

func (w *FakeWorkspace) Exec(ctx context.Context, name, command string, _ time.Duration) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{Name: name, Command: command}, err
	}
	w.mu.Lock()
	w.Commands = append(w.Commands, command)
	w.mu.Unlock()

	w.parent.mu.Lock()
	defer w.parent.mu.Unlock()
	for match, res := range w.parent.Script {
		if strings.Contains(command, match) {
			res.Name = name
			res.Command = command
			return res, nil
		}
	}
	return StepResult{Name: name, Command: command, ExitCode: 0}, nil
}

func (w *FakeWorkspace) WriteFile(_ context.Context, path string, content []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Files[path] = append([]byte(nil), content...)
	return nil
}

func (w *FakeWorkspace) DisableNetwork(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.NetworkDisabled = true
	return nil
}

func (w *FakeWorkspace) Close(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Closed {
		return fmt.Errorf("sandbox: workspace closed twice")
	}
	w.Closed = true
	return nil
}

// Ran reports whether any executed command contains match.
func (w *FakeWorkspace) Ran(match string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range w.Commands {
		if strings.Contains(c, match) {
			return true
		}
	}
	return false
}
