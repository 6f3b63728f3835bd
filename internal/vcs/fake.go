package vcs

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"sync"
)

// Fake is an in-memory Client for tests and dry runs. Every mutation is
// recorded so assertions can inspect what the pipeline pushed.
type Fake struct {
	mu sync.Mutex

	// Files maps path to content at the (single) simulated ref.
	Files map[string]string
	// Logs maps "runID/jobID" (or just runID) to log text.
	Logs map[string]string

	Branches map[string]map[string]string // branch -> files committed
	PRs      []*PullRequest
	Comments []string
	Merged   []int

	nextPR int

	// Err, when set, is returned by every call. Tests use it to simulate
	// provider outages.
	Err error
}

func NewFake() *Fake {
	return &Fake{
		Files:    map[string]string{},
		Logs:     map[string]string{},
		Branches: map[string]map[string]string{},
		nextPR:   1,
	}
}

func (f *Fake) FetchJobLog(_ context.Context, _, runID, jobID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	if jobID != "" {
		if log, ok := f.Logs[runID+"/"+jobID]; ok {
			return log, nil
		}
	}
	if log, ok := f.Logs[runID]; ok {
		return log, nil
	}
	return "", fmt.Errorf("vcs: no log for run %s", runID)
}

func (f *Fake) ListFiles(context.Context, string, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	names := make([]string, 0, len(f.Files))
	for p := range f.Files {
		names = append(names, p)
	}
	sort.Strings(names)
	return names, nil
}

func (f *Fake) ReadFile(_ context.Context, _, _, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	content, ok := f.Files[path]
	if !ok {
		return "", fmt.Errorf("vcs: %s: %w", path, fs.ErrNotExist)
	}
	return content, nil
}

func (f *Fake) PushFixBranch(_ context.Context, _, _, branch string, files map[string]string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	committed := make(map[string]string, len(files))
	for p, c := range files {
		committed[p] = c
	}
	f.Branches[branch] = committed
	return nil
}

func (f *Fake) CreatePullRequest(_ context.Context, opts PROptions) (*PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	pr := &PullRequest{
		Number: f.nextPR,
		URL:    fmt.Sprintf("https://example.test/%s/pull/%d", opts.Repo, f.nextPR),
		Branch: opts.Head,
		Title:  opts.Title,
	}
	f.nextPR++
	f.PRs = append(f.PRs, pr)
	return pr, nil
}

func (f *Fake) CommentOnPR(_ context.Context, _ string, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Comments = append(f.Comments, fmt.Sprintf("#%d: %s", number, body))
	return nil
}

func (f *Fake) MergePullRequest(_ context.Context, _ string, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Merged = append(f.Merged, number)
	return nil
}
