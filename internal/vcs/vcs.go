// Package vcs is the version-control seam the pipeline pushes fixes
// through. The core depends only on Client; the GitHub implementation
// lives here so the daemon can run against real repositories, and the
// Fake backs tests and dry runs.
package vcs

import (
	"context"
	"fmt"
)

// PullRequest is the outcome of CreatePullRequest.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Branch string `json:"branch"`
	Title  string `json:"title"`
}

// PROptions describes the pull request to open. Head must already exist;
// push the fix branch first.
type PROptions struct {
	Repo   string
	Title  string
	Body   string
	Head   string
	Base   string
	Labels []string
}

// Client covers every repository operation the pipeline performs. A
// missing file from ReadFile must satisfy errors.Is(err, fs.ErrNotExist).
type Client interface {
	// FetchJobLog downloads the log for one CI job. With an empty jobID it
	// concatenates the logs of every failed job in the run.
	FetchJobLog(ctx context.Context, repo, runID, jobID string) (string, error)

	// ListFiles returns the top-level file names at ref, for adapter
	// detection heuristics.
	ListFiles(ctx context.Context, repo, ref string) ([]string, error)

	// ReadFile returns the content of one file at ref.
	ReadFile(ctx context.Context, repo, ref, path string) (string, error)

	// PushFixBranch creates or force-updates branch on top of baseSHA with
	// the given file contents committed.
	PushFixBranch(ctx context.Context, repo, baseSHA, branch string, files map[string]string, message string) error

	CreatePullRequest(ctx context.Context, opts PROptions) (*PullRequest, error)
	CommentOnPR(ctx context.Context, repo string, number int, body string) error
	MergePullRequest(ctx context.Context, repo string, number int) error
}

// RequestError is a non-2xx provider response. Server-side statuses and
// rate limits are retryable; client errors are not.
type RequestError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("vcs: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *RequestError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// Retryable reports whether err is worth retrying with backoff.
func Retryable(err error) bool {
	type retryable interface{ Retryable() bool }
	if r, ok := err.(retryable); ok {
		return r.Retryable()
	}
	return false
}
