package vcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"sort"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.github.com"

// GitHub talks to the GitHub REST API. It covers exactly the surface the
// pipeline needs: job logs, file reads, fix-branch pushes, and pull
// request lifecycle.
type GitHub struct {
	base   string
	token  string
	client *http.Client
}

// NewGitHub builds a client. An empty baseURL selects api.github.com.
func NewGitHub(baseURL, token string) *GitHub {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultAPIBase
	}
	return &GitHub{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *GitHub) do(ctx context.Context, op, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("vcs: %s: encode: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.base+path, rd)
	if err != nil {
		return fmt.Errorf("vcs: %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("vcs: %s: %w", op, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("vcs: %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RequestError{Op: op, StatusCode: resp.StatusCode, Body: clip(string(data), 300)}
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw = data
		return nil
	}
	return json.Unmarshal(data, out)
}

// FetchJobLog downloads one job's log, or with an empty jobID the
// concatenated logs of every failed job in the run.
func (g *GitHub) FetchJobLog(ctx context.Context, repo, runID, jobID string) (string, error) {
	if jobID != "" {
		var raw []byte
		err := g.do(ctx, "job log", http.MethodGet,
			fmt.Sprintf("/repos/%s/actions/jobs/%s/logs", repo, jobID), nil, &raw)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}

	var jobs struct {
		Jobs []struct {
			ID         int64  `json:"id"`
			Name       string `json:"name"`
			Conclusion string `json:"conclusion"`
		} `json:"jobs"`
	}
	err := g.do(ctx, "list run jobs", http.MethodGet,
		fmt.Sprintf("/repos/%s/actions/runs/%s/jobs?per_page=100", repo, runID), nil, &jobs)
	if err != nil {
		return "", err
	}
	var parts []string
	for _, j := range jobs.Jobs {
		switch strings.ToLower(j.Conclusion) {
		case "failure", "timed_out", "cancelled":
		default:
			continue
		}
		var raw []byte
		err := g.do(ctx, "job log", http.MethodGet,
			fmt.Sprintf("/repos/%s/actions/jobs/%d/logs", repo, j.ID), nil, &raw)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("=== %s ===\n%s", j.Name, raw))
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("vcs: no failed jobs in run %s", runID)
	}
	return strings.Join(parts, "\n"), nil
}

func (g *GitHub) ListFiles(ctx context.Context, repo, ref string) ([]string, error) {
	var entries []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	path := fmt.Sprintf("/repos/%s/contents/?ref=%s", repo, ref)
	if err := g.do(ctx, "list files", http.MethodGet, path, nil, &entries); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type == "file" {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (g *GitHub) ReadFile(ctx context.Context, repo, ref, path string) (string, error) {
	var file struct {
		Encoding string `json:"encoding"`
		Content  string `json:"content"`
	}
	err := g.do(ctx, "read file", http.MethodGet,
		fmt.Sprintf("/repos/%s/contents/%s?ref=%s", repo, path, ref), nil, &file)
	if err != nil {
		var re *RequestError
		if asRequestError(err, &re) && re.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("vcs: %s: %w", path, fs.ErrNotExist)
		}
		return "", err
	}
	if file.Encoding != "base64" {
		return file.Content, nil
	}
	decoded, err := decodeBase64(file.Content)
	if err != nil {
		return "", fmt.Errorf("vcs: read file %s: %w", path, err)
	}
	return decoded, nil
}

// PushFixBranch commits files on top of baseSHA through the git data API
// and points branch at the commit, creating or force-updating the ref.
func (g *GitHub) PushFixBranch(ctx context.Context, repo, baseSHA, branch string, files map[string]string, message string) error {
	var baseCommit struct {
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	}
	err := g.do(ctx, "get base commit", http.MethodGet,
		fmt.Sprintf("/repos/%s/git/commits/%s", repo, baseSHA), nil, &baseCommit)
	if err != nil {
		return err
	}

	type treeEntry struct {
		Path    string `json:"path"`
		Mode    string `json:"mode"`
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	entries := make([]treeEntry, 0, len(paths))
	for _, p := range paths {
		entries = append(entries, treeEntry{Path: p, Mode: "100644", Type: "blob", Content: files[p]})
	}

	var tree struct {
		SHA string `json:"sha"`
	}
	err = g.do(ctx, "create tree", http.MethodPost,
		fmt.Sprintf("/repos/%s/git/trees", repo),
		map[string]any{"base_tree": baseCommit.Tree.SHA, "tree": entries}, &tree)
	if err != nil {
		return err
	}

	var commit struct {
		SHA string `json:"sha"`
	}
	err = g.do(ctx, "create commit", http.MethodPost,
		fmt.Sprintf("/repos/%s/git/commits", repo),
		map[string]any{"message": message, "tree": tree.SHA, "parents": []string{baseSHA}}, &commit)
	if err != nil {
		return err
	}

	err = g.do(ctx, "create ref", http.MethodPost,
		fmt.Sprintf("/repos/%s/git/refs", repo),
		map[string]any{"ref": "refs/heads/" + branch, "sha": commit.SHA}, nil)
	if err == nil {
		return nil
	}
	var re *RequestError
	if asRequestError(err, &re) && re.StatusCode == http.StatusUnprocessableEntity {
		// Ref exists; force it onto the new commit.
		return g.do(ctx, "update ref", http.MethodPatch,
			fmt.Sprintf("/repos/%s/git/refs/heads/%s", repo, branch),
			map[string]any{"sha": commit.SHA, "force": true}, nil)
	}
	return err
}

func (g *GitHub) CreatePullRequest(ctx context.Context, opts PROptions) (*PullRequest, error) {
	var created struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	err := g.do(ctx, "create pr", http.MethodPost,
		fmt.Sprintf("/repos/%s/pulls", opts.Repo),
		map[string]any{
			"title": opts.Title,
			"body":  opts.Body,
			"head":  opts.Head,
			"base":  opts.Base,
		}, &created)
	if err != nil {
		return nil, err
	}
	if len(opts.Labels) > 0 {
		err = g.do(ctx, "label pr", http.MethodPost,
			fmt.Sprintf("/repos/%s/issues/%d/labels", opts.Repo, created.Number),
			map[string]any{"labels": opts.Labels}, nil)
		if err != nil {
			return nil, err
		}
	}
	return &PullRequest{
		Number: created.Number,
		URL:    created.HTMLURL,
		Branch: opts.Head,
		Title:  opts.Title,
	}, nil
}

func (g *GitHub) CommentOnPR(ctx context.Context, repo string, number int, body string) error {
	return g.do(ctx, "comment", http.MethodPost,
		fmt.Sprintf("/repos/%s/issues/%d/comments", repo, number),
		map[string]any{"body": body}, nil)
}

func (g *GitHub) MergePullRequest(ctx context.Context, repo string, number int) error {
	return g.do(ctx, "merge", http.MethodPut,
		fmt.Sprintf("/repos/%s/pulls/%d/merge", repo, number),
		map[string]any{"merge_method": "squash"}, nil)
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
