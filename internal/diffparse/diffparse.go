// Package diffparse parses, applies, and renders unified diffs.
//
// The parser accepts both git-style diffs ("diff --git" headers) and plain
// unified diffs ("---"/"+++" only). Paths are normalized: backslashes become
// slashes, leading "./" and the git "a/"/"b/" prefixes are stripped.
package diffparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DevNull is the path git uses for the missing side of a create or delete.
const DevNull = "/dev/null"

// LineKind tags one body line of a hunk.
type LineKind byte

const (
	LineContext LineKind = ' '
	LineAdd     LineKind = '+'
	LineDel     LineKind = '-'
)

// HunkLine is a single body line without its leading marker.
type HunkLine struct {
	Kind LineKind
	Text string
}

// Hunk is one @@ block. Counts follow the unified format: a missing count
// means 1.
type Hunk struct {
	OldStart, OldCount int
	NewStart, NewCount int
	Section            string
	Lines              []HunkLine
}

// FilePatch is the parsed change for one file.
type FilePatch struct {
	OldPath string // normalized, or /dev/null for a created file
	NewPath string // normalized, or /dev/null for a deleted file
	Binary  bool
	Hunks   []*Hunk
}

// Path returns the effective path of the patch: the new path, unless the
// file was deleted.
func (f *FilePatch) Path() string {
	if f.NewPath != DevNull && f.NewPath != "" {
		return f.NewPath
	}
	return f.OldPath
}

// IsNew reports whether the patch creates the file.
func (f *FilePatch) IsNew() bool { return f.OldPath == DevNull }

// IsDelete reports whether the patch deletes the file.
func (f *FilePatch) IsDelete() bool { return f.NewPath == DevNull }

// LinesAdded counts '+' body lines across all hunks.
func (f *FilePatch) LinesAdded() int {
	n := 0
	for _, h := range f.Hunks {
		for _, l := range h.Lines {
			if l.Kind == LineAdd {
				n++
			}
		}
	}
	return n
}

// LinesRemoved counts '-' body lines across all hunks.
func (f *FilePatch) LinesRemoved() int {
	n := 0
	for _, h := range f.Hunks {
		for _, l := range h.Lines {
			if l.Kind == LineDel {
				n++
			}
		}
	}
	return n
}

// AddedLines returns the text of every '+' body line in order.
func (f *FilePatch) AddedLines() []string {
	var out []string
	for _, h := range f.Hunks {
		for _, l := range h.Lines {
			if l.Kind == LineAdd {
				out = append(out, l.Text)
			}
		}
	}
	return out
}

// Diff is a parsed multi-file unified diff.
type Diff struct {
	Files []*FilePatch
	Bytes int // len of the original diff text
}

// FileStat is the per-file tally surfaced in patch statistics.
type FileStat struct {
	Path         string `json:"path"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
}

// Stats is the aggregate summary persisted as the patch_stats stage blob.
type Stats struct {
	Files             []FileStat `json:"files"`
	TotalFiles        int        `json:"total_files"`
	TotalLinesAdded   int        `json:"total_lines_added"`
	TotalLinesRemoved int        `json:"total_lines_removed"`
	DiffBytes         int        `json:"diff_bytes"`
}

// Stats aggregates the diff into the persisted summary shape.
func (d *Diff) Stats() Stats {
	s := Stats{
		Files:      make([]FileStat, 0, len(d.Files)),
		TotalFiles: len(d.Files),
		DiffBytes:  d.Bytes,
	}
	for _, f := range d.Files {
		fs := FileStat{Path: f.Path(), LinesAdded: f.LinesAdded(), LinesRemoved: f.LinesRemoved()}
		s.Files = append(s.Files, fs)
		s.TotalLinesAdded += fs.LinesAdded
		s.TotalLinesRemoved += fs.LinesRemoved
	}
	return s
}

// Paths returns the effective path of every file in the diff, in order.
func (d *Diff) Paths() []string {
	out := make([]string, 0, len(d.Files))
	for _, f := range d.Files {
		out = append(out, f.Path())
	}
	return out
}

// NormalizePath canonicalizes a diff path: backslashes to slashes, leading
// "./" and the single-letter git prefixes ("a/", "b/") stripped. /dev/null
// passes through unchanged.
func NormalizePath(p string) string {
	if p == DevNull || p == "" {
		return p
	}
	p = strings.ReplaceAll(p, `\`, "/")
	if strings.HasPrefix(p, "a/") || strings.HasPrefix(p, "b/") {
		p = p[2:]
	}
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return p
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@(.*)$`)

// Parse decodes a unified diff. It tolerates git metadata lines (index,
// mode changes, rename markers) and ignores "\ No newline at end of file".
func Parse(text string) (*Diff, error) {
	d := &Diff{Bytes: len(text)}
	if strings.TrimSpace(text) == "" {
		return d, nil
	}

	lines := strings.Split(text, "\n")
	var (
		cur      *FilePatch
		hunk     *Hunk
		oldLeft  int
		newLeft  int
		lastFrom string // pending "---" path awaiting its "+++"
	)

	startFile := func() *FilePatch {
		f := &FilePatch{}
		d.Files = append(d.Files, f)
		return f
	}

	for i, line := range lines {
		// Hunk body runs until both sides are exhausted. This must come
		// first: body lines may themselves start with "---" or "+++".
		if hunk != nil && (oldLeft > 0 || newLeft > 0) {
			if strings.HasPrefix(line, `\`) {
				continue // "\ No newline at end of file"
			}
			var kind LineKind
			var body string
			switch {
			case strings.HasPrefix(line, "+"):
				kind, body = LineAdd, line[1:]
				newLeft--
			case strings.HasPrefix(line, "-"):
				kind, body = LineDel, line[1:]
				oldLeft--
			case strings.HasPrefix(line, " "):
				kind, body = LineContext, line[1:]
				oldLeft--
				newLeft--
			case line == "":
				// Some producers emit empty context lines.
				kind, body = LineContext, ""
				oldLeft--
				newLeft--
			default:
				return nil, fmt.Errorf("diffparse: line %d: unexpected %q inside hunk", i+1, line)
			}
			hunk.Lines = append(hunk.Lines, HunkLine{Kind: kind, Text: body})
			continue
		}
		hunk = nil

		switch {
		case strings.HasPrefix(line, "diff --git "):
			cur = startFile()
			lastFrom = ""
			if old, new, ok := splitGitHeader(line); ok {
				cur.OldPath = NormalizePath(old)
				cur.NewPath = NormalizePath(new)
			}

		case strings.HasPrefix(line, "--- "):
			lastFrom = NormalizePath(strings.TrimSuffix(line[4:], "\t"))

		case strings.HasPrefix(line, "+++ "):
			if cur == nil || len(cur.Hunks) > 0 {
				cur = startFile()
			}
			if lastFrom != "" {
				cur.OldPath = lastFrom
				lastFrom = ""
			}
			cur.NewPath = NormalizePath(strings.TrimSuffix(line[4:], "\t"))

		case strings.HasPrefix(line, "@@ "):
			if cur == nil {
				return nil, fmt.Errorf("diffparse: line %d: hunk before file header", i+1)
			}
			m := hunkHeaderRe.FindStringSubmatch(line)
			if m == nil {
				return nil, fmt.Errorf("diffparse: line %d: malformed hunk header %q", i+1, line)
			}
			hunk = &Hunk{
				OldStart: atoiDefault(m[1], 0),
				OldCount: atoiDefault(m[2], 1),
				NewStart: atoiDefault(m[3], 0),
				NewCount: atoiDefault(m[4], 1),
				Section:  strings.TrimSpace(m[5]),
			}
			oldLeft, newLeft = hunk.OldCount, hunk.NewCount
			cur.Hunks = append(cur.Hunks, hunk)

		case strings.HasPrefix(line, "Binary files "):
			if cur == nil {
				cur = startFile()
			}
			cur.Binary = true

		default:
			// index/mode/rename/similarity metadata and trailing blanks.
		}
	}

	if hunk != nil && (oldLeft > 0 || newLeft > 0) {
		return nil, fmt.Errorf("diffparse: truncated hunk, %d/%d lines missing", oldLeft, newLeft)
	}
	if len(d.Files) == 0 {
		return nil, fmt.Errorf("diffparse: no file headers found")
	}
	for _, f := range d.Files {
		if f.Path() == "" {
			return nil, fmt.Errorf("diffparse: file entry without a usable path")
		}
	}
	return d, nil
}

// splitGitHeader extracts the two paths from a "diff --git a/X b/Y" line.
// Paths containing " b/" are ambiguous in this format; the first occurrence
// wins, which matches git's own behavior for unquoted paths.
func splitGitHeader(line string) (oldPath, newPath string, ok bool) {
	rest := strings.TrimPrefix(line, "diff --git ")
	idx := strings.Index(rest, " b/")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// Apply replays the patch over old file content and returns the new
// content. Context and deletion lines must match exactly; any mismatch is
// an error naming the offending line.
func (f *FilePatch) Apply(old string) (string, error) {
	if f.Binary {
		return "", fmt.Errorf("diffparse: cannot apply binary patch to %s", f.Path())
	}
	hadTrailingNL := strings.HasSuffix(old, "\n")
	oldLines := strings.Split(old, "\n")
	if hadTrailingNL {
		oldLines = oldLines[:len(oldLines)-1]
	}
	if old == "" {
		oldLines = nil
	}

	var out []string
	cursor := 0 // index into oldLines of the next unconsumed line

	for _, h := range f.Hunks {
		start := h.OldStart - 1
		if h.OldCount == 0 {
			// Pure insertion: OldStart is the line after which to insert.
			start = h.OldStart
		}
		if start < cursor || start > len(oldLines) {
			return "", fmt.Errorf("diffparse: %s: hunk @@ -%d overlaps or exceeds file (%d lines)", f.Path(), h.OldStart, len(oldLines))
		}
		out = append(out, oldLines[cursor:start]...)
		cursor = start

		for _, l := range h.Lines {
			switch l.Kind {
			case LineContext:
				if cursor >= len(oldLines) || oldLines[cursor] != l.Text {
					return "", fmt.Errorf("diffparse: %s: context mismatch at line %d", f.Path(), cursor+1)
				}
				out = append(out, l.Text)
				cursor++
			case LineDel:
				if cursor >= len(oldLines) || oldLines[cursor] != l.Text {
					return "", fmt.Errorf("diffparse: %s: deletion mismatch at line %d", f.Path(), cursor+1)
				}
				cursor++
			case LineAdd:
				out = append(out, l.Text)
			}
		}
	}
	out = append(out, oldLines[cursor:]...)

	result := strings.Join(out, "\n")
	if (hadTrailingNL || old == "") && result != "" {
		result += "\n"
	}
	return result, nil
}

// splitLines breaks content into newline-terminated elements the way the
// differ expects, without difflib.SplitLines' artificial empty tail line.
// Content is normalized to end with a newline.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	lines := strings.SplitAfter(s, "\n")
	return lines[:len(lines)-1]
}

// Render produces a git-style unified diff for a modified file. It returns
// the empty string when old and new content are identical.
func Render(path, oldContent, newContent string) (string, error) {
	if oldContent == newContent {
		return "", nil
	}
	path = NormalizePath(path)
	ud := difflib.UnifiedDiff{
		A:        splitLines(oldContent),
		B:        splitLines(newContent),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	}
	body, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", fmt.Errorf("diffparse: render %s: %w", path, err)
	}
	return fmt.Sprintf("diff --git a/%s b/%s\n%s", path, path, body), nil
}

// RenderNewFile produces a git-style unified diff creating path with the
// given content.
func RenderNewFile(path, content string) (string, error) {
	path = NormalizePath(path)
	ud := difflib.UnifiedDiff{
		A:        nil,
		B:        splitLines(content),
		FromFile: DevNull,
		ToFile:   "b/" + path,
		Context:  3,
	}
	body, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", fmt.Errorf("diffparse: render new file %s: %w", path, err)
	}
	return fmt.Sprintf("diff --git a/%s b/%s\nnew file mode 100644\n%s", path, path, body), nil
}
