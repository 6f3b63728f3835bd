package diffparse

import (
	"strings"
	"testing"
)

const sampleDiff = `diff --git a/requirements.txt b/requirements.txt
index 3bd1f0e..9c2f012 100644
--- a/requirements.txt
+++ b/requirements.txt
@@ -1,3 +1,4 @@
 flask==2.0.1
-requests==2.25.0
+requests==2.31.0
+urllib3>=1.26
 gunicorn==20.1.0
diff --git a/src/app.py b/src/app.py
index 5c1a2b3..7d4e5f6 100644
--- a/src/app.py
+++ b/src/app.py
@@ -10,7 +10,6 @@ def handler():
 import os
 import sys
-import unused_module
 import json

 def main():
     pass
`

func TestParse_GitStyle(t *testing.T) {
	d, err := Parse(sampleDiff)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(d.Files) != 2 {
		t.Fatalf("files = %d, want 2", len(d.Files))
	}
	if got := d.Files[0].Path(); got != "requirements.txt" {
		t.Fatalf("file[0].Path()=%q", got)
	}
	if a, r := d.Files[0].LinesAdded(), d.Files[0].LinesRemoved(); a != 2 || r != 1 {
		t.Fatalf("requirements.txt +%d -%d, want +2 -1", a, r)
	}
	if a, r := d.Files[1].LinesAdded(), d.Files[1].LinesRemoved(); a != 0 || r != 1 {
		t.Fatalf("app.py +%d -%d, want +0 -1", a, r)
	}

	s := d.Stats()
	if s.TotalFiles != len(s.Files) {
		t.Fatalf("TotalFiles=%d but len(Files)=%d", s.TotalFiles, len(s.Files))
	}
	if s.TotalLinesAdded != 2 || s.TotalLinesRemoved != 2 {
		t.Fatalf("totals +%d -%d, want +2 -2", s.TotalLinesAdded, s.TotalLinesRemoved)
	}
	if s.DiffBytes != len(sampleDiff) {
		t.Fatalf("DiffBytes=%d want %d", s.DiffBytes, len(sampleDiff))
	}
}

func TestParse_PlainUnified(t *testing.T) {
	diff := `--- a/config.yaml
+++ b/config.yaml
@@ -1,2 +1,2 @@
 timeout: 30
-retries: 1
+retries: 3
`
	d, err := Parse(diff)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(d.Files) != 1 || d.Files[0].Path() != "config.yaml" {
		t.Fatalf("unexpected files: %+v", d.Paths())
	}
}

func TestParse_NewAndDeletedFiles(t *testing.T) {
	diff := `diff --git a/new.txt b/new.txt
new file mode 100644
--- /dev/null
+++ b/new.txt
@@ -0,0 +1,2 @@
+hello
+world
diff --git a/old.txt b/old.txt
deleted file mode 100644
--- a/old.txt
+++ /dev/null
@@ -1,1 +0,0 @@
-goodbye
`
	d, err := Parse(diff)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !d.Files[0].IsNew() || d.Files[0].Path() != "new.txt" {
		t.Fatalf("file[0] should be new new.txt: %+v", d.Files[0])
	}
	if !d.Files[1].IsDelete() || d.Files[1].Path() != "old.txt" {
		t.Fatalf("file[1] should be deleted old.txt: %+v", d.Files[1])
	}
}

func TestParse_NoNewlineMarkerIgnored(t *testing.T) {
	diff := `--- a/f.txt
+++ b/f.txt
@@ -1,1 +1,1 @@
-old
\ No newline at end of file
+new
\ No newline at end of file
`
	d, err := Parse(diff)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f := d.Files[0]
	if f.LinesAdded() != 1 || f.LinesRemoved() != 1 {
		t.Fatalf("+%d -%d, want +1 -1", f.LinesAdded(), f.LinesRemoved())
	}
}

func TestParse_HunkBodyStartingWithDashes(t *testing.T) {
	// A deletion line that itself begins with "--" must not be mistaken
	// for a file header.
	diff := `--- a/doc.md
+++ b/doc.md
@@ -1,2 +1,1 @@
---- section ---
 kept
`
	d, err := Parse(diff)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(d.Files) != 1 || d.Files[0].LinesRemoved() != 1 {
		t.Fatalf("unexpected parse: %+v", d.Stats())
	}
}

func TestParse_TruncatedHunk(t *testing.T) {
	diff := `--- a/f.txt
+++ b/f.txt
@@ -1,5 +1,5 @@
 one
`
	if _, err := Parse(diff); err == nil {
		t.Fatalf("expected truncation error")
	}
}

func TestParse_Garbage(t *testing.T) {
	if _, err := Parse("this is not a diff"); err == nil {
		t.Fatalf("expected error for non-diff input")
	}
}

func TestNormalizePath(t *testing.T) {
	cases := []struct{ in, want string }{
		{`src\main\App.java`, "src/main/App.java"},
		{"./pkg/util.go", "pkg/util.go"},
		{"a/requirements.txt", "requirements.txt"},
		{"b/go.mod", "go.mod"},
		{"/dev/null", "/dev/null"},
		{"plain.txt", "plain.txt"},
	}
	for _, tc := range cases {
		if got := NormalizePath(tc.in); got != tc.want {
			t.Fatalf("NormalizePath(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestApply_Modification(t *testing.T) {
	old := "flask==2.0.1\nrequests==2.25.0\ngunicorn==20.1.0\n"
	d, err := Parse(sampleDiff)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got, err := d.Files[0].Apply(old)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := "flask==2.0.1\nrequests==2.31.0\nurllib3>=1.26\ngunicorn==20.1.0\n"
	if got != want {
		t.Fatalf("Apply = %q, want %q", got, want)
	}
}

func TestApply_ContextMismatch(t *testing.T) {
	d, err := Parse(sampleDiff)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := d.Files[0].Apply("completely\ndifferent\ncontent\n"); err == nil {
		t.Fatalf("expected context mismatch error")
	}
}

func TestRender_ThenParseThenApply_RoundTrips(t *testing.T) {
	old := "alpha\nbeta\ngamma\ndelta\n"
	updated := "alpha\nbeta2\ngamma\ndelta\nepsilon\n"

	text, err := Render("notes/plan.txt", old, updated)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.HasPrefix(text, "diff --git a/notes/plan.txt b/notes/plan.txt\n") {
		t.Fatalf("missing git header: %q", text)
	}

	d, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(rendered): %v", err)
	}
	got, err := d.Files[0].Apply(old)
	if err != nil {
		t.Fatalf("Apply(rendered): %v", err)
	}
	if got != updated {
		t.Fatalf("round trip = %q, want %q", got, updated)
	}
}

func TestRender_IdenticalContentIsEmpty(t *testing.T) {
	text, err := Render("f.txt", "same\n", "same\n")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if text != "" {
		t.Fatalf("expected empty diff, got %q", text)
	}
}

func TestRender_Deterministic(t *testing.T) {
	a, err := Render("f.txt", "one\ntwo\n", "one\nthree\n")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	b, err := Render("f.txt", "one\ntwo\n", "one\nthree\n")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if a != b {
		t.Fatalf("render not byte-stable")
	}
}

func TestRenderNewFile(t *testing.T) {
	text, err := RenderNewFile("docs/README.md", "# Title\n")
	if err != nil {
		t.Fatalf("RenderNewFile: %v", err)
	}
	d, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(new file): %v", err)
	}
	if !d.Files[0].IsNew() {
		t.Fatalf("expected new-file patch: %+v", d.Files[0])
	}
	got, err := d.Files[0].Apply("")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got != "# Title\n" {
		t.Fatalf("Apply = %q", got)
	}
}
