package logparse

import (
	"strings"
	"testing"
	"time"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

func testEvent() *model.NormalizedPipelineEvent {
	return &model.NormalizedPipelineEvent{
		Provider:   "github",
		Repo:       "org/repo",
		CommitSHA:  "abc123",
		Branch:     "main",
		RunID:      "55",
		JobID:      "2",
		Attempt:    1,
		Stage:      "test",
		Conclusion: "failure",
		ReceivedAt: time.Now().UTC(),
	}
}

const pythonLog = `Collecting dependencies
Installing collected packages: flask
Traceback (most recent call last):
  File "/app/src/main.py", line 3, in <module>
    import requests
ModuleNotFoundError: No module named 'requests'
FAILED tests/test_api.py::test_fetch - ModuleNotFoundError: No module named 'requests'
=========== 1 failed, 4 passed in 2.31s ===========
`

func TestBuildContext_PythonTraceback(t *testing.T) {
	b := NewParser(0).BuildContext(testEvent(), "ev-1", pythonLog)

	if b.EventID != "ev-1" || b.Repo != "org/repo" || b.PipelineID != "55" {
		t.Fatalf("metadata not carried: %+v", b)
	}
	if len(b.StackTraces) != 1 || !strings.Contains(b.StackTraces[0], `File "/app/src/main.py"`) {
		t.Fatalf("traceback not captured: %+v", b.StackTraces)
	}
	if len(b.Errors) == 0 || !strings.HasPrefix(b.Errors[0], "ModuleNotFoundError") {
		t.Fatalf("exception line not in errors: %+v", b.Errors)
	}
	if len(b.TestFailures) != 1 || !strings.Contains(b.TestFailures[0], "tests/test_api.py::test_fetch") {
		t.Fatalf("pytest failure not captured: %+v", b.TestFailures)
	}
	if !strings.Contains(b.LogSummary, "ModuleNotFoundError") {
		t.Fatalf("summary missing exception: %q", b.LogSummary)
	}
}

func TestBuildContext_NodeError(t *testing.T) {
	log := `> app@1.0.0 test
Error: Cannot find module 'express'
    at Function.Module._resolveFilename (node:internal/modules/cjs/loader:1028:15)
    at Module._load (node:internal/modules/cjs/loader:873:27)
npm ERR! Test failed.  See above for more details.
`
	b := NewParser(0).BuildContext(testEvent(), "ev-2", log)
	if len(b.Errors) != 1 || !strings.Contains(b.Errors[0], "Cannot find module 'express'") {
		t.Fatalf("node error not captured: %+v", b.Errors)
	}
	if len(b.StackTraces) != 1 || !strings.Contains(b.StackTraces[0], "_resolveFilename") {
		t.Fatalf("node stack not captured: %+v", b.StackTraces)
	}
	if len(b.BuildErrors) != 1 || !strings.HasPrefix(b.BuildErrors[0], "npm ERR!") {
		t.Fatalf("npm ERR line not captured: %+v", b.BuildErrors)
	}
}

func TestBuildContext_JavaException(t *testing.T) {
	log := `[INFO] Running tests
java.lang.NullPointerException: Cannot invoke "String.length()"
	at com.example.App.process(App.java:42)
	at com.example.AppTest.testProcess(AppTest.java:17)
Caused by: java.lang.IllegalStateException: bad state
	at com.example.Core.init(Core.java:9)
`
	b := NewParser(0).BuildContext(testEvent(), "ev-3", log)
	if len(b.Errors) != 1 || !strings.HasPrefix(b.Errors[0], "java.lang.NullPointerException") {
		t.Fatalf("java exception not captured: %+v", b.Errors)
	}
	if len(b.StackTraces) != 1 || !strings.Contains(b.StackTraces[0], "Caused by:") {
		t.Fatalf("caused-by chain not captured: %v", b.StackTraces)
	}
}

func TestBuildContext_GoPanicAndTestFail(t *testing.T) {
	log := `=== RUN   TestDivide
--- FAIL: TestDivide (0.00s)
    math_test.go:14: expected 2, got 0
panic: runtime error: integer divide by zero
goroutine 1 [running]:
main.divide(...)
	/app/main.go:10

FAIL	example.com/app	0.012s
`
	b := NewParser(0).BuildContext(testEvent(), "ev-4", log)
	if len(b.TestFailures) != 1 || !strings.Contains(b.TestFailures[0], "TestDivide") {
		t.Fatalf("go test failure not captured: %+v", b.TestFailures)
	}
	if len(b.Errors) == 0 || !strings.HasPrefix(b.Errors[0], "panic:") {
		t.Fatalf("panic not in errors: %+v", b.Errors)
	}
	if len(b.StackTraces) != 1 || !strings.Contains(b.StackTraces[0], "goroutine 1") {
		t.Fatalf("panic block not captured: %v", b.StackTraces)
	}
}

func TestBuildContext_CompilerDiagnostics(t *testing.T) {
	log := `src/main.c:14:5: warning: unused variable 'x'
src/main.c:20:10: error: expected ';' before 'return'
src/util.c:3:1: fatal error: util.h: No such file or directory
`
	b := NewParser(0).BuildContext(testEvent(), "ev-5", log)
	if len(b.BuildErrors) != 2 {
		t.Fatalf("want 2 build errors (warning excluded), got %+v", b.BuildErrors)
	}
	if !strings.Contains(b.LogSummary, "warning: unused variable") {
		t.Fatalf("warning should still reach the summary: %q", b.LogSummary)
	}
}

func TestBuildContext_TailTruncation(t *testing.T) {
	head := strings.Repeat("noise line without matches\n", 2000)
	tail := "ValueError: the interesting part\n"
	p := NewParser(4096)
	b := p.BuildContext(testEvent(), "ev-6", head+tail)
	if !b.Truncated {
		t.Fatalf("expected truncation flag")
	}
	if len(b.Errors) != 1 || !strings.HasPrefix(b.Errors[0], "ValueError") {
		t.Fatalf("tail content lost: %+v", b.Errors)
	}
}

func TestBuildContext_CleanLog(t *testing.T) {
	b := NewParser(0).BuildContext(testEvent(), "ev-7", "all tests passed\nbuild ok\n")
	if len(b.Errors)+len(b.BuildErrors)+len(b.TestFailures)+len(b.StackTraces) != 0 {
		t.Fatalf("clean log produced findings: %+v", b)
	}
	if b.LogSummary != "" {
		t.Fatalf("clean log summary = %q", b.LogSummary)
	}
}

func TestSignificantLines_OrderAndCap(t *testing.T) {
	log := `ok so far
Error: first
something fine
FAILED tests/a.py::t1 - AssertionError
panic: third
`
	got := SignificantLines(log, 2)
	if len(got) != 2 {
		t.Fatalf("want 2 lines, got %v", got)
	}
	if got[0] != "Error: first" || !strings.HasPrefix(got[1], "FAILED") {
		t.Fatalf("wrong order: %v", got)
	}
}

func TestFailureTypeFor(t *testing.T) {
	if ft := FailureTypeFor(&Bundle{BuildErrors: []string{"x"}}, ""); ft != "build_failure" {
		t.Fatalf("build bundle = %q", ft)
	}
	if ft := FailureTypeFor(&Bundle{TestFailures: []string{"x"}}, ""); ft != "test_failure" {
		t.Fatalf("test bundle = %q", ft)
	}
	if ft := FailureTypeFor(&Bundle{Errors: []string{"x"}}, ""); ft != "runtime_error" {
		t.Fatalf("error bundle = %q", ft)
	}
	if ft := FailureTypeFor(&Bundle{}, ""); ft != "unknown_failure" {
		t.Fatalf("empty bundle = %q", ft)
	}
	if ft := FailureTypeFor(&Bundle{}, "lint_failure"); ft != "lint_failure" {
		t.Fatalf("event type must win: %q", ft)
	}
}
