package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

var runColumnList = []string{
	"id", "event_id", "run_key", "repo", "branch", "commit_sha", "status",
	"adapter_name", "attempt_count", "retry_limit_snapshot", "blocked_reason",
	"error_message", "automation_mode", "manual_review_required", "last_pr_url",
	"last_pr_number", "last_pr_created_at", "sbom_path", "sbom_sha256", "sbom_size_bytes",
	"correlation_id",
	"context", "detection", "rca", "plan", "plan_policy", "critic", "issue_graph",
	"consensus", "patch_diff", "patch_stats", "patch_policy", "validation", "pr",
	"merge", "post_merge", "artifact", "created_at", "updated_at",
}

func sampleRunRow(id, status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(runColumnList).AddRow(
		id, "ev-1", "runkey123", "org/repo", "main", "abc123", status,
		"python", 1, 3, "", "", "auto_pr", false, "",
		0, nil, "", "", 0, "corr-1",
		[]byte(`{"log_summary":"boom"}`), nil, nil, []byte(`{"root_cause":"pin"}`), nil,
		nil, nil, nil, nil, nil, nil, nil, nil, nil, nil, nil,
		now, now,
	)
}

func TestCreateRunNew(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("INSERT INTO fix_pipeline_runs").
		WithArgs(sqlmock.AnyArg(), "ev-1", "runkey123", "org/repo", "main", "abc123",
			"created", "auto_pr", 3, "corr-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	run := &model.FixPipelineRun{
		EventID:            "ev-1",
		RunKey:             "runkey123",
		Repo:               "org/repo",
		Branch:             "main",
		CommitSHA:          "abc123",
		RetryLimitSnapshot: 3,
		CorrelationID:      "corr-1",
	}
	got, created, err := s.CreateRun(context.Background(), run)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if !created {
		t.Error("created = false, want true")
	}
	if got.ID == "" {
		t.Error("run id not assigned")
	}
	if got.Status != model.StatusCreated {
		t.Errorf("status = %q, want created", got.Status)
	}
	expectMet(t, mock)
}

func TestCreateRunExistingEvent(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("INSERT INTO fix_pipeline_runs").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM fix_pipeline_runs WHERE event_id").
		WithArgs("ev-1").
		WillReturnRows(sampleRunRow("existing-run", "rca_ready"))

	run := &model.FixPipelineRun{EventID: "ev-1", RunKey: "runkey123", Repo: "org/repo"}
	got, created, err := s.CreateRun(context.Background(), run)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if created {
		t.Error("created = true for existing event")
	}
	if got.ID != "existing-run" {
		t.Errorf("returned id = %q, want the existing row", got.ID)
	}
	if got.Status != model.StatusRCAReady {
		t.Errorf("status = %q, want the stored status", got.Status)
	}
	expectMet(t, mock)
}

func TestGetRunFoldsStageBlobs(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("SELECT (.+) FROM fix_pipeline_runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(sampleRunRow("run-1", "plan_ready"))

	run, err := s.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if string(run.Stage(model.BlobContext)) != `{"log_summary":"boom"}` {
		t.Errorf("context blob = %s", run.Stage(model.BlobContext))
	}
	if string(run.Stage(model.BlobPlan)) != `{"root_cause":"pin"}` {
		t.Errorf("plan blob = %s", run.Stage(model.BlobPlan))
	}
	if run.Stage(model.BlobRCA) != nil {
		t.Errorf("rca blob = %s, want nil for NULL column", run.Stage(model.BlobRCA))
	}
	expectMet(t, mock)
}

func TestGetRunNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("SELECT (.+) FROM fix_pipeline_runs WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(runColumnList))

	_, err := s.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRun error = %v, want ErrNotFound", err)
	}
	expectMet(t, mock)
}

func TestAdvanceRunWithStages(t *testing.T) {
	s, mock := newMock(t)
	query := regexp.QuoteMeta(
		"UPDATE fix_pipeline_runs SET status = $2, updated_at = now(), " +
			"plan = $3, plan_policy = $4 WHERE id = $1 AND status = $5")
	mock.ExpectExec(query).
		WithArgs("run-1", "plan_ready", []byte(`{"confidence":0.9}`),
			[]byte(`{"allowed":true}`), "rca_ready").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.AdvanceRun(context.Background(), "run-1",
		model.StatusRCAReady, model.StatusPlanReady,
		map[string]json.RawMessage{
			model.BlobPlan:       json.RawMessage(`{"confidence":0.9}`),
			model.BlobPlanPolicy: json.RawMessage(`{"allowed":true}`),
		})
	if err != nil {
		t.Fatalf("AdvanceRun: %v", err)
	}
	expectMet(t, mock)
}

func TestAdvanceRunNoStages(t *testing.T) {
	s, mock := newMock(t)
	query := regexp.QuoteMeta(
		"UPDATE fix_pipeline_runs SET status = $2, updated_at = now() " +
			"WHERE id = $1 AND status = $3")
	mock.ExpectExec(query).
		WithArgs("run-1", "monitoring", "pr_created").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.AdvanceRun(context.Background(), "run-1",
		model.StatusPRCreated, model.StatusMonitoring, nil)
	if err != nil {
		t.Fatalf("AdvanceRun: %v", err)
	}
	expectMet(t, mock)
}

func TestAdvanceRunStatusConflict(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("UPDATE fix_pipeline_runs SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.AdvanceRun(context.Background(), "run-1",
		model.StatusRCAReady, model.StatusPlanReady, nil)
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("AdvanceRun error = %v, want ErrStatusConflict", err)
	}
	expectMet(t, mock)
}

func TestAdvanceRunRejectsBackwards(t *testing.T) {
	s, _ := newMock(t)
	err := s.AdvanceRun(context.Background(), "run-1",
		model.StatusPRCreated, model.StatusRCAReady, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("AdvanceRun error = %v, want ErrInvalidTransition", err)
	}
}

func TestAdvanceRunRejectsUnknownStage(t *testing.T) {
	s, _ := newMock(t)
	err := s.AdvanceRun(context.Background(), "run-1",
		model.StatusRCAReady, model.StatusPlanReady,
		map[string]json.RawMessage{"bogus": json.RawMessage(`{}`)})
	if err == nil || !regexp.MustCompile(`unknown stage "bogus"`).MatchString(err.Error()) {
		t.Fatalf("AdvanceRun error = %v, want unknown stage", err)
	}
}

func TestBlockRun(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("UPDATE fix_pipeline_runs").
		WithArgs("run-1", "blocked", "max_attempts", "rca_ready").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.BlockRun(context.Background(), "run-1", model.StatusRCAReady, model.BlockedMaxAttempts)
	if err != nil {
		t.Fatalf("BlockRun: %v", err)
	}
	expectMet(t, mock)
}

func TestBlockRunFromTerminal(t *testing.T) {
	s, _ := newMock(t)
	err := s.BlockRun(context.Background(), "run-1", model.StatusMerged, model.BlockedCooldown)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("BlockRun error = %v, want ErrInvalidTransition", err)
	}
}

func TestIncrementRunAttempt(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("UPDATE fix_pipeline_runs SET attempt_count").
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"attempt_count"}).AddRow(2))

	n, err := s.IncrementRunAttempt(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("IncrementRunAttempt: %v", err)
	}
	if n != 2 {
		t.Errorf("attempt_count = %d, want 2", n)
	}
	expectMet(t, mock)
}

func TestSetRunPROnce(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	mock.ExpectExec("UPDATE fix_pipeline_runs").
		WithArgs("run-1", "https://github.com/org/repo/pull/7", 7, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	recorded, err := s.SetRunPR(context.Background(), "run-1",
		"https://github.com/org/repo/pull/7", 7, at)
	if err != nil {
		t.Fatalf("SetRunPR: %v", err)
	}
	if !recorded {
		t.Error("recorded = false, want true")
	}
	expectMet(t, mock)
}

func TestSetRunPRAlreadyRecorded(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("UPDATE fix_pipeline_runs").
		WillReturnResult(sqlmock.NewResult(0, 0))

	recorded, err := s.SetRunPR(context.Background(), "run-1",
		"https://github.com/org/repo/pull/8", 8, time.Now())
	if err != nil {
		t.Fatalf("SetRunPR: %v", err)
	}
	if recorded {
		t.Error("recorded = true, want false when a PR already exists")
	}
	expectMet(t, mock)
}

func TestSetRunSBOM(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("UPDATE fix_pipeline_runs SET sbom_path").
		WithArgs("run-1", "sboms/run-1.json.gz", "ab12cd34", int64(2048)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.SetRunSBOM(context.Background(), "run-1", "sboms/run-1.json.gz", "ab12cd34", 2048); err != nil {
		t.Fatalf("SetRunSBOM: %v", err)
	}
	expectMet(t, mock)
}

func TestListRunsByRunKey(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("SELECT (.+) FROM fix_pipeline_runs").
		WithArgs("runkey123", 5).
		WillReturnRows(sampleRunRow("run-1", "blocked"))

	runs, err := s.ListRunsByRunKey(context.Background(), "runkey123", 5)
	if err != nil {
		t.Fatalf("ListRunsByRunKey: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Fatalf("runs = %+v, want the one stored row", runs)
	}
	expectMet(t, mock)
}
