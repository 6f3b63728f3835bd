package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/metrics"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/store"
)

func newService(t *testing.T) (*Service, sqlmock.Sqlmock, *metrics.Metrics) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	return New(store.New(sqlx.NewDb(db, "sqlmock")), m, nil), mock, m
}

func failureEvent() *model.NormalizedPipelineEvent {
	return &model.NormalizedPipelineEvent{
		Provider:   "github",
		Repo:       "acme/api",
		CommitSHA:  "deadbeef",
		Branch:     "main",
		RunID:      "8891",
		Attempt:    1,
		Stage:      "CI Tests",
		Conclusion: "failure",
		ReceivedAt: time.Now().UTC(),
	}
}

func TestIngestNewEvent(t *testing.T) {
	s, mock, _ := newService(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO pipeline_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO webhook_deliveries").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("INSERT INTO pipeline_jobs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec("UPDATE pipeline_events SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := s.IngestEvent(context.Background(), failureEvent(), "dlv-1")
	if err != nil {
		t.Fatalf("IngestEvent: %v", err)
	}
	if !res.IsNew || res.Deduped {
		t.Fatalf("result = %+v", res)
	}
	if res.EventID == "" || res.CorrelationID == "" {
		t.Fatalf("missing ids: %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestIngestDuplicateDeliverySkipsEnqueue(t *testing.T) {
	s, mock, m := newService(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO pipeline_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO webhook_deliveries").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	res, err := s.IngestEvent(context.Background(), failureEvent(), "dlv-1")
	if err != nil {
		t.Fatalf("IngestEvent: %v", err)
	}
	if !res.Deduped {
		t.Fatalf("result = %+v", res)
	}
	if got := testutil.ToFloat64(m.WebhookDeduped); got != 1 {
		t.Fatalf("webhook_deduped_total = %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestIngestKnownIdempotencyKey(t *testing.T) {
	s, mock, _ := newService(t)
	ev := failureEvent()

	cols := []string{
		"id", "idempotency_key", "provider", "repo", "commit_sha", "branch",
		"run_id", "job_id", "attempt", "stage", "failure_type", "raw_payload",
		"status", "correlation_id", "created_at", "updated_at",
	}
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO pipeline_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM pipeline_events WHERE idempotency_key").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"ev-stored", ev.IdempotencyKey(), "github", "acme/api", "deadbeef", "main",
			"8891", "", 1, "CI Tests", "test_failure", []byte(`{}`),
			"dispatched", "corr-orig", now, now,
		))
	mock.ExpectExec("INSERT INTO webhook_deliveries").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	res, err := s.IngestEvent(context.Background(), ev, "dlv-2")
	if err != nil {
		t.Fatalf("IngestEvent: %v", err)
	}
	if res.IsNew || !res.Deduped {
		t.Fatalf("result = %+v", res)
	}
	if res.EventID != "ev-stored" || res.CorrelationID != "corr-orig" {
		t.Fatalf("result = %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestIngestRejectsInvalidEvent(t *testing.T) {
	s, _, _ := newService(t)
	ev := failureEvent()
	ev.Repo = ""
	if _, err := s.IngestEvent(context.Background(), ev, "dlv-1"); model.ClassOf(err) != model.ClassIngestion {
		t.Fatalf("err = %v", err)
	}
	if _, err := s.IngestEvent(context.Background(), failureEvent(), " "); model.ClassOf(err) != model.ClassIngestion {
		t.Fatalf("err = %v", err)
	}
}
