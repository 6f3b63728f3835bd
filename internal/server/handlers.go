package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/artifact"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/provider"
	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/store"
)

// maxWebhookBytes bounds webhook bodies; GitHub caps payloads at 25 MB
// but anything near that is not a CI status event.
const maxWebhookBytes = 5 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	for _, p := range s.ready {
		if err := p.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable,
				map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	p, err := s.providers.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown provider "+name)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) > maxWebhookBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if s.cfg.WebhookSecret == "" {
		if s.cfg.Environment == "production" {
			writeError(w, http.StatusServiceUnavailable, "webhook secret not configured")
			return
		}
		s.log.Warn("accepting unsigned webhook, no secret configured",
			zap.String("provider", p.Name()))
	}
	if err := p.VerifySignature(r.Header, body, s.cfg.WebhookSecret); err != nil {
		var sigErr *provider.SignatureError
		if errors.As(err, &sigErr) {
			writeError(w, http.StatusUnauthorized, sigErr.Reason)
			return
		}
		writeError(w, http.StatusUnauthorized, "signature rejected")
		return
	}

	ev, err := p.Normalize(r.Header, body)
	if err != nil {
		if errors.Is(err, provider.ErrIgnored) {
			writeJSON(w, http.StatusOK, map[string]string{
				"status": "ignored",
				"reason": err.Error(),
			})
			return
		}
		writeError(w, http.StatusBadRequest, s.red.String(err.Error()))
		return
	}

	res, err := s.ingest.IngestEvent(r.Context(), ev, p.DeliveryID(r.Header, body))
	if err != nil {
		if model.ClassOf(err) == model.ClassIngestion {
			writeError(w, http.StatusBadRequest, s.red.String(err.Error()))
			return
		}
		s.log.Error("webhook ingest failed",
			zap.String("provider", p.Name()), zap.String("repo", ev.Repo), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	if res.Deduped {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "duplicate",
			"event_id": res.EventID,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":         "accepted",
		"event_id":       res.EventID,
		"correlation_id": res.CorrelationID,
	})
}

// loadRun resolves {id} or replies 404/500 itself, returning nil on
// either.
func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) *model.FixPipelineRun {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run "+id+" not found")
		} else {
			s.log.Error("load run failed", zap.String("run_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "lookup failed")
		}
		return nil
	}
	return run
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	run := s.loadRun(w, r)
	if run == nil {
		return
	}
	raw := run.Stage(model.BlobArtifact)
	if len(raw) == 0 {
		writeError(w, http.StatusNotFound, "artifact not emitted yet")
		return
	}
	// Defense in depth: the builder already redacted on write.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.red.JSON(raw))
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	run := s.loadRun(w, r)
	if run == nil {
		return
	}
	var diff string
	if err := run.DecodeStage(model.BlobPatchDiff, &diff); err != nil {
		writeError(w, http.StatusNotFound, "no patch generated yet")
		return
	}
	w.Header().Set("Content-Type", "text/x-diff; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, s.red.String(diff))
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	run := s.loadRun(w, r)
	if run == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":   run.ID,
		"status":   run.Status,
		"timeline": artifact.Timeline(run, run.Status),
	})
}

func (s *Server) handleApprovePR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	actor := model.ActorIdentity{Kind: "user", Subject: "api"}
	if r.Body != nil {
		var body struct {
			Actor model.ActorIdentity `json:"actor"`
		}
		// An empty body keeps the default actor.
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Actor.Subject != "" {
			actor = body.Actor
		}
	}

	err := s.approver.ApproveRun(r.Context(), id, actor)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "approval_enqueued",
			"run_id": id,
		})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "run "+id+" not found")
	case errors.Is(err, store.ErrStatusConflict):
		writeError(w, http.StatusConflict, s.red.String(err.Error()))
	default:
		s.log.Error("approve failed", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "approval failed")
	}
}

// handleUpsertInstallation registers a repository and its automation
// mode. This is how operators move a repo between suggest, auto_pr,
// and auto_merge.
func (s *Server) handleUpsertInstallation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID         string `json:"user_id"`
		RepoID         string `json:"repo_id"`
		RepoFullName   string `json:"repo_full_name"`
		InstallationID int64  `json:"installation_id"`
		AutomationMode string `json:"automation_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "decode body: "+err.Error())
		return
	}
	if body.RepoFullName == "" {
		writeError(w, http.StatusBadRequest, "repo_full_name is required")
		return
	}
	mode, err := model.ParseAutomationMode(body.AutomationMode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inst := &model.GitHubAppInstallation{
		UserID:         body.UserID,
		RepoID:         body.RepoID,
		RepoFullName:   body.RepoFullName,
		InstallationID: body.InstallationID,
		AutomationMode: mode,
	}
	if err := s.store.UpsertInstallation(r.Context(), inst); err != nil {
		s.log.Error("upsert installation failed",
			zap.String("repo", body.RepoFullName), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "upsert failed")
		return
	}
	s.log.Info("installation upserted",
		zap.String("repo", inst.RepoFullName), zap.String("mode", string(inst.AutomationMode)))
	writeJSON(w, http.StatusOK, map[string]string{
		"status":          "ok",
		"repo_full_name":  inst.RepoFullName,
		"automation_mode": string(inst.AutomationMode),
	})
}

// explainResponse is the composite answer for one ingested failure.
type explainResponse struct {
	FailureID   string              `json:"failure_id"`
	Provider    string              `json:"provider"`
	Repo        string              `json:"repo"`
	Branch      string              `json:"branch"`
	CommitSHA   string              `json:"commit_sha"`
	Stage       string              `json:"stage,omitempty"`
	FailureType string              `json:"failure_type,omitempty"`
	EventStatus model.EventStatus   `json:"event_status"`
	Run         *runExplanation     `json:"run,omitempty"`
}

type runExplanation struct {
	RunID         string               `json:"run_id"`
	Status        model.RunStatus      `json:"status"`
	BlockedReason string               `json:"blocked_reason,omitempty"`
	ErrorMessage  string               `json:"error_message,omitempty"`
	RootCause     json.RawMessage      `json:"root_cause,omitempty"`
	Plan          json.RawMessage      `json:"plan,omitempty"`
	Consensus     json.RawMessage      `json:"consensus,omitempty"`
	Validation    json.RawMessage      `json:"validation,omitempty"`
	PRURL         string               `json:"pr_url,omitempty"`
	Timeline      []model.TimelineStep `json:"timeline"`
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ev, err := s.store.GetEvent(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "failure "+id+" not found")
		} else {
			s.log.Error("load event failed", zap.String("event_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "lookup failed")
		}
		return
	}

	resp := &explainResponse{
		FailureID:   ev.ID,
		Provider:    ev.Provider,
		Repo:        ev.Repo,
		Branch:      ev.Branch,
		CommitSHA:   ev.CommitSHA,
		Stage:       ev.Stage,
		FailureType: ev.FailureType,
		EventStatus: ev.Status,
	}

	run, err := s.store.GetRunByEventID(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Event refused or not yet picked up; the event row is the whole
		// explanation.
	case err != nil:
		s.log.Error("load run failed", zap.String("event_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	default:
		resp.Run = &runExplanation{
			RunID:         run.ID,
			Status:        run.Status,
			BlockedReason: run.BlockedReason,
			ErrorMessage:  s.red.String(run.ErrorMessage),
			RootCause:     s.red.JSON(run.Stage(model.BlobRCA)),
			Plan:          s.red.JSON(run.Stage(model.BlobPlan)),
			Consensus:     s.red.JSON(run.Stage(model.BlobConsensus)),
			Validation:    s.red.JSON(run.Stage(model.BlobValidation)),
			PRURL:         run.LastPRURL,
			Timeline:      artifact.Timeline(run, run.Status),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
