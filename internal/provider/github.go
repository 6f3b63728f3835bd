package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

func init() { Register(&githubProvider{}) }

// githubProvider handles GitHub Actions webhooks. The pipeline acts on
// completed workflow_run events; everything else is ignored.
type githubProvider struct{}

func (p *githubProvider) Name() string { return "github" }

// VerifySignature checks X-Hub-Signature-256: "sha256=" plus the hex
// HMAC-SHA256 of the raw body under the webhook secret.
func (p *githubProvider) VerifySignature(header http.Header, body []byte, secret string) error {
	if secret == "" {
		return nil
	}
	sig := header.Get("X-Hub-Signature-256")
	if sig == "" {
		return &SignatureError{Provider: p.Name(), Reason: "missing X-Hub-Signature-256"}
	}
	want, ok := strings.CutPrefix(sig, "sha256=")
	if !ok {
		return &SignatureError{Provider: p.Name(), Reason: "malformed signature header"}
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	got := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(got), []byte(strings.ToLower(want))) {
		return &SignatureError{Provider: p.Name(), Reason: "digest mismatch"}
	}
	return nil
}

func (p *githubProvider) DeliveryID(header http.Header, body []byte) string {
	if id := header.Get("X-GitHub-Delivery"); id != "" {
		return id
	}
	return bodyDigest(p.Name(), body)
}

type githubWorkflowRunPayload struct {
	Action      string `json:"action"`
	WorkflowRun struct {
		ID         int64  `json:"id"`
		Name       string `json:"name"`
		HeadBranch string `json:"head_branch"`
		HeadSHA    string `json:"head_sha"`
		RunAttempt int    `json:"run_attempt"`
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
		LogsURL    string `json:"logs_url"`
		PullRequests []struct {
			Number int `json:"number"`
		} `json:"pull_requests"`
	} `json:"workflow_run"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

func (p *githubProvider) Normalize(header http.Header, body []byte) (*model.NormalizedPipelineEvent, error) {
	eventType := header.Get("X-GitHub-Event")
	switch eventType {
	case "workflow_run":
	case "ping":
		return nil, Ignoref("ping event")
	default:
		return nil, Ignoref("event type %q", eventType)
	}

	var payload githubWorkflowRunPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("github: decode workflow_run: %w", err)
	}
	if payload.Action != "completed" {
		return nil, Ignoref("workflow_run action %q", payload.Action)
	}
	if payload.Repository.FullName == "" || payload.WorkflowRun.ID == 0 {
		return nil, fmt.Errorf("github: workflow_run payload missing repository or run id")
	}

	wr := payload.WorkflowRun
	ev := newEvent(p.Name())
	ev.Repo = payload.Repository.FullName
	ev.CommitSHA = wr.HeadSHA
	ev.Branch = wr.HeadBranch
	ev.RunID = strconv.FormatInt(wr.ID, 10)
	ev.Attempt = wr.RunAttempt
	ev.Stage = wr.Name
	ev.Conclusion = wr.Conclusion
	ev.LogURL = wr.LogsURL
	if len(wr.PullRequests) > 0 {
		ev.PRNumber = wr.PullRequests[0].Number
	}
	if ev.IsFailure() {
		ev.FailureType = classifyFailure(wr.Conclusion, wr.Name)
	}
	ev.RawPayload = json.RawMessage(body)
	return ev, nil
}
