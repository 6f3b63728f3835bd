package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

func init() { Register(&circleProvider{}) }

// circleProvider handles CircleCI outbound webhooks (workflow-completed).
type circleProvider struct{}

func (p *circleProvider) Name() string { return "circleci" }

// VerifySignature checks the circleci-signature header, a comma list of
// versioned digests; v1 is the hex HMAC-SHA256 of the raw body.
func (p *circleProvider) VerifySignature(header http.Header, body []byte, secret string) error {
	if secret == "" {
		return nil
	}
	sig := header.Get("Circleci-Signature")
	if sig == "" {
		return &SignatureError{Provider: p.Name(), Reason: "missing Circleci-Signature"}
	}
	var v1 string
	for _, part := range strings.Split(sig, ",") {
		if val, ok := strings.CutPrefix(strings.TrimSpace(part), "v1="); ok {
			v1 = val
			break
		}
	}
	if v1 == "" {
		return &SignatureError{Provider: p.Name(), Reason: "no v1 digest in signature header"}
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	got := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(got), []byte(strings.ToLower(v1))) {
		return &SignatureError{Provider: p.Name(), Reason: "digest mismatch"}
	}
	return nil
}

func (p *circleProvider) DeliveryID(header http.Header, body []byte) string {
	if id := header.Get("Circleci-Event-Id"); id != "" {
		return id
	}
	// The payload id is the webhook's own identity when the header is
	// absent.
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &probe); err == nil && probe.ID != "" {
		return probe.ID
	}
	return bodyDigest(p.Name(), body)
}

type circleWorkflowPayload struct {
	Type     string `json:"type"`
	Workflow struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Status string `json:"status"`
		URL    string `json:"url"`
	} `json:"workflow"`
	Pipeline struct {
		Number int64 `json:"number"`
		VCS    struct {
			Branch   string `json:"branch"`
			Revision string `json:"revision"`
		} `json:"vcs"`
	} `json:"pipeline"`
	Project struct {
		Slug string `json:"slug"`
	} `json:"project"`
}

func (p *circleProvider) Normalize(_ http.Header, body []byte) (*model.NormalizedPipelineEvent, error) {
	var payload circleWorkflowPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("circleci: decode webhook: %w", err)
	}
	if payload.Type != "workflow-completed" {
		return nil, Ignoref("webhook type %q", payload.Type)
	}
	if payload.Project.Slug == "" || payload.Workflow.ID == "" {
		return nil, fmt.Errorf("circleci: payload missing project slug or workflow id")
	}

	// Slugs look like "gh/acme/api"; strip the VCS prefix so repos match
	// the other providers' owner/name form.
	repo := payload.Project.Slug
	if parts := strings.SplitN(repo, "/", 2); len(parts) == 2 && len(parts[0]) <= 3 {
		repo = parts[1]
	}

	ev := newEvent(p.Name())
	ev.Repo = repo
	ev.CommitSHA = payload.Pipeline.VCS.Revision
	ev.Branch = payload.Pipeline.VCS.Branch
	ev.RunID = payload.Workflow.ID
	ev.Stage = payload.Workflow.Name
	ev.LogURL = payload.Workflow.URL
	switch payload.Workflow.Status {
	case "failed", "error":
		ev.Conclusion = "failure"
	case "canceled":
		ev.Conclusion = "cancelled"
	default:
		ev.Conclusion = payload.Workflow.Status
	}
	if ev.IsFailure() {
		ev.FailureType = classifyFailure(ev.Conclusion, ev.Stage)
	}
	ev.RawPayload = json.RawMessage(body)
	return ev, nil
}
