package provider

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

func init() { Register(&gitlabProvider{}) }

// gitlabProvider handles GitLab Pipeline Hook webhooks. GitLab sends a
// static token rather than a body signature.
type gitlabProvider struct{}

func (p *gitlabProvider) Name() string { return "gitlab" }

func (p *gitlabProvider) VerifySignature(header http.Header, _ []byte, secret string) error {
	if secret == "" {
		return nil
	}
	token := header.Get("X-Gitlab-Token")
	if token == "" {
		return &SignatureError{Provider: p.Name(), Reason: "missing X-Gitlab-Token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return &SignatureError{Provider: p.Name(), Reason: "token mismatch"}
	}
	return nil
}

func (p *gitlabProvider) DeliveryID(header http.Header, body []byte) string {
	if id := header.Get("X-Gitlab-Event-UUID"); id != "" {
		return id
	}
	return bodyDigest(p.Name(), body)
}

type gitlabPipelinePayload struct {
	ObjectKind       string `json:"object_kind"`
	ObjectAttributes struct {
		ID     int64  `json:"id"`
		Ref    string `json:"ref"`
		SHA    string `json:"sha"`
		Status string `json:"status"`
	} `json:"object_attributes"`
	Project struct {
		PathWithNamespace string `json:"path_with_namespace"`
	} `json:"project"`
	Builds []struct {
		ID     int64  `json:"id"`
		Name   string `json:"name"`
		Stage  string `json:"stage"`
		Status string `json:"status"`
	} `json:"builds"`
	MergeRequest struct {
		IID int `json:"iid"`
	} `json:"merge_request"`
}

func (p *gitlabProvider) Normalize(header http.Header, body []byte) (*model.NormalizedPipelineEvent, error) {
	if et := header.Get("X-Gitlab-Event"); et != "" && et != "Pipeline Hook" {
		return nil, Ignoref("event type %q", et)
	}
	var payload gitlabPipelinePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("gitlab: decode pipeline hook: %w", err)
	}
	if payload.ObjectKind != "pipeline" {
		return nil, Ignoref("object_kind %q", payload.ObjectKind)
	}
	attrs := payload.ObjectAttributes
	switch attrs.Status {
	case "success", "failed", "canceled":
	default:
		// running, pending, created, skipped
		return nil, Ignoref("pipeline status %q", attrs.Status)
	}
	if payload.Project.PathWithNamespace == "" || attrs.ID == 0 {
		return nil, fmt.Errorf("gitlab: pipeline payload missing project or pipeline id")
	}

	ev := newEvent(p.Name())
	ev.Repo = payload.Project.PathWithNamespace
	ev.CommitSHA = attrs.SHA
	ev.Branch = attrs.Ref
	ev.RunID = strconv.FormatInt(attrs.ID, 10)
	ev.PRNumber = payload.MergeRequest.IID
	switch attrs.Status {
	case "failed":
		ev.Conclusion = "failure"
	case "canceled":
		ev.Conclusion = "cancelled"
	default:
		ev.Conclusion = "success"
	}
	// The first failed build names the failing stage and job.
	for _, b := range payload.Builds {
		if b.Status == "failed" {
			ev.JobID = strconv.FormatInt(b.ID, 10)
			ev.Stage = b.Stage
			if ev.Stage == "" {
				ev.Stage = b.Name
			}
			break
		}
	}
	if ev.IsFailure() {
		ev.FailureType = classifyFailure(ev.Conclusion, ev.Stage)
	}
	ev.RawPayload = json.RawMessage(body)
	return ev, nil
}
