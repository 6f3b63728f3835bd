package provider

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

func init() { Register(&azureProvider{}) }

// azureProvider handles Azure DevOps build.complete service hooks.
// Service hooks authenticate with a caller-chosen header, conventionally
// a bearer-style shared secret.
type azureProvider struct{}

func (p *azureProvider) Name() string { return "azure" }

func (p *azureProvider) VerifySignature(header http.Header, _ []byte, secret string) error {
	if secret == "" {
		return nil
	}
	token := strings.TrimPrefix(header.Get("Authorization"), "Bearer ")
	if token == "" {
		return &SignatureError{Provider: p.Name(), Reason: "missing Authorization header"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return &SignatureError{Provider: p.Name(), Reason: "token mismatch"}
	}
	return nil
}

func (p *azureProvider) DeliveryID(header http.Header, body []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &probe); err == nil && probe.ID != "" {
		return probe.ID
	}
	return bodyDigest(p.Name(), body)
}

type azureBuildPayload struct {
	EventType string `json:"eventType"`
	Resource  struct {
		ID            int64  `json:"id"`
		Result        string `json:"result"`
		SourceBranch  string `json:"sourceBranch"`
		SourceVersion string `json:"sourceVersion"`
		URL           string `json:"url"`
		Definition    struct {
			Name string `json:"name"`
		} `json:"definition"`
		Repository struct {
			Name string `json:"name"`
		} `json:"repository"`
		Project struct {
			Name string `json:"name"`
		} `json:"project"`
	} `json:"resource"`
}

func (p *azureProvider) Normalize(_ http.Header, body []byte) (*model.NormalizedPipelineEvent, error) {
	var payload azureBuildPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("azure: decode service hook: %w", err)
	}
	if payload.EventType != "build.complete" {
		return nil, Ignoref("event type %q", payload.EventType)
	}
	res := payload.Resource
	if res.ID == 0 || res.Repository.Name == "" {
		return nil, fmt.Errorf("azure: build payload missing id or repository")
	}

	ev := newEvent(p.Name())
	ev.Repo = res.Project.Name + "/" + res.Repository.Name
	if res.Project.Name == "" {
		ev.Repo = res.Repository.Name
	}
	ev.CommitSHA = res.SourceVersion
	ev.Branch = strings.TrimPrefix(res.SourceBranch, "refs/heads/")
	ev.RunID = strconv.FormatInt(res.ID, 10)
	ev.Stage = res.Definition.Name
	ev.LogURL = res.URL
	switch res.Result {
	case "failed", "partiallySucceeded":
		ev.Conclusion = "failure"
	case "canceled":
		ev.Conclusion = "cancelled"
	case "succeeded":
		ev.Conclusion = "success"
	default:
		ev.Conclusion = res.Result
	}
	if ev.IsFailure() {
		ev.FailureType = classifyFailure(ev.Conclusion, ev.Stage)
	}
	ev.RawPayload = json.RawMessage(body)
	return ev, nil
}
