// Package provider normalizes CI webhook deliveries.
//
// Each Provider owns one CI system's wire format: it verifies the
// delivery signature against the shared secret, extracts the provider's
// delivery ID for the dedup ring, and reduces the payload to a
// model.NormalizedPipelineEvent. Providers register themselves in init()
// and the webhook handler looks them up by URL path segment.
package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

// ErrIgnored marks deliveries that are well-formed but irrelevant, such
// as in-progress notifications or event types the pipeline never acts
// on. Handlers answer these with status "ignored", not an error.
var ErrIgnored = errors.New("provider: delivery ignored")

// Ignoref wraps ErrIgnored with the reason.
func Ignoref(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrIgnored)
}

// SignatureError reports a failed delivery authentication.
type SignatureError struct {
	Provider string
	Reason   string
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("provider %s: signature rejected: %s", e.Provider, e.Reason)
}

// Provider adapts one CI system's webhook format.
type Provider interface {
	Name() string
	// VerifySignature authenticates the raw body against the shared
	// secret. An empty secret skips verification; the server decides
	// whether that is acceptable for the environment.
	VerifySignature(header http.Header, body []byte, secret string) error
	// DeliveryID extracts the provider's delivery identifier, falling
	// back to a body digest for providers that do not send one.
	DeliveryID(header http.Header, body []byte) string
	// Normalize reduces the payload. ErrIgnored-wrapped returns mean the
	// delivery is fine but carries nothing the pipeline cares about.
	Normalize(header http.Header, body []byte) (*model.NormalizedPipelineEvent, error)
}

// Registry holds providers by name.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Provider
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]Provider{}}
}

// Register adds a provider. Duplicate names panic; providers register
// once from init().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[p.Name()]; dup {
		panic(fmt.Sprintf("provider: duplicate registration of %q", p.Name()))
	}
	r.byName[p.Name()] = p
	r.order = append(r.order, p.Name())
}

// Get returns the provider for a webhook path segment.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("provider: unknown provider %q (available: %v)", name, r.order)
	}
	return p, nil
}

// Names returns provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

var defaultRegistry = NewRegistry()

// Register adds a provider to the process-wide registry.
func Register(p Provider) { defaultRegistry.Register(p) }

// Default returns the process-wide registry populated by init().
func Default() *Registry { return defaultRegistry }

// bodyDigest is the delivery-ID fallback: identical redeliveries hash
// identically, so the dedup ring still catches them.
func bodyDigest(provider string, body []byte) string {
	sum := sha256.Sum256(body)
	return provider + "-" + hex.EncodeToString(sum[:16])
}

// failureTypeRule classifies a failure from the stage or job name.
// Tables are evaluated in order; the first match decides.
type failureTypeRule struct {
	match       string
	failureType string
}

var failureTypeRules = []failureTypeRule{
	{"test", "test_failure"},
	{"build", "build_failure"},
	{"compile", "build_failure"},
	{"lint", "lint_failure"},
	{"deploy", "deploy_failure"},
	{"release", "deploy_failure"},
}

// classifyFailure derives a coarse failure type from conclusion and
// stage name. The context builder refines it once the log is parsed.
func classifyFailure(conclusion, stage string) string {
	switch strings.ToLower(conclusion) {
	case "timed_out", "timeout":
		return "timeout_failure"
	case "cancelled", "canceled":
		return "cancelled"
	}
	name := strings.ToLower(stage)
	for _, r := range failureTypeRules {
		if strings.Contains(name, r.match) {
			return r.failureType
		}
	}
	return "pipeline_failure"
}

func newEvent(providerName string) *model.NormalizedPipelineEvent {
	return &model.NormalizedPipelineEvent{
		Provider:   providerName,
		ReceivedAt: time.Now().UTC(),
	}
}
