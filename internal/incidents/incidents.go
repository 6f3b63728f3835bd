// Package incidents finds past runs whose failure text resembles the
// current one. The Index interface keeps vector stores out of the core;
// the in-memory implementation scores trigram overlap, which is enough
// for single-node deployments and tests.
package incidents

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

// Incident is one recorded failure available for similarity search.
type Incident struct {
	RunID       string
	Repo        string
	FailureType string
	Status      string
	Text        string
}

// Index is the search seam consumed by the RCA stage.
type Index interface {
	Add(ctx context.Context, inc Incident) error
	Search(ctx context.Context, text string, k int) ([]model.SimilarIncident, error)
}

// Memory is a process-local Index. Capacity bounds how many incidents
// are retained; the oldest fall off first.
type Memory struct {
	mu       sync.RWMutex
	capacity int
	items    []entry
}

type entry struct {
	inc   Incident
	grams map[string]struct{}
}

// NewMemory returns a Memory index. capacity <= 0 selects 1024.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{capacity: capacity}
}

func (m *Memory) Add(_ context.Context, inc Incident) error {
	grams := trigrams(inc.Text)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, entry{inc: inc, grams: grams})
	if len(m.items) > m.capacity {
		m.items = m.items[len(m.items)-m.capacity:]
	}
	return nil
}

// Search returns up to k incidents by descending trigram similarity.
// Zero-overlap incidents are never returned.
func (m *Memory) Search(_ context.Context, text string, k int) ([]model.SimilarIncident, error) {
	if k <= 0 {
		return nil, nil
	}
	query := trigrams(text)
	if len(query) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	type scored struct {
		inc   Incident
		score float64
	}
	var hits []scored
	for _, e := range m.items {
		s := similarity(query, e.grams)
		if s > 0 {
			hits = append(hits, scored{inc: e.inc, score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]model.SimilarIncident, 0, len(hits))
	for _, h := range hits {
		out = append(out, model.SimilarIncident{
			RunID:       h.inc.RunID,
			Repo:        h.inc.Repo,
			FailureType: h.inc.FailureType,
			Status:      h.inc.Status,
			Similarity:  h.score,
		})
	}
	return out, nil
}

// similarity is Jaccard overlap of the two trigram sets.
func similarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for g := range small {
		if _, ok := large[g]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func trigrams(text string) map[string]struct{} {
	norm := normalize(text)
	grams := make(map[string]struct{})
	for _, word := range strings.Fields(norm) {
		if len(word) < 3 {
			grams[word] = struct{}{}
			continue
		}
		for i := 0; i+3 <= len(word); i++ {
			grams[word[i:i+3]] = struct{}{}
		}
	}
	return grams
}

// normalize lowercases and collapses digits so line numbers and
// addresses do not defeat matching.
func normalize(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	lastDigit := false
	for _, r := range strings.ToLower(s) {
		if r >= '0' && r <= '9' {
			if !lastDigit {
				sb.WriteByte('#')
				lastDigit = true
			}
			continue
		}
		lastDigit = false
		sb.WriteRune(r)
	}
	return sb.String()
}
