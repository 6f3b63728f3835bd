package coord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PostMergeEntry correlates a merged auto-fix with the next CI outcome on
// its branch. Single writer (the PR/merge stage), single reader (the next
// CI event for the branch).
type PostMergeEntry struct {
	RunID        string    `json:"run_id"`
	Repo         string    `json:"repo"`
	Branch       string    `json:"branch"`
	PRNumber     int       `json:"pr_number"`
	RegisteredAt time.Time `json:"registered_at"`
}

func postMergeKey(repo, branch string) string {
	return fmt.Sprintf("post_merge:%s:%s", repo, branch)
}

// RegisterPostMerge stores the correlation entry. The TTL bounds how long
// a merged fix stays under observation.
func (c *Coordinator) RegisterPostMerge(ctx context.Context, entry PostMergeEntry, ttl time.Duration) error {
	if entry.RegisteredAt.IsZero() {
		entry.RegisteredAt = time.Now().UTC()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("register post-merge: %w", err)
	}
	key := postMergeKey(entry.Repo, entry.Branch)
	if err := c.client.Set(ctx, key, raw, keyTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("register post-merge: %w", err)
	}
	return nil
}

// TakePostMerge consumes the entry for (repo, branch). It returns nil
// when nothing is under observation, which is the common case for every
// CI event on an unmonitored branch.
func (c *Coordinator) TakePostMerge(ctx context.Context, repo, branch string) (*PostMergeEntry, error) {
	raw, err := c.client.GetDel(ctx, postMergeKey(repo, branch)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("take post-merge: %w", err)
	}
	var entry PostMergeEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, fmt.Errorf("take post-merge: %w", err)
	}
	return &entry, nil
}
