package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// acquireScript implements a leased counting semaphore on a sorted set.
// Members are lease ids scored by their expiry time, so leases held by a
// crashed worker fall out on the next acquire instead of wedging the
// repo forever.
//
// KEYS[1] semaphore key; ARGV: now_ms, capacity, expiry_score_ms,
// lease_id, key_ttl_ms.
var acquireScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local held = redis.call('ZCARD', KEYS[1])
if tonumber(held) < tonumber(ARGV[2]) then
	redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
	return 1
end
return 0
`)

func semaphoreKey(repo string) string {
	return "repo_sema:" + repo
}

// AcquireRepo takes one slot of the per-repo concurrency semaphore.
// ok=false means the repo is at capacity and the caller should back off.
// The returned lease must be passed to ReleaseRepo; a worker that dies
// with a lease held loses it after ttl.
func (c *Coordinator) AcquireRepo(ctx context.Context, repo string, capacity int, ttl time.Duration) (lease string, ok bool, err error) {
	if capacity < 1 {
		capacity = 1
	}
	ttl = keyTTL(ttl)
	lease = uuid.NewString()
	now := time.Now()
	res, err := acquireScript.Run(ctx, c.client,
		[]string{semaphoreKey(repo)},
		now.UnixMilli(),
		capacity,
		now.Add(ttl).UnixMilli(),
		lease,
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return "", false, fmt.Errorf("acquire repo semaphore: %w", err)
	}
	if res != 1 {
		return "", false, nil
	}
	return lease, true, nil
}

// ReleaseRepo returns a slot. Releasing an expired or unknown lease is
// harmless.
func (c *Coordinator) ReleaseRepo(ctx context.Context, repo, lease string) error {
	if lease == "" {
		return nil
	}
	if err := c.client.ZRem(ctx, semaphoreKey(repo), lease).Err(); err != nil {
		return fmt.Errorf("release repo semaphore: %w", err)
	}
	return nil
}

// RepoHeld reports how many leases are currently live for a repo.
func (c *Coordinator) RepoHeld(ctx context.Context, repo string) (int, error) {
	now := time.Now().UnixMilli()
	if err := c.client.ZRemRangeByScore(ctx, semaphoreKey(repo), "-inf", fmt.Sprint(now)).Err(); err != nil {
		return 0, fmt.Errorf("repo held: %w", err)
	}
	n, err := c.client.ZCard(ctx, semaphoreKey(repo)).Result()
	if err != nil {
		return 0, fmt.Errorf("repo held: %w", err)
	}
	return int(n), nil
}
