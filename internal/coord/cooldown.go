package coord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func cooldownKey(runKey string) string {
	return "cooldown:" + runKey
}

// SetCooldown marks a failure signature as recently fixed. New events
// carrying the same run_key are blocked until the entry expires.
func (c *Coordinator) SetCooldown(ctx context.Context, runKey, runID string, ttl time.Duration) error {
	if err := c.client.Set(ctx, cooldownKey(runKey), runID, keyTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("set cooldown: %w", err)
	}
	return nil
}

// InCooldown reports whether a signature is cooling down, and which run
// set the entry.
func (c *Coordinator) InCooldown(ctx context.Context, runKey string) (bool, string, error) {
	runID, err := c.client.Get(ctx, cooldownKey(runKey)).Result()
	if errors.Is(err, redis.Nil) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("check cooldown: %w", err)
	}
	return true, runID, nil
}

func stateKey(key string) string {
	return "state:" + key
}

// PutState stores a short-lived opaque value, e.g. an OAuth or install
// callback nonce.
func (c *Coordinator) PutState(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, stateKey(key), value, keyTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("put state: %w", err)
	}
	return nil
}

// TakeState consumes a short-lived value. Each value is readable once.
func (c *Coordinator) TakeState(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.GetDel(ctx, stateKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("take state: %w", err)
	}
	return value, true, nil
}
