// Package coord holds the Redis-backed coordination fabric: the per-repo
// concurrency semaphore, cooldown entries, post-merge correlation, the
// dashboard pub/sub channel, and short-lived install state. Everything
// here is ephemeral; durable state lives in the store.
package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Coordinator struct {
	client *redis.Client
}

// Open connects to Redis using a redis:// URL and verifies the
// connection before returning.
func Open(ctx context.Context, url string) (*Coordinator, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client), nil
}

// New wraps an existing client. Tests pass a miniredis-backed client.
func New(client *redis.Client) *Coordinator {
	return &Coordinator{client: client}
}

func (c *Coordinator) Close() error {
	return c.client.Close()
}

func (c *Coordinator) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// keyTTL guards against zero TTLs leaking permanent coordination keys.
func keyTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Minute
	}
	return d
}
