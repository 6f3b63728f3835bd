package coord

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

// DashboardChannel carries run transition events to every subscribed
// replica's SSE stream.
const DashboardChannel = "dashboard:events"

// PublishDashboard emits a dashboard event. Callers treat failures as
// log-and-continue; publication never gates a transition.
func (c *Coordinator) PublishDashboard(ctx context.Context, ev model.DashboardEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("publish dashboard event: %w", err)
	}
	if err := c.client.Publish(ctx, DashboardChannel, raw).Err(); err != nil {
		return fmt.Errorf("publish dashboard event: %w", err)
	}
	return nil
}

// DashboardSub is a live subscription to the dashboard channel.
type DashboardSub struct {
	pubsub *redis.PubSub
	events chan model.DashboardEvent
}

// SubscribeDashboard opens a subscription. The events channel closes when
// the subscription is closed or the context ends; undecodable payloads
// are dropped.
func (c *Coordinator) SubscribeDashboard(ctx context.Context) *DashboardSub {
	pubsub := c.client.Subscribe(ctx, DashboardChannel)
	sub := &DashboardSub{
		pubsub: pubsub,
		events: make(chan model.DashboardEvent, 32),
	}
	go func() {
		defer close(sub.events)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev model.DashboardEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case sub.events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return sub
}

func (s *DashboardSub) Events() <-chan model.DashboardEvent {
	return s.events
}

func (s *DashboardSub) Close() error {
	return s.pubsub.Close()
}
