package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"ledger-settlement-engine/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events on a Redis Pub/Sub channel. Delivery is
// at-most-once; subscribers that are not connected miss events.
type RedisPublisher struct {
	client  goredis.Cmdable
	channel string
}

// NewRedisPublisher creates a publisher on channel.
func NewRedisPublisher(client goredis.Cmdable, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event *domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", event.Type, err)
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (p *RedisPublisher) Close() error { return nil }
