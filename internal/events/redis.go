package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/portfolio-ledger/internal/logging"
)

// Channel is the Redis pub/sub channel engine events are published on.
const Channel = "ledger:events"

// RedisEmitter publishes events on a Redis pub/sub channel for live
// subscribers. Publish failures are logged and dropped.
type RedisEmitter struct {
	client *redis.Client
}

// NewRedisEmitter creates a Redis-backed emitter.
func NewRedisEmitter(client *redis.Client) *RedisEmitter {
	return &RedisEmitter{client: client}
}

// Emit implements Emitter.
func (e *RedisEmitter) Emit(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Error("Failed to marshal event")
		return
	}
	if err := e.client.Publish(ctx, Channel, payload).Err(); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to publish event")
	}
}
