package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// envelope is the wire format on Redis channels; browsers subscribe through a websocket bridge
type envelope struct {
	Event string `json:"event"`
	Data  Event  `json:"data"`
}

// RedisEventPublisher implements EventPublisher using Redis Pub/Sub
type RedisEventPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisEventPublisher(client *redis.Client, logger *zap.Logger) *RedisEventPublisher {
	return &RedisEventPublisher{
		client: client,
		logger: logger,
	}
}

func (p *RedisEventPublisher) Publish(ctx context.Context, channel string, event Event) error {
	payload, err := json.Marshal(envelope{Event: event.EventType(), Data: event})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	receivers, err := p.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return fmt.Errorf("redis publish error: %w", err)
	}

	p.logger.Debug("Event published to Redis",
		zap.String("channel", channel),
		zap.String("event-type", event.EventType()),
		zap.Int64("receivers", receivers),
	)
	return nil
}
