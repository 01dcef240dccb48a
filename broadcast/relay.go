// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/danielhkuo/livepoll/models"
)

// DefaultChannel is the Redis Pub/Sub channel updates travel on.
const DefaultChannel = "livepoll:updates"

// RedisRelay shares tally updates between server instances. As a Sink it
// publishes to Redis; Run subscribes and replays every update, including
// this instance's own, into the local hub.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

func NewRedisRelay(client redis.UniversalClient, channel string, logger *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{client: client, channel: channel, logger: logger}
}

func (r *RedisRelay) Publish(ctx context.Context, update models.TallyUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode tally update: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish tally update: %w", err)
	}
	return nil
}

// Run forwards updates from Redis to local until the context ends.
// ready, when non-nil, is closed once the subscription is confirmed.
func (r *RedisRelay) Run(ctx context.Context, local Sink, ready chan<- struct{}) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	r.logger.Info("relay subscribed", "channel", r.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var update models.TallyUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
				r.logger.Warn("discarding malformed tally update", "error", err)
				continue
			}
			if err := local.Publish(ctx, update); err != nil {
				r.logger.Error("failed to deliver relayed update",
					"poll_id", update.PollID,
					"error", err,
				)
			}
		}
	}
}
