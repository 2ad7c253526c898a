// Package bridge mirrors hub publishes onto a Redis stream so external
// consumers (dashboards, recorders) can tail the gateway's message flow.
// It is optional: when disabled the gateway runs fully in-process.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/miraihub/mirai-gateway/internal/config"
	"github.com/miraihub/mirai-gateway/internal/pubsub"
)

// Bridge tails the hub's global and conversation channels into Redis.
type Bridge struct {
	rdb    *redis.Client
	stream string
	logger *slog.Logger
	subs   []*pubsub.Subscription
	hub    *pubsub.Hub
}

// New connects to Redis and validates the connection.
func New(cfg config.BridgeConfig, logger *slog.Logger) (*Bridge, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Bridge{rdb: rdb, stream: cfg.Stream, logger: logger}, nil
}

// Attach subscribes the bridge to the hub's global channel. Conversation
// channels are mirrored per conversation via Watch.
func (b *Bridge) Attach(hub *pubsub.Hub) {
	b.hub = hub
	sub := hub.Subscribe(pubsub.GlobalChannel, b.mirror(pubsub.GlobalChannel))
	b.subs = append(b.subs, sub)
	b.logger.Info("bridge attached", "stream", b.stream)
}

// Watch mirrors one conversation's channel onto the stream.
func (b *Bridge) Watch(conversationID string) {
	channel := pubsub.ConversationChannel(conversationID)
	sub := b.hub.Subscribe(channel, b.mirror(channel))
	b.subs = append(b.subs, sub)
}

// mirror returns a hub callback that XADDs each payload. A Redis failure is
// logged but reported as success to the hub: a flaky mirror must never get
// the bridge evicted from the channel.
func (b *Bridge) mirror(channel string) pubsub.Callback {
	return func(payload string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := b.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: b.stream,
			Values: map[string]interface{}{
				"channel":  channel,
				"payload":  payload,
				"mirrored": time.Now().UTC().Format(time.RFC3339Nano),
			},
		}).Err()
		if err != nil {
			b.logger.Warn("failed to mirror message to redis", "channel", channel, "error", err)
		}
		return nil
	}
}

// Close detaches from the hub and closes the Redis connection.
func (b *Bridge) Close() error {
	if b.hub != nil {
		for _, sub := range b.subs {
			b.hub.Unsubscribe(sub)
		}
	}
	return b.rdb.Close()
}
