package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRelayChannel is the Redis pub/sub channel shared by all instances
const DefaultRelayChannel = "teamchat:changes"

type envelope struct {
	Origin string `json:"origin"`
	Change Change `json:"change"`
}

// RedisRelay publishes changes locally and to Redis, and replays changes
// published by other instances onto the local bus.
type RedisRelay struct {
	local   *Bus
	rdb     *redis.Client
	channel string
	origin  string
}

// NewRedisRelay creates a relay for the given bus
func NewRedisRelay(local *Bus, rdb *redis.Client, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{
		local:   local,
		rdb:     rdb,
		channel: channel,
		origin:  uuid.New().String(),
	}
}

func (r *RedisRelay) Publish(change Change) {
	r.local.Publish(change)

	payload, err := json.Marshal(envelope{Origin: r.origin, Change: change})
	if err != nil {
		slog.Error("failed to encode change", slog.String("error", err.Error()))
		return
	}
	if err := r.rdb.Publish(context.Background(), r.channel, payload).Err(); err != nil {
		slog.Warn("failed to relay change",
			slog.String("chat_id", change.ChatID),
			slog.String("error", err.Error()))
	}
}

// Run forwards remote changes to the local bus until ctx is cancelled
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	slog.Info("change relay subscribed", slog.String("channel", r.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *RedisRelay) handle(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		slog.Warn("dropping malformed change", slog.String("error", err.Error()))
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.local.Publish(env.Change)
}
