package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "notify:user:"
	publishTimeout = 5 * time.Second
)

type redisPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// RedisPubSub bridges user events across instances.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for user events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

// Channel is the Redis channel of a user.
func Channel(userID uuid.UUID) string {
	return channelPrefix + userID.String()
}

// PublishUserEvent publishes an event to the user's channel.
func (r *RedisPubSub) PublishUserEvent(ctx context.Context, userID uuid.UUID, event string, payload []byte) error {
	body, err := json.Marshal(redisPayload{Event: event, Data: payload, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, Channel(userID), body).Err()
}

// SubscribeUser subscribes to a user's channel and calls handler for each message.
func (r *RedisPubSub) SubscribeUser(userID uuid.UUID, handler func(event string, payload []byte)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, Channel(userID))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p redisPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					r.logger.Warn("malformed user event", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				handler(p.Event, p.Data)
			}
		}
	}()
	return cancel, nil
}
