package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lingochat-backend/pkg/logger"
)

// Envelope ops besides the default event delivery
const (
	OpLeaveIdentity = "leave-identity"
	OpCloseRoom     = "close-room"
)

// Envelope carries one room event, or a room membership change when Op is
// set, between instances
type Envelope struct {
	Origin   string          `json:"origin"`
	Op       string          `json:"op,omitempty"`
	Room     string          `json:"room"`
	Identity string          `json:"identity,omitempty"`
	Event    string          `json:"event,omitempty"`
	Frame    json.RawMessage `json:"frame,omitempty"`
}

// Broker fans room events out to the other instances of the service
type Broker interface {
	Publish(ctx context.Context, env *Envelope) error
	// Subscribe delivers every published envelope until ctx is done
	Subscribe(ctx context.Context, deliver func(*Envelope)) error
}

// RedisBroker implements Broker over Redis Pub/Sub
type RedisBroker struct {
	client  *redis.Client
	channel string
}

// NewRedisBroker creates a broker publishing on one channel
func NewRedisBroker(client *redis.Client, channel string) *RedisBroker {
	return &RedisBroker{client: client, channel: channel}
}

// Publish sends an envelope to every subscribed instance
func (b *RedisBroker) Publish(ctx context.Context, env *Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Subscribe listens on the channel until ctx is cancelled
func (b *RedisBroker) Subscribe(ctx context.Context, deliver func(*Envelope)) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis channel %s closed", b.channel)
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn("Failed to unmarshal room envelope",
					zap.String("channel", b.channel),
					zap.Error(err))
				continue
			}
			deliver(&env)
		}
	}
}
