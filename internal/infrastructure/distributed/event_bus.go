package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rendezvous/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type EventType string

const (
	EventPeerJoined EventType = "peer.joined"
	EventPeerLeft   EventType = "peer.left"
)

// PresenceEvent is the message published on the presence channel.
type PresenceEvent struct {
	Type       EventType          `json:"type"`
	InstanceID string             `json:"instance_id"`
	Timestamp  time.Time          `json:"timestamp"`
	Peer       *domain.PeerRecord `json:"peer"`
}

// Subscribe delivers presence events published on channel until ctx ends.
// Observers use it; the signaling server itself only publishes.
func Subscribe(ctx context.Context, client redis.UniversalClient, channel string, logger *zap.SugaredLogger, handler func(*PresenceEvent) error) error {
	pubsub := client.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription to %s closed", channel)
			}
			var event PresenceEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Warnw("failed to unmarshal presence event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}
			if err := handler(&event); err != nil {
				logger.Warnw("error handling presence event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}
