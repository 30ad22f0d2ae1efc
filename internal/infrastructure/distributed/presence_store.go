package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rendezvous/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

// RedisPresenceStore writes presence events to Redis. Every event is
// published on the channel and applied to a per-instance hash keyed by peer
// id, so a late observer can read the current set before subscribing.
type RedisPresenceStore struct {
	client      redis.UniversalClient
	channel     string
	snapshotKey string
	ttl         time.Duration
}

// NewRedisPresenceStore keeps the snapshot under <prefix>instance:<id>:peers.
// The hash expires after ttl unless refreshed, so a crashed process does not
// leave peers behind forever.
func NewRedisPresenceStore(client redis.UniversalClient, channel, prefix, instanceID string, ttl time.Duration) *RedisPresenceStore {
	return &RedisPresenceStore{
		client:      client,
		channel:     channel,
		snapshotKey: SnapshotKey(prefix, instanceID),
		ttl:         ttl,
	}
}

func SnapshotKey(prefix, instanceID string) string {
	return fmt.Sprintf("%sinstance:%s:peers", prefix, instanceID)
}

// Apply writes a batch of events in a single pipeline.
func (s *RedisPresenceStore) Apply(ctx context.Context, events []PresenceEvent) error {
	if len(events) == 0 {
		return nil
	}

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i := range events {
			event := &events[i]
			payload, err := json.Marshal(event)
			if err != nil {
				return fmt.Errorf("marshal presence event: %w", err)
			}

			switch event.Type {
			case EventPeerJoined:
				record, err := json.Marshal(event.Peer)
				if err != nil {
					return fmt.Errorf("marshal peer record: %w", err)
				}
				pipe.HSet(ctx, s.snapshotKey, string(event.Peer.PeerID), record)
			case EventPeerLeft:
				pipe.HDel(ctx, s.snapshotKey, string(event.Peer.PeerID))
			default:
				return fmt.Errorf("unknown presence event %q", event.Type)
			}
			pipe.Publish(ctx, s.channel, payload)
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, s.snapshotKey, s.ttl)
		}
		return nil
	})
	return err
}

// Touch extends the snapshot expiry.
func (s *RedisPresenceStore) Touch(ctx context.Context) error {
	if s.ttl <= 0 {
		return nil
	}
	return s.client.Expire(ctx, s.snapshotKey, s.ttl).Err()
}

// Clear removes this instance's snapshot.
func (s *RedisPresenceStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.snapshotKey).Err()
}

// Snapshot reads the peers currently mirrored for this instance.
func (s *RedisPresenceStore) Snapshot(ctx context.Context) (map[domain.PeerID]*domain.PeerRecord, error) {
	raw, err := s.client.HGetAll(ctx, s.snapshotKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence snapshot: %w", err)
	}

	peers := make(map[domain.PeerID]*domain.PeerRecord, len(raw))
	for id, data := range raw {
		var record domain.PeerRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return nil, fmt.Errorf("decode presence record %s: %w", id, err)
		}
		peers[domain.PeerID(id)] = &record
	}
	return peers, nil
}

func (s *RedisPresenceStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
