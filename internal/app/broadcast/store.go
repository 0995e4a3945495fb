package broadcast

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore tracks which peer is sharing its screen in each room, as a Redis
// hash of room id to peer id.
type RedisStore struct {
	rdb        *redis.Client
	keySharing string
}

// NewRedisStore builds a Store backed by Redis. Prefix is optional (e.g., "webrtc").
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "webrtc"
	}
	return &RedisStore{
		rdb:        rdb,
		keySharing: fmt.Sprintf("%s:sharing", p),
	}
}

func (s *RedisStore) Reset(ctx context.Context) error {
	return s.rdb.Del(ctx, s.keySharing).Err()
}

// SetSharer records peerID as the room's sharer; an empty peerID clears it.
func (s *RedisStore) SetSharer(ctx context.Context, roomID, peerID string) error {
	if peerID == "" {
		return s.rdb.HDel(ctx, s.keySharing, roomID).Err()
	}
	return s.rdb.HSet(ctx, s.keySharing, roomID, peerID).Err()
}

func (s *RedisStore) DropRoom(ctx context.Context, roomID string) error {
	return s.rdb.HDel(ctx, s.keySharing, roomID).Err()
}

func (s *RedisStore) Sharers(ctx context.Context) (map[string]string, error) {
	vals, err := s.rdb.HGetAll(ctx, s.keySharing).Result()
	if err != nil {
		return nil, err
	}
	return vals, nil
}
