package presence

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore mirrors who is in each room: participants as a Redis list (join
// order) and the set of known rooms as a Redis set. Peers and Rooms are for
// external readers of the mirror.
type RedisStore struct {
	rdb      *redis.Client
	prefix   string
	keyRooms string
}

// NewRedisStore builds a presence store backed by Redis. Prefix is optional (e.g., "webrtc").
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "webrtc"
	}
	return &RedisStore{
		rdb:      rdb,
		prefix:   p,
		keyRooms: fmt.Sprintf("%s:rooms", p),
	}
}

func (s *RedisStore) peersKey(roomID string) string {
	return fmt.Sprintf("%s:rooms:%s:peers", s.prefix, roomID)
}

func (s *RedisStore) Reset(ctx context.Context) error {
	ids, err := s.rdb.SMembers(ctx, s.keyRooms).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.peersKey(id))
	}
	keys = append(keys, s.keyRooms)
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *RedisStore) SetPeers(ctx context.Context, roomID string, peers []string) error {
	key := s.peersKey(roomID)
	pipe := s.rdb.TxPipeline()
	_ = pipe.Del(ctx, key)
	if len(peers) > 0 {
		vals := make([]interface{}, len(peers))
		for i, p := range peers {
			vals[i] = p
		}
		_ = pipe.RPush(ctx, key, vals...)
	}
	_ = pipe.SAdd(ctx, s.keyRooms, roomID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) DropRoom(ctx context.Context, roomID string) error {
	pipe := s.rdb.TxPipeline()
	_ = pipe.Del(ctx, s.peersKey(roomID))
	_ = pipe.SRem(ctx, s.keyRooms, roomID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Peers(ctx context.Context, roomID string) ([]string, error) {
	return s.rdb.LRange(ctx, s.peersKey(roomID), 0, -1).Result()
}

func (s *RedisStore) Rooms(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, s.keyRooms).Result()
}
