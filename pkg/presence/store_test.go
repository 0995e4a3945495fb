package presence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "test:"), mr
}

func TestSetPeersKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)

	require.NoError(t, s.SetPeers(ctx, "r1", []string{"p2", "p1", "p2"}))
	peers, err := s.Peers(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p1", "p2"}, peers)
	assert.True(t, mr.Exists("test:rooms:r1:peers"))

	require.NoError(t, s.SetPeers(ctx, "r1", []string{"p1"}))
	peers, err = s.Peers(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, peers)
}

func TestEmptyRoomIsListed(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	require.NoError(t, s.SetPeers(ctx, "r1", nil))
	rooms, err := s.Rooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, rooms)

	peers, err := s.Peers(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, peers)
}

func TestDropRoomAndReset(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)

	require.NoError(t, s.SetPeers(ctx, "r1", []string{"p1"}))
	require.NoError(t, s.SetPeers(ctx, "r2", []string{"p2"}))

	require.NoError(t, s.DropRoom(ctx, "r1"))
	rooms, err := s.Rooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, rooms)
	assert.False(t, mr.Exists("test:rooms:r1:peers"))

	require.NoError(t, s.Reset(ctx))
	assert.Empty(t, mr.Keys())
}
