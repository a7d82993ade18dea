package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/kv"
)

// testClient connects to REDIS_TEST_ADDR; tests are skipped without it
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	c := NewFromRedis(rdb)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `a\*b\?c\[d\]`, escapeGlob("a*b?c[d]"))
	assert.Equal(t, "chatnil.v3.user_1.", escapeGlob("chatnil.v3.user_1."))
}

func TestKV_Integration(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	s := NewKV(c, "test:"+uuid.NewString()+":")
	t.Cleanup(func() { _, _ = kv.DeletePrefix(ctx, s, "") })

	_, err := s.Get(ctx, kv.HistoryKey("u1"))
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Set(ctx, kv.HistoryKey("u1"), []byte("a")))
	require.NoError(t, s.Set(ctx, kv.HistoryKey("u2"), []byte("b")))

	keys, err := s.Keys(ctx, kv.UserPrefix("u1"))
	require.NoError(t, err)
	assert.Equal(t, []string{kv.HistoryKey("u1")}, keys)

	v, err := s.Get(ctx, kv.HistoryKey("u2"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(v))
}

func TestChatCache_Integration(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	cache := NewChatCache(c, time.Minute)
	userID := uuid.NewString()

	_, ok, err := cache.Get(ctx, userID)
	require.NoError(t, err)
	assert.False(t, ok)

	chats := []domain.Chat{{ID: "c1", Title: "Recruiting"}}
	require.NoError(t, cache.Set(ctx, userID, chats))

	got, ok, err := cache.Get(ctx, userID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Recruiting", got[0].Title)

	require.NoError(t, cache.Invalidate(ctx, userID))
	_, ok, _ = cache.Get(ctx, userID)
	assert.False(t, ok)
}

func TestRateLimiter_Integration(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c, 2, 1)
	key := uuid.NewString()
	t.Cleanup(func() { _ = rl.Reset(ctx, key) })

	for i := 0; i < 3; i++ {
		allowed, _, _, err := rl.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, remaining, _, err := rl.Allow(ctx, key)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Zero(t, remaining)
}
