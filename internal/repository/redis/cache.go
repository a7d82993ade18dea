package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/chatnil/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	chatListPrefix = "chats:"
	chatListTTL    = 10 * time.Minute
)

// ChatCache caches a user's full chat list in front of Postgres
type ChatCache struct {
	client *Client
	ttl    time.Duration
}

// NewChatCache creates a new chat list cache. A zero ttl uses the default.
func NewChatCache(client *Client, ttl time.Duration) *ChatCache {
	if ttl <= 0 {
		ttl = chatListTTL
	}
	return &ChatCache{client: client, ttl: ttl}
}

func chatListKey(userID string) string {
	return chatListPrefix + userID
}

// Get returns the cached chat list; ok is false on a cache miss
func (c *ChatCache) Get(ctx context.Context, userID string) ([]domain.Chat, bool, error) {
	data, err := c.client.rdb.Get(ctx, chatListKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read chat cache: %w", err)
	}

	var chats []domain.Chat
	if err := json.Unmarshal(data, &chats); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal chats: %w", err)
	}

	return chats, true, nil
}

// Set caches the chat list of a user
func (c *ChatCache) Set(ctx context.Context, userID string, chats []domain.Chat) error {
	if chats == nil {
		chats = []domain.Chat{}
	}
	data, err := json.Marshal(chats)
	if err != nil {
		return fmt.Errorf("failed to marshal chats: %w", err)
	}

	return c.client.rdb.Set(ctx, chatListKey(userID), data, c.ttl).Err()
}

// Invalidate drops the cached list of a user
func (c *ChatCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.rdb.Del(ctx, chatListKey(userID)).Err()
}

// FlushAll removes all cached chat lists
func (c *ChatCache) FlushAll(ctx context.Context) (int64, error) {
	return c.client.scanDelete(ctx, chatListPrefix+"*")
}
