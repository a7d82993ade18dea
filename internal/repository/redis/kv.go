package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Rrens/chatnil/internal/kv"
	"github.com/redis/go-redis/v9"
)

// KV is a remote-backed mirror store. Keys are stored under a namespace so
// several devices or tests can share one database.
type KV struct {
	client    *Client
	namespace string
}

// NewKV creates a KV storing keys under namespace
func NewKV(client *Client, namespace string) *KV {
	return &KV{client: client, namespace: namespace}
}

func (s *KV) key(k string) string {
	return s.namespace + k
}

func (s *KV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

func (s *KV) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.rdb.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *KV) Delete(ctx context.Context, key string) error {
	if err := s.client.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *KV) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(s.key(prefix)) + "*"
	var cursor uint64
	var keys []string

	for {
		batch, next, err := s.client.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, s.namespace))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Strings(keys)
	return keys, nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
