package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ghosttrack/beacon/tracker"
)

const keyPrefix = "ghosttrack:tab:"

// RedisSessionStore keeps tab-scoped values in Redis. Keys expire after ttl
// without activity, which ends the session.
type RedisSessionStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisSessionStore(client redis.Cmdable, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

// Scope returns the store of one tab.
func (s *RedisSessionStore) Scope(tabID string) tracker.SessionStore {
	return &tabStore{parent: s, tabID: tabID}
}

type tabStore struct {
	parent *RedisSessionStore
	tabID  string
}

func (t *tabStore) key(key string) string {
	return keyPrefix + t.tabID + ":" + key
}

func (t *tabStore) Get(ctx context.Context, key string) (string, bool, error) {
	k := t.key(key)
	v, err := t.parent.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", k, err)
	}
	if t.parent.ttl > 0 {
		if err := t.parent.client.Expire(ctx, k, t.parent.ttl).Err(); err != nil {
			return v, true, fmt.Errorf("refresh ttl %s: %w", k, err)
		}
	}
	return v, v != "", nil
}

func (t *tabStore) Set(ctx context.Context, key, value string) error {
	k := t.key(key)
	if err := t.parent.client.Set(ctx, k, value, t.parent.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", k, err)
	}
	return nil
}
