package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "keygate:"

// RedisShared implements Shared on top of a Redis client so that replicas can
// reuse each other's key fetches.
type RedisShared struct {
	rdb   redis.UniversalClient
	keyNS string
}

func NewRedisShared(rdb redis.UniversalClient, keyPrefix string) *RedisShared {
	if keyPrefix == "" {
		keyPrefix = defaultRedisPrefix
	}
	return &RedisShared{rdb: rdb, keyNS: keyPrefix}
}

func (s *RedisShared) key(k string) string { return s.keyNS + k }

func (s *RedisShared) Load(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisShared) Save(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, s.key(key), val, ttl).Err()
}
