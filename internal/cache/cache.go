package cache

import (
	"context"
	"time"
)

// Cache is the in-process store the key store publishes entries to.
// A ttl of zero means the entry never expires on its own.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, cost int64, ttl time.Duration) bool
	Del(key string)
}

// Shared is a byte-oriented store shared between replicas.
// Load reports found=false with a nil error when the key is absent.
type Shared interface {
	Load(ctx context.Context, key string) (val []byte, found bool, err error)
	Save(ctx context.Context, key string, val []byte, ttl time.Duration) error
}
