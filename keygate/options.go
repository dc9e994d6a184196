package keygate

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	icache "github.com/keksclan/goKeygate/internal/cache"
	"github.com/redis/go-redis/v9"
)

// Cache holds the key set in process. Implementations must be safe for
// concurrent use. The default is a ristretto cache.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, cost int64, ttl time.Duration) bool
	Del(key string)
}

// SharedCache lets replicas reuse each other's key fetches.
type SharedCache interface {
	Load(ctx context.Context, key string) (val []byte, found bool, err error)
	Save(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// Metrics receives verification and key fetch events.
// All methods must be safe for concurrent use.
type Metrics interface {
	ValidationOK()
	ValidationFailed(reason Reason)
	KeyFetch(ok bool, took time.Duration)
	StaleServed()
}

// NewRedisPeer returns a SharedCache backed by rdb. Keys are namespaced with
// prefix, "keygate:" when empty.
func NewRedisPeer(rdb redis.UniversalClient, prefix string) SharedCache {
	return icache.NewRedisShared(rdb, prefix)
}

type Option func(*Engine)

func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		e.httpc = c
	}
}

func WithCache(c Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

func WithPeer(p SharedCache) Option {
	return func(e *Engine) {
		e.peer = p
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock replaces time.Now for expiry checks and cache ageing.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}
