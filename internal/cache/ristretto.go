package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// RistrettoConfig sizes a RistrettoCache. Zero fields take defaults sized for
// a handful of key sets. MaxCost also absorbs ristretto's per-item overhead.
type RistrettoConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	// Metrics enables hit and miss counting, reported by Stats.
	Metrics bool
}

func (c *RistrettoConfig) setDefaults() {
	if c.NumCounters <= 0 {
		c.NumCounters = 1 << 10
	}
	if c.MaxCost <= 0 {
		c.MaxCost = 1 << 16
	}
	if c.BufferItems <= 0 {
		c.BufferItems = 64
	}
}

// RistrettoCache is the default in-process Cache.
type RistrettoCache struct {
	cache *ristretto.Cache
}

func NewRistretto(cfg RistrettoConfig) (*RistrettoCache, error) {
	cfg.setDefaults()
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}
	return &RistrettoCache{cache: cache}, nil
}

func (r *RistrettoCache) Get(key string) (any, bool) {
	return r.cache.Get(key)
}

// Set stores value. ristretto applies writes asynchronously; callers that need
// read-your-write visibility call Wait afterwards.
func (r *RistrettoCache) Set(key string, value any, cost int64, ttl time.Duration) bool {
	return r.cache.SetWithTTL(key, value, cost, ttl)
}

func (r *RistrettoCache) Del(key string) {
	r.cache.Del(key)
}

// Wait flushes pending sets.
func (r *RistrettoCache) Wait() { r.cache.Wait() }

// Stats reports lookups since creation. Both are zero unless
// RistrettoConfig.Metrics was set.
func (r *RistrettoCache) Stats() (hits, misses uint64) {
	m := r.cache.Metrics
	return m.Hits(), m.Misses()
}

// Close stops the cache's background goroutines.
func (r *RistrettoCache) Close() { r.cache.Close() }
