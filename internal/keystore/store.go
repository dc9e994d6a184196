// Package keystore fetches and caches an identity provider's public signing
// keys.
//
// Concurrency: Store is safe for concurrent use. The cached Entry is the only
// shared mutable state; it is replaced by publishing a new immutable Entry.
// Callers that miss the fresh entry while a refresh is in flight wait for that
// refresh rather than starting their own.
package keystore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/keksclan/goKeygate/internal/cache"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL            = 24 * time.Hour
	DefaultFetchTimeout   = 5 * time.Second
	DefaultFailureBackoff = 30 * time.Second
	DefaultPeerTimeout    = 500 * time.Millisecond
)

// Config controls where keys come from and how long they stay fresh.
type Config struct {
	URL          string
	Format       Format
	TTL          time.Duration
	FetchTimeout time.Duration

	// FailureBackoff is how long a stale entry is served without another
	// fetch after a failed one.
	FailureBackoff time.Duration
	// PeerTimeout bounds each shared tier call. It does not count against
	// FetchTimeout.
	PeerTimeout    time.Duration

	Auth         AuthConfig
	ExtraHeaders map[string]string
}

// Observer receives key store events. Methods must be safe for concurrent use.
type Observer interface {
	KeyFetch(ok bool, took time.Duration)
	StaleServed()
}

// Stats is a point-in-time view of the cached entry.
type Stats struct {
	URL       string
	Loaded    bool
	KeyCount  int
	FetchedAt time.Time
	Age       time.Duration
	Stale     bool
}

type Store struct {
	cfg      Config
	cache    cache.Cache
	peer     cache.Shared
	httpc    *http.Client
	log      *slog.Logger
	obs      Observer
	now      func() time.Time
	cacheKey string
	sfGroup  singleflight.Group
	// failedAt is the unix nano time of the last failed fetch, zero after a
	// success.
	failedAt atomic.Int64

	// fetchFn performs the outbound fetch. Tests replace it to count or fail
	// fetches without a server.
	fetchFn func(ctx context.Context) (KeySet, error)
}

// Option configures a Store.
type Option func(*Store)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) {
		if c != nil {
			s.httpc = c
		}
	}
}

// WithPeer adds a shared tier consulted before outbound fetches and updated
// after successful ones.
func WithPeer(p cache.Shared) Option {
	return func(s *Store) { s.peer = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Store) { s.obs = o }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Store publishing entries into c.
func New(c cache.Cache, cfg Config, opts ...Option) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = DefaultFailureBackoff
	}
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = DefaultPeerTimeout
	}
	if cfg.Format == "" {
		cfg.Format = FormatPEM
	}
	s := &Store{
		cfg:      cfg,
		cache:    c,
		httpc:    &http.Client{Timeout: cfg.FetchTimeout},
		log:      slog.Default(),
		now:      time.Now,
		cacheKey: "keys:" + cfg.URL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.fetchFn = s.fetchSet
	return s
}

// Keys returns the current key set. A fresh cached entry is returned without
// network access. Otherwise the keys are refreshed; if that fails and a stale
// entry exists, the stale keys are returned and no further fetch is made for
// FailureBackoff. The error wraps ErrKeyFetchFailed only when no keys have
// ever been fetched.
func (s *Store) Keys(ctx context.Context) (KeySet, error) {
	if e := s.load(); e != nil {
		if s.fresh(e) {
			return e.Keys, nil
		}
		if s.backingOff() {
			s.serveStale()
			return e.Keys, nil
		}
	}
	return s.refresh(ctx, false)
}

// Refresh fetches keys regardless of the cached entry's age. The stale
// fallback of Keys still applies.
func (s *Store) Refresh(ctx context.Context) (KeySet, error) {
	return s.refresh(ctx, true)
}

// RefreshIfOlder forces a refresh only when the cached entry is at least
// minAge old, which bounds how often unknown key ids can trigger fetches.
// A recent failed fetch also suppresses it for FailureBackoff.
func (s *Store) RefreshIfOlder(ctx context.Context, minAge time.Duration) (KeySet, error) {
	if e := s.load(); e != nil && (e.Age(s.now()) < minAge || s.backingOff()) {
		return e.Keys, nil
	}
	return s.refresh(ctx, true)
}

// Invalidate marks the cached entry as expired and clears any failure
// backoff. The keys stay available as the stale fallback.
func (s *Store) Invalidate() {
	s.failedAt.Store(0)
	e := s.load()
	if e == nil {
		return
	}
	s.publish(&Entry{Keys: e.Keys})
}

// Stats returns a snapshot of the cached entry.
func (s *Store) Stats() Stats {
	st := Stats{URL: s.cfg.URL}
	e := s.load()
	if e == nil {
		return st
	}
	now := s.now()
	st.Loaded = true
	st.KeyCount = len(e.Keys)
	st.FetchedAt = e.FetchedAt
	st.Age = e.Age(now)
	st.Stale = !s.fresh(e)
	return st
}

func (s *Store) refresh(ctx context.Context, force bool) (KeySet, error) {
	result, fetchErr, _ := s.sfGroup.Do(s.cfg.URL, func() (any, error) {
		// Another caller may have published, or failed, while we queued.
		if !force {
			if e := s.load(); e != nil {
				if s.fresh(e) {
					return e, nil
				}
				if s.backingOff() {
					s.serveStale()
					return e, nil
				}
			}
		}

		// The fetch outlives a cancelled caller; waiters share its result.
		detached := context.WithoutCancel(ctx)

		if !force {
			if e := s.loadPeer(detached); e != nil {
				s.publish(e)
				return e, nil
			}
		}

		fctx, cancel := context.WithTimeout(detached, s.cfg.FetchTimeout)
		defer cancel()
		start := s.now()
		set, err := s.fetchFn(fctx)
		if s.obs != nil {
			s.obs.KeyFetch(err == nil, s.now().Sub(start))
		}
		if err != nil {
			s.failedAt.Store(s.now().UnixNano())
			return nil, err
		}
		s.failedAt.Store(0)
		e := &Entry{Keys: set, FetchedAt: s.now()}
		s.publish(e)
		s.savePeer(detached, e)
		s.log.Debug("public keys refreshed", slog.String("url", s.cfg.URL), slog.Int("keys", len(set)))
		return e, nil
	})
	if fetchErr == nil {
		e, ok := result.(*Entry)
		if !ok || e == nil {
			return nil, fmt.Errorf("%w: unexpected singleflight result type %T for url=%s", ErrKeyFetchFailed, result, s.cfg.URL)
		}
		return e.Keys, nil
	}

	if stale := s.load(); stale != nil {
		s.log.Warn("public key fetch failed, serving stale keys",
			slog.String("url", s.cfg.URL),
			slog.Duration("age", stale.Age(s.now())),
			slog.Duration("retry_in", s.cfg.FailureBackoff),
			slog.Any("error", fetchErr))
		s.serveStale()
		return stale.Keys, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrKeyFetchFailed, fetchErr)
}

func (s *Store) fresh(e *Entry) bool {
	return e.Age(s.now()) < s.cfg.TTL
}

// backingOff reports whether a fetch failed within FailureBackoff.
func (s *Store) backingOff() bool {
	at := s.failedAt.Load()
	return at != 0 && s.now().Sub(time.Unix(0, at)) < s.cfg.FailureBackoff
}

func (s *Store) serveStale() {
	if s.obs != nil {
		s.obs.StaleServed()
	}
}

func (s *Store) load() *Entry {
	val, ok := s.cache.Get(s.cacheKey)
	if !ok {
		return nil
	}
	e, ok := val.(*Entry)
	if !ok || e == nil || len(e.Keys) == 0 {
		return nil
	}
	return e
}

func (s *Store) publish(e *Entry) {
	if !s.cache.Set(s.cacheKey, e, 1, 0) {
		s.log.Debug("key cache dropped entry", slog.String("url", s.cfg.URL))
	}
	// ensure visibility for immediate subsequent reads (ristretto is async)
	if w, ok := s.cache.(interface{ Wait() }); ok {
		w.Wait()
	}
}

// peerEntry is the wire form shared between replicas.
type peerEntry struct {
	Keys      map[string]string `json:"keys"`
	FetchedAt time.Time         `json:"fetched_at"`
}

func (s *Store) loadPeer(ctx context.Context) *Entry {
	if s.peer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PeerTimeout)
	defer cancel()
	raw, found, err := s.peer.Load(ctx, s.cacheKey)
	if err != nil {
		s.log.Warn("shared key cache unavailable", slog.Any("error", err))
		return nil
	}
	if !found {
		return nil
	}
	var pe peerEntry
	if err := json.Unmarshal(raw, &pe); err != nil {
		s.log.Warn("shared key cache entry unreadable", slog.Any("error", err))
		return nil
	}
	e := &Entry{Keys: parsePEMMap(pe.Keys, s.log), FetchedAt: pe.FetchedAt}
	if len(e.Keys) == 0 || !s.fresh(e) {
		return nil
	}
	return e
}

func (s *Store) savePeer(ctx context.Context, e *Entry) {
	if s.peer == nil {
		return
	}
	raw, err := json.Marshal(peerEntry{Keys: e.Keys.PEMs(), FetchedAt: e.FetchedAt})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PeerTimeout)
	defer cancel()
	if err := s.peer.Save(ctx, s.cacheKey, raw, s.cfg.TTL); err != nil {
		s.log.Warn("shared key cache write failed", slog.Any("error", err))
	}
}
