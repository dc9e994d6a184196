// Package keygate authenticates inbound requests carrying identity tokens
// issued by a remote provider such as Firebase Authentication.
//
// The Engine verifies RS256 tokens against the provider's rotating public
// keys. Keys are cached in process for Keys.CacheTTL (24h by default), a
// refresh is shared by all concurrent callers, and when a refresh fails the
// previous keys keep being served.
package keygate

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	icache "github.com/keksclan/goKeygate/internal/cache"
	"github.com/keksclan/goKeygate/internal/keystore"
	"github.com/keksclan/goKeygate/internal/token"
)

// KeyStats is a snapshot of the cached key set.
type KeyStats struct {
	URL       string
	Loaded    bool
	KeyCount  int
	FetchedAt time.Time
	Age       time.Duration
	Stale     bool
	// CacheHits and CacheMisses count lookups in the default in-process
	// cache. They stay zero when WithCache supplied the cache.
	CacheHits   uint64
	CacheMisses uint64
}

// Engine verifies tokens and makes gate decisions according to Config.
//
// Concurrency: Engine is safe for concurrent use if the provided Cache and HTTP
// client are safe for concurrent use (the defaults are).
type Engine struct {
	cfg      Config
	httpc    *http.Client
	cache    Cache
	owned    *icache.RistrettoCache
	peer     SharedCache
	log      *slog.Logger
	metrics  Metrics
	now      func() time.Time
	store    *keystore.Store
	verifier *token.Verifier
	bypass   bypassRules
}

// metricsAdapter feeds token and keystore events into Metrics.
type metricsAdapter struct{ m Metrics }

func (a metricsAdapter) ValidationOK()                        { a.m.ValidationOK() }
func (a metricsAdapter) ValidationFailed(r token.Reason)      { a.m.ValidationFailed(r) }
func (a metricsAdapter) KeyFetch(ok bool, took time.Duration) { a.m.KeyFetch(ok, took) }
func (a metricsAdapter) StaleServed()                         { a.m.StaleServed() }

// New creates an Engine from cfg and optional Options.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.httpc == nil {
		e.httpc = &http.Client{Timeout: cfg.Keys.FetchTimeout}
	}
	if e.cache == nil {
		rc, err := icache.NewRistretto(icache.RistrettoConfig{Metrics: true})
		if err != nil {
			return nil, err
		}
		e.cache = rc
		e.owned = rc
	}

	storeOpts := []keystore.Option{
		keystore.WithHTTPClient(e.httpc),
		keystore.WithLogger(e.log),
		keystore.WithClock(e.now),
	}
	if e.peer != nil {
		storeOpts = append(storeOpts, keystore.WithPeer(e.peer))
	}
	var tm token.MetricsCollector
	if e.metrics != nil {
		ma := metricsAdapter{m: e.metrics}
		storeOpts = append(storeOpts, keystore.WithObserver(ma))
		tm = ma
	}
	e.store = keystore.New(e.cache, cfg.storeConfig(), storeOpts...)

	v, err := token.New(token.Config{
		Issuer:              cfg.Issuer,
		Audience:            cfg.Audience,
		Leeway:              cfg.ClockSkew,
		RefreshOnUnknownKID: cfg.Keys.RefreshOnUnknownKID,
		Metrics:             tm,
		Now:                 e.now,
	}, e.store)
	if err != nil {
		return nil, fmt.Errorf("init token verifier: %w", err)
	}
	e.verifier = v
	e.bypass = newBypassRules(cfg.Bypass)
	return e, nil
}

// Config returns the effective configuration, defaults applied.
func (e *Engine) Config() Config { return e.cfg }

// Verify verifies raw and returns the identity it carries. Errors match one
// of the Err* sentinels; ReasonOf names it.
func (e *Engine) Verify(ctx context.Context, raw string) (*Identity, error) {
	c, err := e.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, err
	}
	return &Identity{
		Subject:   c.Subject,
		Issuer:    c.Issuer,
		Audience:  e.cfg.Audience,
		ExpiresAt: c.ExpiresAt,
		IssuedAt:  c.IssuedAt,
		Claims:    c.RawMap,
	}, nil
}

// Authenticate decides whether a request may proceed. rawToken is empty when
// the request carries none; requestURI is the path and query as received.
// It never returns an error and never panics.
func (e *Engine) Authenticate(ctx context.Context, rawToken, requestURI string) (d Decision) {
	if rawToken == "" {
		return Decision{Kind: Allow}
	}
	if e.bypass.match(requestPath(requestURI)) {
		return Decision{Kind: Allow, Bypassed: true}
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("token verification panicked", slog.Any("panic", r))
			d = e.deny(requestURI, ReasonMalformedToken)
		}
	}()

	id, err := e.Verify(ctx, rawToken)
	if err != nil {
		reason := ReasonOf(err)
		if reason == ReasonKeyFetchFailed {
			e.log.Warn("token rejected, public keys unavailable", slog.Any("error", err))
		} else {
			e.log.Debug("token rejected", slog.String("reason", string(reason)), slog.String("path", requestPath(requestURI)))
		}
		return e.deny(requestURI, reason)
	}
	return Decision{Kind: Allow, Identity: id}
}

func (e *Engine) deny(requestURI string, reason Reason) Decision {
	if reason == ReasonNone {
		reason = ReasonMalformedToken
	}
	return Decision{
		Kind:           Deny,
		RedirectTarget: e.bypass.redirectTarget(requestURI),
		Reason:         reason,
	}
}

// Warm fetches the key set so the first request does not pay for it. It
// returns ErrNoKeys when the fetch fails and nothing is cached, which leaves
// every token rejected until the provider is reachable.
func (e *Engine) Warm(ctx context.Context) error {
	if _, err := e.store.Keys(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrNoKeys, err)
	}
	return nil
}

// RefreshKeys fetches the key set regardless of its age.
func (e *Engine) RefreshKeys(ctx context.Context) error {
	_, err := e.store.Refresh(ctx)
	return err
}

func (e *Engine) KeyStats() KeyStats {
	st := e.store.Stats()
	ks := KeyStats{
		URL:       st.URL,
		Loaded:    st.Loaded,
		KeyCount:  st.KeyCount,
		FetchedAt: st.FetchedAt,
		Age:       st.Age,
		Stale:     st.Stale,
	}
	if e.owned != nil {
		ks.CacheHits, ks.CacheMisses = e.owned.Stats()
	}
	return ks
}

// Close releases the default cache. Caches passed with WithCache are left to
// the caller.
func (e *Engine) Close() {
	if e.owned != nil {
		e.owned.Close()
	}
}
