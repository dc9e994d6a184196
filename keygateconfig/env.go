package keygateconfig

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/keksclan/goKeygate/keygate"
)

// Environment variables read by WithEnv.
const (
	EnvProjectID    = "KEYGATE_PROJECT_ID"
	EnvIssuer       = "KEYGATE_ISSUER"
	EnvAudience     = "KEYGATE_AUDIENCE"
	EnvKeysURL      = "KEYGATE_KEYS_URL"
	EnvKeysFormat   = "KEYGATE_KEYS_FORMAT"
	EnvCacheTTL     = "KEYGATE_CACHE_TTL"
	EnvFetchTimeout = "KEYGATE_FETCH_TIMEOUT"
	EnvBackoff      = "KEYGATE_FAILURE_BACKOFF"
)

type envLoader struct {
	base   Loader
	lookup func(string) (string, bool)
}

// WithEnv overlays KEYGATE_* environment variables on base. base may be nil.
// KEYGATE_PROJECT_ID sets the Firebase issuer and audience; the explicit
// variables take precedence over it. Durations use time.ParseDuration syntax.
func WithEnv(base Loader) Loader {
	return &envLoader{base: base, lookup: os.LookupEnv}
}

func (l *envLoader) loadRaw(ctx context.Context) (keygate.Config, error) {
	var cfg keygate.Config
	if l.base != nil {
		var err error
		if cfg, err = loadRaw(ctx, l.base); err != nil {
			return keygate.Config{}, err
		}
	}

	if pid, ok := l.lookup(EnvProjectID); ok && pid != "" {
		fb := keygate.ForFirebaseProject(pid)
		cfg.Issuer, cfg.Audience = fb.Issuer, fb.Audience
	}
	l.str(EnvIssuer, &cfg.Issuer)
	l.str(EnvAudience, &cfg.Audience)
	l.str(EnvKeysURL, &cfg.Keys.URL)
	if v, ok := l.lookup(EnvKeysFormat); ok && v != "" {
		cfg.Keys.Format = keygate.KeyFormat(v)
	}
	if err := l.dur(EnvCacheTTL, &cfg.Keys.CacheTTL); err != nil {
		return keygate.Config{}, err
	}
	if err := l.dur(EnvFetchTimeout, &cfg.Keys.FetchTimeout); err != nil {
		return keygate.Config{}, err
	}
	if err := l.dur(EnvBackoff, &cfg.Keys.FailureBackoff); err != nil {
		return keygate.Config{}, err
	}
	return cfg, nil
}

func (l *envLoader) Load(ctx context.Context) (*keygate.Config, error) {
	cfg, err := l.loadRaw(ctx)
	if err != nil {
		return nil, err
	}
	return finalize(cfg)
}

func (l *envLoader) str(key string, dst *string) {
	if v, ok := l.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (l *envLoader) dur(key string, dst *time.Duration) error {
	v, ok := l.lookup(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}
