// Package keygateconfig loads keygate.Config from Go values, JSON, YAML or
// Lua files, a Firebase service account file, and environment variables.
package keygateconfig

import (
	"context"
	"fmt"

	"github.com/keksclan/goKeygate/keygate"
)

// Loader loads a keygate.Config from a source. Returned configs have
// defaults applied and are validated.
type Loader interface {
	Load(ctx context.Context) (*keygate.Config, error)
}

// rawLoader is implemented by the loaders of this package so overlays can
// combine sources before validation.
type rawLoader interface {
	loadRaw(ctx context.Context) (keygate.Config, error)
}

func finalize(cfg keygate.Config) (*keygate.Config, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func loadRaw(ctx context.Context, l Loader) (keygate.Config, error) {
	if rl, ok := l.(rawLoader); ok {
		return rl.loadRaw(ctx)
	}
	cfg, err := l.Load(ctx)
	if err != nil {
		return keygate.Config{}, err
	}
	return *cfg, nil
}

// goLoader returns a static config.
type goLoader struct {
	cfg keygate.Config
}

// FromGo creates a Loader that returns the provided config directly.
func FromGo(cfg keygate.Config) Loader {
	return &goLoader{cfg: cfg}
}

func (l *goLoader) loadRaw(_ context.Context) (keygate.Config, error) {
	return l.cfg, nil
}

func (l *goLoader) Load(ctx context.Context) (*keygate.Config, error) {
	cfg, _ := l.loadRaw(ctx)
	return finalize(cfg)
}
