// Command keygated serves a cookie-authenticated web front for Firebase ID
// tokens. It is configured from KEYGATE_CONFIG (a .json, .yaml or .lua file)
// or KEYGATE_SERVICE_ACCOUNT, overlaid with KEYGATE_* environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/keksclan/goKeygate/internal/logging"
	"github.com/keksclan/goKeygate/internal/metrics"
	"github.com/keksclan/goKeygate/keygate"
	"github.com/keksclan/goKeygate/keygateconfig"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := logging.Init("keygated", os.Stderr)
	if err := run(logger); err != nil {
		logger.Error("keygated exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader, err := configLoader()
	if err != nil {
		return err
	}
	cfg, err := keygateconfig.WithEnv(loader).Load(ctx)
	if err != nil {
		return err
	}

	collector := metrics.New()
	opts := []keygate.Option{keygate.WithLogger(logger), keygate.WithMetrics(collector)}
	if addr := os.Getenv("KEYGATE_REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		opts = append(opts, keygate.WithPeer(keygate.NewRedisPeer(rdb, os.Getenv("KEYGATE_REDIS_PREFIX"))))
	}
	engine, err := keygate.New(*cfg, opts...)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Warm(ctx); err != nil {
		// Every token is denied until the provider answers.
		logger.Error("ALERT: no public keys available at startup", slog.Any("error", err))
	}

	app := newApp(serverDeps{
		engine:        engine,
		metrics:       collector,
		log:           logger,
		internalHosts: splitList(envOr("KEYGATE_INTERNAL_HOSTS", "localhost,127.0.0.1")),
	})

	addr := ":" + envOr("PORT", "8080")
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", addr), slog.String("issuer", cfg.Issuer))
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}

func configLoader() (keygateconfig.Loader, error) {
	if p := os.Getenv("KEYGATE_CONFIG"); p != "" {
		switch strings.ToLower(filepath.Ext(p)) {
		case ".json":
			return keygateconfig.FromJSONFile(p), nil
		case ".yaml", ".yml":
			return keygateconfig.FromYAMLFile(p), nil
		case ".lua":
			return keygateconfig.FromLuaFile(p), nil
		default:
			return nil, fmt.Errorf("KEYGATE_CONFIG: unsupported file type %q", filepath.Ext(p))
		}
	}
	if p := os.Getenv("KEYGATE_SERVICE_ACCOUNT"); p != "" {
		return keygateconfig.FromServiceAccountFile(p), nil
	}
	if _, err := os.Stat("serviceAccountKey.json"); err == nil {
		return keygateconfig.FromServiceAccountFile("serviceAccountKey.json"), nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return nil, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
