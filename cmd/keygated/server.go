package main

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	keygatefiber "github.com/keksclan/goKeygate/adapters/fiber"
	"github.com/keksclan/goKeygate/internal/metrics"
	"github.com/keksclan/goKeygate/keygate"
)

// envelope is the response shape of every JSON endpoint.
type envelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data"`
	Status  int    `json:"status"`
}

func respond(c *fiber.Ctx, status int, msg string, data any) error {
	return c.Status(status).JSON(envelope{Message: msg, Data: data, Status: status})
}

func respondError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(envelope{Error: msg, Status: status})
}

type serverDeps struct {
	engine        *keygate.Engine
	metrics       *metrics.Collector
	log           *slog.Logger
	internalHosts []string
}

func newApp(d serverDeps) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			}
			if code >= fiber.StatusInternalServerError {
				d.log.Error("request failed", slog.String("path", c.Path()), slog.Any("error", err))
			}
			return respondError(c, code, err.Error())
		},
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"alive": true})
	})
	if d.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(d.metrics.Handler()))
	}

	app.Use(keygatefiber.Middleware(d.engine, keygatefiber.WithClearCookieOnDeny()))

	app.Get("/resignin", func(c *fiber.Ctx) error {
		return respond(c, fiber.StatusOK, "Sign in again to continue", fiber.Map{
			"redirect": c.Query(d.engine.Config().Bypass.RedirectParam, "/"),
		})
	})

	me := app.Group("/me", keygatefiber.HostAllowlist(d.internalHosts...))
	me.Get("/json", keygatefiber.RequireIdentity(fiber.StatusUnauthorized, func(c *fiber.Ctx) error {
		return respondError(c, fiber.StatusUnauthorized, "No token provided")
	}), handleMe)

	app.Get("/keys", keygatefiber.HostAllowlist(d.internalHosts...), func(c *fiber.Ctx) error {
		st := d.engine.KeyStats()
		return respond(c, fiber.StatusOK, "Success", fiber.Map{
			"url":        st.URL,
			"loaded":     st.Loaded,
			"key_count":  st.KeyCount,
			"fetched_at": st.FetchedAt,
			"age_sec":    int64(st.Age.Seconds()),
			"stale":      st.Stale,
			"cache_hits": st.CacheHits,
		})
	})

	app.Use(func(c *fiber.Ctx) error {
		return respondError(c, fiber.StatusNotFound, "Not found")
	})
	return app
}

func handleMe(c *fiber.Ctx) error {
	id := keygatefiber.IdentityFromLocals(c)
	data := fiber.Map{
		"uid":        id.Subject,
		"expires_at": id.ExpiresAt,
		"claims":     id.Claims,
	}
	if email, ok := id.StringClaim("email"); ok {
		data["email"] = email
	}
	if name, ok := id.StringClaim("name"); ok {
		data["name"] = name
	}
	return respond(c, fiber.StatusOK, "Success", data)
}
