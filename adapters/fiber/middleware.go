// Package keygatefiber provides a Fiber middleware for goKeygate.
//
// The middleware reads the token from the "token" cookie, falling back to an
// "Authorization: Bearer" header, and asks keygate.Engine.Authenticate for a
// decision.
//
// On Allow with a verified identity, the *keygate.Identity is stored in
// c.Locals("keygate"). Requests without a token pass through anonymously.
// On Deny the client is redirected to the re-authentication path, or answered
// with a JSON error when WithDenyStatus is set.
//
// Concurrency: All exported functions are safe for concurrent use.
package keygatefiber

import (
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/keksclan/goKeygate/adapters/common"
	"github.com/keksclan/goKeygate/keygate"
)

// LocalsKey is the c.Locals key holding the *keygate.Identity.
const LocalsKey = "keygate"

// Option configures the Fiber middleware.
type Option func(*options)

type options struct {
	common.AdapterOptions
}

// WithCookieName reads the token from the named cookie.
func WithCookieName(name string) Option {
	return func(o *options) {
		o.Source.CookieName = name
	}
}

// WithHeaderFallback toggles reading "Authorization: Bearer" when no cookie
// is present.
func WithHeaderFallback(enabled bool) Option {
	return func(o *options) {
		o.Source.HeaderFallback = enabled
	}
}

// WithDenyStatus answers denied requests with status and a JSON body
// instead of a redirect. Use it for API routes.
func WithDenyStatus(status int) Option {
	return func(o *options) {
		o.DenyStatus = status
	}
}

// WithClearCookieOnDeny expires the token cookie when a request is denied.
func WithClearCookieOnDeny() Option {
	return func(o *options) {
		o.ClearCookieOnDeny = true
	}
}

func buildOptions(opts []Option) options {
	o := options{AdapterOptions: common.DefaultAdapterOptions()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// fiberRequestReader adapts a Fiber request to common.RequestReader.
type fiberRequestReader struct {
	c *fiber.Ctx
}

func (r fiberRequestReader) Cookie(name string) string { return r.c.Cookies(name) }

// Fiber's c.Get is case-insensitive for HTTP headers.
func (r fiberRequestReader) Header(name string) string { return r.c.Get(name) }

// Middleware returns a Fiber middleware that gates requests using the provided
// keygate.Engine.
func Middleware(engine *keygate.Engine, opts ...Option) fiber.Handler {
	o := buildOptions(opts)
	return func(c *fiber.Ctx) error {
		raw := o.Source.Extract(fiberRequestReader{c: c})
		d := engine.Authenticate(c.UserContext(), raw, c.OriginalURL())
		if d.Kind == keygate.Deny {
			return deny(c, d, &o)
		}
		if d.Identity != nil {
			c.Locals(LocalsKey, d.Identity)
		}
		return c.Next()
	}
}

func deny(c *fiber.Ctx, d keygate.Decision, o *options) error {
	if o.ClearCookieOnDeny && o.Source.CookieName != "" {
		c.ClearCookie(o.Source.CookieName)
	}
	if o.DenyStatus != 0 {
		return c.Status(o.DenyStatus).JSON(common.DenyBody{
			Error:    "unauthenticated",
			Reason:   string(d.Reason),
			Redirect: d.RedirectTarget,
			Status:   o.DenyStatus,
		})
	}
	return c.Redirect(d.RedirectTarget, fiber.StatusFound)
}

// IdentityFromLocals retrieves the identity stored by the middleware.
// Returns nil for anonymous or bypassed requests.
func IdentityFromLocals(c *fiber.Ctx) *keygate.Identity {
	v, _ := c.Locals(LocalsKey).(*keygate.Identity)
	return v
}

// RequireIdentity rejects requests that reached it without a verified
// identity. Mount it after Middleware on routes that must not be anonymous.
func RequireIdentity(status int, body func(c *fiber.Ctx) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if IdentityFromLocals(c) != nil {
			return c.Next()
		}
		if body != nil {
			c.Status(status)
			return body(c)
		}
		return c.Status(status).JSON(fiber.Map{"error": "unauthenticated", "status": status})
	}
}

// HostAllowlist admits only requests whose Host (without port) is listed.
// Others get 403.
func HostAllowlist(hosts ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		host := c.Hostname()
		if h, _, ok := strings.Cut(host, ":"); ok && !strings.HasPrefix(host, "[") {
			host = h
		}
		if slices.Contains(hosts, host) {
			return c.Next()
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden", "status": fiber.StatusForbidden})
	}
}
