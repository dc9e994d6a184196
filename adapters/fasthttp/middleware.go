// Package keygatefasthttp provides a fasthttp middleware for goKeygate.
//
// The middleware reads the token from the "token" cookie, falling back to an
// "Authorization: Bearer" header, and asks keygate.Engine.Authenticate for a
// decision.
//
// On Allow with a verified identity, the *keygate.Identity is stored in the
// request context's user value under the key "keygate". On Deny the client
// is redirected, or answered with a JSON error when WithDenyStatus is set.
//
// Concurrency: All exported functions are safe for concurrent use.
package keygatefasthttp

import (
	"context"
	"encoding/json"

	"github.com/keksclan/goKeygate/adapters/common"
	"github.com/keksclan/goKeygate/keygate"
	"github.com/valyala/fasthttp"
)

// IdentityUserValueKey is the key used to store the *keygate.Identity in the
// fasthttp.RequestCtx user values.
const IdentityUserValueKey = "keygate"

// Option configures the fasthttp middleware.
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
// instead of a redirect.
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

// fasthttpRequestReader adapts a fasthttp request to common.RequestReader.
type fasthttpRequestReader struct {
	ctx *fasthttp.RequestCtx
}

func (r fasthttpRequestReader) Cookie(name string) string {
	return string(r.ctx.Request.Header.Cookie(name))
}

func (r fasthttpRequestReader) Header(name string) string {
	return string(r.ctx.Request.Header.Peek(name))
}

// Middleware wraps next with a gate backed by the provided keygate.Engine.
func Middleware(engine *keygate.Engine, next fasthttp.RequestHandler, opts ...Option) fasthttp.RequestHandler {
	o := buildOptions(opts)
	return func(ctx *fasthttp.RequestCtx) {
		raw := o.Source.Extract(fasthttpRequestReader{ctx: ctx})
		// RequestCtx is not cancelled with the client connection.
		d := engine.Authenticate(context.Background(), raw, string(ctx.RequestURI()))
		if d.Kind == keygate.Deny {
			deny(ctx, d, &o)
			return
		}
		if d.Identity != nil {
			ctx.SetUserValue(IdentityUserValueKey, d.Identity)
		}
		next(ctx)
	}
}

// IdentityFromCtx retrieves the identity stored by the middleware.
// Returns nil for anonymous or bypassed requests.
func IdentityFromCtx(ctx *fasthttp.RequestCtx) *keygate.Identity {
	v, _ := ctx.UserValue(IdentityUserValueKey).(*keygate.Identity)
	return v
}

func deny(ctx *fasthttp.RequestCtx, d keygate.Decision, o *options) {
	if o.ClearCookieOnDeny && o.Source.CookieName != "" {
		ctx.Response.Header.DelClientCookie(o.Source.CookieName)
	}
	if o.DenyStatus != 0 {
		ctx.SetStatusCode(o.DenyStatus)
		ctx.SetContentType("application/json")
		body, _ := json.Marshal(common.DenyBody{
			Error:    "unauthenticated",
			Reason:   string(d.Reason),
			Redirect: d.RedirectTarget,
			Status:   o.DenyStatus,
		})
		ctx.SetBody(body)
		return
	}
	ctx.Response.Header.Set(fasthttp.HeaderLocation, d.RedirectTarget)
	ctx.SetStatusCode(fasthttp.StatusFound)
}
