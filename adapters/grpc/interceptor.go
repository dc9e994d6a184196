// Package keygategrpc provides gRPC interceptors for goKeygate.
//
// The interceptors read a bearer token from the "authorization" metadata key,
// or a "token" cookie forwarded in "cookie" metadata by a gateway, and ask
// keygate.Engine.Authenticate for a decision. The full method name stands in
// for the request path. On success the *keygate.Identity is injected into the
// context.
//
// Concurrency: All exported functions are safe for concurrent use.
package keygategrpc

import (
	"context"
	"net/http"
	"strings"

	"github.com/keksclan/goKeygate/adapters/common"
	"github.com/keksclan/goKeygate/keygate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey struct{}

// IdentityFromContext retrieves the identity stored in the context by the
// interceptor. Returns nil for anonymous calls.
func IdentityFromContext(ctx context.Context) *keygate.Identity {
	v, _ := ctx.Value(contextKey{}).(*keygate.Identity)
	return v
}

func contextWithIdentity(ctx context.Context, id *keygate.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// Option configures the gRPC interceptors.
type Option func(*options)

type options struct {
	common.AdapterOptions
	requireIdentity bool
}

// WithCookieName reads the token from the named cookie in "cookie" metadata.
func WithCookieName(name string) Option {
	return func(o *options) {
		o.Source.CookieName = name
	}
}

// WithRequireIdentity rejects calls that carry no token with
// codes.Unauthenticated instead of passing them through anonymously.
func WithRequireIdentity() Option {
	return func(o *options) {
		o.requireIdentity = true
	}
}

func buildOptions(opts []Option) options {
	o := options{AdapterOptions: common.DefaultAdapterOptions()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// UnaryServerInterceptor returns a gRPC unary server interceptor that gates
// calls using the provided keygate.Engine.
//
// On a verified token the identity is stored in the context and can be
// retrieved with IdentityFromContext. On Deny the interceptor returns
// codes.Unauthenticated carrying the rejection reason.
func UnaryServerInterceptor(engine *keygate.Engine, opts ...Option) grpc.UnaryServerInterceptor {
	o := buildOptions(opts)
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		newCtx, err := authenticate(ctx, engine, info.FullMethod, &o)
		if err != nil {
			return nil, err
		}
		return handler(newCtx, req)
	}
}

// StreamServerInterceptor returns a gRPC stream server interceptor that gates
// calls using the provided keygate.Engine.
//
// Behavior is identical to UnaryServerInterceptor but for streaming RPCs.
func StreamServerInterceptor(engine *keygate.Engine, opts ...Option) grpc.StreamServerInterceptor {
	o := buildOptions(opts)
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		newCtx, err := authenticate(ss.Context(), engine, info.FullMethod, &o)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: newCtx})
	}
}

// wrappedStream overrides the context of a grpc.ServerStream.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context containing the identity.
func (w *wrappedStream) Context() context.Context { return w.ctx }

// grpcRequestReader adapts gRPC incoming metadata to common.RequestReader.
type grpcRequestReader struct {
	md metadata.MD
}

func (r grpcRequestReader) Header(name string) string {
	// gRPC metadata keys are always lower-case.
	vals := r.md.Get(strings.ToLower(name))
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func (r grpcRequestReader) Cookie(name string) string {
	vals := r.md.Get("cookie")
	if len(vals) == 0 {
		return ""
	}
	hdr := http.Header{"Cookie": vals}
	c, err := (&http.Request{Header: hdr}).Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func authenticate(ctx context.Context, engine *keygate.Engine, method string, o *options) (context.Context, error) {
	var raw string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		raw = o.Source.Extract(grpcRequestReader{md: md})
	}
	if raw == "" && o.requireIdentity {
		return ctx, status.Error(codes.Unauthenticated, "missing token")
	}

	d := engine.Authenticate(ctx, raw, method)
	if d.Kind == keygate.Deny {
		return ctx, status.Error(codes.Unauthenticated, string(d.Reason))
	}
	if d.Identity == nil {
		return ctx, nil
	}
	return contextWithIdentity(ctx, d.Identity), nil
}
