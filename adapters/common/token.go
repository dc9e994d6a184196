// Package common provides shared adapter utilities for goKeygate.
//
// Concurrency: All exported types and functions are safe for concurrent use.
package common

import (
	"strings"
)

// DefaultCookieName is the cookie the web client stores its ID token in.
const DefaultCookieName = "token"

// RequestReader abstracts reading credentials from different transports.
type RequestReader interface {
	// Cookie returns the named cookie value, or "".
	Cookie(name string) string
	// Header returns the named header or metadata value, or "".
	Header(name string) string
}

// TokenSource says where a request carries its token.
type TokenSource struct {
	// CookieName is read first. Empty disables cookies.
	CookieName string
	// HeaderFallback reads "Authorization: Bearer <token>" when the cookie
	// is absent.
	HeaderFallback bool
}

// DefaultTokenSource reads the "token" cookie, then the bearer header.
func DefaultTokenSource() TokenSource {
	return TokenSource{CookieName: DefaultCookieName, HeaderFallback: true}
}

// Extract returns the raw token, or "" when the request carries none.
func (s TokenSource) Extract(r RequestReader) string {
	if s.CookieName != "" {
		if v := strings.TrimSpace(r.Cookie(s.CookieName)); v != "" {
			return v
		}
	}
	if s.HeaderFallback {
		return BearerToken(r.Header("Authorization"))
	}
	return ""
}

// BearerToken returns the credentials of a "Bearer" authorization value.
// The scheme is matched case-insensitively.
func BearerToken(authorization string) string {
	scheme, cred, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(cred)
}

// AdapterOptions holds common adapter configuration.
type AdapterOptions struct {
	Source TokenSource
	// DenyStatus, when non-zero, answers denied requests with this status and
	// a JSON body instead of redirecting.
	DenyStatus int
	// ClearCookieOnDeny expires the token cookie on denied requests.
	ClearCookieOnDeny bool
}

// DefaultAdapterOptions returns options for browser-facing routes.
func DefaultAdapterOptions() AdapterOptions {
	return AdapterOptions{Source: DefaultTokenSource()}
}

// DenyBody is the JSON body sent when DenyStatus is set.
type DenyBody struct {
	Error    string `json:"error"`
	Reason   string `json:"reason"`
	Redirect string `json:"redirect"`
	Status   int    `json:"status"`
}
