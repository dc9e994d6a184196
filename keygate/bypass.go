package keygate

import (
	"net/url"
	"path"
	"slices"
	"strings"
)

type bypassRules struct {
	reauth       string
	param        string
	staticAssets bool
	anyDot       bool
	paths        []string
	prefixes     []string
}

func newBypassRules(c BypassConfig) bypassRules {
	r := bypassRules{
		reauth:       strings.Trim(c.ReauthPath, "/"),
		param:        c.RedirectParam,
		staticAssets: !c.NoStaticAssets,
		anyDot:       c.AnyDot,
		prefixes:     c.Prefixes,
	}
	for _, p := range c.Paths {
		r.paths = append(r.paths, strings.Trim(p, "/"))
	}
	return r
}

// match reports whether requestPath skips verification.
func (r bypassRules) match(requestPath string) bool {
	trimmed := strings.Trim(requestPath, "/")
	if trimmed == r.reauth || slices.Contains(r.paths, trimmed) {
		return true
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(requestPath, p) {
			return true
		}
	}
	if r.anyDot && strings.Contains(requestPath, ".") {
		return true
	}
	if r.staticAssets && !strings.HasSuffix(requestPath, "/") {
		return len(path.Ext(path.Base(requestPath))) > 1
	}
	return false
}

// redirectTarget builds the re-authentication URL for requestURI.
func (r bypassRules) redirectTarget(requestURI string) string {
	return "/" + r.reauth + "?" + r.param + "=" + url.QueryEscape(requestURI)
}

// requestPath strips the query and fragment from a request URI.
func requestPath(requestURI string) string {
	if i := strings.IndexAny(requestURI, "?#"); i >= 0 {
		requestURI = requestURI[:i]
	}
	if requestURI == "" {
		return "/"
	}
	return requestURI
}
