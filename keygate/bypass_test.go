package keygate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBypassRules(t *testing.T) {
	def := Config{}
	def.setDefaults()

	tests := []struct {
		name string
		cfg  BypassConfig
		path string
		want bool
	}{
		{"reauth", def.Bypass, "/resignin", true},
		{"reauth trailing slash", def.Bypass, "/resignin/", true},
		{"reauth no leading slash", def.Bypass, "resignin", true},
		{"asset", def.Bypass, "/static/app.css", true},
		{"dotted directory", def.Bypass, "/api/v1.2/foo", false},
		{"dotted directory trailing slash", def.Bypass, "/api/v1.2/", false},
		{"bare dot", def.Bypass, "/foo.", false},
		{"plain", def.Bypass, "/dashboard", false},
		{"root", def.Bypass, "/", false},
		{"assets disabled", BypassConfig{ReauthPath: "/resignin", NoStaticAssets: true}, "/app.js", false},
		{"any dot", BypassConfig{ReauthPath: "/resignin", AnyDot: true}, "/api/v1.2/foo", true},
		{"explicit path", BypassConfig{ReauthPath: "/resignin", Paths: []string{"/healthz"}}, "/healthz/", true},
		{"prefix", BypassConfig{ReauthPath: "/resignin", Prefixes: []string{"/public/"}}, "/public/x", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, newBypassRules(tt.cfg).match(tt.path))
		})
	}
}

func TestRedirectTarget(t *testing.T) {
	r := newBypassRules(BypassConfig{ReauthPath: "/login/", RedirectParam: "next"})
	assert.Equal(t, "/login?next=%2Fa%2Fb%3Fc%3Dd", r.redirectTarget("/a/b?c=d"))
}

func TestRequestPath(t *testing.T) {
	assert.Equal(t, "/a", requestPath("/a?b=c"))
	assert.Equal(t, "/a", requestPath("/a#frag"))
	assert.Equal(t, "/", requestPath(""))
}
