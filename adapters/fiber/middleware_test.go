package keygatefiber

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/keksclan/goKeygate/adapters/common"
	"github.com/keksclan/goKeygate/keygate"
	"github.com/keksclan/goKeygate/keygatetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, iss *keygatetest.Issuer) *keygate.Engine {
	t.Helper()
	cfg := keygate.ForFirebaseProject(iss.Audience())
	cfg.Keys.URL = iss.PEMURL()
	e, err := keygate.New(cfg)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func newApp(e *keygate.Engine, opts ...Option) *fiber.App {
	app := fiber.New()
	app.Use(Middleware(e, opts...))
	app.Get("/*", func(c *fiber.Ctx) error {
		if id := IdentityFromLocals(c); id != nil {
			return c.SendString("user:" + id.Subject)
		}
		return c.SendString("anonymous")
	})
	return app
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestMiddlewareCookieToken(t *testing.T) {
	iss := keygatetest.NewIssuer("demo")
	defer iss.Close()
	app := newApp(newEngine(t, iss))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: iss.Token("uid-1")})
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "user:uid-1", body(t, resp))
}

func TestMiddlewareBearerFallback(t *testing.T) {
	iss := keygatetest.NewIssuer("demo")
	defer iss.Close()
	app := newApp(newEngine(t, iss))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+iss.Token("uid-2"))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "user:uid-2", body(t, resp))

	noFallback := newApp(newEngine(t, iss), WithHeaderFallback(false))
	req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+iss.Token("uid-2"))
	resp, err = noFallback.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "anonymous", body(t, resp))
}

func TestMiddlewareAnonymous(t *testing.T) {
	iss := keygatetest.NewIssuer("demo")
	defer iss.Close()
	app := newApp(newEngine(t, iss))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/dashboard", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "anonymous", body(t, resp))
}

func TestMiddlewareRedirectsOnDeny(t *testing.T) {
	iss := keygatetest.NewIssuer("demo")
	defer iss.Close()
	app := newApp(newEngine(t, iss), WithClearCookieOnDeny())

	req := httptest.NewRequest(http.MethodGet, "/dashboard?tab=1", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: iss.ExpiredToken("uid-1")})
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/resignin?redirect=%2Fdashboard%3Ftab%3D1", resp.Header.Get("Location"))
	assert.Contains(t, resp.Header.Get("Set-Cookie"), "token=")
}

func TestMiddlewareBypassesReauthAndAssets(t *testing.T) {
	iss := keygatetest.NewIssuer("demo")
	defer iss.Close()
	app := newApp(newEngine(t, iss))

	for _, p := range []string{"/resignin", "/style.css"} {
		req := httptest.NewRequest(http.MethodGet, p, nil)
		req.AddCookie(&http.Cookie{Name: "token", Value: "garbage"})
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, p)
		assert.Equal(t, "anonymous", body(t, resp), p)
	}
}

func TestMiddlewareDenyStatus(t *testing.T) {
	iss := keygatetest.NewIssuer("demo")
	defer iss.Close()
	app := newApp(newEngine(t, iss), WithDenyStatus(http.StatusUnauthorized), WithCookieName("session"))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "abc.def"})
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var got common.DenyBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "malformed_token", got.Reason)
	assert.Equal(t, "/resignin?redirect=%2Fapi%2Fme", got.Redirect)
}

func TestRequireIdentity(t *testing.T) {
	iss := keygatetest.NewIssuer("demo")
	defer iss.Close()

	app := fiber.New()
	app.Use(Middleware(newEngine(t, iss)))
	app.Get("/private", RequireIdentity(http.StatusUnauthorized, nil), func(c *fiber.Ctx) error {
		return c.SendString(IdentityFromLocals(c).Subject)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/private", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: iss.Token("uid-9")})
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "uid-9", body(t, resp))
}

func TestHostAllowlist(t *testing.T) {
	app := fiber.New()
	app.Get("/internal", HostAllowlist("localhost"), func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest(http.MethodGet, "http://localhost:8080/internal", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "http://evil.example/internal", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
