package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/keksclan/goKeygate/internal/metrics"
	"github.com/keksclan/goKeygate/keygate"
	"github.com/keksclan/goKeygate/keygatetest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) (*fiber.App, *keygatetest.Issuer) {
	t.Helper()
	iss := keygatetest.NewIssuer("demo-project")
	t.Cleanup(iss.Close)

	cfg := keygate.ForFirebaseProject(iss.Audience())
	cfg.Keys.URL = iss.PEMURL()
	collector := metrics.NewWithRegistry(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := keygate.New(cfg, keygate.WithMetrics(collector), keygate.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return newApp(serverDeps{
		engine:        engine,
		metrics:       collector,
		log:           logger,
		internalHosts: []string{"example.com"},
	}), iss
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

func TestHealthz(t *testing.T) {
	app, _ := testServer(t)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decode(t, resp)["alive"])
}

func TestMeWithToken(t *testing.T) {
	app, iss := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/me/json", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: iss.TokenWithClaims("uid-7", map[string]any{"email": "a@example.com"})})
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	m := decode(t, resp)
	assert.Equal(t, "Success", m["message"])
	data := m["data"].(map[string]any)
	assert.Equal(t, "uid-7", data["uid"])
	assert.Equal(t, "a@example.com", data["email"])
}

func TestMeAnonymous(t *testing.T) {
	app, _ := testServer(t)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/me/json", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "No token provided", decode(t, resp)["error"])
}

func TestMeForeignHost(t *testing.T) {
	app, iss := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "http://public.example.org/me/json", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: iss.Token("uid-7")})
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestInvalidTokenRedirects(t *testing.T) {
	app, iss := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/dashboard?tab=1", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: iss.ExpiredToken("uid-7")})
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/resignin?redirect=%2Fdashboard%3Ftab%3D1", resp.Header.Get("Location"))
}

func TestResigninIsReachableWithBadToken(t *testing.T) {
	app, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/resignin?redirect=%2Fdashboard", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: "garbage"})
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := decode(t, resp)["data"].(map[string]any)
	assert.Equal(t, "/dashboard", data["redirect"])
}

func TestUnknownRoute(t *testing.T) {
	app, _ := testServer(t)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/nope", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Not found", decode(t, resp)["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	app, iss := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: iss.Token("uid-1")})
	_, err := app.Test(req, -1)
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), `keygate_verifications_total{outcome="valid"`)
}

func TestKeysEndpoint(t *testing.T) {
	app, iss := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/me/json", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: iss.Token("uid-1")})
	_, err := app.Test(req, -1)
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/keys", nil), -1)
	require.NoError(t, err)
	data := decode(t, resp)["data"].(map[string]any)
	assert.Equal(t, true, data["loaded"])
	assert.EqualValues(t, 1, data["key_count"])
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(""))
}

func TestConfigLoaderRejectsUnknownExtension(t *testing.T) {
	t.Setenv("KEYGATE_CONFIG", "conf.toml")
	_, err := configLoader()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), ".toml"))
}
