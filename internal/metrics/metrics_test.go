package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/keksclan/goKeygate/keygate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewWithRegistry(prometheus.NewRegistry())

	c.ValidationOK()
	c.ValidationFailed(keygate.ReasonExpired)
	c.ValidationFailed(keygate.ReasonExpired)
	c.KeyFetch(true, 20*time.Millisecond)
	c.KeyFetch(false, time.Second)
	c.StaleServed()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.VerificationsTotal.WithLabelValues("valid", "")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.VerificationsTotal.WithLabelValues("invalid", "expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.KeyFetchesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.KeyFetchesTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StaleServedTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(c.KeyFetchDuration))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.ValidationFailed(keygate.ReasonWrongIssuer)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), `keygate_verifications_total{outcome="invalid",reason="wrong_issuer"} 1`)
	assert.Contains(t, string(b), "go_goroutines")
}
