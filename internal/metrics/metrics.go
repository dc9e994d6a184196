// Package metrics exposes gate and key store counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/keksclan/goKeygate/keygate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements keygate.Metrics.
type Collector struct {
	reg *prometheus.Registry

	VerificationsTotal *prometheus.CounterVec
	KeyFetchesTotal    *prometheus.CounterVec
	KeyFetchDuration   prometheus.Histogram
	StaleServedTotal   prometheus.Counter
}

var _ keygate.Metrics = (*Collector)(nil)

// New registers the collectors on a fresh registry that also carries the Go
// and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	f := promauto.With(reg)
	return &Collector{
		reg: reg,
		VerificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keygate",
			Name:      "verifications_total",
			Help:      "Token verifications by outcome and rejection reason.",
		}, []string{"outcome", "reason"}),
		KeyFetchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keygate",
			Name:      "key_fetches_total",
			Help:      "Outbound public key fetches by result.",
		}, []string{"result"}),
		KeyFetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "keygate",
			Name:      "key_fetch_duration_seconds",
			Help:      "Public key fetch latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		StaleServedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "keygate",
			Name:      "key_stale_served_total",
			Help:      "Times an expired key set was served because a refresh failed.",
		}),
	}
}

func (c *Collector) ValidationOK() {
	c.VerificationsTotal.WithLabelValues("valid", "").Inc()
}

func (c *Collector) ValidationFailed(reason keygate.Reason) {
	c.VerificationsTotal.WithLabelValues("invalid", string(reason)).Inc()
}

func (c *Collector) KeyFetch(ok bool, took time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.KeyFetchesTotal.WithLabelValues(result).Inc()
	c.KeyFetchDuration.Observe(took.Seconds())
}

func (c *Collector) StaleServed() {
	c.StaleServedTotal.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
