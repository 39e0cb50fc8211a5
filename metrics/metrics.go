// Package metrics exposes the daemon's prometheus instruments. Each
// Metrics value carries its own registry so tests and multiple
// daemons in one process never fight over global registration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ResultOK labels a request that succeeded; failures are labelled
// with the lowercase errno name.
const ResultOK = "ok"

// Metrics bundles the tetherbpf instruments.
type Metrics struct {
	reg *prometheus.Registry

	// TagRequests counts tag requests by result.
	TagRequests *prometheus.CounterVec
	// UntagRequests counts untag requests by result.
	UntagRequests *prometheus.CounterVec
	// CeilingRejections counts tag requests refused because an
	// entry ceiling was reached.
	CeilingRejections prometheus.Counter
	// HalSessions is 1 while an offload session is established.
	HalSessions prometheus.Gauge
	// LoaderRuns counts loader invocations by outcome.
	LoaderRuns *prometheus.CounterVec
}

// New creates a Metrics with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		TagRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tetherbpf_tag_requests_total",
			Help: "Socket tag requests by result.",
		}, []string{"result"}),
		UntagRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tetherbpf_untag_requests_total",
			Help: "Socket untag requests by result.",
		}, []string{"result"}),
		CeilingRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "tetherbpf_ceiling_rejections_total",
			Help: "Tag requests refused at an entry-count ceiling.",
		}),
		HalSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tetherbpf_hal_sessions",
			Help: "Whether an offload HAL session is established.",
		}),
		LoaderRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tetherbpf_loader_runs_total",
			Help: "BPF object loader runs by outcome.",
		}, []string{"outcome"}),
	}
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.reg
}
