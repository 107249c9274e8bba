package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics wraps the Prometheus collectors exposed at /metrics, promoting
// the donor's hand-rolled Counter/Gauge/Histogram map (observability/
// metrics.go) to the ecosystem client library.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	dispatchSeconds *prometheus.HistogramVec
	breakerState    *prometheus.GaugeVec
}

// NewMetrics registers and returns the gateway's Prometheus collectors
// against the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchcore_requests_total",
			Help: "Total dispatch requests by outcome.",
		}, []string{"outcome"}),
		dispatchSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatchcore_dispatch_duration_seconds",
			Help:    "End-to-end dispatch latency by tier.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tier"}),
		breakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispatchcore_breaker_state",
			Help: "Circuit breaker state per target: 0=closed, 1=half-open, 2=open.",
		}, []string{"target"}),
	}
}

func (m *Metrics) observeOutcome(outcome string) {
	m.requestsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeDispatch(tier string, seconds float64) {
	m.dispatchSeconds.WithLabelValues(tier).Observe(seconds)
}
