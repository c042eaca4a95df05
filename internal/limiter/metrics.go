package limiter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records limiter activity in Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	decisions *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

// NewMetrics creates the limiter collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "throttle_decisions_total",
			Help: "Rate limit decisions by policy, result and serving store.",
		}, []string{"policy", "result", "mode"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "throttle_store_fallbacks_total",
			Help: "Checks re-run against local counters after a shared store failure.",
		}, []string{"policy"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "throttle_store_operation_seconds",
			Help:    "Duration of store updates, including failed ones.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"store"}),
	}
	if reg != nil {
		reg.MustRegister(m.decisions, m.fallbacks, m.latency)
	}
	return m
}

func (m *Metrics) observeDecision(policy string, mode Mode, d Decision) {
	if m == nil {
		return
	}
	result := "allowed"
	if !d.Allowed {
		result = "denied"
	}
	m.decisions.WithLabelValues(policy, result, string(mode)).Inc()
}

func (m *Metrics) observeFallback(policy string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(policy).Inc()
}

func (m *Metrics) observeStore(mode Mode, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
}
