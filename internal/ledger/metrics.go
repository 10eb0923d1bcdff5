package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for ledger calls. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	anchors     *prometheus.CounterVec
	submitTime  prometheus.Histogram
	cacheLookup *prometheus.CounterVec
	circuitOpen prometheus.Gauge
}

// NewMetrics registers the ledger collectors with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		anchors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "educhain_ledger_anchor_total",
			Help: "Anchor attempts by outcome and skip reason",
		}, []string{"status", "reason"}),
		submitTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "educhain_ledger_submit_duration_seconds",
			Help:    "Time spent submitting integrity facts to the ledger",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		cacheLookup: f.NewCounterVec(prometheus.CounterOpts{
			Name: "educhain_ledger_resolve_cache_total",
			Help: "Resolve cache lookups by result",
		}, []string{"result"}),
		circuitOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "educhain_ledger_circuit_open",
			Help: "1 when the ledger circuit breaker is open",
		}),
	}
}

func (m *Metrics) IncAnchor(status Status, reason SkipReason) {
	if m == nil {
		return
	}
	m.anchors.WithLabelValues(string(status), string(reason)).Inc()
}

func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.submitTime.Observe(d.Seconds())
}

func (m *Metrics) IncCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookup.WithLabelValues(result).Inc()
}

func (m *Metrics) SetCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.circuitOpen.Set(1)
		return
	}
	m.circuitOpen.Set(0)
}
