package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for issuance, claims and verification.
type Metrics struct {
	// Issuance outcomes by kind and result code ("ok" on success)
	Issued *prometheus.CounterVec

	// Successful issuances by anchor status, to watch the degrade path
	Anchors *prometheus.CounterVec

	IssueLatency prometheus.Histogram

	// Claims by mode ("one", "all") and result code
	Claims *prometheus.CounterVec

	// Documents transferred to holders
	Claimed prometheus.Counter

	// Verifications by outcome
	Verifications *prometheus.CounterVec
}

// New registers the document metrics with the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Issued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "educhain_documents_issue_total",
			Help: "Issuance attempts by document kind and result",
		}, []string{"kind", "result"}),
		Anchors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "educhain_documents_anchor_status_total",
			Help: "Issued documents by ledger anchor status and skip reason",
		}, []string{"status", "reason"}),
		IssueLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "educhain_documents_issue_duration_seconds",
			Help:    "End-to-end issuance latency including seal, upload and anchor",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		Claims: f.NewCounterVec(prometheus.CounterOpts{
			Name: "educhain_documents_claim_total",
			Help: "Claim requests by mode and result",
		}, []string{"mode", "result"}),
		Claimed: f.NewCounter(prometheus.CounterOpts{
			Name: "educhain_documents_claimed_total",
			Help: "Documents transferred to a holder",
		}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "educhain_documents_verify_total",
			Help: "Verification lookups by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncIssue(kind, result string) {
	if m != nil {
		m.Issued.WithLabelValues(kind, result).Inc()
	}
}

func (m *Metrics) IncAnchor(status, reason string) {
	if m != nil {
		m.Anchors.WithLabelValues(status, reason).Inc()
	}
}

func (m *Metrics) ObserveIssueLatency(d time.Duration) {
	if m != nil {
		m.IssueLatency.Observe(d.Seconds())
	}
}

// IncClaim records a claim request and how many documents it transferred.
func (m *Metrics) IncClaim(mode, result string, transferred int) {
	if m != nil {
		m.Claims.WithLabelValues(mode, result).Inc()
		m.Claimed.Add(float64(transferred))
	}
}

func (m *Metrics) IncVerify(outcome string) {
	if m != nil {
		m.Verifications.WithLabelValues(outcome).Inc()
	}
}
