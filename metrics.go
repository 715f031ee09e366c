package pdp

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors for the decision engine. The
// bundle staleness gauge is fed by the store once wired through
// WithStoreMetrics.
type Metrics struct {
	decisionsTotal     *prometheus.CounterVec
	bundleSwapsTotal   *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	auditFailures      prometheus.Counter

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdp_decisions_total",
				Help: "Decisions by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		bundleSwapsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdp_bundle_swaps_total",
				Help: "Bundle install attempts by status",
			},
			[]string{"status"},
		),
		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pdp_evaluation_duration_seconds",
				Help:    "End-to-end decision latency",
				Buckets: prometheus.DefBuckets,
			},
		),
		auditFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pdp_audit_failures_total",
				Help: "Audit sink write failures",
			},
		),
		registry: registry,
	}

	registry.MustRegister(m.decisionsTotal, m.bundleSwapsTotal, m.evaluationDuration, m.auditFailures)
	return m
}

// ObserveBundleAge registers a gauge that reports the active bundle age in
// seconds via the supplied staleness function.
func (m *Metrics) ObserveBundleAge(staleness func() time.Duration) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "pdp_bundle_age_seconds",
			Help: "Age of the active policy bundle",
		},
		func() float64 { return staleness().Seconds() },
	))
}

// Decision records one evaluation outcome.
func (m *Metrics) Decision(allow bool, reason string) {
	outcome := "deny"
	if allow {
		outcome = "allow"
	}
	m.decisionsTotal.WithLabelValues(outcome, reason).Inc()
}

// BundleSwap records one install attempt ("installed" or "rejected").
func (m *Metrics) BundleSwap(status string) {
	m.bundleSwapsTotal.WithLabelValues(status).Inc()
}

// ObserveEvaluation records one decision latency.
func (m *Metrics) ObserveEvaluation(d time.Duration) {
	m.evaluationDuration.Observe(d.Seconds())
}

// AuditFailure records one failed sink write.
func (m *Metrics) AuditFailure() { m.auditFailures.Inc() }

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for callers that aggregate
// collectors from multiple components.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
