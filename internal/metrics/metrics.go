// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the issuance collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Issued         *prometheus.CounterVec
	Failures       *prometheus.CounterVec
	AuditFailures  prometheus.Counter
	RenderDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certify_certificates_issued_total",
			Help: "Certificates rendered and returned, by track.",
		}, []string{"track"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "certify_issuance_failures_total",
			Help: "Issuance requests that did not produce a certificate, by failure kind.",
		}, []string{"kind"}),
		AuditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "certify_audit_write_failures_total",
			Help: "Issuance log appends that failed while the certificate was still produced.",
		}),
		RenderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "certify_render_duration_seconds",
			Help:    "Time spent overlaying text on a template.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Issued, m.Failures, m.AuditFailures, m.RenderDuration)
	}
	return m
}

func (m *Metrics) IssueSucceeded(track string) {
	if m == nil {
		return
	}
	m.Issued.WithLabelValues(track).Inc()
}

func (m *Metrics) IssueFailed(kind string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) AuditWriteFailed() {
	if m == nil {
		return
	}
	m.AuditFailures.Inc()
}

func (m *Metrics) ObserveRender(d time.Duration) {
	if m == nil {
		return
	}
	m.RenderDuration.Observe(d.Seconds())
}
