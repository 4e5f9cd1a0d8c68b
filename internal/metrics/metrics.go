// Package metrics holds the prometheus collectors of the matching service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for enrollment and decisions.
type Metrics struct {
	// Decision outcomes by modality, operation and reason
	Decisions *prometheus.CounterVec

	// Embedding extraction and transcription latency
	ExtractionLatency *prometheus.HistogramVec

	// Stored samples by modality
	Enrollments *prometheus.CounterVec

	// Identities evaluated per identification
	IdentifyCandidates *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bioauth_decisions_total",
			Help: "Total decisions by modality, operation and reason",
		}, []string{"modality", "operation", "reason"}),

		ExtractionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bioauth_extraction_duration_seconds",
			Help:    "Duration of embedding extraction and transcription calls",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"modality", "kind"}), // kind: "embedding", "transcript"

		Enrollments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bioauth_enrollments_total",
			Help: "Total samples enrolled by modality",
		}, []string{"modality"}),

		IdentifyCandidates: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bioauth_identify_candidates",
			Help:    "Number of identities evaluated per identification",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"modality"}),
	}
}

// IncrementDecision records a decision outcome.
func (m *Metrics) IncrementDecision(modality, operation, reason string) {
	if m != nil {
		m.Decisions.WithLabelValues(modality, operation, reason).Inc()
	}
}

// ObserveExtraction records the duration of an extraction call.
func (m *Metrics) ObserveExtraction(modality, kind string, d time.Duration) {
	if m != nil {
		m.ExtractionLatency.WithLabelValues(modality, kind).Observe(d.Seconds())
	}
}

// IncrementEnrollment records a stored sample.
func (m *Metrics) IncrementEnrollment(modality string) {
	if m != nil {
		m.Enrollments.WithLabelValues(modality).Inc()
	}
}

// ObserveIdentifyCandidates records how many identities one search evaluated.
func (m *Metrics) ObserveIdentifyCandidates(modality string, n int) {
	if m != nil {
		m.IdentifyCandidates.WithLabelValues(modality).Observe(float64(n))
	}
}
