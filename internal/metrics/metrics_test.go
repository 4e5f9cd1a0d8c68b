package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncrementDecision("face", "verify", "verified")
	m.IncrementDecision("face", "verify", "verified")
	m.IncrementDecision("voice", "verify", "phrase_mismatch")
	m.IncrementEnrollment("voice")
	m.ObserveExtraction("face", "embedding", 120*time.Millisecond)
	m.ObserveIdentifyCandidates("face", 12)

	if got := testutil.ToFloat64(m.Decisions.WithLabelValues("face", "verify", "verified")); got != 2 {
		t.Errorf("expected 2 verified decisions, got %v", got)
	}
	if got := testutil.ToFloat64(m.Enrollments.WithLabelValues("voice")); got != 1 {
		t.Errorf("expected 1 voice enrollment, got %v", got)
	}
	if got := testutil.CollectAndCount(m.ExtractionLatency); got != 1 {
		t.Errorf("expected 1 extraction series, got %d", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.IncrementDecision("face", "verify", "verified")
	m.IncrementEnrollment("face")
	m.ObserveExtraction("face", "embedding", time.Second)
	m.ObserveIdentifyCandidates("face", 1)
}
