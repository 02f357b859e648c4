package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	evidenceMetricsOnce sync.Once
	evidenceRegistry    *EvidenceMetrics

	distributionMetricsOnce sync.Once
	distributionRegistry    *DistributionMetrics
)

// EvidenceMetrics wraps collectors tracking the intake and retention path.
type EvidenceMetrics struct {
	uploads      *prometheus.CounterVec
	flags        *prometheus.CounterVec
	sweepDeleted prometheus.Counter
	sweepLastRun prometheus.Gauge
}

// Evidence returns the lazily-initialised metrics registry for the evidence
// store and sweeper, registered against the default registerer.
func Evidence() *EvidenceMetrics {
	evidenceMetricsOnce.Do(func() {
		evidenceRegistry = NewEvidenceMetrics(prometheus.DefaultRegisterer)
	})
	return evidenceRegistry
}

// NewEvidenceMetrics builds the evidence collectors against the supplied
// registerer. Production code uses the Evidence singleton; tests pass their
// own registry.
func NewEvidenceMetrics(reg prometheus.Registerer) *EvidenceMetrics {
	m := &EvidenceMetrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "greenproof",
			Subsystem: "evidence",
			Name:      "uploads_total",
			Help:      "Count of evidence uploads segmented by outcome (stored, duplicate, error).",
		}, []string{"outcome"}),
		flags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "greenproof",
			Subsystem: "evidence",
			Name:      "fraud_flags_total",
			Help:      "Count of fraud flags attached to evidence records, segmented by flag.",
		}, []string{"flag"}),
		sweepDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "greenproof",
			Subsystem: "evidence",
			Name:      "sweep_deleted_total",
			Help:      "Total evidence records deleted by the retention sweeper.",
		}),
		sweepLastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "greenproof",
			Subsystem: "evidence",
			Name:      "sweep_last_run_timestamp_seconds",
			Help:      "Unix timestamp of the last completed retention sweep.",
		}),
	}
	reg.MustRegister(m.uploads, m.flags, m.sweepDeleted, m.sweepLastRun)
	return m
}

// RecordUpload increments the upload counter for the supplied outcome.
func (m *EvidenceMetrics) RecordUpload(outcome string) {
	if m == nil {
		return
	}
	if outcome = strings.TrimSpace(outcome); outcome == "" {
		outcome = "unknown"
	}
	m.uploads.WithLabelValues(outcome).Inc()
}

// RecordFlag increments the flag counter.
func (m *EvidenceMetrics) RecordFlag(flag string) {
	if m == nil {
		return
	}
	if flag = strings.TrimSpace(flag); flag == "" {
		return
	}
	m.flags.WithLabelValues(flag).Inc()
}

// RecordSweep records the outcome of one retention sweep.
func (m *EvidenceMetrics) RecordSweep(deleted int64) {
	if m == nil {
		return
	}
	if deleted > 0 {
		m.sweepDeleted.Add(float64(deleted))
	}
	m.sweepLastRun.SetToCurrentTime()
}

// DistributionMetrics wraps collectors tracking reward distribution health.
type DistributionMetrics struct {
	legs       *prometheus.CounterVec
	legLatency *prometheus.HistogramVec
	errors     *prometheus.CounterVec
}

// Distribution exposes the metrics registry for the reward distributor.
func Distribution() *DistributionMetrics {
	distributionMetricsOnce.Do(func() {
		distributionRegistry = &DistributionMetrics{
			legs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "greenproof",
				Subsystem: "rewards",
				Name:      "legs_total",
				Help:      "Count of distribution leg attempts segmented by leg and outcome.",
			}, []string{"leg", "outcome"}),
			legLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "greenproof",
				Subsystem: "rewards",
				Name:      "leg_duration_seconds",
				Help:      "Latency distribution for confirmed distribution legs.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"leg"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "greenproof",
				Subsystem: "rewards",
				Name:      "errors_total",
				Help:      "Count of distribution failures segmented by leg and reason.",
			}, []string{"leg", "reason"}),
		}
		prometheus.MustRegister(
			distributionRegistry.legs,
			distributionRegistry.legLatency,
			distributionRegistry.errors,
		)
	})
	return distributionRegistry
}

// ObserveLeg records the outcome and latency of one leg attempt.
func (m *DistributionMetrics) ObserveLeg(leg string, d time.Duration, err error) {
	if m == nil {
		return
	}
	label := labelLeg(leg)
	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
	}
	m.legs.WithLabelValues(label, outcome).Inc()
	m.legLatency.WithLabelValues(label).Observe(d.Seconds())
}

// RecordError increments the error counter for the supplied reason.
func (m *DistributionMetrics) RecordError(leg, reason string) {
	if m == nil {
		return
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.errors.WithLabelValues(labelLeg(leg), reason).Inc()
}

func labelLeg(leg string) string {
	trimmed := strings.TrimSpace(leg)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
