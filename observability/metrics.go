package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	settlementOnce sync.Once
	settlementReg  *SettlementMetrics
)

// SettlementMetrics wraps collectors tracking settlement engine health.
type SettlementMetrics struct {
	verifications       *prometheus.CounterVec
	distributionLatency prometheus.Histogram
	transferErrors      *prometheus.CounterVec
	guardConflicts      *prometheus.CounterVec
	pauseEngaged        prometheus.Gauge
}

// Settlement returns the lazily-initialised settlement metrics registry.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementReg = &SettlementMetrics{
			verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "arenapay",
				Subsystem: "verify",
				Name:      "claims_total",
				Help:      "Payment claim verifications segmented by outcome code.",
			}, []string{"code"}),
			distributionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "arenapay",
				Subsystem: "distribute",
				Name:      "batch_duration_seconds",
				Help:      "Latency distribution for completed payout batches.",
				Buckets:   prometheus.DefBuckets,
			}),
			transferErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "arenapay",
				Subsystem: "distribute",
				Name:      "errors_total",
				Help:      "Count of distribution failures segmented by reason.",
			}, []string{"reason"}),
			guardConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "arenapay",
				Subsystem: "ledger",
				Name:      "guard_conflicts_total",
				Help:      "Conditional writes that lost to a concurrent settlement attempt.",
			}, []string{"operation"}),
			pauseEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "arenapay",
				Subsystem: "settlement",
				Name:      "pause_engaged",
				Help:      "Whether the settlement pause guard is active (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			settlementReg.verifications,
			settlementReg.distributionLatency,
			settlementReg.transferErrors,
			settlementReg.guardConflicts,
			settlementReg.pauseEngaged,
		)
	})
	return settlementReg
}

// RecordVerification counts one verification outcome.
func (m *SettlementMetrics) RecordVerification(code string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(code).Inc()
}

// ObserveDistribution records the latency of a completed payout batch.
func (m *SettlementMetrics) ObserveDistribution(d time.Duration) {
	if m == nil {
		return
	}
	m.distributionLatency.Observe(d.Seconds())
}

// RecordTransferError counts a distribution failure by reason.
func (m *SettlementMetrics) RecordTransferError(reason string) {
	if m == nil {
		return
	}
	m.transferErrors.WithLabelValues(reason).Inc()
}

// RecordGuardConflict counts a conditional write that affected zero rows.
func (m *SettlementMetrics) RecordGuardConflict(operation string) {
	if m == nil {
		return
	}
	m.guardConflicts.WithLabelValues(operation).Inc()
}

// SetPaused reflects the settlement pause switch in the gauge.
func (m *SettlementMetrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.pauseEngaged.Set(1)
		return
	}
	m.pauseEngaged.Set(0)
}
