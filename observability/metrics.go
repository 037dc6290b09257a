package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CDPEngineMetrics records the activity of the CDP risk engine: interest
// accrual cycles, offchain scan passes and the outcome of liquidation
// waterfalls.
type CDPEngineMetrics struct {
	accrualCycles    *prometheus.CounterVec
	scanPasses       *prometheus.CounterVec
	scanDuration     prometheus.Histogram
	candidates       *prometheus.CounterVec
	liquidations     *prometheus.CounterVec
	disposerFailures *prometheus.CounterVec
	settlements      prometheus.Counter
}

var (
	cdpMetricsOnce sync.Once
	cdpRegistry    *CDPEngineMetrics
)

// CDPMetrics returns the lazily-initialised metrics registry for the CDP
// engine.
func CDPMetrics() *CDPEngineMetrics {
	cdpMetricsOnce.Do(func() {
		cdpRegistry = &CDPEngineMetrics{
			accrualCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "cdp",
				Name:      "accrual_cycles_total",
				Help:      "Interest accrual outcomes per collateral type.",
			}, []string{"currency", "outcome"}),
			scanPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "cdp",
				Name:      "scan_passes_total",
				Help:      "Offchain scan pass outcomes (done, lock_busy, not_validator).",
			}, []string{"outcome"}),
			scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "vault",
				Subsystem: "cdp",
				Name:      "scan_duration_seconds",
				Help:      "Wall-clock duration of one offchain scan pass.",
				Buckets:   prometheus.DefBuckets,
			}),
			candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "cdp",
				Name:      "candidates_total",
				Help:      "Disposal candidates emitted by the offchain scanner.",
			}, []string{"kind"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "cdp",
				Name:      "liquidations_total",
				Help:      "Completed liquidations segmented by winning disposal strategy.",
			}, []string{"strategy"}),
			disposerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "cdp",
				Name:      "disposer_failures_total",
				Help:      "Disposal strategy failures that caused waterfall fallthrough.",
			}, []string{"strategy"}),
			settlements: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vault",
				Subsystem: "cdp",
				Name:      "settlements_total",
				Help:      "CDPs settled after emergency shutdown.",
			}),
		}
		prometheus.MustRegister(
			cdpRegistry.accrualCycles,
			cdpRegistry.scanPasses,
			cdpRegistry.scanDuration,
			cdpRegistry.candidates,
			cdpRegistry.liquidations,
			cdpRegistry.disposerFailures,
			cdpRegistry.settlements,
		)
	})
	return cdpRegistry
}

// RecordAccrual counts one accrual attempt for a collateral type.
func (m *CDPEngineMetrics) RecordAccrual(currency, outcome string) {
	if m == nil {
		return
	}
	m.accrualCycles.WithLabelValues(currency, outcome).Inc()
}

// RecordScanPass counts one offchain scan invocation with its outcome.
func (m *CDPEngineMetrics) RecordScanPass(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.scanPasses.WithLabelValues(outcome).Inc()
	if outcome == "done" {
		m.scanDuration.Observe(elapsed.Seconds())
	}
}

// RecordCandidate counts one emitted disposal candidate.
func (m *CDPEngineMetrics) RecordCandidate(kind string) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(kind).Inc()
}

// RecordLiquidation counts one completed liquidation and the strategy that won.
func (m *CDPEngineMetrics) RecordLiquidation(strategy string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(strategy).Inc()
}

// RecordDisposerFailure counts one strategy failure inside the waterfall.
func (m *CDPEngineMetrics) RecordDisposerFailure(strategy string) {
	if m == nil {
		return
	}
	m.disposerFailures.WithLabelValues(strategy).Inc()
}

// RecordSettlement counts one post-shutdown settlement.
func (m *CDPEngineMetrics) RecordSettlement() {
	if m == nil {
		return
	}
	m.settlements.Inc()
}
