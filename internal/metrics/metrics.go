package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for billing activity. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	cycles        *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	sweepPaused   prometheus.Counter
	sweeps        *prometheus.CounterVec
	ledgerOps     *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns collectors registered once with the global registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew registers a fresh set of collectors on reg and panics on a
// registration conflict. Tests pass prometheus.NewRegistry().
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dairyrun",
			Subsystem: "dispatch",
			Name:      "cycles_total",
			Help:      "Dispatch cycles by result (committed, aborted).",
		}, []string{"result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dairyrun",
			Subsystem: "dispatch",
			Name:      "subscriptions_total",
			Help:      "Subscriptions processed by committed cycles, by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dairyrun",
			Subsystem: "dispatch",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a dispatch cycle including rollback.",
			Buckets:   prometheus.DefBuckets,
		}),
		sweepPaused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dairyrun",
			Subsystem: "sweep",
			Name:      "paused_total",
			Help:      "Subscriptions paused by the reconciliation sweep.",
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dairyrun",
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Reconciliation sweeps by result.",
		}, []string{"result"}),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dairyrun",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Standalone wallet operations by kind and result.",
		}, []string{"kind", "result"}),
	}
	reg.MustRegister(m.cycles, m.outcomes, m.cycleDuration, m.sweepPaused, m.sweeps, m.ledgerOps)
	return m
}

// ObserveCycle records one dispatch cycle.
func (m *Metrics) ObserveCycle(started time.Time, err error, delivered, paused, skipped int) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		m.cycles.WithLabelValues("aborted").Inc()
		return
	}
	m.cycles.WithLabelValues("committed").Inc()
	m.outcomes.WithLabelValues("delivered").Add(float64(delivered))
	m.outcomes.WithLabelValues("paused").Add(float64(paused))
	m.outcomes.WithLabelValues("skipped").Add(float64(skipped))
}

func (m *Metrics) ObserveSweep(paused int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.sweeps.WithLabelValues("aborted").Inc()
		return
	}
	m.sweeps.WithLabelValues("committed").Inc()
	m.sweepPaused.Add(float64(paused))
}

func (m *Metrics) ObserveLedger(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ledgerOps.WithLabelValues(kind, result).Inc()
}

// Collectors exposed for tests.
func (m *Metrics) Cycles() *prometheus.CounterVec   { return m.cycles }
func (m *Metrics) Outcomes() *prometheus.CounterVec { return m.outcomes }
func (m *Metrics) SweepPaused() prometheus.Counter  { return m.sweepPaused }
