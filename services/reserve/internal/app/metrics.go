package app

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects engine-level counters. A nil *Metrics is a valid no-op,
// so callers that do not expose /metrics can skip wiring it.
type Metrics struct {
	acquires  *prometheus.CounterVec
	commits   *prometheus.CounterVec
	reclaimed prometheus.Counter
	skipped   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		acquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reserve_acquire_total",
			Help: "Lease acquire attempts by outcome.",
		}, []string{"result"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reserve_commit_total",
			Help: "Lease commit attempts by outcome.",
		}, []string{"result"}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reserve_sweeper_reclaimed_total",
			Help: "Leases moved to expired by the sweeper.",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reserve_sweeper_skipped_total",
			Help: "Sweep candidates already finalized by their holder.",
		}),
	}
	reg.MustRegister(m.acquires, m.commits, m.reclaimed, m.skipped)
	return m
}

func (m *Metrics) acquire(result string) {
	if m != nil {
		m.acquires.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) commit(result string) {
	if m != nil {
		m.commits.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) swept() {
	if m != nil {
		m.reclaimed.Inc()
	}
}

func (m *Metrics) sweepSkipped() {
	if m != nil {
		m.skipped.Inc()
	}
}
