package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Allocation outcomes used as metric labels.
const (
	outcomeAllocated   = "allocated"
	outcomeFailed      = "failed"
	outcomeUnsupported = "unsupported"
	outcomeInvariant   = "invariant"
	outcomeError       = "error"
)

// Metrics are the engine counters. A nil *Metrics records nothing.
type Metrics struct {
	allocations   *prometheus.CounterVec
	duration      prometheus.Histogram
	reallocations *prometheus.CounterVec
	commitRetries prometheus.Counter
}

// NewMetrics registers the engine metrics with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		allocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_allocations_total",
			Help: "Allocation attempts by outcome.",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduler_allocation_duration_seconds",
			Help:    "Time spent allocating one reservation request.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		reallocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_reallocations_total",
			Help: "Colliding reservation requests scheduled for reallocation.",
		}, []string{"forced"}),
		commitRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_commit_retries_total",
			Help: "Commits retried after transient storage errors.",
		}),
	}
}

func (m *Metrics) observeAllocation(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeReallocations(reallocations []Reallocation) {
	if m == nil {
		return
	}
	for _, reallocation := range reallocations {
		label := "false"
		if reallocation.Forced {
			label = "true"
		}
		m.reallocations.WithLabelValues(label).Inc()
	}
}

func (m *Metrics) observeCommitRetry() {
	if m == nil {
		return
	}
	m.commitRetries.Inc()
}
