package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IKcoding-jp/rota/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	shuffleSlots     prometheus.Counter
	shuffleRelaxed   prometheus.Counter
	mutateResults    *prometheus.CounterVec
	mutateConflicts  prometheus.Counter
	kvOpDuration     *prometheus.HistogramVec
	eventsPublished  *prometheus.CounterVec
	eventsCommitted  *prometheus.CounterVec
	observerJoin     prometheus.Histogram
	guardMergeTotals *prometheus.CounterVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "rota" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "rota"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

// ensure lazily registers all collectors exactly once.
func (p *PrometheusCollector) ensure() {
	p.once.Do(func() {
		p.shuffleSlots = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "shuffle_slots_total",
			Help:      "Total (team, label) slots resolved by the scheduler.",
		})
		p.shuffleRelaxed = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "shuffle_relaxed_slots_total",
			Help:      "Slots that required the relaxation ladder beyond the strict pool.",
		})
		p.mutateResults = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "assignment_mutations_total",
			Help:      "Assignment day mutations by outcome.",
		}, []string{"outcome"})
		p.mutateConflicts = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "assignment_mutation_conflicts_total",
			Help:      "Optimistic write conflicts retried by the mutation loop.",
		})
		p.kvOpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Name:      "kv_operation_duration_seconds",
			Help:      "Duration of KV operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"})
		p.eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "shuffle_events_published_total",
			Help:      "Shuffle events broadcast to subscribers.",
		}, []string{"date"})
		p.eventsCommitted = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "shuffle_events_committed_total",
			Help:      "Shuffle commit outcomes after the countdown.",
		}, []string{"result"})
		p.observerJoin = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Name:      "observer_join_offset_seconds",
			Help:      "How far into a running event observers joined.",
			Buckets:   []float64{0, 0.25, 0.5, 1, 2, 3, 5},
		})
		p.guardMergeTotals = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Name:      "sync_guard_merges_total",
			Help:      "Sync guard snapshot reconciliations by outcome.",
		}, []string{"outcome"})

		collectors := []prometheus.Collector{
			p.shuffleSlots, p.shuffleRelaxed,
			p.mutateResults, p.mutateConflicts, p.kvOpDuration,
			p.eventsPublished, p.eventsCommitted, p.observerJoin,
			p.guardMergeTotals,
		}
		for _, c := range collectors {
			// Ignore AlreadyRegisteredError so shared registries work.
			_ = p.reg.Register(c)
		}
	})
}

// RecordShuffleComputed records one scheduler run.
func (p *PrometheusCollector) RecordShuffleComputed(slots, relaxedSlots int) {
	p.ensure()
	p.shuffleSlots.Add(float64(slots))
	p.shuffleRelaxed.Add(float64(relaxedSlots))
}

// RecordMutate records one mutation attempt outcome.
func (p *PrometheusCollector) RecordMutate(changed bool) {
	p.ensure()
	outcome := "unchanged"
	if changed {
		outcome = "changed"
	}
	p.mutateResults.WithLabelValues(outcome).Inc()
}

// RecordMutateConflict records a retried optimistic write conflict.
func (p *PrometheusCollector) RecordMutateConflict() {
	p.ensure()
	p.mutateConflicts.Inc()
}

// RecordKVOperationDuration records the duration of a KV operation in seconds.
func (p *PrometheusCollector) RecordKVOperationDuration(operation string, duration float64) {
	p.ensure()
	p.kvOpDuration.WithLabelValues(operation).Observe(duration)
}

// RecordEventPublished records a shuffle event broadcast.
func (p *PrometheusCollector) RecordEventPublished(date string) {
	p.ensure()
	p.eventsPublished.WithLabelValues(date).Inc()
}

// RecordEventCommitted records the commit outcome after the countdown.
func (p *PrometheusCollector) RecordEventCommitted(_ string, success bool) {
	p.ensure()
	result := "failure"
	if success {
		result = "success"
	}
	p.eventsCommitted.WithLabelValues(result).Inc()
}

// RecordObserverJoin records how far into the countdown an observer joined.
func (p *PrometheusCollector) RecordObserverJoin(elapsed float64) {
	p.ensure()
	p.observerJoin.Observe(elapsed)
}

// RecordGuardMerge records one sync guard reconciliation outcome.
func (p *PrometheusCollector) RecordGuardMerge(outcome string) {
	p.ensure()
	p.guardMergeTotals.WithLabelValues(outcome).Inc()
}
