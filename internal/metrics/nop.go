// Package metrics provides MetricsCollector implementations.
package metrics

import "github.com/IKcoding-jp/rota/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external metrics
// collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A new no-op metrics collector instance
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// RecordShuffleComputed discards the scheduler run metric.
func (n *NopMetrics) RecordShuffleComputed(_ /* slots */, _ /* relaxedSlots */ int) {}

// RecordMutate discards the mutation outcome metric.
func (n *NopMetrics) RecordMutate(_ /* changed */ bool) {}

// RecordMutateConflict discards the write conflict metric.
func (n *NopMetrics) RecordMutateConflict() {}

// RecordKVOperationDuration discards the KV operation duration metric.
func (n *NopMetrics) RecordKVOperationDuration(_ /* operation */ string, _ /* duration */ float64) {}

// RecordEventPublished discards the event broadcast metric.
func (n *NopMetrics) RecordEventPublished(_ /* date */ string) {}

// RecordEventCommitted discards the commit outcome metric.
func (n *NopMetrics) RecordEventCommitted(_ /* date */ string, _ /* success */ bool) {}

// RecordObserverJoin discards the observer join offset metric.
func (n *NopMetrics) RecordObserverJoin(_ /* elapsed */ float64) {}

// RecordGuardMerge discards the sync guard reconciliation metric.
func (n *NopMetrics) RecordGuardMerge(_ /* outcome */ string) {}
