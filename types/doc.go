// Package types provides core type definitions and interfaces for the rota library.
//
// This package contains shared types that are used across multiple packages in the
// rota library. By keeping these types in a separate package, we avoid import cycles
// between the main rota package and its internal implementations.
//
// Key types:
//   - Team, Member, TaskLabel: roster master data
//   - Assignment, AssignmentDay: the per-date duty board
//   - ShuffleEvent, ShuffleHistory: the timed shuffle protocol records
//   - PairExclusion: cross-team pairing constraints
//   - Logger: structured logging interface
//   - MetricsCollector: metrics recording interface
//
// The package deliberately has no NATS dependency so that pure components
// like the scheduler can import it without pulling in transport code.
package types
