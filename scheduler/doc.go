// Package scheduler implements the constrained-random fairness scheduler.
//
// Compute takes the current roster, the lookback history, and the pair
// exclusion rules, and produces exactly one assignment per (team, task label)
// slot. Constraints that cannot all be satisfied are relaxed step by step
// rather than failing, so the scheduler always terminates with a decision.
//
// The package performs no I/O and keeps no state between calls; Compute is
// safe to call from any goroutine without synchronization.
package scheduler
