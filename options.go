package rota

import (
	"github.com/IKcoding-jp/rota/scheduler"
	"github.com/IKcoding-jp/rota/types"
)

// Option configures a Manager with optional dependencies.
type Option func(*managerOptions)

// managerOptions holds optional Manager configuration.
type managerOptions struct {
	logger  types.Logger
	metrics types.MetricsCollector
	rand    scheduler.Source
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (see internal/logging for slog and nop)
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	logger := logging.NewSlogDefault()
//	mgr := rota.NewManager(ctx, &cfg, conn, rota.WithLogger(logger))
func WithLogger(logger types.Logger) Option {
	return func(o *managerOptions) {
		o.logger = logger
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	collector := metrics.NewPrometheus(nil, "rota")
//	mgr := rota.NewManager(ctx, &cfg, conn, rota.WithMetrics(collector))
func WithMetrics(metrics types.MetricsCollector) Option {
	return func(o *managerOptions) {
		o.metrics = metrics
	}
}

// WithRand sets the randomness source used by shuffle computation.
//
// Mainly useful for deterministic tests; production deployments keep the
// default cryptographically seeded source.
//
// Parameters:
//   - src: Uniform randomness source
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	src := rand.New(rand.NewPCG(1, 2))
//	mgr := rota.NewManager(ctx, &cfg, conn, rota.WithRand(src))
func WithRand(src scheduler.Source) Option {
	return func(o *managerOptions) {
		o.rand = src
	}
}
