// Package runner executes the rounds of a benchmark profile.
//
// A [Runner] owns one [round.Controller] per role. For every round it
// creates a fresh transport endpoint, brackets the round with resource
// snapshots and CPU history recording, tears the endpoint down and hands the
// result to the [metrics.Aggregator] and the optional Prometheus exporter.
//
// # Basic Usage
//
//	opts := runner.OptionsFromConfig(cfg, profile, tr)
//	r := runner.New(opts, runner.Env{
//		Logger:     logger,
//		Monitor:    monitor,
//		Aggregator: metrics.NewAggregator(logger),
//	})
//	if err := r.Run(ctx); err != nil {
//		// *round.Error carries the failing round and phase
//	}
//
// # Loopback
//
// When Options.Peer is set, the peer profile runs concurrently in the same
// process over the same transport. The first failure on either side cancels
// the other. Only the primary profile samples process resources.
//
// # Middleware
//
// Endpoint creation is wrapped with [WithRetry]; failed attempts are logged
// through a [FailureLogger].
package runner
