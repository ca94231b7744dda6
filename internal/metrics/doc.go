// Package metrics turns raw round results into validated summaries and
// exports them.
//
// # Aggregator
//
// The [Aggregator] accepts one [round.Result] per finished round:
//
//	agg := metrics.NewAggregator(logger)
//	summary := agg.AddResult(result)
//	agg.GenerateSummary(os.Stdout)
//
// AddResult recomputes the authoritative CPU peak from the round's sample
// history. A non-finite peak becomes [CPUPeakError]; a negative one is
// clamped to zero. Without history the end snapshot's live peak is used when
// it is finite and non-negative, otherwise the round reports [CPUPeakNoData].
// Memory deltas between the start and end snapshots are clamped to zero when
// an OS counter went backwards.
//
// # Prometheus
//
// An [Exporter] keeps its collectors on a private registry and can be served
// next to a running benchmark:
//
//	exp := metrics.NewExporter(metrics.WithLiveCPU(monitor.Sampler().Latest))
//	errCh, err := exp.Serve(ctx, ":9464", logger)
//	...
//	exp.Observe(summary)
package metrics
