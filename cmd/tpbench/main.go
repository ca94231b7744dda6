package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/torosent/tpbench/internal/config"
	"github.com/torosent/tpbench/internal/dashboard"
	"github.com/torosent/tpbench/internal/logging"
	"github.com/torosent/tpbench/internal/mempool"
	"github.com/torosent/tpbench/internal/metrics"
	"github.com/torosent/tpbench/internal/output"
	"github.com/torosent/tpbench/internal/resource"
	"github.com/torosent/tpbench/internal/round"
	"github.com/torosent/tpbench/internal/runner"
	"github.com/torosent/tpbench/internal/threshold"
	"github.com/torosent/tpbench/internal/tracing"
	"github.com/torosent/tpbench/internal/transport"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) > 0 && args[0] == "relay" {
		return runRelay(args[1:], os.Stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runBenchmark(ctx, args)
}

// runBenchmark executes one benchmark invocation until its rounds finish or
// parent is cancelled.
func runBenchmark(parent context.Context, args []string) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.ListProfiles {
		printProfiles(os.Stdout, cfg.Profiles)
		return nil
	}

	evaluator, err := newEvaluator(cfg.Thresholds)
	if err != nil {
		return err
	}

	profile, err := chooseProfile(cfg, stdinIsTerminal())
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		Timestamps: profile.LogTimeStamp,
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	pool := mempool.New()
	pool.SetTracking(cfg.TrackAllocations)
	provider, err := resource.NewProvider()
	if err != nil {
		logger.Warn("resource provider unavailable, CPU and memory will read as no data", zap.Error(err))
		provider = nil
	}
	monitor := resource.NewMonitor(provider, pool, logger.Logger)
	if err := monitor.Start(); err != nil {
		logger.Warn("cpu sampler failed to start", zap.Error(err))
	}
	defer monitor.Close()

	runID := runner.NewRunID(time.Now())
	tp, err := tracing.Init(ctx, cfg.Tracing, tracing.RunInfo{
		RunID:     runID,
		Profile:   profile.Name,
		Role:      string(profile.Role),
		Topic:     profile.Topic,
		Transport: string(cfg.Transport),
		Rounds:    profile.LoopNum,
		Loopback:  cfg.Loopback,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	tr, err := transport.New(cfg, logger.Logger)
	if err != nil {
		return err
	}
	defer tr.Close()

	aggregator := metrics.NewAggregator(logger.Logger)

	// The exporter is built before the runner it reports on.
	var r *runner.Runner
	var exporter *metrics.Exporter
	if cfg.MetricsAddr != "" {
		exporter = metrics.NewExporter(
			metrics.WithLiveCPU(monitor.Sampler().Latest),
			metrics.WithLiveProgress(func() (int64, int64) {
				if r == nil {
					return 0, 0
				}
				return r.Totals()
			}),
		)
		serveErr, err := exporter.Serve(ctx, cfg.MetricsAddr, logger.Logger)
		if err != nil {
			return fmt.Errorf("metrics endpoint: %w", err)
		}
		go func() {
			if err, ok := <-serveErr; ok && err != nil {
				logger.Error("metrics endpoint stopped", zap.Error(err))
			}
		}()
	}

	r = runner.New(runner.OptionsFromConfig(cfg, profile, tr), runner.Env{
		RunID:      runID,
		Logger:     logger.Logger,
		Monitor:    monitor,
		Aggregator: aggregator,
		Exporter:   exporter,
		Tracer:     tp.Tracer(),
	})

	var dash *dashboard.Dashboard
	if cfg.Dashboard {
		dash, err = dashboard.New(r, monitor.Sampler().Latest, dashboard.RunConfig{
			Profile:    profile.Name,
			Role:       string(profile.Role),
			Transport:  tr.Name(),
			Topic:      profile.Topic,
			Rounds:     profile.LoopNum,
			Rate:       cfg.Rate,
			Loopback:   cfg.Loopback,
			ConfigFile: cfg.ConfigFile,
		}, cancel)
		if err != nil {
			return err
		}
		dash.Start()
	}

	var progress *output.ProgressReporter
	if !cfg.JSONOutput && !cfg.Dashboard {
		progress = output.NewProgressReporter(r, progressInterval, os.Stdout)
		progress.Start()
	}

	runErr := r.Run(ctx)

	if progress != nil {
		progress.Stop()
	}
	if dash != nil {
		dash.Stop()
	}
	if runErr != nil && ctx.Err() != nil && !setupFailed(runErr) {
		logger.Warn("run interrupted, reporting completed rounds", zap.Error(runErr))
		runErr = nil
	}

	rounds := aggregator.Results()

	var results []threshold.Result
	if evaluator != nil {
		results = evaluator.EvaluateAll(rounds)
	}

	if err := report(os.Stdout, aggregator, cfg, profile, r.RunID(), tr.Name(), rounds, results); err != nil {
		return err
	}

	resultPath := filepath.Join(cfg.ResultDir, profile.ResultName())
	appendCtx, appendCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer appendCancel()
	if err := output.AppendCSV(appendCtx, resultPath, r.RunID(), rounds); err != nil {
		logger.Error("failed to write round results", zap.String("path", resultPath), zap.Error(err))
	} else if len(rounds) > 0 {
		logger.Info("round results written", zap.String("path", resultPath), zap.Int("rounds", len(rounds)))
	}

	if cfg.HTMLOutput != "" {
		if err := writeHTMLReport(cfg, profile, r.RunID(), tr.Name(), rounds, results); err != nil {
			return err
		}
		logger.Info("html report written", zap.String("path", cfg.HTMLOutput))
	}

	if runErr != nil {
		return runErr
	}
	if !threshold.Passed(results) {
		return fmt.Errorf("%d threshold check(s) failed", countFailed(results))
	}
	return nil
}

// setupFailed reports whether err ended a round before any data moved. Such
// failures exit non-zero even when an interrupt caused them.
func setupFailed(err error) bool {
	var rerr *round.Error
	if !errors.As(err, &rerr) {
		return false
	}
	return rerr.Phase == round.PhaseEndpoint || rerr.Phase == round.PhaseMatch
}

func newEvaluator(raw []string) (*threshold.Evaluator, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	parsed, err := threshold.ParseMultiple(raw)
	if err != nil {
		return nil, err
	}
	return threshold.NewEvaluator(parsed), nil
}

func report(w io.Writer, aggregator *metrics.Aggregator, cfg *config.Config, profile config.Profile, runID, transportName string, rounds []metrics.RoundSummary, results []threshold.Result) error {
	if cfg.JSONOutput {
		aggregator.GenerateSummary(io.Discard)
		return output.PrintJSONReport(w, output.Report{
			RunID:       runID,
			Profile:     profile.Name,
			Transport:   transportName,
			GeneratedAt: time.Now().UTC(),
			Rounds:      rounds,
			Thresholds:  output.SummarizeThresholds(results),
		})
	}
	output.PrintReport(w, rounds)
	fmt.Fprintln(w)
	aggregator.GenerateSummary(w)
	if len(results) > 0 {
		output.PrintThresholds(w, results)
	}
	return nil
}

func writeHTMLReport(cfg *config.Config, profile config.Profile, runID, transportName string, rounds []metrics.RoundSummary, results []threshold.Result) error {
	f, err := os.Create(cfg.HTMLOutput)
	if err != nil {
		return fmt.Errorf("failed to create HTML report: %w", err)
	}
	defer f.Close()

	return output.GenerateHTMLReport(f, rounds, results, output.ReportMetadata{
		RunID:     runID,
		Profile:   profile.Name,
		Transport: transportName,
		Topic:     profile.Topic,
		Loopback:  cfg.Loopback,
	})
}

func countFailed(results []threshold.Result) int {
	n := 0
	for _, r := range results {
		if !r.Pass && !r.Skipped {
			n++
		}
	}
	return n
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}
