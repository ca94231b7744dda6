package metrics

import (
	"fmt"
	"io"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/torosent/tpbench/internal/round"
	"github.com/torosent/tpbench/internal/sampler"
)

// CPU peak sentinels carried in RoundSummary.CPUPeak.
const (
	CPUPeakNoData = sampler.NoData
	CPUPeakError  = sampler.MeasurementError
)

// RoundSummary is a validated round result with its resource deltas.
type RoundSummary struct {
	round.Result

	// CPUPeak is the authoritative peak percentage, CPUPeakNoData or
	// CPUPeakError.
	CPUPeak float64 `json:"cpu_peak_percent"`

	PoolDeltaKB       int64  `json:"pool_delta_kb"`
	PoolPeakKB        int64  `json:"pool_peak_kb"`
	LiveBlocks        int64  `json:"live_blocks"`
	WorkingSetDeltaKB uint64 `json:"working_set_delta_kb"`
	PeakWorkingSetKB  uint64 `json:"peak_working_set_kb"`
	PagefileDeltaKB   uint64 `json:"pagefile_delta_kb"`
}

// CPUPeakLabel renders the CPU peak or its sentinel meaning.
func (s RoundSummary) CPUPeakLabel() string {
	switch s.CPUPeak {
	case CPUPeakNoData:
		return "no data"
	case CPUPeakError:
		return "error"
	default:
		return fmt.Sprintf("%.2f%%", s.CPUPeak)
	}
}

// Aggregator accumulates round results in insertion order. It is safe for
// concurrent use.
type Aggregator struct {
	logger *zap.Logger

	mu     sync.Mutex
	rounds []RoundSummary
}

// NewAggregator returns an empty aggregator.
func NewAggregator(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{logger: logger}
}

// AddResult validates r, computes its deltas and stores it.
func (a *Aggregator) AddResult(r round.Result) RoundSummary {
	s := RoundSummary{
		Result:            r,
		CPUPeak:           a.cpuPeak(r),
		PoolDeltaKB:       clampedDelta(r.End.MemoryCurrentKB, r.Start.MemoryCurrentKB),
		PoolPeakKB:        r.End.MemoryPeakKB,
		LiveBlocks:        r.End.CurrentBlocks,
		WorkingSetDeltaKB: clampedDelta(r.End.WorkingSetKB, r.Start.WorkingSetKB),
		PeakWorkingSetKB:  r.End.PeakWorkingSetKB,
		PagefileDeltaKB:   clampedDelta(r.End.PagefileKB, r.Start.PagefileKB),
	}

	a.logger.Info("realtime cpu",
		zap.String("profile", r.Profile),
		zap.Int("round", r.Round),
		zap.String("cpu_peak", s.CPUPeakLabel()),
		zap.Int("samples", len(r.CPUHistory)),
	)

	a.mu.Lock()
	a.rounds = append(a.rounds, s)
	a.mu.Unlock()
	return s
}

// cpuPeak recomputes the peak from the recorded history and falls back to
// the end snapshot's live query when no history was captured.
func (a *Aggregator) cpuPeak(r round.Result) float64 {
	if len(r.CPUHistory) == 0 {
		if math.IsNaN(r.End.CPUPeak) || math.IsInf(r.End.CPUPeak, 0) || r.End.CPUPeak < 0 {
			return CPUPeakNoData
		}
		return r.End.CPUPeak
	}

	peak := r.CPUHistory[0]
	for _, v := range r.CPUHistory[1:] {
		if math.IsNaN(v) {
			peak = v
			break
		}
		if v > peak {
			peak = v
		}
	}

	switch {
	case math.IsNaN(peak) || math.IsInf(peak, 0):
		a.logger.Error("cpu peak is not finite", zap.Int("round", r.Round), zap.Float64("peak", peak))
		return CPUPeakError
	case peak < 0:
		a.logger.Warn("negative cpu peak clamped to zero", zap.Int("round", r.Round), zap.Float64("peak", peak))
		return 0
	default:
		return peak
	}
}

// Results returns a copy of the accumulated rounds.
func (a *Aggregator) Results() []RoundSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]RoundSummary(nil), a.rounds...)
}

// Len returns the number of recorded rounds.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rounds)
}

// GenerateSummary writes one resource line per round. With no rounds it only
// logs.
func (a *Aggregator) GenerateSummary(w io.Writer) {
	rounds := a.Results()
	if len(rounds) == 0 {
		a.logger.Info("no rounds recorded, skipping resource summary")
		return
	}

	fmt.Fprintln(w, "--- Resource Summary ---")
	for _, s := range rounds {
		fmt.Fprintf(w, "Round %d [%s/%s]: CPU peak %s | pool +%d KB (peak %d KB, %d live blocks) | working set +%d KB (peak %d KB) | pagefile +%d KB\n",
			s.Round, s.Profile, s.Role,
			s.CPUPeakLabel(),
			s.PoolDeltaKB, s.PoolPeakKB, s.LiveBlocks,
			s.WorkingSetDeltaKB, s.PeakWorkingSetKB,
			s.PagefileDeltaKB,
		)
	}
}

// clampedDelta returns end-start, or 0 when a counter went backwards.
func clampedDelta[T int64 | uint64](end, start T) T {
	if end < start {
		return 0
	}
	return end - start
}
