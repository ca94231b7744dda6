package output

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"github.com/torosent/tpbench/internal/metrics"
)

var csvHeader = []string{
	"run_id", "profile", "role", "round", "min_size", "max_size",
	"expected", "delivered", "lost", "loss_percent", "elapsed_ms",
	"msgs_per_sec", "mbps", "avg_payload_bytes", "latency_p50_ms",
	"latency_p99_ms", "cpu_peak_percent", "pool_delta_kb",
	"working_set_delta_kb", "peak_working_set_kb",
}

// lockRetry is how often a contended result file lock is retried.
const lockRetry = 50 * time.Millisecond

// AppendCSV appends one row per round to path, writing the header when the
// file is new. The file is locked for the duration of the write so
// concurrent runs sharing a result file do not interleave rows.
func AppendCSV(ctx context.Context, path, runID string, rounds []metrics.RoundSummary) error {
	if len(rounds) == 0 {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create result directory: %w", err)
		}
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return fmt.Errorf("lock result file: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock result file %s: not acquired", path)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open result file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat result file: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			f.Close()
			return fmt.Errorf("write header: %w", err)
		}
	}
	for _, r := range rounds {
		if err := w.Write(csvRow(runID, r)); err != nil {
			f.Close()
			return fmt.Errorf("write round %d: %w", r.Round, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush result file: %w", err)
	}
	return f.Close()
}

func csvRow(runID string, r metrics.RoundSummary) []string {
	return []string{
		runID,
		r.Profile,
		string(r.Role),
		strconv.Itoa(r.Round),
		strconv.Itoa(r.MinSize),
		strconv.Itoa(r.MaxSize),
		strconv.Itoa(r.Expected),
		strconv.Itoa(r.Delivered),
		strconv.Itoa(r.Lost),
		formatFloat(r.LossRate),
		formatFloat(r.ElapsedMs),
		formatFloat(r.Throughput),
		formatFloat(r.BandwidthMbps),
		formatFloat(r.AvgPayload),
		formatFloat(r.Latency.P50Ms),
		formatFloat(r.Latency.P99Ms),
		formatFloat(r.CPUPeak),
		strconv.FormatInt(r.PoolDeltaKB, 10),
		strconv.FormatUint(r.WorkingSetDeltaKB, 10),
		strconv.FormatUint(r.PeakWorkingSetKB, 10),
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}
