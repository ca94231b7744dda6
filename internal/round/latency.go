package round

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// LatencyStats summarizes one-way DATA latency for a round.
type LatencyStats struct {
	Count int64         `json:"count"`
	Min   time.Duration `json:"-"`
	Mean  time.Duration `json:"-"`
	P50   time.Duration `json:"-"`
	P90   time.Duration `json:"-"`
	P99   time.Duration `json:"-"`
	Max   time.Duration `json:"-"`

	// JSON-friendly millisecond fields.
	MinMs  float64 `json:"min_ms"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P90Ms  float64 `json:"p90_ms"`
	P99Ms  float64 `json:"p99_ms"`
	MaxMs  float64 `json:"max_ms"`
}

// latencyRecorder is not synchronized; the subscriber records under its own
// mutex.
type latencyRecorder struct {
	hist *hdrhistogram.Histogram
	sum  time.Duration
	min  time.Duration
	max  time.Duration
}

func newLatencyRecorder() *latencyRecorder {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	return &latencyRecorder{hist: hdrhistogram.New(1, 60_000_000, 3)}
}

// record ignores non-positive samples, which only appear when sender and
// receiver clocks disagree.
func (l *latencyRecorder) record(latency time.Duration) {
	if latency <= 0 {
		return
	}
	us := latency.Microseconds()
	if us < l.hist.LowestTrackableValue() {
		us = l.hist.LowestTrackableValue()
	}
	if us > l.hist.HighestTrackableValue() {
		us = l.hist.HighestTrackableValue()
	}
	_ = l.hist.RecordValue(us)

	l.sum += latency
	if l.min == 0 || latency < l.min {
		l.min = latency
	}
	if latency > l.max {
		l.max = latency
	}
}

func (l *latencyRecorder) stats() LatencyStats {
	count := l.hist.TotalCount()
	s := LatencyStats{Count: count, Min: l.min, Max: l.max}
	if count > 0 {
		s.Mean = time.Duration(int64(l.sum) / count)
		s.P50 = time.Duration(l.hist.ValueAtQuantile(50)) * time.Microsecond
		s.P90 = time.Duration(l.hist.ValueAtQuantile(90)) * time.Microsecond
		s.P99 = time.Duration(l.hist.ValueAtQuantile(99)) * time.Microsecond
	}
	s.MinMs = ms(s.Min)
	s.MeanMs = ms(s.Mean)
	s.P50Ms = ms(s.P50)
	s.P90Ms = ms(s.P90)
	s.P99Ms = ms(s.P99)
	s.MaxMs = ms(s.Max)
	return s
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
