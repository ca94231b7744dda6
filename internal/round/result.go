package round

import (
	"fmt"
	"time"

	"github.com/torosent/tpbench/internal/config"
	"github.com/torosent/tpbench/internal/resource"
)

// Error is a fatal round failure tagged with where it happened.
type Error struct {
	Round int
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("round %d %s: %v", e.Round, e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is the outcome of one round. Publishers report their send window,
// subscribers the window between the first DATA and the first END message.
type Result struct {
	Profile string      `json:"profile"`
	Role    config.Role `json:"role"`
	Round   int         `json:"round"`

	MinSize   int `json:"min_size"`
	MaxSize   int `json:"max_size"`
	Expected  int `json:"expected"`
	Delivered int `json:"delivered"`
	Lost      int `json:"lost"`

	Bytes      int64   `json:"bytes"`
	AvgPayload float64 `json:"avg_payload_bytes"`
	SendErrors int     `json:"send_errors,omitempty"`
	AckTimeout bool    `json:"ack_timeout,omitempty"`

	// Dispatcher counters for subscribers.
	Invalid    int64 `json:"invalid,omitempty"`
	Late       int64 `json:"late,omitempty"`
	Duplicates int64 `json:"duplicate_sentinels,omitempty"`

	Elapsed       time.Duration     `json:"-"`
	ElapsedMs     float64           `json:"elapsed_ms"`
	Throughput    float64           `json:"throughput_pps"`
	BandwidthMbps float64           `json:"bandwidth_mbps"`
	LossRate      float64           `json:"loss_rate_percent"`
	Latency       LatencyStats      `json:"latency"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
	CoreUsage     []float64         `json:"core_usage_percent,omitempty"`
	CPUHistory    []float64         `json:"cpu_history,omitempty"`
	Start         resource.Snapshot `json:"start"`
	End           resource.Snapshot `json:"end"`
}

// computeMetrics fills the derived fields from the raw counters.
func (r *Result) computeMetrics() {
	r.ElapsedMs = float64(r.Elapsed) / float64(time.Millisecond)

	r.Lost = r.Expected - r.Delivered
	if r.Lost < 0 {
		r.Lost = 0
	}
	if r.Expected > 0 {
		r.LossRate = float64(r.Lost) / float64(r.Expected) * 100
	}

	if r.Delivered > 0 {
		r.AvgPayload = float64(r.Bytes) / float64(r.Delivered)
	} else {
		r.AvgPayload = float64(r.MinSize+r.MaxSize) / 2
	}

	secs := r.Elapsed.Seconds()
	if secs <= 0 {
		return
	}
	r.Throughput = float64(r.Delivered) / secs
	r.BandwidthMbps = float64(r.Delivered) * r.AvgPayload * 8 / (1024 * 1024) / secs
}
