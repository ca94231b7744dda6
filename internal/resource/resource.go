// Package resource captures process resource snapshots around benchmark
// rounds. Platform counters come from a Provider with one implementation per
// operating system.
package resource

import (
	"time"

	"github.com/torosent/tpbench/internal/mempool"
	"github.com/torosent/tpbench/internal/sampler"
)

// ProcessMemory holds OS process memory counters in bytes. Field names follow
// the Windows PROCESS_MEMORY_COUNTERS structure; other platforms fill them
// with their nearest equivalents.
type ProcessMemory struct {
	WorkingSet        uint64
	PeakWorkingSet    uint64
	PagefileUsage     uint64
	PeakPagefileUsage uint64
	PrivateUsage      uint64
	PagedPoolQuota    uint64
	NonpagedPoolQuota uint64
}

// CoreTimes is the cumulative busy and total time of one logical CPU.
type CoreTimes struct {
	Busy  time.Duration
	Total time.Duration
}

// Provider reads platform CPU clocks and process memory counters.
type Provider interface {
	sampler.Source
	ProcessMemory() (ProcessMemory, error)
	Name() string
}

// CoreProvider is implemented by providers that can read per-core clocks.
type CoreProvider interface {
	CoreTimes() ([]CoreTimes, error)
}

// Snapshot is an immutable view of process resources at one instant.
// Memory values are in KB.
type Snapshot struct {
	TakenAt time.Time `json:"taken_at"`

	// CPUPeak is the peak CPU percentage since the previous snapshot,
	// sampler.NoData or sampler.MeasurementError.
	CPUPeak float64 `json:"cpu_peak_percent"`

	MemoryCurrentKB int64 `json:"memory_current_kb"`
	MemoryPeakKB    int64 `json:"memory_peak_kb"`
	AllocCount      int64 `json:"alloc_count"`
	DeallocCount    int64 `json:"dealloc_count"`
	CurrentBlocks   int64 `json:"current_blocks"`

	WorkingSetKB        uint64 `json:"working_set_kb"`
	PeakWorkingSetKB    uint64 `json:"peak_working_set_kb"`
	PagefileKB          uint64 `json:"pagefile_kb"`
	PeakPagefileKB      uint64 `json:"peak_pagefile_kb"`
	PrivateKB           uint64 `json:"private_kb"`
	PagedPoolQuotaKB    uint64 `json:"paged_pool_kb"`
	NonpagedPoolQuotaKB uint64 `json:"nonpaged_pool_kb"`
}

// NewSnapshot assembles a snapshot from its parts.
func NewSnapshot(at time.Time, cpuPeak float64, pool mempool.Stats, mem ProcessMemory) Snapshot {
	return Snapshot{
		TakenAt:             at,
		CPUPeak:             cpuPeak,
		MemoryCurrentKB:     pool.TotalAllocated / 1024,
		MemoryPeakKB:        pool.PeakUsage / 1024,
		AllocCount:          pool.AllocCount,
		DeallocCount:        pool.DeallocCount,
		CurrentBlocks:       pool.CurrentBlocks,
		WorkingSetKB:        mem.WorkingSet / 1024,
		PeakWorkingSetKB:    mem.PeakWorkingSet / 1024,
		PagefileKB:          mem.PagefileUsage / 1024,
		PeakPagefileKB:      mem.PeakPagefileUsage / 1024,
		PrivateKB:           mem.PrivateUsage / 1024,
		PagedPoolQuotaKB:    mem.PagedPoolQuota / 1024,
		NonpagedPoolQuotaKB: mem.NonpagedPoolQuota / 1024,
	}
}

// CoreUsage converts two per-core readings into busy percentages. Cores
// missing from either reading, or whose total did not advance, report 0.
func CoreUsage(prev, cur []CoreTimes) []float64 {
	out := make([]float64, len(cur))
	for i := range cur {
		if i >= len(prev) {
			continue
		}
		total := cur[i].Total - prev[i].Total
		busy := cur[i].Busy - prev[i].Busy
		if total <= 0 || busy < 0 {
			continue
		}
		out[i] = 100 * float64(busy) / float64(total)
	}
	return out
}
