//go:build unix && !linux

package resource

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/torosent/tpbench/internal/sampler"
)

// rusageProvider approximates system CPU time as wall time multiplied by
// the CPU count and reports maxrss as the peak working set. It is used where
// no richer counters are wired up.
type rusageProvider struct {
	start time.Time
	ncpu  int

	mu       sync.Mutex
	peakRSS  uint64
	lastWall time.Duration
}

// NewProvider returns the provider for this platform.
func NewProvider() (Provider, error) {
	return &rusageProvider{start: time.Now(), ncpu: runtime.NumCPU()}, nil
}

func (p *rusageProvider) Name() string { return "rusage" }

func (p *rusageProvider) CPUTimes() (sampler.Times, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return sampler.Times{}, fmt.Errorf("getrusage: %w", err)
	}
	wall := time.Since(p.start)
	p.mu.Lock()
	if wall < p.lastWall {
		wall = p.lastWall
	}
	p.lastWall = wall
	p.mu.Unlock()

	return sampler.Times{
		System:  wall * time.Duration(p.ncpu),
		Process: time.Duration(ru.Utime.Nano() + ru.Stime.Nano()),
	}, nil
}

func (p *rusageProvider) ProcessMemory() (ProcessMemory, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return ProcessMemory{}, fmt.Errorf("getrusage: %w", err)
	}
	peak := uint64(ru.Maxrss)
	if runtime.GOOS != "darwin" {
		peak *= 1024
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	p.mu.Lock()
	if peak > p.peakRSS {
		p.peakRSS = peak
	}
	peak = p.peakRSS
	p.mu.Unlock()

	return ProcessMemory{
		WorkingSet:        ms.Sys - ms.HeapReleased,
		PeakWorkingSet:    peak,
		PagefileUsage:     ms.Sys,
		PeakPagefileUsage: ms.Sys,
		PrivateUsage:      ms.HeapInuse + ms.StackInuse,
	}, nil
}
