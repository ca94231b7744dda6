//go:build linux

package resource

import (
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/procfs"

	"github.com/torosent/tpbench/internal/sampler"
)

// procfsProvider reads /proc. Memory mapping:
//
//	WorkingSet        VmRSS
//	PeakWorkingSet    VmHWM
//	PagefileUsage     VmSize
//	PeakPagefileUsage VmPeak
//	PrivateUsage      RssAnon + VmSwap
//	PagedPoolQuota    VmPTE
//	NonpagedPoolQuota VmLck
type procfsProvider struct {
	fs   procfs.FS
	self procfs.Proc
}

// NewProvider returns the provider for this platform.
func NewProvider() (Provider, error) {
	return NewProcfsProvider(procfs.DefaultMountPoint)
}

// NewProcfsProvider reads from a procfs mounted at mountPoint.
func NewProcfsProvider(mountPoint string) (Provider, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("procfs: %w", err)
	}
	self, err := fs.Self()
	if err != nil {
		return nil, fmt.Errorf("procfs self: %w", err)
	}
	return &procfsProvider{fs: fs, self: self}, nil
}

func (p *procfsProvider) Name() string { return "procfs" }

func (p *procfsProvider) CPUTimes() (sampler.Times, error) {
	st, err := p.fs.Stat()
	if err != nil {
		return sampler.Times{}, fmt.Errorf("read /proc/stat: %w", err)
	}
	ps, err := p.self.Stat()
	if err != nil {
		return sampler.Times{}, fmt.Errorf("read /proc/self/stat: %w", err)
	}
	return sampler.Times{
		System:  seconds(cpuTotal(st.CPUTotal)),
		Process: seconds(ps.CPUTime()),
	}, nil
}

func (p *procfsProvider) ProcessMemory() (ProcessMemory, error) {
	status, err := p.self.NewStatus()
	if err != nil {
		return ProcessMemory{}, fmt.Errorf("read /proc/self/status: %w", err)
	}
	return ProcessMemory{
		WorkingSet:        status.VmRSS,
		PeakWorkingSet:    status.VmHWM,
		PagefileUsage:     status.VmSize,
		PeakPagefileUsage: status.VmPeak,
		PrivateUsage:      status.RssAnon + status.VmSwap,
		PagedPoolQuota:    status.VmPTE,
		NonpagedPoolQuota: status.VmLck,
	}, nil
}

func (p *procfsProvider) CoreTimes() ([]CoreTimes, error) {
	st, err := p.fs.Stat()
	if err != nil {
		return nil, fmt.Errorf("read /proc/stat: %w", err)
	}
	ids := make([]int64, 0, len(st.CPU))
	for id := range st.CPU {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]CoreTimes, len(ids))
	for i, id := range ids {
		c := st.CPU[id]
		total := cpuTotal(c)
		out[i] = CoreTimes{
			Busy:  seconds(total - c.Idle - c.Iowait),
			Total: seconds(total),
		}
	}
	return out, nil
}

func cpuTotal(c procfs.CPUStat) float64 {
	return c.User + c.Nice + c.System + c.Idle + c.Iowait + c.IRQ + c.SoftIRQ + c.Steal
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
