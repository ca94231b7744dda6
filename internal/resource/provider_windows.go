//go:build windows

package resource

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/torosent/tpbench/internal/sampler"
)

var (
	modkernel32              = windows.NewLazySystemDLL("kernel32.dll")
	modpsapi                 = windows.NewLazySystemDLL("psapi.dll")
	procGetSystemTimes       = modkernel32.NewProc("GetSystemTimes")
	procGetProcessMemoryInfo = modpsapi.NewProc("GetProcessMemoryInfo")
)

type processMemoryCountersEx struct {
	CB                         uint32
	PageFaultCount             uint32
	PeakWorkingSetSize         uintptr
	WorkingSetSize             uintptr
	QuotaPeakPagedPoolUsage    uintptr
	QuotaPagedPoolUsage        uintptr
	QuotaPeakNonPagedPoolUsage uintptr
	QuotaNonPagedPoolUsage     uintptr
	PagefileUsage              uintptr
	PeakPagefileUsage          uintptr
	PrivateUsage               uintptr
}

type windowsProvider struct {
	process windows.Handle
}

// NewProvider returns the provider for this platform.
func NewProvider() (Provider, error) {
	if err := procGetSystemTimes.Find(); err != nil {
		return nil, fmt.Errorf("GetSystemTimes: %w", err)
	}
	if err := procGetProcessMemoryInfo.Find(); err != nil {
		return nil, fmt.Errorf("GetProcessMemoryInfo: %w", err)
	}
	return &windowsProvider{process: windows.CurrentProcess()}, nil
}

func (p *windowsProvider) Name() string { return "win32" }

func (p *windowsProvider) CPUTimes() (sampler.Times, error) {
	var idle, kernel, user windows.Filetime
	r, _, err := procGetSystemTimes.Call(
		uintptr(unsafe.Pointer(&idle)),
		uintptr(unsafe.Pointer(&kernel)),
		uintptr(unsafe.Pointer(&user)),
	)
	if r == 0 {
		return sampler.Times{}, fmt.Errorf("GetSystemTimes: %w", err)
	}

	var creation, exit, pkernel, puser windows.Filetime
	if err := windows.GetProcessTimes(p.process, &creation, &exit, &pkernel, &puser); err != nil {
		return sampler.Times{}, fmt.Errorf("GetProcessTimes: %w", err)
	}

	// Kernel time reported by GetSystemTimes already includes idle time.
	return sampler.Times{
		System:  filetime(kernel) + filetime(user),
		Process: filetime(pkernel) + filetime(puser),
	}, nil
}

func (p *windowsProvider) ProcessMemory() (ProcessMemory, error) {
	var pmc processMemoryCountersEx
	pmc.CB = uint32(unsafe.Sizeof(pmc))
	r, _, err := procGetProcessMemoryInfo.Call(
		uintptr(p.process),
		uintptr(unsafe.Pointer(&pmc)),
		uintptr(pmc.CB),
	)
	if r == 0 {
		return ProcessMemory{}, fmt.Errorf("GetProcessMemoryInfo: %w", err)
	}
	return ProcessMemory{
		WorkingSet:        uint64(pmc.WorkingSetSize),
		PeakWorkingSet:    uint64(pmc.PeakWorkingSetSize),
		PagefileUsage:     uint64(pmc.PagefileUsage),
		PeakPagefileUsage: uint64(pmc.PeakPagefileUsage),
		PrivateUsage:      uint64(pmc.PrivateUsage),
		PagedPoolQuota:    uint64(pmc.QuotaPagedPoolUsage),
		NonpagedPoolQuota: uint64(pmc.QuotaNonPagedPoolUsage),
	}, nil
}

// filetime converts a FILETIME interval (100ns ticks) to a duration.
func filetime(ft windows.Filetime) time.Duration {
	ticks := uint64(ft.HighDateTime)<<32 | uint64(ft.LowDateTime)
	return time.Duration(ticks * 100)
}
