package resource

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/torosent/tpbench/internal/mempool"
	"github.com/torosent/tpbench/internal/sampler"
)

func TestNewSnapshotConvertsToKB(t *testing.T) {
	snap := NewSnapshot(time.Unix(1, 0), 12.5,
		mempool.Stats{TotalAllocated: 4096, PeakUsage: 8192, AllocCount: 3, DeallocCount: 1, CurrentBlocks: 2},
		ProcessMemory{WorkingSet: 2048, PeakWorkingSet: 10240, PagefileUsage: 1024, PrivateUsage: 3072},
	)
	assert.Equal(t, 12.5, snap.CPUPeak)
	assert.Equal(t, int64(4), snap.MemoryCurrentKB)
	assert.Equal(t, int64(8), snap.MemoryPeakKB)
	assert.Equal(t, int64(2), snap.CurrentBlocks)
	assert.Equal(t, uint64(2), snap.WorkingSetKB)
	assert.Equal(t, uint64(10), snap.PeakWorkingSetKB)
	assert.Equal(t, uint64(1), snap.PagefileKB)
	assert.Equal(t, uint64(3), snap.PrivateKB)
}

func TestCoreUsage(t *testing.T) {
	prev := []CoreTimes{{Busy: 0, Total: 0}, {Busy: time.Second, Total: 2 * time.Second}}
	cur := []CoreTimes{{Busy: 500 * time.Millisecond, Total: time.Second}, {Busy: time.Second, Total: 2 * time.Second}, {Busy: 1, Total: 1}}
	assert.Equal(t, []float64{50, 0, 0}, CoreUsage(prev, cur))
}

func TestMonitorSnapshotUsesSamplerPeak(t *testing.T) {
	provider := &Static{Usage: 30, Memory: ProcessMemory{WorkingSet: 1 << 20}}
	m := NewMonitor(provider, nil, zaptest.NewLogger(t), WithSamplerOptions(sampler.WithInterval(time.Millisecond)))
	require.NoError(t, m.Start())

	require.Eventually(t, func() bool { return m.Sampler().Latest() >= 0 }, time.Second, time.Millisecond)
	snap := m.Snapshot()
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.InDelta(t, 30.0, snap.CPUPeak, 1e-6)
	assert.Equal(t, uint64(1024), snap.WorkingSetKB)
	assert.False(t, m.Sampler().Running())
}

func TestMonitorSnapshotWithoutSamples(t *testing.T) {
	m := NewMonitor(nil, nil, nil)
	snap := m.Snapshot()
	assert.Equal(t, sampler.NoData, snap.CPUPeak)
	assert.Nil(t, m.CoreUsage())
	m.MarkCores()
	assert.Equal(t, "static", m.Provider().Name())
}

func TestPlatformProvider(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "windows" && runtime.GOOS != "darwin" {
		t.Skip("no platform provider exercised on " + runtime.GOOS)
	}
	p, err := NewProvider()
	require.NoError(t, err)

	first, err := p.CPUTimes()
	require.NoError(t, err)
	assert.Positive(t, int64(first.System))

	mem, err := p.ProcessMemory()
	require.NoError(t, err)
	assert.Positive(t, mem.WorkingSet)
}
