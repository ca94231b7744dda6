package mempool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateFreeCounters(t *testing.T) {
	p := New()

	a, err := p.Allocate(100)
	require.NoError(t, err)
	b, err := p.Allocate(50)
	require.NoError(t, err)
	assert.Len(t, a, 100)

	assert.Equal(t, Stats{TotalAllocated: 150, PeakUsage: 150, AllocCount: 2, CurrentBlocks: 2}, p.Stats())

	p.Free(a)
	p.Free(nil)
	st := p.Stats()
	assert.Equal(t, int64(50), st.TotalAllocated)
	assert.Equal(t, int64(150), st.PeakUsage)
	assert.Equal(t, int64(1), st.DeallocCount)
	assert.Equal(t, int64(1), st.CurrentBlocks)

	p.Free(b)
	assert.Equal(t, int64(0), p.Stats().TotalAllocated)
}

func TestAllocateRejectsInvalidSizes(t *testing.T) {
	p := New()
	_, err := p.Allocate(-1)
	assert.True(t, errors.Is(err, ErrInvalidSize))
	_, err = p.Allocate(MaxBlockSize + 1)
	assert.True(t, errors.Is(err, ErrInvalidSize))
	assert.Equal(t, Stats{}, p.Stats())
}

func TestTrackingIgnoresDoubleFreeAndReslice(t *testing.T) {
	p := New()
	assert.False(t, p.Tracking())
	p.SetTracking(true)

	buf, err := p.Allocate(64)
	require.NoError(t, err)

	p.Free(buf[:8])
	p.Free(buf)

	st := p.Stats()
	assert.Equal(t, int64(0), st.TotalAllocated)
	assert.Equal(t, int64(1), st.DeallocCount)
	assert.Equal(t, int64(0), st.CurrentBlocks)
}
