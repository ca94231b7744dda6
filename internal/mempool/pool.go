// Package mempool is the process allocator used for benchmark message
// buffers. It keeps running allocation statistics that resource snapshots
// report alongside the OS counters.
package mempool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrInvalidSize is returned for negative or oversized requests.
var ErrInvalidSize = errors.New("mempool: invalid allocation size")

// MaxBlockSize bounds a single allocation.
const MaxBlockSize = 1 << 30

// Stats is a point-in-time copy of the pool counters, in bytes and blocks.
type Stats struct {
	TotalAllocated int64 `json:"total_allocated"`
	PeakUsage      int64 `json:"peak_usage"`
	AllocCount     int64 `json:"alloc_count"`
	DeallocCount   int64 `json:"dealloc_count"`
	CurrentBlocks  int64 `json:"current_blocks"`
}

// Pool hands out byte slices and accounts for them.
//
// With tracking off (the default) frees are accounted by len(buf). With
// tracking on, every live block is remembered by its backing array so frees
// of resliced buffers and double frees are accounted exactly.
type Pool struct {
	current  atomic.Int64
	peak     atomic.Int64
	allocs   atomic.Int64
	deallocs atomic.Int64
	blocks   atomic.Int64

	tracking atomic.Bool
	mu       sync.Mutex
	live     map[*byte]int
}

// New returns an empty pool with tracking disabled.
func New() *Pool {
	return &Pool{live: make(map[*byte]int)}
}

// SetTracking toggles exact per-block accounting.
func (p *Pool) SetTracking(enabled bool) {
	p.tracking.Store(enabled)
	if !enabled {
		p.mu.Lock()
		clear(p.live)
		p.mu.Unlock()
	}
}

// Tracking reports whether per-block accounting is on.
func (p *Pool) Tracking() bool {
	return p.tracking.Load()
}

// Allocate returns a zeroed slice of length n.
func (p *Pool) Allocate(n int) (buf []byte, err error) {
	if n < 0 || n > MaxBlockSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("mempool: allocate %d bytes: %v", n, r)
		}
	}()
	buf = make([]byte, n)

	if p.tracking.Load() && n > 0 {
		p.mu.Lock()
		p.live[&buf[:1][0]] = n
		p.mu.Unlock()
	}
	p.allocs.Add(1)
	p.blocks.Add(1)
	cur := p.current.Add(int64(n))
	for {
		peak := p.peak.Load()
		if cur <= peak || p.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	return buf, nil
}

// Free returns buf to the pool. The caller must not use buf afterwards.
func (p *Pool) Free(buf []byte) {
	if buf == nil {
		return
	}
	size := cap(buf)
	if p.tracking.Load() && cap(buf) > 0 {
		key := &buf[:1][0]
		p.mu.Lock()
		n, ok := p.live[key]
		if ok {
			delete(p.live, key)
		}
		p.mu.Unlock()
		if !ok {
			return
		}
		size = n
	}
	p.deallocs.Add(1)
	p.blocks.Add(-1)
	p.current.Add(-int64(size))
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		TotalAllocated: p.current.Load(),
		PeakUsage:      p.peak.Load(),
		AllocCount:     p.allocs.Load(),
		DeallocCount:   p.deallocs.Load(),
		CurrentBlocks:  p.blocks.Load(),
	}
}
