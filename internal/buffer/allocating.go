package buffer

import (
	"fmt"

	"github.com/torosent/tpbench/internal/mempool"
	"github.com/torosent/tpbench/internal/packet"
)

// Allocating builds every message in its own allocation. The transport may
// keep a message until it calls Release.
type Allocating struct {
	pool  *mempool.Pool
	clock Clock
}

// NewAllocating returns a per-message builder backed by pool.
func NewAllocating(pool *mempool.Pool, clock Clock) *Allocating {
	if pool == nil {
		pool = mempool.New()
	}
	return &Allocating{pool: pool, clock: clock}
}

// NewMessage allocates and fills a DATA message of size bytes.
func (a *Allocating) NewMessage(size int, seq uint32) ([]byte, error) {
	if size < packet.HeaderSize {
		size = packet.HeaderSize
	}
	msg, err := a.pool.Allocate(size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}
	var sent int64
	if a.clock != nil {
		sent = a.clock().UnixNano()
	}
	if err := packet.Encode(msg, packet.Header{Sequence: seq, Kind: packet.KindData, SentAt: sent}); err != nil {
		a.pool.Free(msg)
		return nil, err
	}
	Fill(msg[packet.HeaderSize:], seq)
	return msg, nil
}

// NewSentinel allocates a header-only END message.
func (a *Allocating) NewSentinel() ([]byte, error) {
	msg, err := a.pool.Allocate(packet.HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}
	if err := packet.Encode(msg, packet.Sentinel(a.clock.now())); err != nil {
		a.pool.Free(msg)
		return nil, err
	}
	return msg, nil
}

// Release returns msg to the pool.
func (a *Allocating) Release(msg []byte) {
	a.pool.Free(msg)
}
