// Package buffer builds benchmark messages, either into one persistent
// buffer reused for a whole run (zero-copy) or into a fresh allocation per
// message.
package buffer

import (
	"errors"
	"fmt"
	"time"

	"github.com/torosent/tpbench/internal/mempool"
	"github.com/torosent/tpbench/internal/packet"
)

// HeaderReserve is the space kept ahead of the largest payload.
const HeaderReserve = 1024

// ErrAllocation is returned when the backing buffer cannot be allocated.
var ErrAllocation = errors.New("buffer allocation failed")

// View aliases manager-owned memory. It is valid until the next call to
// PrepareMessage, PrepareSentinel or EnsureCapacity.
type View struct {
	Buf        []byte
	UserOffset int
	UserLength int
}

// Bytes returns the message region of the view.
func (v View) Bytes() []byte {
	return v.Buf[v.UserOffset : v.UserOffset+v.UserLength]
}

// Clock stamps send times into headers. nil disables stamping.
type Clock func() time.Time

// now reads the clock, or returns the zero time when there is none.
func (c Clock) now() time.Time {
	if c == nil {
		return time.Time{}
	}
	return c()
}

// ZeroCopy owns a single growable buffer. It is not safe for concurrent use.
type ZeroCopy struct {
	pool       *mempool.Pool
	buf        []byte
	maxPayload int
	clock      Clock
}

// NewZeroCopy returns a manager with no buffer allocated yet.
func NewZeroCopy(pool *mempool.Pool, clock Clock) *ZeroCopy {
	if pool == nil {
		pool = mempool.New()
	}
	return &ZeroCopy{pool: pool, clock: clock}
}

// Capacity returns the size of the current buffer.
func (z *ZeroCopy) Capacity() int {
	return len(z.buf)
}

// MaxPayload returns the largest payload the buffer was sized for.
func (z *ZeroCopy) MaxPayload() int {
	return z.maxPayload
}

// EnsureCapacity grows the buffer to hold payloadSize plus the header
// reserve. It never shrinks.
func (z *ZeroCopy) EnsureCapacity(payloadSize int) error {
	if payloadSize < packet.HeaderSize {
		payloadSize = packet.HeaderSize
	}
	if z.buf != nil && payloadSize+HeaderReserve <= len(z.buf) {
		return nil
	}

	z.pool.Free(z.buf)
	z.buf = nil
	buf, err := z.pool.Allocate(payloadSize + HeaderReserve)
	if err != nil {
		return fmt.Errorf("%w: %d bytes: %v", ErrAllocation, payloadSize+HeaderReserve, err)
	}
	z.buf = buf
	if payloadSize > z.maxPayload {
		z.maxPayload = payloadSize
	}
	return nil
}

// PrepareMessage writes a DATA message of size bytes for seq into the buffer.
func (z *ZeroCopy) PrepareMessage(size int, seq uint32) (View, error) {
	if size < packet.HeaderSize {
		size = packet.HeaderSize
	}
	if err := z.EnsureCapacity(size); err != nil {
		return View{}, err
	}
	msg := z.buf[:size]
	if err := packet.Encode(msg, packet.Header{Sequence: seq, Kind: packet.KindData, SentAt: z.stamp()}); err != nil {
		return View{}, err
	}
	Fill(msg[packet.HeaderSize:], seq)
	return View{Buf: z.buf, UserOffset: 0, UserLength: size}, nil
}

// PrepareSentinel writes a header-only END message into the buffer.
func (z *ZeroCopy) PrepareSentinel() (View, error) {
	if err := z.EnsureCapacity(packet.HeaderSize); err != nil {
		return View{}, err
	}
	if err := packet.Encode(z.buf, packet.Sentinel(z.clock.now())); err != nil {
		return View{}, err
	}
	return View{Buf: z.buf, UserOffset: 0, UserLength: packet.HeaderSize}, nil
}

// Release frees the buffer back to the pool.
func (z *ZeroCopy) Release() {
	z.pool.Free(z.buf)
	z.buf = nil
}

func (z *ZeroCopy) stamp() int64 {
	if z.clock == nil {
		return 0
	}
	return z.clock().UnixNano()
}

// Fill writes the deterministic payload pattern for seq.
func Fill(payload []byte, seq uint32) {
	base := int(seq % 255)
	for i := range payload {
		payload[i] = byte((i + base) % 255)
	}
}
