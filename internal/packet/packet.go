// Package packet defines the fixed header that prefixes every benchmark
// message and the END sentinel that closes a round.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Kind distinguishes data messages from the end-of-round sentinel.
type Kind uint8

const (
	KindData Kind = 0
	KindEnd  Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindEnd:
		return "END"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

const (
	// HeaderSize is the encoded size of Header in bytes.
	HeaderSize = 4 + 1 + 8

	// EndSequence is stamped on every sentinel.
	EndSequence uint32 = 0xFFFFFFFF

	// SentinelRepeats is how many END messages a publisher sends per round.
	SentinelRepeats = 3

	// SentinelGap separates consecutive END messages.
	SentinelGap = 10 * time.Millisecond
)

var (
	ErrShortPacket = errors.New("packet shorter than header")
	ErrUnknownKind = errors.New("unknown packet kind")
)

// Header is the per-message prefix. Layout, little-endian:
//
//	[0:4]  sequence
//	[4]    kind
//	[5:13] send time, unix nanoseconds (0 when not stamped)
type Header struct {
	Sequence uint32
	Kind     Kind
	SentAt   int64
}

// Sent returns the send timestamp, or the zero time when none was stamped.
func (h Header) Sent() time.Time {
	if h.SentAt == 0 {
		return time.Time{}
	}
	return time.Unix(0, h.SentAt)
}

// Encode writes h into the first HeaderSize bytes of dst.
func Encode(dst []byte, h Header) error {
	if len(dst) < HeaderSize {
		return ErrShortPacket
	}
	binary.LittleEndian.PutUint32(dst[0:4], h.Sequence)
	dst[4] = byte(h.Kind)
	binary.LittleEndian.PutUint64(dst[5:13], uint64(h.SentAt))
	return nil
}

// Decode reads the header at the start of src.
func Decode(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(src))
	}
	h := Header{
		Sequence: binary.LittleEndian.Uint32(src[0:4]),
		Kind:     Kind(src[4]),
		SentAt:   int64(binary.LittleEndian.Uint64(src[5:13])),
	}
	if h.Kind != KindData && h.Kind != KindEnd {
		return h, fmt.Errorf("%w: %d", ErrUnknownKind, src[4])
	}
	return h, nil
}

// Sentinel returns the header used for END messages. A zero now leaves the
// timestamp unset.
func Sentinel(now time.Time) Header {
	h := Header{Sequence: EndSequence, Kind: KindEnd}
	if !now.IsZero() {
		h.SentAt = now.UnixNano()
	}
	return h
}
