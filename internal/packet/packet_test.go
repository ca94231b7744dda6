package packet

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEncodeDecodeLayout(t *testing.T) {
	buf := make([]byte, HeaderSize)
	require.NoError(t, Encode(buf, Header{Sequence: 0x01020304, Kind: KindData, SentAt: 7}))

	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, buf[0:4])
	assert.Equal(t, byte(0), buf[4])
	assert.Equal(t, byte(7), buf[5])

	h, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01020304), h.Sequence)
	assert.Equal(t, KindData, h.Kind)
	assert.Equal(t, int64(7), h.SentAt)
}

func TestDecodeRejectsShortAndUnknown(t *testing.T) {
	_, err := Decode(make([]byte, HeaderSize-1))
	assert.True(t, errors.Is(err, ErrShortPacket))

	buf := make([]byte, HeaderSize)
	buf[4] = 9
	_, err = Decode(buf)
	assert.True(t, errors.Is(err, ErrUnknownKind))

	assert.ErrorIs(t, Encode(make([]byte, 3), Header{}), ErrShortPacket)
}

func TestSentinelHeader(t *testing.T) {
	now := time.Unix(10, 0)
	h := Sentinel(now)
	assert.Equal(t, EndSequence, h.Sequence)
	assert.Equal(t, KindEnd, h.Kind)
	assert.Equal(t, now, h.Sent())
	assert.True(t, Header{}.Sent().IsZero())
	assert.Zero(t, Sentinel(time.Time{}).SentAt)
	assert.Equal(t, "END", KindEnd.String())
}

func encoded(t *testing.T, h Header, size int) []byte {
	t.Helper()
	buf := make([]byte, size)
	require.NoError(t, Encode(buf, h))
	return buf
}

func TestDispatcherStopsCountingAfterFirstEnd(t *testing.T) {
	var data, ends int
	d := NewDispatcher(Handlers{
		OnMessage: func(Header, int, time.Time) { data++ },
		OnEnd:     func(Header, time.Time) { ends++ },
	}, zaptest.NewLogger(t))

	now := time.Now()
	d.Deliver(encoded(t, Header{Sequence: 0}, 64), now)
	d.Deliver(encoded(t, Header{Sequence: 1}, 64), now)
	d.Deliver([]byte{1, 2}, now)
	d.Deliver(encoded(t, Sentinel(now), HeaderSize), now)
	d.Deliver(encoded(t, Header{Sequence: 2}, 64), now)
	d.Deliver(encoded(t, Sentinel(now), HeaderSize), now)
	d.Deliver(encoded(t, Sentinel(now), HeaderSize), now)

	assert.Equal(t, 2, data)
	assert.Equal(t, 1, ends)
	assert.True(t, d.Ended())
	assert.Equal(t, DispatchStats{Invalid: 1, Late: 1, Duplicates: 2}, d.Stats())
}

func TestDispatcherSingleSentinelCompletes(t *testing.T) {
	done := false
	d := NewDispatcher(Handlers{OnEnd: func(Header, time.Time) { done = true }}, nil)
	d.Deliver(encoded(t, Sentinel(time.Now()), HeaderSize), time.Now())
	assert.True(t, done)
}
