package ipc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	buf := make([]byte, StateSize())
	q, err := InitQueue(unsafe.Pointer(&buf[0]))
	require.NoError(t, err)
	return q
}

func TestPushPopRoundTrip(t *testing.T) {
	q := newTestQueue(t)

	require.NoError(t, Push(q, StartMsg{}))

	var got StartMsg
	require.NoError(t, PopNoblock(q, &got))
}

func TestPopNoblockEmptyReturnsEmpty(t *testing.T) {
	q := newTestQueue(t)

	var got StartMsg
	err := PopNoblock(q, &got)
	assert.ErrorIs(t, err, xerr.ErrEmpty)
}

func TestPopNoblockTagMismatchStashesContainer(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, Push(q, StartMsg{}))

	var wrongType PauseMsg
	err := PopNoblock(q, &wrongType)
	assert.ErrorIs(t, err, xerr.ErrInvalidParam)

	// The stashed container is still there for a correctly-typed caller.
	var got StartMsg
	require.NoError(t, PopNoblock(q, &got))
}

func TestPushBufferFullWhenDepthExceeded(t *testing.T) {
	q := newTestQueue(t)
	for i := 0; i < Depth; i++ {
		require.NoError(t, Push(q, StartMsg{}))
	}
	err := Push(q, StartMsg{})
	assert.ErrorIs(t, err, xerr.ErrBufferFull)
}

func TestResponseAckNakRoundTrip(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, Push(q, AckMsg{Request: TagStart}))

	var resp AckMsg
	require.NoError(t, PopNoblock(q, &resp))
	assert.Equal(t, TagStart, resp.Request)
}

func TestLatencyReplySharesGetLatencyTag(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, Push(q, LatencyReply{Frames: 256}))

	var reply LatencyReply
	require.NoError(t, PopNoblock(q, &reply))
	assert.Equal(t, int32(256), reply.Frames)
}

func TestDiscardAllClearsStashAndQueue(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, Push(q, StartMsg{}))
	require.NoError(t, Push(q, StartMsg{}))

	var wrongType PauseMsg
	_ = PopNoblock(q, &wrongType) // stashes the first container

	require.NoError(t, q.DiscardAll())

	assert.Equal(t, TagInvalid, q.GetNextId())
	var got StartMsg
	assert.ErrorIs(t, PopNoblock(q, &got), xerr.ErrEmpty)
}

func TestDiscardNextDropsOneContainer(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, Push(q, StartMsg{}))
	require.NoError(t, Push(q, PauseMsg{}))

	require.NoError(t, q.DiscardNext())
	assert.Equal(t, TagPause, q.GetNextId())
}

func TestPeekDoesNotConsume(t *testing.T) {
	q := newTestQueue(t)
	require.NoError(t, Push(q, StartMsg{}))

	tag, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, TagStart, tag)

	var got StartMsg
	require.NoError(t, PopNoblock(q, &got))
}

func TestPopTimedWaitTimesOutOnEmptyQueue(t *testing.T) {
	q := newTestQueue(t)
	var got StartMsg
	err := PopTimedWait(q, &got, 20)
	assert.ErrorIs(t, err, xerr.ErrTimeout)
}

func TestPushPopPreservesFIFOOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		buf := make([]byte, StateSize())
		q, err := InitQueue(unsafe.Pointer(&buf[0]))
		if err != nil {
			rt.Fatalf("init queue: %v", err)
		}
		n := rapid.IntRange(1, Depth).Draw(rt, "n")
		sent := make([]uint32, n)
		for i := range sent {
			sent[i] = rapid.Uint32().Draw(rt, "request")
			if err := Push(q, AckMsg{Request: sent[i]}); err != nil {
				rt.Fatalf("push: %v", err)
			}
		}
		for i := range sent {
			var got AckMsg
			if err := PopNoblock(q, &got); err != nil {
				rt.Fatalf("pop: %v", err)
			}
			if got.Request != sent[i] {
				rt.Fatalf("FIFO order broken: want %d, got %d", sent[i], got.Request)
			}
		}
	})
}

func TestContainerCRCDetectsCorruption(t *testing.T) {
	c, err := Encode(StartMsg{})
	require.NoError(t, err)
	assert.True(t, c.VerifyCRC())

	c.Payload[0] ^= 0xff
	c.Size = 1
	assert.False(t, c.VerifyCRC())
}
