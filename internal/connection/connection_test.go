package connection

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ias-audio/smartx-bridge/internal/ipc"
	"github.com/ias-audio/smartx-bridge/internal/ringbuffer"
)

func TestDeviceTypeFromNameSuffix(t *testing.T) {
	_, err := deviceTypeFromName("dev1")
	assert.Error(t, err)

	dt, err := deviceTypeFromName("dev1_c")
	require.NoError(t, err)
	assert.Equal(t, ringbuffer.Sink, dt)

	dt, err = deviceTypeFromName("dev1_p")
	require.NoError(t, err)
	assert.Equal(t, ringbuffer.Source, dt)
}

func TestBoundedRangeFromList(t *testing.T) {
	r := NewRange(44100, 48000, 96000)
	assert.True(t, r.HasList())
	assert.Equal(t, []int32{44100, 48000, 96000}, r.List())
	assert.Equal(t, int32(44100), r.Min)
	assert.Equal(t, int32(96000), r.Max)
}

func TestBoundedRangeFromMinMax(t *testing.T) {
	r := NewMinMax(1, 8)
	assert.False(t, r.HasList())
	assert.Equal(t, int32(1), r.Min)
	assert.Equal(t, int32(8), r.Max)
}

// TestIpcEndpointSwapConvention documents the server/client IPC-endpoint
// swap spec.md §4.9 requires: whatever the creator pushes on its outIpc
// (arr[0]) a finder reads back on its inIpc, which is bound to the same
// arr[0] slot.
func TestIpcEndpointSwapConvention(t *testing.T) {
	buf := make([]byte, 2*ipc.StateSize())
	arr0, err := ipc.InitQueue(unsafe.Pointer(&buf[0]))
	require.NoError(t, err)
	_, err = ipc.InitQueue(unsafe.Pointer(&buf[ipc.StateSize()]))
	require.NoError(t, err)

	require.NoError(t, ipc.Push(arr0, ipc.StartMsg{}))

	finderInIpc := ipc.AttachQueue(unsafe.Pointer(&buf[0]))
	var got ipc.StartMsg
	require.NoError(t, ipc.PopNoblock(finderInIpc, &got))
}
