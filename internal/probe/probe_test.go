package probe

import (
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ias-audio/smartx-bridge/internal/area"
)

func monoArea(buf []byte, fmtSize, ch int) area.Area {
	return area.Area{Base: unsafe.Pointer(&buf[0]), FirstBit: 0, StepBits: fmtSize * 8, Channel: ch, MaxIndex: 1}
}

func TestRecordThenInjectRoundTrip(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "capture")

	var rec Probe
	require.NoError(t, rec.StartRecording(StartParams{
		Prefix: prefix, Channels: 2, SampleRate: 48000, Format: area.I16,
		ProbingBufferSize: 64, DurationSeconds: 20.0 / 48000.0,
	}))
	assert.Equal(t, Recording, rec.Mode())

	frameBuf0 := make([]byte, 64*2)
	frameBuf1 := make([]byte, 64*2)
	for i := 0; i < 64; i++ {
		frameBuf0[i*2] = byte(i)
		frameBuf1[i*2] = byte(255 - i)
	}
	areas := []area.Area{monoArea(frameBuf0, 2, 0), monoArea(frameBuf1, 2, 1)}

	_, finished, err := rec.Process(areas, 0, 10)
	require.NoError(t, err)
	assert.False(t, finished)

	_, finished, err = rec.Process(areas, 10, 10)
	require.NoError(t, err)
	assert.True(t, finished)
	assert.Equal(t, Idle, rec.Mode())

	var inj Probe
	require.NoError(t, inj.StartInject(StartParams{
		Prefix: prefix, Channels: 2, SampleRate: 48000, Format: area.I16,
		ProbingBufferSize: 64, DurationSeconds: 10,
	}))
	assert.Equal(t, Injecting, inj.Mode())

	outBuf0 := make([]byte, 64*2)
	outBuf1 := make([]byte, 64*2)
	outAreas := []area.Area{monoArea(outBuf0, 2, 0), monoArea(outBuf1, 2, 1)}
	_, _, err = inj.Process(outAreas, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, frameBuf0[0:20], outBuf0[0:20])
}

func TestStartRecordingRejectsConcurrentStart(t *testing.T) {
	dir := t.TempDir()
	var p Probe
	require.NoError(t, p.StartRecording(StartParams{
		Prefix: filepath.Join(dir, "a"), Channels: 1, SampleRate: 48000,
		Format: area.I16, ProbingBufferSize: 32, DurationSeconds: 1,
	}))
	err := p.StartRecording(StartParams{
		Prefix: filepath.Join(dir, "b"), Channels: 1, SampleRate: 48000,
		Format: area.I16, ProbingBufferSize: 32, DurationSeconds: 1,
	})
	assert.Error(t, err)
	p.Stop()
}

func TestProcessIsNoopWhenIdle(t *testing.T) {
	var p Probe
	buf := make([]byte, 8)
	processed, finished, err := p.Process([]area.Area{monoArea(buf, 2, 0)}, 0, 4)
	require.NoError(t, err)
	assert.False(t, finished)
	assert.Equal(t, 0, processed)
}

func TestStartInjectRejectsSampleRateMismatch(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "capture")
	var rec Probe
	require.NoError(t, rec.StartRecording(StartParams{
		Prefix: prefix, Channels: 1, SampleRate: 48000, Format: area.I16,
		ProbingBufferSize: 32, DurationSeconds: 0.001,
	}))
	buf := make([]byte, 8)
	_, _, _ = rec.Process([]area.Area{monoArea(buf, 2, 0)}, 0, 2)
	rec.Stop()

	var inj Probe
	err := inj.StartInject(StartParams{
		Prefix: prefix, Channels: 1, SampleRate: 44100, Format: area.I16,
		ProbingBufferSize: 32, DurationSeconds: 1,
	})
	assert.Error(t, err)
}
