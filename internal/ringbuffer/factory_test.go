package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ias-audio/smartx-bridge/internal/area"
	"github.com/ias-audio/smartx-bridge/internal/config"
	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

func testParams(name string) Params {
	return Params{
		PeriodSize:  64,
		NumPeriods:  4,
		NumChannels: 2,
		Format:      area.I16,
		Name:        name,
		DeviceType:  Sink,
	}
}

func TestFactoryCreateLocalRealRoundTrip(t *testing.T) {
	f := NewFactory(config.Default())

	rb, err := f.CreateLocalReal(testParams("rb-local-1"))
	require.NoError(t, err)
	assert.Equal(t, 64, rb.PeriodSize())
	assert.Equal(t, 4, rb.NumPeriods())
	assert.Equal(t, 2, rb.NumChannels())

	avail, err := rb.UpdateAvailable(Write)
	require.NoError(t, err)
	assert.Equal(t, 64*4, avail)

	offset, granted, err := rb.BeginAccess(Write, 64)
	require.NoError(t, err)
	assert.Equal(t, 0, offset)
	assert.Equal(t, 64, granted)
	require.NoError(t, rb.EndAccess(Write, offset, granted))

	avail, err = rb.UpdateAvailable(Read)
	require.NoError(t, err)
	assert.Equal(t, 64, avail)

	require.NoError(t, f.Release("rb-local-1", false))
}

func TestFactoryValidatesParams(t *testing.T) {
	f := NewFactory(config.Default())

	p := testParams("rb-invalid")
	p.PeriodSize = 0
	_, err := f.CreateLocalReal(p)
	assert.Error(t, err)

	p2 := testParams("rb-bad-format")
	p2.Format = area.FormatUndefined
	_, err = f.CreateLocalReal(p2)
	assert.Error(t, err)
}

func TestFactoryReleaseUnknownNameErrors(t *testing.T) {
	f := NewFactory(config.Default())
	err := f.Release("does-not-exist", false)
	assert.Error(t, err)
}

// TestWriteReadChunksNeverExceedCapacity checks spec.md §4.5's core
// invariant across arbitrary chunk sizes: available-to-write plus
// available-to-read never exceeds the buffer's total capacity, no
// matter how the same total frame count is split into BeginAccess
// calls.
func TestWriteReadChunksNeverExceedCapacity(t *testing.T) {
	const periodSize, numPeriods = 32, 4
	const capacity = periodSize * numPeriods

	rapid.Check(t, func(rt *rapid.T) {
		name := "rb-prop-" + rapid.StringMatching(`[a-z]{6}`).Draw(rt, "name")
		f := NewFactory(config.Default())
		rb, err := f.CreateLocalReal(Params{
			PeriodSize: periodSize, NumPeriods: numPeriods, NumChannels: 1,
			Format: area.I16, Name: name, DeviceType: Sink,
		})
		if err != nil {
			rt.Fatalf("create: %v", err)
		}

		written := 0
		for written < capacity {
			want := rapid.IntRange(1, capacity-written).Draw(rt, "chunk")
			offset, granted, err := rb.BeginAccess(Write, want)
			if err != nil {
				rt.Fatalf("begin write: %v", err)
			}
			if err := rb.EndAccess(Write, offset, granted); err != nil {
				rt.Fatalf("end write: %v", err)
			}
			written += granted
		}

		availRead, err := rb.UpdateAvailable(Read)
		if err != nil {
			rt.Fatalf("avail read: %v", err)
		}
		availWrite, err := rb.UpdateAvailable(Write)
		if err != nil {
			rt.Fatalf("avail write: %v", err)
		}
		if availRead+availWrite != capacity {
			rt.Fatalf("capacity invariant broken: read=%d write=%d capacity=%d", availRead, availWrite, capacity)
		}
	})
}

func TestFactoryCreateLocalMirror(t *testing.T) {
	f := NewFactory(config.Default())
	dev := &fakeDevice{avail: 128}

	rb, err := f.CreateLocalMirror("rb-mirror-1", dev, 64, true, 0)
	require.NoError(t, err)
	assert.Equal(t, 64, rb.PeriodSize())

	_, err = rb.GetAreas()
	assert.ErrorIs(t, err, xerr.ErrNotAllowed)
}
