package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ias-audio/smartx-bridge/internal/area"
	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

// fakeDevice is a minimal Device for exercising Mirror without a real
// sound card, standing in for an ALSA/portaudio-backed implementation.
type fakeDevice struct {
	state        DeviceState
	avail        int
	started      bool
	recoverCalls int
	waitTimeout  bool
	waitErr      error
	committed    int
	commitErr    error
}

func (d *fakeDevice) State() DeviceState { return d.state }
func (d *fakeDevice) Recover() error {
	d.recoverCalls++
	d.state = StatePrepared
	return nil
}
func (d *fakeDevice) Resume() error { return nil }
func (d *fakeDevice) Start() error  { d.started = true; d.state = StateRunning; return nil }
func (d *fakeDevice) AvailUpdate() (int, error) {
	return d.avail, nil
}
func (d *fakeDevice) Wait(timeoutMs int) (bool, error) { return d.waitTimeout, d.waitErr }
func (d *fakeDevice) MmapBegin(frames int) ([]area.Area, int, int, error) {
	if frames > d.avail {
		frames = d.avail
	}
	return nil, 0, frames, nil
}
func (d *fakeDevice) MmapCommit(offset, frames int) (int, error) {
	if d.commitErr != nil {
		return 0, d.commitErr
	}
	if d.committed != 0 {
		return d.committed, nil
	}
	return frames, nil
}
func (d *fakeDevice) TransmittedFrames() int64 { return 0 }

func TestMirrorUpdateAvailableReturnsWhenAboveThreshold(t *testing.T) {
	dev := &fakeDevice{state: StateRunning, avail: 256}
	m := NewMirror(dev, 64, true, 0)

	avail, err := m.UpdateAvailable(Read)
	require.NoError(t, err)
	assert.Equal(t, 256, avail)
}

func TestMirrorNonBlockingReturnsZeroBelowPeriod(t *testing.T) {
	dev := &fakeDevice{state: StateRunning, avail: 10}
	m := NewMirror(dev, 64, true, 0)
	m.firstAfterStart = false

	avail, err := m.UpdateAvailable(Write)
	require.NoError(t, err)
	assert.Equal(t, 0, avail)
}

func TestMirrorStartsOnFirstCallBelowThreshold(t *testing.T) {
	dev := &startingDevice{fakeDevice: fakeDevice{state: StatePrepared, avail: 10}}
	m := NewMirror(dev, 64, true, 0)

	avail, err := m.UpdateAvailable(Write)
	require.NoError(t, err)
	assert.True(t, dev.started)
	assert.Equal(t, 128, avail)
}

// startingDevice bumps its own avail once Start is called, simulating a
// device that only reports enough frames once actually running.
type startingDevice struct {
	fakeDevice
}

func (d *startingDevice) Start() error {
	d.started = true
	d.state = StateRunning
	d.avail = 128
	return nil
}

func TestMirrorXRunTriggersRecover(t *testing.T) {
	dev := &fakeDevice{state: StateXRun, avail: 256}
	m := NewMirror(dev, 64, true, 0)

	avail, err := m.UpdateAvailable(Read)
	require.NoError(t, err)
	assert.Equal(t, 256, avail)
	assert.Equal(t, 1, dev.recoverCalls)
}

func TestMirrorWaitTimeoutPropagates(t *testing.T) {
	dev := &fakeDevice{state: StateRunning, avail: 0}
	m := NewMirror(dev, 64, false, 10)
	m.firstAfterStart = false
	dev.waitTimeout = true

	_, err := m.UpdateAvailable(Read)
	assert.ErrorIs(t, err, xerr.ErrTimeout)
}

func TestMirrorEndAccessCommitMismatchIsXRun(t *testing.T) {
	dev := &fakeDevice{committed: 10}
	m := NewMirror(dev, 64, true, 0)

	err := m.EndAccess(Write, 0, 64)
	assert.ErrorIs(t, err, xerr.ErrXRun)
	assert.Equal(t, 1, dev.recoverCalls)
}

func TestMirrorRejectsRealOnlyOperations(t *testing.T) {
	dev := &fakeDevice{}
	m := NewMirror(dev, 64, true, 0)

	_, err := m.GetAreas()
	assert.ErrorIs(t, err, xerr.ErrNotAllowed)
	assert.ErrorIs(t, m.SetStreamingState(Running), xerr.ErrNotAllowed)
	assert.ErrorIs(t, m.SetAvailMin(1), xerr.ErrNotAllowed)
}
