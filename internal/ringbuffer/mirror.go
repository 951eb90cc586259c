package ringbuffer

import (
	"errors"
	"time"

	"github.com/ias-audio/smartx-bridge/internal/area"
	"github.com/ias-audio/smartx-bridge/internal/logctx"
	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

var mirrorLog = logctx.For("ringbuffer.mirror")

// DeviceState is the host framework's PCM state machine, just the
// values the mirror's updateAvailable loop needs to react to, per
// spec.md §4.6.
type DeviceState int

const (
	StateRunning DeviceState = iota
	StateXRun
	StateSuspended
	StatePrepared
	StateOther
)

// Device is the host framework's mmap device handle, out of scope per
// spec.md §1 but specified here as the interface the mirror ring buffer
// needs (spec.md §4.6's ALSA direct-mmap loop). Any driver backing a
// real sound card implements this; the tests use an in-memory fake.
type Device interface {
	State() DeviceState
	Recover() error   // XRUN re-prepare / SUSPENDED resume
	Resume() error    // returns xerr.ErrTimeout-like EAGAIN semantics via error
	Start() error
	AvailUpdate() (int, error) // free (playback) or filled (capture) frame count
	Wait(timeoutMs int) (timedOut bool, err error)
	MmapBegin(frames int) (areas []area.Area, offset int, granted int, err error)
	MmapCommit(offset, frames int) (committed int, err error)
	TransmittedFrames() int64
}

// Mirror is the RingBuffer arm of spec.md §4.6: an adapter that exposes
// the Real API while delegating to the host framework's mmap buffer of
// an actual device.
type Mirror struct {
	dev         Device
	periodSize  int
	nonBlocking bool
	timeoutMs   int
	firstAfterStart bool
	recoverAttempts int

	lastAccessUs int64
	txFrames     int64
}

// NewMirror wraps dev, per spec.md §4.6.
func NewMirror(dev Device, periodSize int, nonBlocking bool, timeoutMs int) *Mirror {
	return &Mirror{dev: dev, periodSize: periodSize, nonBlocking: nonBlocking, timeoutMs: timeoutMs, firstAfterStart: true}
}

const maxRecoverAttempts = 5

// UpdateAvailable implements the ALSA direct-mmap loop of spec.md §4.6.
func (m *Mirror) UpdateAvailable(_ Access) (int, error) {
	for {
		switch m.dev.State() {
		case StateXRun:
			if err := m.tryRecover(); err != nil {
				return 0, err
			}
			continue
		case StateSuspended:
			for {
				err := m.dev.Resume()
				if err == nil {
					break
				}
				if errors.Is(err, xerr.ErrTimeout) {
					time.Sleep(time.Second)
					continue
				}
				if err := m.tryRecover(); err != nil {
					return 0, err
				}
				break
			}
		}

		avail, err := m.dev.AvailUpdate()
		if err != nil {
			if err := m.tryRecover(); err != nil {
				return 0, err
			}
			continue
		}

		if avail < m.periodSize {
			if m.firstAfterStart {
				mirrorLog.Info("starting device", "state", m.dev.State())
				if err := m.dev.Start(); err != nil {
					return 0, err
				}
				m.firstAfterStart = false
				continue
			}
			if m.nonBlocking {
				return 0, nil
			}
			timedOut, err := m.dev.Wait(m.timeoutMs)
			if err != nil {
				if err := m.tryRecover(); err != nil {
					return 0, err
				}
				continue
			}
			if timedOut {
				if logctx.Throttle("mirror-wait-timeout", 50) {
					mirrorLog.Debug("device wait timed out")
				}
				return 0, xerr.ErrTimeout
			}
			continue
		}

		m.lastAccessUs = time.Now().UnixMicro()
		m.txFrames = m.dev.TransmittedFrames()
		return avail, nil
	}
}

func (m *Mirror) tryRecover() error {
	m.recoverAttempts++
	if m.recoverAttempts > maxRecoverAttempts {
		return xerr.ErrAlsaError
	}
	return m.dev.Recover()
}

// BeginAccess calls the framework's mmap-begin, per spec.md §4.6.
// Exactly one access may be in progress at a time.
func (m *Mirror) BeginAccess(_ Access, frames int) (offset, granted int, err error) {
	_, offset, granted, err = m.dev.MmapBegin(frames)
	return offset, granted, err
}

// EndAccess calls the framework's mmap-commit; a commit-count mismatch
// is coerced to EPIPE and recovery is attempted, per spec.md §4.6.
func (m *Mirror) EndAccess(_ Access, offset, frames int) error {
	committed, err := m.dev.MmapCommit(offset, frames)
	if err != nil {
		return err
	}
	if committed != frames {
		_ = m.tryRecover()
		return xerr.ErrXRun
	}
	return nil
}

func (m *Mirror) WaitRead(_, timeoutMs int) error {
	_, err := m.UpdateAvailable(Read)
	_ = timeoutMs
	return err
}

func (m *Mirror) WaitWrite(_, timeoutMs int) error {
	_, err := m.UpdateAvailable(Write)
	_ = timeoutMs
	return err
}

// GetAreas is not meaningful on a mirror in the same sense as Real --
// areas come back from MmapBegin per call -- so this rejects per
// spec.md §9's "reject with NotAllowed" design note.
func (m *Mirror) GetAreas() ([]area.Area, error) {
	return nil, xerr.ErrNotAllowed
}

// SetStreamingState is a Real-only concept; mirrors reject it per the
// same design note.
func (m *Mirror) SetStreamingState(StreamingState) error { return xerr.ErrNotAllowed }

func (m *Mirror) SetAvailMin(int) error { return xerr.ErrNotAllowed }

func (m *Mirror) PeriodSize() int        { return m.periodSize }
func (m *Mirror) NumPeriods() int        { return 0 }
func (m *Mirror) NumChannels() int       { return 0 }
func (m *Mirror) Format() area.Format    { return area.FormatUndefined }
func (m *Mirror) TransmittedFrames() int64 { return m.txFrames }

var _ RingBuffer = (*Mirror)(nil)
