package plugin

import (
	"errors"

	"github.com/ias-audio/smartx-bridge/internal/area"
	"github.com/ias-audio/smartx-bridge/internal/ringbuffer"
	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

// accessFor maps this connector's direction onto the ring buffer access
// it drives: playback writes, capture reads.
func (c *Connector) accessFor() ringbuffer.Access {
	if c.direction == Capture {
		return ringbuffer.Read
	}
	return ringbuffer.Write
}

// TransferJob is spec.md §4.10's per-period transfer: it consumes the
// FD-signal wakeup, waits for enough frames, copies between the
// framework's area array and the ring buffer, and reports XRUN/timeout
// as negative errno values the framework understands directly.
//
// It returns the frame count actually transferred and a negative errno
// (0 on success), matching the host callback's own return convention.
func (c *Connector) TransferJob(hostAreas []area.Area, wanted int) (int, int) {
	rb, err := c.conn.VerifyAndGetRingBuffer(ringBufferParamsFromConnector(c))
	if err != nil {
		return 0, xerr.Negerrno(err)
	}

	if err := c.fdSig.Read(); err != nil && !errors.Is(err, xerr.ErrTimeout) {
		return 0, xerr.Negerrno(err)
	}

	access := c.accessFor()
	avail, err := rb.UpdateAvailable(access)
	if err != nil {
		c.setState(StateXRun)
		return 0, xerr.Negerrno(err)
	}
	if avail <= 0 {
		if c.nonBlock {
			return 0, -xerr.EAGAIN
		}
		waitErr := rb.WaitWrite(int(c.params.NumPeriods), c.timeoutMs)
		if access == ringbuffer.Read {
			waitErr = rb.WaitRead(int(c.params.NumPeriods), c.timeoutMs)
		}
		if waitErr != nil {
			return 0, xerr.Negerrno(waitErr)
		}
		avail, err = rb.UpdateAvailable(access)
		if err != nil {
			c.setState(StateXRun)
			return 0, xerr.Negerrno(err)
		}
	}

	frames := wanted
	if avail < frames {
		frames = avail
	}
	if frames <= 0 {
		return 0, 0
	}

	offset, granted, err := rb.BeginAccess(access, frames)
	if err != nil {
		return 0, xerr.Negerrno(err)
	}
	if granted <= 0 {
		_ = rb.EndAccess(access, offset, 0)
		if c.nonBlock {
			return 0, -xerr.EAGAIN
		}
		c.setState(StateXRun)
		return 0, -xerr.EPIPE
	}

	ringAreas, err := rb.GetAreas()
	if err != nil {
		_ = rb.EndAccess(access, offset, 0)
		return 0, xerr.Negerrno(err)
	}

	fmtRing := rb.Format()
	fmtHost := area.Format(c.params.Format)
	if access == ringbuffer.Write {
		if cerr := area.CopyAudioAreaBuffers(ringAreas, hostAreas, offset, 0, fmtRing, fmtHost, granted, granted); cerr != nil {
			_ = rb.EndAccess(access, offset, 0)
			return 0, xerr.Negerrno(cerr)
		}
		c.rest = (c.rest + granted) % rb.PeriodSize()
	} else {
		if cerr := area.CopyAudioAreaBuffers(hostAreas, ringAreas, 0, offset, fmtHost, fmtRing, granted, granted); cerr != nil {
			_ = rb.EndAccess(access, offset, 0)
			return 0, xerr.Negerrno(cerr)
		}
	}

	if err := rb.EndAccess(access, offset, granted); err != nil {
		c.setState(StateXRun)
		return granted, xerr.Negerrno(err)
	}

	c.setState(StateNormal)
	return granted, 0
}

// GetFramePointer is spec.md §4.10's frame-pointer query: it returns the
// opposite-direction offset -- writeOffset for capture (how far the
// server has produced) or readOffset for playback (how far the server
// has consumed) -- each side wants to know how far its peer has gotten,
// not its own position. It reports -EPIPE (via ErrXRun) when the
// connector is in XRUN, matching every other transfer-path error.
func (c *Connector) GetFramePointer() (int64, error) {
	if c.loadState() == StateXRun {
		return 0, xerr.ErrXRun
	}
	rb, err := c.conn.VerifyAndGetRingBuffer(ringBufferParamsFromConnector(c))
	if err != nil {
		return 0, err
	}
	real, ok := rb.(*ringbuffer.Real)
	if !ok {
		return 0, xerr.ErrNotAllowed
	}
	if c.direction == Playback {
		return real.ReadOffset(), nil
	}
	return real.WriteOffset(), nil
}
