package plugin

import (
	"fmt"

	"github.com/ias-audio/smartx-bridge/internal/area"
	"github.com/ias-audio/smartx-bridge/internal/ipc"
	"github.com/ias-audio/smartx-bridge/internal/ringbuffer"
	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

// ringBufferParamsFromConnector rebuilds the Params the negotiated
// SetParameters record implies, for the VerifyAndGetRingBuffer calls
// spec.md §4.10 makes once setHwParams has run.
func ringBufferParamsFromConnector(c *Connector) ringbuffer.Params {
	dt := ringbuffer.Source
	if c.direction == Capture {
		dt = ringbuffer.Sink
	}
	return ringbuffer.Params{
		PeriodSize:  int(c.params.PeriodSize),
		NumPeriods:  int(c.params.NumPeriods),
		NumChannels: int(c.params.Channels),
		Format:      area.Format(c.params.Format),
		Name:        c.fullName,
		DeviceType:  dt,
	}
}

// awaitAck waits for the ACK/NAK answering requestTag, per spec.md
// §4.10's response handling: every control request blocks on exactly
// one of the two outcomes. An ACK/NAK for a different request is a
// protocol error this layer doesn't try to recover from.
func (c *Connector) awaitAck(requestTag uint32) error {
	var ack ipc.AckMsg
	err := ipc.PopTimedWait(c.conn.InIpc(), &ack, c.timeoutMs)
	if err == nil {
		if ack.Request != requestTag {
			return fmt.Errorf("%w: ack for unexpected request", xerr.ErrInvalidParam)
		}
		return nil
	}
	if err != xerr.ErrInvalidParam {
		return err
	}

	var nak ipc.NakMsg
	if err := ipc.PopTimedWait(c.conn.InIpc(), &nak, c.timeoutMs); err != nil {
		return err
	}
	return fmt.Errorf("%w: request %d rejected", xerr.ErrInvalidParam, nak.Request)
}

// Start is spec.md §4.10's start(): sends the Start request, waits for
// its ACK, then moves the shared ring buffer to the Running streaming
// state itself.
func (c *Connector) Start() error {
	if err := ipc.Push(c.conn.OutIpc(), ipc.StartMsg{}); err != nil {
		return err
	}
	if err := c.awaitAck(ipc.TagStart); err != nil {
		return err
	}
	c.setState(StateNormal)
	rb, err := c.conn.VerifyAndGetRingBuffer(ringBufferParamsFromConnector(c))
	if err != nil {
		return err
	}
	return rb.SetStreamingState(ringbuffer.Running)
}

// Stop is spec.md §4.10's stop().
func (c *Connector) Stop() error {
	if err := ipc.Push(c.conn.OutIpc(), ipc.StopMsg{}); err != nil {
		return err
	}
	return c.awaitAck(ipc.TagStop)
}

// Drain is spec.md §4.10's drain(): pads the partial tail of the
// playback ring buffer with silence then waits for it to empty before
// telling the server the stream is done.
func (c *Connector) Drain() error {
	if c.direction == Playback && c.rest > 0 {
		rb, err := c.conn.VerifyAndGetRingBuffer(ringBufferParamsFromConnector(c))
		if err == nil {
			pad := rb.PeriodSize() - c.rest
			if pad > 0 {
				if areas, aerr := rb.GetAreas(); aerr == nil {
					if offset, granted, berr := rb.BeginAccess(ringbuffer.Write, pad); berr == nil && granted > 0 {
						area.ZeroAudioAreaBuffers(areas, offset, granted, area.Format(c.params.Format))
						_ = rb.EndAccess(ringbuffer.Write, offset, granted)
					}
				}
			}
			_ = rb.WaitWrite(int(c.params.NumPeriods), c.timeoutMs)
		}
	}
	c.rest = 0

	if err := ipc.Push(c.conn.OutIpc(), ipc.DrainMsg{}); err != nil {
		return err
	}
	return c.awaitAck(ipc.TagDrain)
}

// GetPathDelay is spec.md §4.10's getPathDelay(): a GetLatency IPC round
// trip translated into a frame count.
func (c *Connector) GetPathDelay() (int, error) {
	if err := ipc.Push(c.conn.OutIpc(), ipc.GetLatencyMsg{}); err != nil {
		return 0, err
	}
	var reply ipc.LatencyReply
	if err := ipc.PopTimedWait(c.conn.InIpc(), &reply, c.timeoutMs); err != nil {
		return 0, err
	}
	return int(reply.Frames), nil
}

// HandlePollREvents translates the fd-signal's readiness into the
// POLLIN/POLLOUT pair the framework expects for this connector's
// direction, per spec.md §4.10.
func (c *Connector) HandlePollREvents() (canRead, canWrite bool) {
	if c.direction == Capture {
		return true, false
	}
	return false, true
}

// Close is spec.md §4.10's destructor: close the fd signal, drop the
// ring buffer reference, tear the connection down, and release the
// open-once lock.
func (c *Connector) Close() error {
	if c.fdSig != nil {
		c.fdSig.Close()
		c.fdSig = nil
	}
	c.hostAreas = nil
	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.releaseLock()
	return err
}
