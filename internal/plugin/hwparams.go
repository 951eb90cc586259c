package plugin

import (
	"fmt"

	"github.com/ias-audio/smartx-bridge/internal/area"
	"github.com/ias-audio/smartx-bridge/internal/connection"
	"github.com/ias-audio/smartx-bridge/internal/ipc"
	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

// ConstraintOut is one translated hardware constraint: either a short
// enumerated list or a (min, max) pair, per spec.md §4.10's HW
// constraints translation rule.
type ConstraintOut struct {
	List   []int32
	Min    int32
	Max    int32
	HasList bool
}

func translate(r connection.BoundedRange) ConstraintOut {
	if r.HasList() {
		return ConstraintOut{List: append([]int32(nil), r.List()...), HasList: true}
	}
	return ConstraintOut{Min: r.Min, Max: r.Max}
}

// HwConstraintsOut is the translated form spec.md §4.10 hands to the
// (out-of-scope) host framework: format, access (read/write and mmap
// flavours, since the client accepts both transports), channels, rate,
// period bytes, and periods.
type HwConstraintsOut struct {
	Format      ConstraintOut
	AccessRW    ConstraintOut
	AccessMmap  ConstraintOut
	Channels    ConstraintOut
	Rate        ConstraintOut
	PeriodBytes ConstraintOut
	Periods     ConstraintOut
}

// TranslateHwConstraints implements spec.md §4.10's "HW constraints
// translation": for each of {format, access, channels, rate, period
// bytes, periods}, a non-empty list is forwarded as a list, otherwise
// the (min, max) pair is. Access is translated into both an
// interleaved-layout read/write flavour and an mmap flavour because the
// client side always accepts both.
func (c *Connector) TranslateHwConstraints() (HwConstraintsOut, error) {
	hw := c.conn.Constraints()
	if hw == nil || hw.Valid == 0 {
		return HwConstraintsOut{}, fmt.Errorf("%w: hardware constraints not published", xerr.ErrNotInitialised)
	}
	return HwConstraintsOut{
		Format:      translate(hw.Formats),
		AccessRW:    translate(hw.AccessLayouts),
		AccessMmap:  translate(hw.AccessLayouts),
		Channels:    translate(hw.Channels),
		Rate:        translate(hw.Rates),
		PeriodBytes: translate(hw.PeriodSizes),
		Periods:     translate(hw.PeriodCounts),
	}, nil
}

// SetHwParams is spec.md §4.10's setHwParams. bufferSize and periodSize
// are frame counts as the framework reports them.
func (c *Connector) SetHwParams(channels int, rate int, periodSize int, bufferSize int, fmtIn area.Format) error {
	if channels <= 0 {
		return xerr.ErrInvalidParam
	}
	if periodSize <= 0 {
		return xerr.ErrInvalidParam
	}
	if fmtIn.SampleSize() == 0 {
		return xerr.ErrInvalidParam
	}
	if bufferSize%periodSize != 0 {
		return fmt.Errorf("%w: buffer_size/period_size is not an integer ratio", xerr.ErrInvalidParam)
	}
	numPeriods := bufferSize / periodSize
	if int64(numPeriods)*int64(periodSize) > (1 << 31) {
		return fmt.Errorf("%w: buffer overflows a 32-bit frame counter", xerr.ErrInvalidParam)
	}

	c.timeoutMs = blockingTimeoutMs(rate, numPeriods, periodSize)

	params := ipc.SetParameters{
		Channels:   int32(channels),
		Rate:       int32(rate),
		PeriodSize: int32(periodSize),
		NumPeriods: int32(numPeriods),
		Format:     int32(fmtIn),
	}

	if err := ipc.Push(c.conn.OutIpc(), params); err != nil {
		return err
	}
	if err := c.awaitAck(ipc.TagParameters); err != nil {
		return err
	}

	c.params = params
	c.hostAreas = make([]area.Area, channels)
	return nil
}

// blockingTimeoutMs is spec.md §4.10's default blocking timeout: the
// ring buffer's total duration in ms, or 500ms if the rate is unknown.
func blockingTimeoutMs(rate, numPeriods, periodSize int) int {
	if rate <= 0 {
		return 500
	}
	return numPeriods * periodSize * 1000 / rate
}

// SetSwParams is spec.md §4.10's setSwParams: forwards avail_min into
// the ring buffer.
func (c *Connector) SetSwParams(availMin int) error {
	rb, err := c.conn.VerifyAndGetRingBuffer(ringBufferParamsFromConnector(c))
	if err != nil {
		return err
	}
	return rb.SetAvailMin(availMin)
}
