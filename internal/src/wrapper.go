package src

import (
	"github.com/ias-audio/smartx-bridge/internal/area"
	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

// Wrapper binds one Farrow Core instance to a source/destination pair
// of audio areas, per spec.md §4.14.
type Wrapper struct {
	core *Core

	srcAreas []area.Area
	dstAreas []area.Area
	srcFmt   area.Format
	dstFmt   area.Format
	channels int
}

// Init validates and builds a Wrapper, per spec.md §4.14: formats must
// not be undefined, sample rates must fall in [8000, 96000], the
// requested channel count must not exceed either area array's channel
// count, and startChannel+channels must not exceed either area's
// MaxIndex+1.
func Init(srcAreas, dstAreas []area.Area, srcFmt, dstFmt area.Format, srcRate, dstRate, channels, startChannel int) (*Wrapper, error) {
	if srcFmt == area.FormatUndefined || dstFmt == area.FormatUndefined {
		return nil, xerr.ErrInvalidParam
	}
	if srcRate < 8000 || srcRate > 96000 || dstRate < 8000 || dstRate > 96000 {
		return nil, xerr.ErrInvalidParam
	}
	if channels > len(srcAreas) || channels > len(dstAreas) {
		return nil, xerr.ErrInvalidParam
	}
	if startChannel+channels > srcAreas[0].MaxIndex+1 || startChannel+channels > dstAreas[0].MaxIndex+1 {
		return nil, xerr.ErrInvalidParam
	}

	proto := LookupPrototype(srcRate, dstRate)
	core := NewCore(channels, proto, srcRate, dstRate, Linear)

	return &Wrapper{
		core:     core,
		srcAreas: srcAreas[startChannel : startChannel+channels],
		dstAreas: dstAreas[startChannel : startChannel+channels],
		srcFmt:   srcFmt,
		dstFmt:   dstFmt,
		channels: channels,
	}, nil
}

// Process implements spec.md §4.14's process: pulls numOut output
// frames through the Farrow core's pull-mode variant with a fixed
// ratioAdjustment of 1.0 (synchronous usage), reading inputs starting
// at srcOffset and writing outputs starting at dstOffset.
func (w *Wrapper) Process(dstOffset, srcOffset, numOut int) (consumed int, err error) {
	srcPos := srcOffset
	for i := 0; i < numOut; i++ {
		out, perr := w.core.PullStep(func() ([]float64, error) {
			in := make([]float64, w.channels)
			for ch := 0; ch < w.channels; ch++ {
				in[ch] = area.ReadSampleF64(w.srcAreas[ch], srcPos, w.srcFmt)
			}
			srcPos++
			return in, nil
		}, 1.0)
		if perr != nil {
			return srcPos - srcOffset, perr
		}
		for ch := 0; ch < w.channels; ch++ {
			area.WriteSampleF64(w.dstAreas[ch], dstOffset+i, w.dstFmt, out[ch])
		}
	}
	return srcPos - srcOffset, nil
}

// Core exposes the underlying Farrow instance for direct push-mode or
// adaptive-controller driven use.
func (w *Wrapper) Core() *Core { return w.core }
