package area

import (
	"math"

	"github.com/ias-audio/smartx-bridge/internal/xerr"
)

const (
	fullScaleI16 = 32768.0
	fullScaleI32 = 2147483648.0
)

func readI16(a Area, frame int) int16   { return *(*int16)(a.SamplePtr(frame)) }
func readI32(a Area, frame int) int32   { return *(*int32)(a.SamplePtr(frame)) }
func readF32(a Area, frame int) float32 { return *(*float32)(a.SamplePtr(frame)) }

func writeI16(a Area, frame int, v int16)   { *(*int16)(a.SamplePtr(frame)) = v }
func writeI32(a Area, frame int, v int32)   { *(*int32)(a.SamplePtr(frame)) = v }
func writeF32(a Area, frame int, v float32) { *(*float32)(a.SamplePtr(frame)) = v }

func saturateI16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func saturateI32(v int64) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}

// kernel converts one sample at srcFrame in src into dstFrame in dst.
type kernel func(dst Area, dstFrame int, src Area, srcFrame int)

// kernels implements the nine {I16, I32, F32} x {I16, I32, F32}
// format-pair conversions of spec.md §4.12.
// SSE is not used: this is a pure scalar fallback, documented in
// DESIGN.md as the "no suitable library" case -- there is no portable
// pure-Go SSE intrinsic in the retrieval pack, and correctness here
// matters more than the vectorised fast path, which spec.md §4.12
// requires to be bit-identical to the scalar version anyway.
var kernels = map[[2]Format]kernel{
	{I16, I16}: func(d Area, df int, s Area, sf int) { writeI16(d, df, readI16(s, sf)) },
	{I32, I32}: func(d Area, df int, s Area, sf int) { writeI32(d, df, readI32(s, sf)) },
	{F32, F32}: func(d Area, df int, s Area, sf int) { writeF32(d, df, readF32(s, sf)) },

	{I16, I32}: func(d Area, df int, s Area, sf int) {
		writeI32(d, df, int32(readI16(s, sf))<<16)
	},
	{I32, I16}: func(d Area, df int, s Area, sf int) {
		x := readI32(s, sf)
		writeI16(d, df, saturateI16(((x>>15)+1)>>1))
	},
	{I16, F32}: func(d Area, df int, s Area, sf int) {
		writeF32(d, df, float32(readI16(s, sf))/fullScaleI16)
	},
	{I32, F32}: func(d Area, df int, s Area, sf int) {
		writeF32(d, df, float32(float64(readI32(s, sf))/fullScaleI32))
	},
	{F32, I16}: func(d Area, df int, s Area, sf int) {
		v := int32(math.RoundToEven(float64(readF32(s, sf)) * fullScaleI16))
		writeI16(d, df, saturateI16(v))
	},
	{F32, I32}: func(d Area, df int, s Area, sf int) {
		v := float64(readF32(s, sf))*float64(math.MaxInt32) + 0.5
		writeI32(d, df, saturateI32(int64(v)))
	},
}

// ReadSampleF64 reads one sample as a normalized float64 (full scale
// ±1.0 for the integer formats), for DSP components like internal/src
// that operate on a single float working format regardless of the
// area's own.
func ReadSampleF64(a Area, frame int, f Format) float64 {
	switch f {
	case I16:
		return float64(readI16(a, frame)) / fullScaleI16
	case I32:
		return float64(readI32(a, frame)) / fullScaleI32
	case F32:
		return float64(readF32(a, frame))
	default:
		return 0
	}
}

// WriteSampleF64 is ReadSampleF64's inverse, saturating into the
// integer formats' range.
func WriteSampleF64(a Area, frame int, f Format, v float64) {
	switch f {
	case I16:
		writeI16(a, frame, saturateI16(int32(math.RoundToEven(v*fullScaleI16))))
	case I32:
		writeI32(a, frame, saturateI32(int64(v*float64(math.MaxInt32)+0.5)))
	case F32:
		writeF32(a, frame, float32(v))
	}
}

func zeroSample(a Area, frame int, f Format) {
	switch f {
	case I16:
		writeI16(a, frame, 0)
	case I32:
		writeI32(a, frame, 0)
	case F32:
		writeF32(a, frame, 0)
	}
}

// CopyAudioAreaBuffers dispatches on (srcFmt, dstFmt) and copies
// totalFrames frames for every channel common to src and dst, per
// spec.md §4.12. Only the first validSrcFrames of each source channel
// are real; any remaining destination frames up to totalFrames are
// zero-padded ("When the destination frame count exceeds the source's,
// each kernel pads the tail with zeros").
func CopyAudioAreaBuffers(dst, src []Area, dstOffset, srcOffset int, dstFmt, srcFmt Format, totalFrames, validSrcFrames int) error {
	if len(dst) != len(src) {
		return xerr.ErrInvalidParam
	}
	k, ok := kernels[[2]Format{srcFmt, dstFmt}]
	if !ok {
		return xerr.ErrInvalidParam
	}
	n := validSrcFrames
	if n > totalFrames {
		n = totalFrames
	}
	if n < 0 {
		n = 0
	}
	for ch := range dst {
		s, d := src[ch], dst[ch]
		for f := 0; f < n; f++ {
			k(d, dstOffset+f, s, srcOffset+f)
		}
		for f := n; f < totalFrames; f++ {
			zeroSample(d, dstOffset+f, dstFmt)
		}
	}
	return nil
}

// ZeroAudioAreaBuffers writes silence into every channel, per spec.md
// §4.12's zeroAudioAreaBuffers entry point.
func ZeroAudioAreaBuffers(dst []Area, offset, frames int, f Format) {
	for ch := range dst {
		for i := 0; i < frames; i++ {
			zeroSample(dst[ch], offset+i, f)
		}
	}
}
