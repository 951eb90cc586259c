package area

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func mono(buf []byte, fmtSize int) Area {
	return Area{Base: unsafe.Pointer(&buf[0]), FirstBit: 0, StepBits: fmtSize * 8, Channel: 0, MaxIndex: 0}
}

func TestSameFormatRoundTripIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		frames := rapid.IntRange(1, 32).Draw(t, "frames")
		src := make([]float32, frames)
		for i := range src {
			src[i] = rapid.Float32Range(-1, 1).Draw(t, "s")
		}
		srcBuf := unsafe.Slice((*byte)(unsafe.Pointer(&src[0])), frames*4)
		dstBuf := make([]byte, frames*4)
		roundBuf := make([]byte, frames*4)

		srcArea := []Area{mono(srcBuf, 4)}
		dstArea := []Area{mono(dstBuf, 4)}
		roundArea := []Area{mono(roundBuf, 4)}

		require.NoError(t, CopyAudioAreaBuffers(dstArea, srcArea, 0, 0, F32, F32, frames, frames))
		require.NoError(t, CopyAudioAreaBuffers(roundArea, dstArea, 0, 0, F32, F32, frames, frames))

		for i := 0; i < frames; i++ {
			assert.Equal(t, readF32(srcArea[0], i), readF32(roundArea[0], i))
		}
	})
}

func TestI16ToI32Conversion(t *testing.T) {
	srcBuf := make([]byte, 2)
	dstBuf := make([]byte, 4)
	src := mono(srcBuf, 2)
	dst := mono(dstBuf, 4)
	writeI16(src, 0, 1)

	require.NoError(t, CopyAudioAreaBuffers([]Area{dst}, []Area{src}, 0, 0, I32, I16, 1, 1))
	assert.Equal(t, int32(1)<<16, readI32(dst, 0))
}

func TestCopyPadsTailWithZero(t *testing.T) {
	srcBuf := make([]byte, 2)
	dstBuf := make([]byte, 8)
	src := mono(srcBuf, 2)
	dst := mono(dstBuf, 2)
	writeI16(src, 0, 123)
	dstWide := Area{Base: dst.Base, FirstBit: 0, StepBits: 16}

	require.NoError(t, CopyAudioAreaBuffers([]Area{dstWide}, []Area{src}, 0, 0, I16, I16, 4, 1))
	assert.Equal(t, int16(123), readI16(dstWide, 0))
	assert.Equal(t, int16(0), readI16(dstWide, 1))
	assert.Equal(t, int16(0), readI16(dstWide, 3))
}

func TestZeroAudioAreaBuffers(t *testing.T) {
	buf := make([]byte, 8)
	a := mono(buf, 4)
	writeF32(a, 0, 1.5)
	ZeroAudioAreaBuffers([]Area{a}, 0, 2, F32)
	assert.Equal(t, float32(0), readF32(a, 0))
	assert.Equal(t, float32(0), readF32(a, 1))
}
