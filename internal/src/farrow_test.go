package src

import (
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ias-audio/smartx-bridge/internal/area"
)

func TestBuildPrototypeInterpolatesExactlyAtNodes(t *testing.T) {
	const m, n = 16, 4
	proto := BuildPrototype(m, n, 0.4)
	nodes := make([]float64, n)
	for i := range nodes {
		nodes[i] = float64(i) / float64(n)
	}
	target := sincLowpass(0.4, m, nodes[1])

	core := &Core{proto: proto}
	for tap := 0; tap < m; tap++ {
		got := core.horner(tap, nodes[1])
		assert.InDelta(t, target[tap], got, 1e-6)
	}
}

func TestUnityRatioPushProducesOneOutputPerInput(t *testing.T) {
	proto := BuildPrototype(16, 4, 0.45)
	core := NewCore(1, proto, 48000, 48000, Linear)

	total := 0
	for i := 0; i < 100; i++ {
		outs, err := core.PushStep([]float64{0})
		require.NoError(t, err)
		total += len(outs)
	}
	assert.InDelta(t, 100, total, 2)
}

func TestPushStepRejectsWrongChannelCount(t *testing.T) {
	proto := BuildPrototype(16, 4, 0.45)
	core := NewCore(2, proto, 48000, 48000, Linear)
	_, err := core.PushStep([]float64{0})
	assert.Error(t, err)
}

func TestPullStepConsumesInputsProportionally(t *testing.T) {
	proto := BuildPrototype(16, 4, 0.45)
	core := NewCore(1, proto, 96000, 48000, Linear) // downsample 2:1

	consumed := 0
	next := func() ([]float64, error) {
		consumed++
		return []float64{0}, nil
	}
	for i := 0; i < 50; i++ {
		_, err := core.PullStep(next, 1.0)
		require.NoError(t, err)
	}
	assert.InDelta(t, 100, consumed, 4)
}

// TestPushStepOutputCadenceTracksRatio checks spec.md §4.13's core
// invariant for arbitrary in/out rate pairs: over a long run, the
// number of outputs produced per input converges to fs_out/fs_in
// within a small tolerance, regardless of which ratio rapid picks.
func TestPushStepOutputCadenceTracksRatio(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		fsIn := rapid.IntRange(8000, 96000).Draw(rt, "fsIn")
		fsOut := rapid.IntRange(8000, 96000).Draw(rt, "fsOut")

		proto := BuildPrototype(16, 4, 0.45)
		core := NewCore(1, proto, fsIn, fsOut, Linear)

		const numInputs = 500
		total := 0
		for i := 0; i < numInputs; i++ {
			outs, err := core.PushStep([]float64{0})
			if err != nil {
				rt.Fatalf("push step: %v", err)
			}
			total += len(outs)
		}

		want := float64(numInputs) * float64(fsOut) / float64(fsIn)
		tolerance := want*0.05 + 2
		if math.Abs(float64(total)-want) > tolerance {
			rt.Fatalf("cadence drifted: got %d outputs, want ~%.1f (tolerance %.1f)", total, want, tolerance)
		}
	})
}

func TestAdaptiveControllerSaturatesToBounds(t *testing.T) {
	c := NewAdaptiveController(100)
	for i := 0; i < 500; i++ {
		c.Step(1000)
	}
	assert.LessOrEqual(t, c.Step(1000), 1.1)
	assert.GreaterOrEqual(t, c.Step(1000), 0.9)
}

func TestAdaptiveControllerInactiveAtZeroLevel(t *testing.T) {
	c := NewAdaptiveController(100)
	c.Step(200)
	assert.True(t, c.Active())
	c.Step(0)
	assert.False(t, c.Active())
}

func monoF32(buf []byte, ch, maxIdx int) area.Area {
	return area.Area{Base: unsafe.Pointer(&buf[0]), FirstBit: 0, StepBits: 32, Channel: ch, MaxIndex: maxIdx}
}

func TestWrapperInitValidatesChannelBounds(t *testing.T) {
	srcBuf := make([]byte, 4*64)
	dstBuf := make([]byte, 4*64)
	src := []area.Area{monoF32(srcBuf, 0, 0)}
	dst := []area.Area{monoF32(dstBuf, 0, 0)}

	_, err := Init(src, dst, area.F32, area.F32, 48000, 48000, 2, 0)
	assert.Error(t, err)

	w, err := Init(src, dst, area.F32, area.F32, 48000, 48000, 1, 0)
	require.NoError(t, err)
	assert.NotNil(t, w)
}

func TestWrapperProcessUnityRateConsumesInput(t *testing.T) {
	const frames = 64
	srcBuf := make([]byte, 4*frames)
	dstBuf := make([]byte, 4*frames)
	src := []area.Area{monoF32(srcBuf, 0, 0)}
	dst := []area.Area{monoF32(dstBuf, 0, 0)}

	for i := 0; i < frames; i++ {
		area.WriteSampleF64(src[0], i, area.F32, math.Sin(float64(i)*0.1))
	}

	w, err := Init(src, dst, area.F32, area.F32, 48000, 48000, 1, 0)
	require.NoError(t, err)

	consumed, err := w.Process(0, 0, frames-20)
	require.NoError(t, err)
	assert.Greater(t, consumed, 0)
}
