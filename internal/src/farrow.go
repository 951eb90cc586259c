package src

import "github.com/ias-audio/smartx-bridge/internal/xerr"

// BufferMode selects how the indexed ring buffer's addressing wraps,
// per spec.md §4.13.
type BufferMode int

const (
	Linear BufferMode = iota
	Ring
)

// command is one off-thread parameter update, per spec.md §4.13's
// "ordered command queue carrying reset, set-ratio, and detune
// requests". A single-writer/single-reader Go channel is the natural
// fit here -- unlike internal/ipc's cross-process container queue, both
// ends of this queue live in the same process, so there is no reason to
// reach past a channel for a hand-rolled ring.
type command struct {
	kind   commandKind
	ratio  float64
	inBlk  int
	outBlk int
}

type commandKind int

const (
	cmdReset commandKind = iota
	cmdSetRatio
	cmdDetune
)

// Core is one Farrow polyphase resampler instance for a fixed channel
// count, per spec.md §4.13.
type Core struct {
	channels int
	proto    Prototype

	fir      [][]float64 // fir[ch] holds the last M input samples, newest last
	t        float64
	fsRatio  float64 // fs_in / fs_out
	detune   float64 // 1.0 when disabled
	mode     BufferMode
	gain     float64
	cmds     chan command
}

// DefaultGain is spec.md §4.13's fixed output gain (-1 dB), applied to
// every output sample in convolve. The SRC wrapper's float-to-integer
// conversions (area.WriteSampleF64) apply no further gain term.
const DefaultGain = 0.891250938

// NewCore builds a Core bound to proto for channels audio channels.
func NewCore(channels int, proto Prototype, fsIn, fsOut int, mode BufferMode) *Core {
	fir := make([][]float64, channels)
	for ch := range fir {
		fir[ch] = make([]float64, proto.M)
	}
	return &Core{
		channels: channels,
		proto:    proto,
		fir:      fir,
		t:        0,
		fsRatio:  float64(fsIn) / float64(fsOut),
		detune:   1.0,
		mode:     mode,
		gain:     DefaultGain,
		cmds:     make(chan command, 16),
	}
}

// Reset requests the ring and phase be cleared before the next step,
// safe to call from a different goroutine than the one driving Push/Pull.
func (c *Core) Reset() { c.cmds <- command{kind: cmdReset} }

// SetRatio requests a new fs_in/fs_out ratio.
func (c *Core) SetRatio(ratio float64) { c.cmds <- command{kind: cmdSetRatio, ratio: ratio} }

// SetDetune implements spec.md §4.13's detunePitch(in_block, out_block):
// out_block outputs are produced for every in_block inputs by scaling
// the per-output phase step. The round-off compensation term ε is zero,
// so no compensation is applied, and the detune factor only affects
// PushStep.
func (c *Core) SetDetune(inBlock, outBlock int) { c.cmds <- command{kind: cmdDetune, inBlk: inBlock, outBlk: outBlock} }

// drainCommands applies every queued command before a step runs, so
// the hot path only ever touches plain fields.
func (c *Core) drainCommands() {
	for {
		select {
		case cmd := <-c.cmds:
			switch cmd.kind {
			case cmdReset:
				for ch := range c.fir {
					for j := range c.fir[ch] {
						c.fir[ch][j] = 0
					}
				}
				c.t = 0
			case cmdSetRatio:
				c.fsRatio = cmd.ratio
			case cmdDetune:
				const eps = 0.0
				if cmd.outBlk > 0 && c.fsRatio > 0 {
					c.detune = (1 + eps) * float64(cmd.inBlk) / (float64(cmd.outBlk) * c.fsRatio)
				}
			}
		default:
			return
		}
	}
}

func (c *Core) pushSample(ch int, v float64) {
	fir := c.fir[ch]
	copy(fir, fir[1:])
	fir[len(fir)-1] = v
}

// horner evaluates the time-varying impulse response for tap m at
// phase t via Horner's method over the N prototypes, per spec.md
// §4.13.
func (c *Core) horner(m int, t float64) float64 {
	coeffs := c.proto.Coeffs
	n := c.proto.N
	acc := coeffs[n-1][m]
	for k := n - 2; k >= 0; k-- {
		acc = acc*t + coeffs[k][m]
	}
	return acc
}

// convolve computes one output sample per channel at the current
// fractional phase, per spec.md §4.13's "multi-channel convolution".
func (c *Core) convolve() []float64 {
	out := make([]float64, c.channels)
	m := c.proto.M
	taps := make([]float64, m)
	for j := 0; j < m; j++ {
		taps[j] = c.horner(j, c.t)
	}
	for ch := 0; ch < c.channels; ch++ {
		var acc float64
		fir := c.fir[ch]
		for j := 0; j < m; j++ {
			acc += taps[j] * fir[j]
		}
		out[ch] = acc * c.gain
	}
	return out
}

// PushStep implements spec.md §4.13's push-mode step: one new input
// sample (one value per channel) is folded into the FIR ring, then
// zero or more outputs are emitted while t < 1.
func (c *Core) PushStep(in []float64) ([][]float64, error) {
	if len(in) != c.channels {
		return nil, xerr.ErrInvalidParam
	}
	c.drainCommands()

	for ch, v := range in {
		c.pushSample(ch, v)
	}

	var outputs [][]float64
	for c.t < 1 {
		outputs = append(outputs, c.convolve())
		c.t += c.fsRatio * c.detune
	}
	c.t -= 1
	return outputs, nil
}

// PullStep implements spec.md §4.13's pull-mode step: inputs are
// consumed (via nextInput) while t >= 1, then exactly one output is
// emitted. ratioAdjustment comes from the adaptive controller for
// asynchronous operation, or 1.0 for synchronous use.
func (c *Core) PullStep(nextInput func() ([]float64, error), ratioAdjustment float64) ([]float64, error) {
	c.drainCommands()

	for c.t >= 1 {
		in, err := nextInput()
		if err != nil {
			return nil, err
		}
		if len(in) != c.channels {
			return nil, xerr.ErrInvalidParam
		}
		for ch, v := range in {
			c.pushSample(ch, v)
		}
		c.t -= 1
	}
	out := c.convolve()
	c.t += c.fsRatio * ratioAdjustment
	return out, nil
}

// Channels reports the channel count this core was built for.
func (c *Core) Channels() int { return c.channels }

// Mode reports the configured buffer mode.
func (c *Core) Mode() BufferMode { return c.mode }
