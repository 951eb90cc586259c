package src

// AdaptiveController implements spec.md §4.13's adaptive controller: a
// PI loop driven once per block by a jitter-buffer fill level, whose
// output is a ratioAdjustment fed into Core.PullStep for asynchronous
// operation.
type AdaptiveController struct {
	target int

	active bool

	a      float64 // low-pass coefficient
	kp     float64
	tn     float64

	yPrev float64
	uPrev float64
}

// Defaults per spec.md §4.13's "Defaults chosen to be stable against
// the default ring-buffer size".
const (
	defaultA  = 0.9
	defaultKp = 0.008
	defaultTn = 300
)

// NewAdaptiveController builds a controller targeting the given
// jitter-buffer fill level.
func NewAdaptiveController(target int) *AdaptiveController {
	return &AdaptiveController{target: target, a: defaultA, kp: defaultKp, tn: defaultTn}
}

// Step runs one control-law iteration for the observed level, returning
// the ratioAdjustment to feed the next block's PullStep calls.
func (c *AdaptiveController) Step(level int) float64 {
	if level > c.target {
		c.active = true
	} else if level == 0 {
		c.active = false
	}
	if !c.active {
		return 0 // caller emits zeros downstream and skips the ratio update
	}

	diff := float64(level-c.target) / float64(c.target)
	y := (1-c.a)*diff + c.a*c.yPrev

	u := c.uPrev +
		c.kp*(1+0.5/c.tn)*y -
		c.kp*(1-0.5/c.tn)*c.yPrev

	c.yPrev = y
	c.uPrev = u

	adj := 1 + u
	if adj < 0.9 {
		adj = 0.9
	}
	if adj > 1.1 {
		adj = 1.1
	}
	return adj
}

// Active reports whether the controller is currently driving the ratio
// (false means the caller should emit silence rather than pull from
// Core).
func (c *AdaptiveController) Active() bool { return c.active }
