package clock

import (
	"math"
	"time"
)

// FixedStep is the default simulation step (60 Hz).
const FixedStep = time.Second / 60

// DefaultMaxStepsPerFrame bounds catch-up work after a long frame.
const DefaultMaxStepsPerFrame = 8

// Clock converts scaled frame time into whole fixed steps. The accumulator is integer
// nanoseconds, so splitting the same total time across frames differently yields the same
// step count.
type Clock struct {
	step             time.Duration
	MaxStepsPerFrame int

	acc     time.Duration
	tick    uint64
	dropped time.Duration
}

func New(step time.Duration) *Clock {
	if step <= 0 {
		step = FixedStep
	}
	return &Clock{step: step, MaxStepsPerFrame: DefaultMaxStepsPerFrame}
}

func (c *Clock) Step() time.Duration { return c.step }

// Advance adds delta*factor and returns how many steps are due. The accumulator is debited
// for every returned step. Time owed beyond MaxStepsPerFrame is discarded and counted in
// Dropped.
func (c *Clock) Advance(delta time.Duration, factor float64) int {
	if delta > 0 {
		c.acc += scale(delta, factor)
	}
	n := int(c.acc / c.step)
	if limit := c.MaxStepsPerFrame; limit > 0 && n > limit {
		excess := c.acc - time.Duration(limit)*c.step
		rem := excess % c.step
		c.dropped += excess - rem
		c.acc = time.Duration(limit)*c.step + rem
		n = limit
	}
	c.acc -= time.Duration(n) * c.step
	return n
}

func scale(d time.Duration, factor float64) time.Duration {
	if factor == 1 {
		return d
	}
	if math.IsNaN(factor) || factor <= 0 {
		return 0
	}
	return time.Duration(math.Round(float64(d) * factor))
}

// Commit records one completed step.
func (c *Clock) Commit() { c.tick++ }

func (c *Clock) Tick() uint64               { return c.tick }
func (c *Clock) Accumulator() time.Duration { return c.acc }
func (c *Clock) Dropped() time.Duration     { return c.dropped }

// Restore resumes from persisted state.
func (c *Clock) Restore(tick uint64, acc time.Duration) {
	c.tick = tick
	if acc < 0 {
		acc = 0
	}
	c.acc = acc
}

func (c *Clock) Reset() {
	c.acc = 0
	c.tick = 0
	c.dropped = 0
}
