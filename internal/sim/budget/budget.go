package budget

import (
	"math"
	"time"

	"voxelsim.ai/internal/sim/mathx"
)

type Config struct {
	TargetCost time.Duration `yaml:"target_cost"`
	Smoothing  float64       `yaml:"smoothing"`
	MinFactor  float64       `yaml:"min_factor"`
	MaxFactor  float64       `yaml:"max_factor"`
	// MaxRatePerTick bounds the relative change of the factor per Adjust call.
	MaxRatePerTick float64 `yaml:"max_rate_per_tick"`

	ShellsEnabled bool        `yaml:"shells_enabled"`
	MaxShells     int         `yaml:"max_shells"`
	ShellPolicy   ShellPolicy `yaml:"shell_policy"`
	// LatitudeBand is the band height in chunks for the latitude policy.
	LatitudeBand int32 `yaml:"latitude_band"`
}

func DefaultConfig() Config {
	var c Config
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.TargetCost <= 0 {
		c.TargetCost = 6 * time.Millisecond
	}
	if c.Smoothing <= 0 || c.Smoothing > 1 {
		c.Smoothing = 0.2
	}
	if c.MinFactor <= 0 {
		c.MinFactor = 0.1
	}
	if c.MaxFactor <= 0 {
		c.MaxFactor = 4.0
	}
	if c.MaxFactor < c.MinFactor {
		c.MaxFactor = c.MinFactor
	}
	if c.MaxRatePerTick <= 0 {
		c.MaxRatePerTick = 0.1
	}
	if c.MaxShells <= 0 {
		c.MaxShells = 4
	}
	if c.ShellPolicy == "" {
		c.ShellPolicy = ShellParity
	}
	if c.LatitudeBand <= 0 {
		c.LatitudeBand = 1
	}
}

// State is the persisted part of a Controller.
type State struct {
	EWMA   float64 `json:"ewma_ns"`
	Seeded bool    `json:"seeded"`
	Factor float64 `json:"factor"`
}

// Controller turns measured step cost into a speed factor.
type Controller struct {
	cfg    Config
	ewma   float64 // nanoseconds
	seeded bool
	factor float64
}

func New(cfg Config) *Controller {
	cfg.applyDefaults()
	c := &Controller{cfg: cfg}
	c.Reset()
	return c
}

func (c *Controller) Config() Config { return c.cfg }

// Record folds one step cost into the moving average. The first sample seeds it.
func (c *Controller) Record(cost time.Duration) {
	v := float64(cost)
	if v < 0 {
		v = 0
	}
	if !c.seeded {
		c.ewma = v
		c.seeded = true
		return
	}
	c.ewma += c.cfg.Smoothing * (v - c.ewma)
}

// Adjust moves the factor toward target/ewma by at most MaxRatePerTick and returns it.
func (c *Controller) Adjust() float64 {
	if !c.seeded {
		return c.factor
	}
	goal := c.cfg.MaxFactor
	if c.ewma > 0 {
		goal = mathx.Clamp(float64(c.cfg.TargetCost)/c.ewma, c.cfg.MinFactor, c.cfg.MaxFactor)
	}
	f := c.factor
	switch {
	case goal < f:
		f = math.Max(goal, f*(1-c.cfg.MaxRatePerTick))
	case goal > f:
		f = math.Min(goal, f*(1+c.cfg.MaxRatePerTick))
	}
	c.factor = mathx.Clamp(f, c.cfg.MinFactor, c.cfg.MaxFactor)
	return c.factor
}

func (c *Controller) Factor() float64 { return c.factor }

func (c *Controller) EWMA() time.Duration { return time.Duration(c.ewma) }

// Shells returns how many shells the active set is split into; 1 means every chunk steps
// every tick.
func (c *Controller) Shells() int {
	if !c.cfg.ShellsEnabled || c.factor >= 1 {
		return 1
	}
	k := int(math.Ceil(1 / c.factor))
	if k > c.cfg.MaxShells {
		k = c.cfg.MaxShells
	}
	if k < 1 {
		k = 1
	}
	return k
}

// ClockFactor is the factor the clock should run at. With shells active the clock keeps
// full rate and coverage is reduced instead.
func (c *Controller) ClockFactor() float64 {
	if c.Shells() > 1 {
		return 1
	}
	return c.factor
}

func (c *Controller) State() State {
	return State{EWMA: c.ewma, Seeded: c.seeded, Factor: c.factor}
}

func (c *Controller) Restore(s State) {
	c.ewma = s.EWMA
	c.seeded = s.Seeded
	c.factor = mathx.Clamp(s.Factor, c.cfg.MinFactor, c.cfg.MaxFactor)
}

func (c *Controller) Reset() {
	c.ewma = 0
	c.seeded = false
	c.factor = mathx.Clamp(1, c.cfg.MinFactor, c.cfg.MaxFactor)
}
