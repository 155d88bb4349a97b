package engine

import (
	"context"
	"fmt"
	"time"

	"voxelsim.ai/internal/sim/budget"
	"voxelsim.ai/internal/sim/chunk"
	"voxelsim.ai/internal/sim/clock"
	"voxelsim.ai/internal/sim/spatial"
	"voxelsim.ai/internal/sim/step"
)

type FrameResult struct {
	Steps   int
	Tick    uint64
	Factor  float64
	Shells  int
	Cost    time.Duration
	Dropped time.Duration
}

// TickResult describes one committed tick.
type TickResult struct {
	Tick    uint64
	Shells  int
	Factor  float64
	Stepped int
	Skipped int
	Changed int
	Cost    time.Duration
	Digest  string
}

// Frame advances the simulation by delta of wall time. Boundary work runs before the first
// step and after every step.
func (e *Engine) Frame(delta time.Duration) (FrameResult, error) {
	start := time.Now()
	e.betweenTicks()

	e.setPhase(clock.PhaseAccumulating)
	n := e.clock.Advance(delta, e.ctrl.ClockFactor())
	res := FrameResult{}
	for i := 0; i < n; i++ {
		tr, err := e.runTick(e.ctrl.Shells())
		if err != nil {
			e.setPhase(clock.PhaseIdle)
			return res, err
		}
		res.Steps++
		e.ctrl.Record(tr.Cost)
		e.ctrl.Adjust()
		e.betweenTicks()
	}
	e.setPhase(clock.PhaseIdle)

	res.Tick = e.clock.Tick()
	res.Factor = e.ctrl.Factor()
	res.Shells = e.ctrl.Shells()
	res.Cost = time.Since(start)
	res.Dropped = e.clock.Dropped()
	e.lastFrameCost = res.Cost
	return res, nil
}

// StepOnce runs boundary work and exactly one tick, ignoring the clock accumulator.
func (e *Engine) StepOnce() (TickResult, error) {
	return e.StepScheduled(e.ctrl.Shells())
}

// StepScheduled is StepOnce with an explicit shell count, as recorded in the tick log.
func (e *Engine) StepScheduled(shells int) (TickResult, error) {
	e.betweenTicks()
	tr, err := e.runTick(shells)
	e.setPhase(clock.PhaseIdle)
	if err != nil {
		return tr, err
	}
	e.betweenTicks()
	e.setPhase(clock.PhaseIdle)
	return tr, nil
}

func (e *Engine) runTick(shells int) (TickResult, error) {
	start := time.Now()
	if shells < 1 {
		shells = 1
	}
	tick := e.clock.Tick()
	policy := e.ctrl.Config().ShellPolicy
	band := e.ctrl.Config().LatitudeBand

	e.setPhase(clock.PhaseSnapshotting)
	coords, _ := e.index.Coords()
	scheduled := make([]*chunk.Chunk, 0, len(coords))
	skipped := 0
	for _, c := range coords {
		if !budget.Scheduled(policy, tick, c, shells, band) {
			continue
		}
		ch := e.chunkAt(c)
		if ch == nil {
			continue
		}
		if e.quiescent(ch) {
			skipped++
			continue
		}
		scheduled = append(scheduled, ch)
	}
	snaps := step.Capture(scheduled, e.chunkAt, e.cfg.Edge, e.cfg.Inert, e.pool)

	e.setPhase(clock.PhaseStepping)
	alive, err := e.stepper.Run(snaps, e.cfg.Rule)
	if err != nil {
		for _, s := range snaps {
			s.Release(e.pool)
		}
		e.logf("tick %d aborted, swap skipped: %v", tick, err)
		return TickResult{Tick: tick}, fmt.Errorf("tick %d: %w", tick, err)
	}

	e.setPhase(clock.PhaseSwapping)
	var (
		diffs       []ChunkDiff
		activations []Event
	)
	e.state.Lock()
	for i, ch := range scheduled {
		// Compare before swapping; afterwards Next holds the pre-tick state.
		ranges := diffRanges(ch.Current(), ch.Next())
		ch.Swap(alive[i], tick+1, len(ranges) > 0)
		ch.SetSettled(len(ranges) == 0 && alive[i] == 0)
		if len(ranges) > 0 {
			diffs = append(diffs, ChunkDiff{Coord: ch.Coord, Tick: tick + 1, Ranges: ranges})
		}
		changed, err := e.index.SetActive(ch.Coord, ch.IsActive())
		if err != nil {
			e.logf("tick %d activation %v: %v", tick, ch.Coord, err)
		}
		if changed {
			activations = append(activations, Event{Kind: EventActivation, Tick: tick + 1, Coord: ch.Coord, Active: ch.IsActive()})
		}
	}
	e.clock.Commit()
	e.state.Unlock()
	for _, s := range snaps {
		s.Release(e.pool)
	}

	tr := TickResult{
		Tick:    tick + 1,
		Shells:  shells,
		Factor:  e.ctrl.Factor(),
		Stepped: len(scheduled),
		Skipped: skipped,
		Changed: len(diffs),
		Cost:    time.Since(start),
	}
	tr.Digest = e.Digest()
	e.publishTick(tr, diffs, activations)
	return tr, nil
}

// quiescent reports whether stepping ch is provably a no-op: it is settled and nothing alive
// can reach it.
func (e *Engine) quiescent(ch *chunk.Chunk) bool {
	if !ch.Settled() || ch.Alive() > 0 || e.cfg.Rule.BirthsOnZero() {
		return false
	}
	for dx := int32(-1); dx <= 1; dx++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for dz := int32(-1); dz <= 1; dz++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				n := e.chunkAt(ch.Coord.Add(dx, dy, dz))
				if n == nil {
					if e.cfg.Inert.IsAlive() {
						return false
					}
					continue
				}
				if n.Alive() > 0 {
					return false
				}
			}
		}
	}
	return true
}

// Run drives Frame from a ticker until ctx is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(e.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case now := <-ticker.C:
			delta := now.Sub(last)
			last = now
			if _, err := e.Frame(delta); err != nil {
				e.logf("frame: %v", err)
			}
		}
	}
}

func (e *Engine) Stop() { e.stopOnce.Do(func() { close(e.stop) }) }

// ActiveShell reports whether c is scheduled on the next tick.
func (e *Engine) ActiveShell(c spatial.ChunkCoord) bool {
	return e.ctrl.Scheduled(e.clock.Tick(), c)
}
