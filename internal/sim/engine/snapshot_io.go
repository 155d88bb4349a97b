package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voxelsim.ai/internal/persistence/snapshot"
	"voxelsim.ai/internal/sim/budget"
	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/clock"
	"voxelsim.ai/internal/sim/origin"
	"voxelsim.ai/internal/sim/spatial"
)

// RequestSnapshot asks for a snapshot on the sink after the next committed tick and
// returns that tick.
func (e *Engine) RequestSnapshot(ctx context.Context) (uint64, error) {
	if e.snapshotSink == nil {
		return 0, errors.New("snapshots disabled")
	}
	done := make(chan uint64, 1)
	e.mu.Lock()
	e.snapReq = append(e.snapReq, done)
	e.mu.Unlock()
	select {
	case t := <-done:
		return t, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ExportSnapshot copies the full simulation state. Chunks are listed in Morton order.
func (e *Engine) ExportSnapshot() snapshot.WorldSnapshotV1 {
	e.state.RLock()
	defer e.state.RUnlock()

	bs := e.ctrl.State()
	ost := e.origin.Export()
	snap := snapshot.WorldSnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: e.cfg.WorldID,
			Tick:    e.clock.Tick(),
		},
		Seed:        e.cfg.Seed,
		Edge:        e.cfg.Edge,
		Rule:        e.cfg.Rule.String(),
		StepNS:      int64(e.clock.Step()),
		Accumulator: int64(e.clock.Accumulator()),
		Budget:      snapshot.BudgetV1{EWMA: bs.EWMA, Seeded: bs.Seeded, Factor: bs.Factor},
		Origin: snapshot.OriginV1{
			Origin: ost.Origin,
			Epoch:  ost.Epoch,
			Ref:    ost.Ref,
		},
	}
	for _, o := range ost.Objects {
		snap.Origin.Objects = append(snap.Origin.Objects, snapshot.ObjectV1{ID: o.ID, Abs: o.Abs, Frac: o.Frac})
	}
	if f, ok := e.FocusCoord(); ok {
		snap.Focus = &[3]int32{f.X, f.Y, f.Z}
	}
	coords, _ := e.index.Coords()
	snap.Chunks = make([]snapshot.ChunkV1, 0, len(coords))
	for _, c := range coords {
		ch := e.chunkAt(c)
		if ch == nil {
			continue
		}
		snap.Chunks = append(snap.Chunks, snapshot.ChunkV1{
			Coord:    [3]int32{c.X, c.Y, c.Z},
			LastTick: ch.LastTick,
			Settled:  ch.Settled(),
			Cells:    cell.Pack(nil, ch.Current()),
		})
	}
	return snap
}

// ImportSnapshot replaces the engine state with snap. Queued boundary work is discarded.
func (e *Engine) ImportSnapshot(snap snapshot.WorldSnapshotV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("snapshot version %d unsupported", snap.Header.Version)
	}
	if snap.Edge != e.cfg.Edge {
		return fmt.Errorf("snapshot edge %d, engine edge %d", snap.Edge, e.cfg.Edge)
	}
	if snap.StepNS != 0 && time.Duration(snap.StepNS) != e.clock.Step() {
		return fmt.Errorf("snapshot step %v, engine step %v", time.Duration(snap.StepNS), e.clock.Step())
	}
	if snap.Rule != "" {
		r, err := cell.ParseRule(snap.Rule)
		if err != nil {
			return fmt.Errorf("snapshot rule: %w", err)
		}
		if r.String() != e.cfg.Rule.String() {
			return fmt.Errorf("snapshot rule %s, engine rule %s", r, e.cfg.Rule)
		}
	}
	want := e.cfg.Edge * e.cfg.Edge * e.cfg.Edge
	for _, c := range snap.Chunks {
		if len(c.Cells) != want {
			return fmt.Errorf("snapshot chunk %v: %d cells, want %d", c.Coord, len(c.Cells), want)
		}
		if !spatial.InRange(spatial.ChunkCoord{X: c.Coord[0], Y: c.Coord[1], Z: c.Coord[2]}) {
			return fmt.Errorf("snapshot chunk %v: %w", c.Coord, spatial.ErrOutOfRange)
		}
	}

	e.Reset()
	e.setPhase(clock.PhaseIdle)

	e.state.Lock()
	defer e.state.Unlock()
	e.clock.Restore(snap.Header.Tick, time.Duration(snap.Accumulator))
	e.ctrl.Restore(budget.State{EWMA: snap.Budget.EWMA, Seeded: snap.Budget.Seeded, Factor: snap.Budget.Factor})

	st := origin.State{Origin: snap.Origin.Origin, Epoch: snap.Origin.Epoch, Ref: snap.Origin.Ref}
	for _, o := range snap.Origin.Objects {
		st.Objects = append(st.Objects, origin.ObjectState{ID: o.ID, Abs: o.Abs, Frac: o.Frac})
	}
	e.origin.Restore(st)

	e.mu.Lock()
	e.focus = nil
	if snap.Focus != nil {
		f := spatial.ChunkCoord{X: snap.Focus[0], Y: snap.Focus[1], Z: snap.Focus[2]}
		e.focus = &f
	}
	e.mu.Unlock()

	buf := make([]cell.Cell, want)
	for _, sc := range snap.Chunks {
		c := spatial.ChunkCoord{X: sc.Coord[0], Y: sc.Coord[1], Z: sc.Coord[2]}
		h, ch := e.reg.Acquire(c)
		if err := ch.Load(cell.Unpack(buf[:0], sc.Cells)); err != nil {
			e.reg.Release(h)
			return err
		}
		ch.LastTick = sc.LastTick
		ch.SetSettled(sc.Settled)
		if err := e.index.Insert(c, h); err != nil {
			e.reg.Release(h)
			return fmt.Errorf("snapshot chunk %v: %w", c, err)
		}
		if ch.IsActive() {
			if _, err := e.index.SetActive(c, true); err != nil {
				return err
			}
		}
	}
	e.logf("imported snapshot world=%s tick=%d chunks=%d", snap.Header.WorldID, snap.Header.Tick, len(snap.Chunks))
	return nil
}
