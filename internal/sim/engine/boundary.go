package engine

import (
	"context"
	"fmt"

	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/chunk"
	"voxelsim.ai/internal/sim/clock"
	"voxelsim.ai/internal/sim/spatial"
	"voxelsim.ai/internal/sim/stream"
)

// Edit replaces one cell. Local is the cell offset inside the chunk.
type Edit struct {
	Coord spatial.ChunkCoord `json:"coord"`
	Local [3]int             `json:"local"`
	Cell  cell.Cell          `json:"cell"`
}

// Boundary is the set of mutations applied between two ticks, in application order:
// evictions, loads, edits.
type Boundary struct {
	Evicts []spatial.ChunkCoord `json:"evicts,omitempty"`
	Loads  []spatial.ChunkCoord `json:"loads,omitempty"`
	Edits  []Edit               `json:"edits,omitempty"`
}

func (b Boundary) empty() bool {
	return len(b.Evicts) == 0 && len(b.Loads) == 0 && len(b.Edits) == 0
}

// Edit queues a cell write for the next tick boundary.
func (e *Engine) Edit(c spatial.ChunkCoord, local [3]int, v cell.Cell) error {
	edge := e.cfg.Edge
	for _, l := range local {
		if l < 0 || l >= edge {
			return fmt.Errorf("edit %v local %v outside chunk edge %d", c, local, edge)
		}
	}
	if !spatial.InRange(c) {
		return fmt.Errorf("edit %v: %w", c, spatial.ErrOutOfRange)
	}
	e.mu.Lock()
	e.edits = append(e.edits, Edit{Coord: c, Local: local, Cell: v})
	e.mu.Unlock()
	return nil
}

// LoadChunk queues a synchronous load (store, else generator) for the next boundary.
func (e *Engine) LoadChunk(c spatial.ChunkCoord) error {
	if !spatial.InRange(c) {
		return fmt.Errorf("load %v: %w", c, spatial.ErrOutOfRange)
	}
	e.mu.Lock()
	e.loadReq = append(e.loadReq, c)
	e.mu.Unlock()
	return nil
}

// EvictChunk marks c for eviction at the next boundary.
func (e *Engine) EvictChunk(c spatial.ChunkCoord) {
	e.mu.Lock()
	e.evictReq = append(e.evictReq, c)
	e.mu.Unlock()
}

// Focus moves the streaming centre. Loads and evictions follow from the next boundary on.
func (e *Engine) Focus(c spatial.ChunkCoord) {
	e.mu.Lock()
	e.focus = &c
	e.mu.Unlock()
}

// ClearFocus stops focus-driven streaming; only explicit loads and evictions apply.
func (e *Engine) ClearFocus() {
	e.mu.Lock()
	e.focus = nil
	e.mu.Unlock()
	e.streamer.CancelAll()
}

func (e *Engine) FocusCoord() (spatial.ChunkCoord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.focus == nil {
		return spatial.ChunkCoord{}, false
	}
	return *e.focus, true
}

// betweenTicks applies queued work. It is the only place chunks enter or leave the index.
func (e *Engine) betweenTicks() {
	e.setPhase(clock.PhaseIdle)

	e.mu.Lock()
	edits := e.edits
	loads := e.loadReq
	evicts := e.evictReq
	focus := e.focus
	e.edits, e.loadReq, e.evictReq = nil, nil, nil
	e.mu.Unlock()

	var b Boundary
	if focus != nil {
		resident, _ := e.index.Coords()
		planLoad, planEvict := e.streamer.Plan(*focus, resident, func(c spatial.ChunkCoord) bool {
			ch := e.chunkAt(c)
			return ch != nil && ch.IsActive()
		})
		evicts = append(evicts, planEvict...)
		for _, c := range planLoad {
			e.streamer.Request(c)
		}
	}
	var drained []stream.LoadResult
	if focus != nil {
		drained = e.streamer.Drain(0)
	}

	var evs []Event
	e.state.Lock()
	for _, c := range evicts {
		if e.evictLocked(c) {
			b.Evicts = append(b.Evicts, c)
			evs = append(evs, Event{Kind: EventActivation, Tick: e.clock.Tick(), Coord: c, Active: false, Evicted: true})
		}
	}
	var fetch []spatial.ChunkCoord
	seen := make(map[spatial.ChunkCoord]bool, len(loads))
	for _, c := range loads {
		if seen[c] || e.chunkAt(c) != nil {
			continue
		}
		seen[c] = true
		fetch = append(fetch, c)
	}
	e.state.Unlock()

	// Explicit loads read the store without holding the state lock. Only this goroutine
	// changes residency, so the coordinates stay absent until installed below.
	fetched := make([]stream.LoadResult, len(fetch))
	for i, c := range fetch {
		fetched[i] = e.streamer.Load(context.Background(), c)
	}

	e.state.Lock()
	for _, res := range fetched {
		if e.chunkAt(res.Coord) != nil {
			continue
		}
		if ev, ok := e.installLocked(res); ok {
			b.Loads = append(b.Loads, res.Coord)
			evs = append(evs, ev...)
		}
	}
	for _, res := range drained {
		if e.chunkAt(res.Coord) != nil {
			continue
		}
		if ev, ok := e.installLocked(res); ok {
			b.Loads = append(b.Loads, res.Coord)
			evs = append(evs, ev...)
		}
	}
	var diffs []ChunkDiff
	for _, ed := range edits {
		ev, diff, ok := e.applyEditLocked(ed)
		if !ok {
			continue
		}
		b.Edits = append(b.Edits, ed)
		evs = append(evs, ev...)
		diffs = append(diffs, diff)
	}
	e.state.Unlock()

	if !b.empty() {
		e.mu.Lock()
		e.boundaries = append(e.boundaries, b)
		e.mu.Unlock()
	}
	for _, d := range diffs {
		e.events.publish(Event{Kind: EventChunkChanged, Tick: d.Tick, Coord: d.Coord})
		dd := d
		e.events.publish(Event{Kind: EventDiff, Tick: d.Tick, Coord: d.Coord, Diff: &dd})
	}
	for _, ev := range evs {
		e.events.publish(ev)
	}
}

// ApplyBoundary replays recorded boundary work synchronously, as cmd/replay does.
func (e *Engine) ApplyBoundary(b Boundary) {
	e.mu.Lock()
	e.evictReq = append(e.evictReq, b.Evicts...)
	e.loadReq = append(e.loadReq, b.Loads...)
	e.edits = append(e.edits, b.Edits...)
	e.mu.Unlock()
	e.betweenTicks()
}

func (e *Engine) payloadOf(ch *chunk.Chunk) stream.Payload {
	return stream.Payload{
		Coord:       ch.Coord,
		Tick:        e.clock.Tick(),
		Accumulator: e.clock.Accumulator(),
		Edge:        ch.Edge(),
		Cells:       append([]cell.Cell(nil), ch.Current()...),
	}
}

// evictLocked serialises the chunk and removes it from index and registry in one step.
func (e *Engine) evictLocked(c spatial.ChunkCoord) bool {
	// A background read of c started before this eviction would return older state.
	e.streamer.Cancel(c)
	h, ok := e.index.Lookup(c)
	if !ok {
		return false
	}
	ch := e.reg.Get(h)
	if ch == nil {
		return false
	}
	ch.MarkEvict()
	p := e.payloadOf(ch)
	e.index.Remove(c)
	e.reg.Release(h)
	e.streamer.Evict(p)
	return true
}

func (e *Engine) installLocked(res stream.LoadResult) ([]Event, bool) {
	c := res.Coord
	e.streamer.Cancel(c)
	h, ch := e.reg.Acquire(c)
	switch {
	case res.Err != nil:
		e.logf("chunk %v unreadable, regenerating: %v", c, res.Err)
		e.cfg.Gen.Generate(ch)
	case res.Found && res.Payload.Edge != e.cfg.Edge:
		e.logf("chunk %v stored with edge %d, want %d; regenerating", c, res.Payload.Edge, e.cfg.Edge)
		e.cfg.Gen.Generate(ch)
	case res.Found:
		if err := ch.Load(res.Payload.Cells); err != nil {
			e.logf("chunk %v load: %v; regenerating", c, err)
			e.cfg.Gen.Generate(ch)
		} else {
			ch.LastTick = res.Payload.Tick
		}
	default:
		e.cfg.Gen.Generate(ch)
	}
	if err := e.index.Insert(c, h); err != nil {
		e.logf("chunk %v insert: %v", c, err)
		e.reg.Release(h)
		return nil, false
	}
	var evs []Event
	if ch.IsActive() {
		if changed, _ := e.index.SetActive(c, true); changed {
			evs = append(evs, Event{Kind: EventActivation, Tick: e.clock.Tick(), Coord: c, Active: true})
		}
	}
	return evs, true
}

func (e *Engine) applyEditLocked(ed Edit) ([]Event, ChunkDiff, bool) {
	ch := e.chunkAt(ed.Coord)
	if ch == nil {
		e.logf("edit dropped: chunk %v not resident", ed.Coord)
		return nil, ChunkDiff{}, false
	}
	x, y, z := ed.Local[0], ed.Local[1], ed.Local[2]
	if !ch.Set(x, y, z, ed.Cell) {
		return nil, ChunkDiff{}, false
	}
	tick := e.clock.Tick()
	diff := ChunkDiff{
		Coord:  ed.Coord,
		Tick:   tick,
		Ranges: []DiffRange{{Start: ch.Index(x, y, z), Cells: []cell.Cell{ed.Cell}}},
	}
	var evs []Event
	if changed, _ := e.index.SetActive(ed.Coord, ch.IsActive()); changed {
		evs = append(evs, Event{Kind: EventActivation, Tick: tick, Coord: ed.Coord, Active: ch.IsActive()})
	}
	return evs, diff, true
}

// takeBoundaries returns and clears the boundary batches applied since the last tick.
func (e *Engine) takeBoundaries() []Boundary {
	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.boundaries
	e.boundaries = nil
	return b
}
