package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// TickLogEntry is written once per committed tick. Boundaries holds the batches applied
// since the previous tick, in order, so replay can reproduce them.
type TickLogEntry struct {
	Tick       uint64     `json:"tick"`
	Digest     string     `json:"digest"`
	Shells     int        `json:"shells"`
	Factor     float64    `json:"factor"`
	Stepped    int        `json:"stepped"`
	Skipped    int        `json:"skipped"`
	Changed    int        `json:"changed"`
	CostNS     int64      `json:"cost_ns"`
	Boundaries []Boundary `json:"boundaries,omitempty"`
}

func (e *Engine) publishTick(tr TickResult, diffs []ChunkDiff, activations []Event) {
	boundaries := e.takeBoundaries()
	for i := range diffs {
		d := &diffs[i]
		e.events.publish(Event{Kind: EventChunkChanged, Tick: d.Tick, Coord: d.Coord})
		e.events.publish(Event{Kind: EventDiff, Tick: d.Tick, Coord: d.Coord, Diff: d})
	}
	for _, ev := range activations {
		e.events.publish(ev)
	}
	res := tr
	e.events.publish(Event{Kind: EventTick, Tick: tr.Tick, Result: &res})
	if e.tickLogger != nil {
		entry := TickLogEntry{
			Tick:       tr.Tick,
			Digest:     tr.Digest,
			Shells:     tr.Shells,
			Factor:     tr.Factor,
			Stepped:    tr.Stepped,
			Skipped:    tr.Skipped,
			Changed:    tr.Changed,
			CostNS:     int64(tr.Cost),
			Boundaries: boundaries,
		}
		if err := e.tickLogger.WriteTick(entry); err != nil {
			e.logf("tick log write: %v", err)
		}
	}
	e.updateMetrics(tr)
	e.mu.Lock()
	reqs := e.snapReq
	e.snapReq = nil
	e.mu.Unlock()
	periodic := e.cfg.SnapshotEveryTicks > 0 && tr.Tick%uint64(e.cfg.SnapshotEveryTicks) == 0
	if e.snapshotSink != nil && (periodic || len(reqs) > 0) {
		snap := e.ExportSnapshot()
		select {
		case e.snapshotSink <- snap:
			for _, r := range reqs {
				r <- tr.Tick
			}
		default:
			e.logf("snapshot sink full, skipping tick %d", tr.Tick)
		}
	}
}

// Digest hashes every resident chunk in Morton order together with its coordinate.
func (e *Engine) Digest() string {
	// Write lock: chunk digests are cached in place.
	e.state.Lock()
	defer e.state.Unlock()
	coords, _ := e.index.Coords()
	h := sha256.New()
	var tmp [12]byte
	for _, c := range coords {
		ch := e.chunkAt(c)
		if ch == nil {
			continue
		}
		binary.LittleEndian.PutUint32(tmp[0:], uint32(c.X))
		binary.LittleEndian.PutUint32(tmp[4:], uint32(c.Y))
		binary.LittleEndian.PutUint32(tmp[8:], uint32(c.Z))
		h.Write(tmp[:])
		d := ch.Digest()
		h.Write(d[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
