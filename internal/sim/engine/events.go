package engine

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/spatial"
)

type EventKind uint8

const (
	// EventChunkChanged fires when a chunk's current buffer changed (renderers remesh).
	EventChunkChanged EventKind = iota + 1
	// EventActivation fires when a chunk's overlay leaf flips or the chunk is evicted.
	EventActivation
	// EventDiff carries the changed cell ranges for replication.
	EventDiff
	// EventTick fires once per committed tick with its summary.
	EventTick
)

func (k EventKind) String() string {
	switch k {
	case EventChunkChanged:
		return "CHUNK_CHANGED"
	case EventActivation:
		return "ACTIVATION"
	case EventDiff:
		return "DIFF"
	case EventTick:
		return "TICK"
	default:
		return "UNKNOWN"
	}
}

type Event struct {
	Kind    EventKind
	Tick    uint64
	Coord   spatial.ChunkCoord
	Active  bool
	Evicted bool
	Diff    *ChunkDiff
	Result  *TickResult
}

// DiffRange is a run of changed cells starting at a linear index.
type DiffRange struct {
	Start int         `json:"start"`
	Cells []cell.Cell `json:"cells"`
}

type ChunkDiff struct {
	Coord  spatial.ChunkCoord `json:"coord"`
	Tick   uint64             `json:"tick"`
	Ranges []DiffRange        `json:"ranges"`
}

// Apply writes the diff into a buffer holding the pre-tick state.
func (d ChunkDiff) Apply(buf []cell.Cell) {
	for _, r := range d.Ranges {
		copy(buf[r.Start:], r.Cells)
	}
}

// diffRanges returns runs where after differs from before.
func diffRanges(before, after []cell.Cell) []DiffRange {
	var out []DiffRange
	for i := 0; i < len(after); {
		if before[i] == after[i] {
			i++
			continue
		}
		j := i + 1
		for j < len(after) && before[j] != after[j] {
			j++
		}
		out = append(out, DiffRange{Start: i, Cells: append([]cell.Cell(nil), after[i:j]...)})
		i = j
	}
	return out
}

// Subscription delivers events of the requested kinds. Slow consumers lose events; the
// engine never blocks on a subscriber.
type Subscription struct {
	ID    string
	C     <-chan Event
	ch    chan Event
	kinds map[EventKind]bool

	dropped atomic.Uint64
}

func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

type events struct {
	buffer int

	mu   sync.RWMutex
	subs map[string]*Subscription

	dropped atomic.Uint64
}

func (ev *events) init(buffer int) {
	ev.buffer = buffer
	ev.subs = map[string]*Subscription{}
}

func (ev *events) publish(e Event) {
	ev.mu.RLock()
	defer ev.mu.RUnlock()
	for _, s := range ev.subs {
		if !s.kinds[e.Kind] {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
			ev.dropped.Add(1)
		}
	}
}

// Subscribe registers for the given kinds; no kinds means all.
func (e *Engine) Subscribe(kinds ...EventKind) *Subscription {
	if len(kinds) == 0 {
		kinds = []EventKind{EventChunkChanged, EventActivation, EventDiff, EventTick}
	}
	ch := make(chan Event, e.events.buffer)
	s := &Subscription{ID: uuid.NewString(), C: ch, ch: ch, kinds: map[EventKind]bool{}}
	for _, k := range kinds {
		s.kinds[k] = true
	}
	e.events.mu.Lock()
	e.events.subs[s.ID] = s
	e.events.mu.Unlock()
	return s
}

// Unsubscribe closes the subscription's channel.
func (e *Engine) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	e.events.mu.Lock()
	if _, ok := e.events.subs[s.ID]; ok {
		delete(e.events.subs, s.ID)
		close(s.ch)
	}
	e.events.mu.Unlock()
}
