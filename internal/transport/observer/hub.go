package observer

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"

	"voxelsim.ai/internal/protocol"
	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/encoding"
	"voxelsim.ai/internal/sim/engine"
	"voxelsim.ai/internal/sim/spatial"
)

// Source is the engine surface the observer feed needs.
type Source interface {
	Config() engine.Config
	Tick() uint64
	Subscribe(kinds ...engine.EventKind) *engine.Subscription
	Unsubscribe(s *engine.Subscription)
	ChunkCells(c spatial.ChunkCoord) ([]cell.Cell, bool)
}

type item struct {
	cursor uint64
	kind   engine.EventKind
	coord  [3]int32
	b      []byte
}

type session struct {
	id     string
	out    chan []byte
	sub    protocol.Subscribe
	region *protocol.Region

	dropped atomic.Uint64
}

func (s *session) wants(it item) bool {
	switch it.kind {
	case engine.EventTick:
		return s.sub.Ticks
	case engine.EventDiff:
		return s.sub.Diffs && s.region.Contains(it.coord)
	case engine.EventActivation:
		return s.sub.Activations && s.region.Contains(it.coord)
	}
	return false
}

// Hub converts engine events to feed messages, numbers them with a cursor and fans them
// out to sessions. The last ringSize messages are kept for EVENT_BATCH_REQ catch-up.
type Hub struct {
	src Source
	log *log.Logger

	mu       sync.Mutex
	cursor   uint64
	ring     []item
	start    int
	n        int
	sessions map[string]*session

	dropped atomic.Uint64
}

type HubStats struct {
	Sessions int
	Cursor   uint64
	Buffered int
	Dropped  uint64
}

func NewHub(src Source, ringSize int, logger *log.Logger) *Hub {
	if ringSize <= 0 {
		ringSize = 4096
	}
	return &Hub{
		src:      src,
		log:      logger,
		ring:     make([]item, ringSize),
		sessions: map[string]*session{},
	}
}

// Run consumes engine events until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	sub := h.src.Subscribe(engine.EventTick, engine.EventDiff, engine.EventActivation)
	defer h.src.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			h.publish(ev)
		}
	}
}

func (h *Hub) publish(ev engine.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cursor := h.cursor + 1
	it := item{cursor: cursor, kind: ev.Kind, coord: [3]int32{ev.Coord.X, ev.Coord.Y, ev.Coord.Z}}
	var msg any
	switch ev.Kind {
	case engine.EventTick:
		if ev.Result == nil {
			return
		}
		r := ev.Result
		msg = protocol.TickMsg{
			Type:            protocol.TypeTick,
			ProtocolVersion: protocol.Version,
			Cursor:          cursor,
			Tick:            r.Tick,
			Digest:          r.Digest,
			Shells:          r.Shells,
			Factor:          r.Factor,
			Stepped:         r.Stepped,
			Changed:         r.Changed,
		}
	case engine.EventDiff:
		if ev.Diff == nil {
			return
		}
		msg = diffMsg(cursor, *ev.Diff)
	case engine.EventActivation:
		msg = protocol.ActivationMsg{
			Type:            protocol.TypeActivation,
			ProtocolVersion: protocol.Version,
			Cursor:          cursor,
			Tick:            ev.Tick,
			Coord:           it.coord,
			Active:          ev.Active,
			Evicted:         ev.Evicted,
		}
	default:
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		h.logf("marshal %v: %v", ev.Kind, err)
		return
	}
	it.b = b
	h.cursor = cursor
	h.push(it)

	for _, s := range h.sessions {
		if !s.wants(it) {
			continue
		}
		select {
		case s.out <- b:
		default:
			s.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
}

func diffMsg(cursor uint64, d engine.ChunkDiff) protocol.DiffMsg {
	ranges := make([]protocol.DiffRange, 0, len(d.Ranges))
	for _, r := range d.Ranges {
		ranges = append(ranges, protocol.DiffRange{
			Start: r.Start,
			Count: len(r.Cells),
			RLE:   encoding.EncodeRLEString(r.Cells),
		})
	}
	return protocol.DiffMsg{
		Type:            protocol.TypeDiff,
		ProtocolVersion: protocol.Version,
		Cursor:          cursor,
		Tick:            d.Tick,
		Coord:           [3]int32{d.Coord.X, d.Coord.Y, d.Coord.Z},
		Ranges:          ranges,
	}
}

func (h *Hub) push(it item) {
	if h.n < len(h.ring) {
		h.ring[(h.start+h.n)%len(h.ring)] = it
		h.n++
		return
	}
	h.ring[h.start] = it
	h.start = (h.start + 1) % len(h.ring)
}

func (h *Hub) attach(id string, hello protocol.HelloMsg, buffer int) (*session, uint64) {
	s := &session{id: id, out: make(chan []byte, buffer), sub: hello.Subscribe, region: hello.Region}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[id] = s
	return s, h.cursor
}

func (h *Hub) detach(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

// Since returns buffered messages after cursor, at most limit of them. Truncated reports
// that messages after cursor were already overwritten.
func (h *Hub) Since(cursor uint64, limit int) (items []protocol.EventBatchItem, next uint64, truncated bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	next = cursor
	if h.n == 0 || cursor >= h.cursor {
		return nil, next, false
	}
	first := h.ring[h.start].cursor
	skip := 0
	if cursor+1 < first {
		truncated = true
	} else {
		skip = int(cursor + 1 - first)
	}
	for i := skip; i < h.n; i++ {
		if limit > 0 && len(items) >= limit {
			break
		}
		it := h.ring[(h.start+i)%len(h.ring)]
		items = append(items, protocol.EventBatchItem{Cursor: it.cursor, Msg: json.RawMessage(it.b)})
		next = it.cursor
	}
	return items, next, truncated
}

func (h *Hub) Stats() HubStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HubStats{
		Sessions: len(h.sessions),
		Cursor:   h.cursor,
		Buffered: h.n,
		Dropped:  h.dropped.Load(),
	}
}

func (h *Hub) logf(format string, args ...any) {
	if h.log != nil {
		h.log.Printf(format, args...)
	}
}
