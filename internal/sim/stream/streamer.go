package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/spatial"
)

type Config struct {
	// LoadRadius is the Chebyshev radius in chunks kept resident around the focus.
	LoadRadius int32 `yaml:"load_radius"`
	// EvictRadius must be >= LoadRadius. Chunks beyond it are always evicted.
	EvictRadius     int32 `yaml:"evict_radius"`
	MaxLoadsPerTick int   `yaml:"max_loads_per_tick"`
}

func (c *Config) applyDefaults() {
	if c.LoadRadius <= 0 {
		c.LoadRadius = 2
	}
	if c.EvictRadius < c.LoadRadius {
		c.EvictRadius = c.LoadRadius + 1
	}
	if c.MaxLoadsPerTick <= 0 {
		c.MaxLoadsPerTick = 8
	}
}

// LoadResult is a completed background load. Found is false when the store had nothing;
// Err is set for unreadable payloads.
type LoadResult struct {
	Coord   spatial.ChunkCoord
	Payload Payload
	Found   bool
	Err     error
}

type flight struct {
	p   Payload
	seq uint64
	// writing is set while a goroutine owns saves for this coordinate.
	writing bool
}

// Streamer schedules chunk loads and saves on background goroutines. The engine installs
// finished loads between ticks via Drain. Saves for one coordinate run one at a time, newest
// payload last.
type Streamer struct {
	cfg    Config
	store  Store
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sf     singleflight.Group
	wg     sync.WaitGroup

	mu        sync.Mutex
	requested map[spatial.ChunkCoord]uint64
	ready     map[spatial.ChunkCoord]LoadResult
	inflight  map[spatial.ChunkCoord]flight
	persisted map[spatial.ChunkCoord]uint64
	seq       uint64
	reqGen    uint64

	saved  uint64
	failed uint64
}

func NewStreamer(cfg Config, store Store, logger *log.Logger) *Streamer {
	cfg.applyDefaults()
	if store == nil {
		store = NewMemStore()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Streamer{
		cfg:       cfg,
		store:     store,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		requested: map[spatial.ChunkCoord]uint64{},
		ready:     map[spatial.ChunkCoord]LoadResult{},
		inflight:  map[spatial.ChunkCoord]flight{},
		persisted: map[spatial.ChunkCoord]uint64{},
	}
}

func (s *Streamer) Config() Config { return s.cfg }
func (s *Streamer) Store() Store   { return s.store }

func (s *Streamer) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Plan compares the resident set against the focus. Loads are returned in Morton order.
func (s *Streamer) Plan(focus spatial.ChunkCoord, resident []spatial.ChunkCoord, active func(spatial.ChunkCoord) bool) (load, evict []spatial.ChunkCoord) {
	have := make(map[spatial.ChunkCoord]bool, len(resident))
	for _, c := range resident {
		have[c] = true
		d := spatial.Chebyshev(c, focus)
		if d > int64(s.cfg.EvictRadius) || (d > int64(s.cfg.LoadRadius) && !active(c)) {
			evict = append(evict, c)
		}
	}
	r := s.cfg.LoadRadius
	for dx := -r; dx <= r; dx++ {
		for dy := -r; dy <= r; dy++ {
			for dz := -r; dz <= r; dz++ {
				c := focus.Add(dx, dy, dz)
				if !spatial.InRange(c) || have[c] {
					continue
				}
				load = append(load, c)
			}
		}
	}
	sortMorton(load)
	sortMorton(evict)
	return load, evict
}

func sortMorton(cs []spatial.ChunkCoord) {
	sort.Slice(cs, func(i, j int) bool { return spatial.EncodeMorton(cs[i]) < spatial.EncodeMorton(cs[j]) })
}

// Request starts a background load unless one is already queued or finished.
func (s *Streamer) Request(c spatial.ChunkCoord) {
	s.mu.Lock()
	if _, ok := s.requested[c]; ok {
		s.mu.Unlock()
		return
	}
	if _, ok := s.ready[c]; ok {
		s.mu.Unlock()
		return
	}
	s.reqGen++
	gen := s.reqGen
	s.requested[c] = gen
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		res := s.fetch(s.ctx, c)
		s.mu.Lock()
		defer s.mu.Unlock()
		// Cancelled or superseded while reading.
		if s.requested[c] != gen {
			return
		}
		delete(s.requested, c)
		s.ready[c] = res
	}()
}

// Pending reports whether a load for c is queued or waiting to be drained.
func (s *Streamer) Pending(c spatial.ChunkCoord) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ready := s.ready[c]
	_, requested := s.requested[c]
	return ready || requested
}

// Cancel forgets a requested or finished load. A result that arrives later is discarded.
func (s *Streamer) Cancel(c spatial.ChunkCoord) {
	s.mu.Lock()
	delete(s.requested, c)
	delete(s.ready, c)
	s.mu.Unlock()
}

// CancelAll forgets every requested and finished load.
func (s *Streamer) CancelAll() {
	s.mu.Lock()
	clear(s.requested)
	clear(s.ready)
	s.mu.Unlock()
}

// Drain returns up to limit finished loads in Morton order.
func (s *Streamer) Drain(limit int) []LoadResult {
	if limit <= 0 {
		limit = s.cfg.MaxLoadsPerTick
	}
	s.mu.Lock()
	out := make([]LoadResult, 0, len(s.ready))
	for _, r := range s.ready {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return spatial.EncodeMorton(out[i].Coord) < spatial.EncodeMorton(out[j].Coord)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	for _, r := range out {
		delete(s.ready, r.Coord)
	}
	s.mu.Unlock()
	return out
}

// Load fetches c synchronously, preferring a payload that is still being written.
func (s *Streamer) Load(ctx context.Context, c spatial.ChunkCoord) LoadResult {
	return s.fetch(ctx, c)
}

func (s *Streamer) fetch(ctx context.Context, c spatial.ChunkCoord) LoadResult {
	s.mu.Lock()
	if f, ok := s.inflight[c]; ok {
		s.mu.Unlock()
		return LoadResult{Coord: c, Payload: clonePayload(f.p), Found: true}
	}
	// Store reads started before a save landed must not be shared with reads after it.
	key := fmt.Sprintf("%d,%d,%d@%d", c.X, c.Y, c.Z, s.persisted[c])
	s.mu.Unlock()

	v, err, _ := s.sf.Do(key, func() (any, error) {
		return s.store.Load(ctx, c)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoadResult{Coord: c}
		}
		s.logf("chunk load failed coord=%v err=%v", c, err)
		return LoadResult{Coord: c, Err: err}
	}
	return LoadResult{Coord: c, Payload: clonePayload(v.(Payload)), Found: true}
}

func clonePayload(p Payload) Payload {
	p.Cells = append([]cell.Cell(nil), p.Cells...)
	return p
}

// Evict hands a serialised chunk to the store. Until the write lands, loads of the same
// coordinate are served from memory. A newer eviction of the same coordinate supersedes one
// that has not been written yet.
func (s *Streamer) Evict(p Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	f := s.inflight[p.Coord]
	f.p, f.seq = p, s.seq
	start := !f.writing
	f.writing = true
	s.inflight[p.Coord] = f
	if start {
		s.wg.Add(1)
		go s.writeLoop(p.Coord)
	}
}

// writeLoop saves the newest in-flight payload for c until nothing newer is queued.
func (s *Streamer) writeLoop(c spatial.ChunkCoord) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		f := s.inflight[c]
		s.mu.Unlock()

		err := s.store.Save(context.Background(), f.p)

		s.mu.Lock()
		if err != nil {
			s.failed++
			s.logf("chunk save failed coord=%v err=%v", c, err)
		} else {
			s.saved++
			s.persisted[c] = f.seq
			s.logf("chunk saved coord=%v tick=%d raw=%s", c, f.p.Tick, humanize.Bytes(uint64(len(f.p.Cells)*2)))
		}
		cur := s.inflight[c]
		if cur.seq != f.seq {
			s.mu.Unlock()
			continue
		}
		if err != nil {
			// Keep serving the payload from memory; the next eviction retries.
			cur.writing = false
			s.inflight[c] = cur
		} else {
			delete(s.inflight, c)
		}
		s.mu.Unlock()
		return
	}
}

type Stats struct {
	Requested int
	Ready     int
	InFlight  int
	Saved     uint64
	Failed    uint64
}

func (s *Streamer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Requested: len(s.requested),
		Ready:     len(s.ready),
		InFlight:  len(s.inflight),
		Saved:     s.saved,
		Failed:    s.failed,
	}
}

// Flush waits for every outstanding load and save.
func (s *Streamer) Flush() {
	s.wg.Wait()
}

func (s *Streamer) Close() {
	s.Flush()
	s.cancel()
}
