package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	persistlog "voxelsim.ai/internal/persistence/log"
	"voxelsim.ai/internal/sim/engine"
	"voxelsim.ai/internal/sim/spatial"
	"voxelsim.ai/internal/sim/stream"
)

// asOfStore flags payloads written after the tick being replayed. Such a chunk was
// evicted again later in the recorded run, so its first load cannot be reproduced.
type asOfStore struct {
	stream.Store
	tick *atomic.Uint64

	mu     sync.Mutex
	future []spatial.ChunkCoord
}

func (s *asOfStore) Load(ctx context.Context, c spatial.ChunkCoord) (stream.Payload, error) {
	p, err := s.Store.Load(ctx, c)
	if err == nil && p.Tick > s.tick.Load() {
		s.mu.Lock()
		s.future = append(s.future, c)
		s.mu.Unlock()
	}
	return p, err
}

func (s *asOfStore) Future() []spatial.ChunkCoord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]spatial.ChunkCoord(nil), s.future...)
}

type replayOpts struct {
	VerifyFrom uint64
	ToTick     uint64
	// Tick mirrors the replay position for asOfStore; may be nil.
	Tick *atomic.Uint64
}

type replayStats struct {
	Applied uint64
	Checked uint64
	Last    uint64
}

// replayTicks re-executes logged ticks on eng, which must already hold the starting
// snapshot with focus cleared. Entries at or before the current tick are skipped.
func replayTicks(eng *engine.Engine, files []string, opts replayOpts) (replayStats, error) {
	var st replayStats
	start := eng.Tick()
	st.Last = start
	if opts.Tick != nil {
		opts.Tick.Store(start)
	}
	err := persistlog.ReadTicks(files, func(entry engine.TickLogEntry) error {
		if entry.Tick <= start {
			return nil
		}
		if opts.ToTick != 0 && entry.Tick > opts.ToTick {
			return persistlog.ErrStop
		}
		if want := st.Last + 1; entry.Tick != want {
			return fmt.Errorf("tick gap: want=%d got=%d", want, entry.Tick)
		}
		for _, b := range entry.Boundaries {
			eng.ApplyBoundary(b)
		}
		tr, err := eng.StepScheduled(entry.Shells)
		if err != nil {
			return fmt.Errorf("tick %d: %w", entry.Tick, err)
		}
		if tr.Tick != entry.Tick {
			return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d", tr.Tick, entry.Tick)
		}
		st.Applied++
		st.Last = tr.Tick
		if opts.Tick != nil {
			opts.Tick.Store(tr.Tick)
		}
		if tr.Tick >= opts.VerifyFrom {
			st.Checked++
			if tr.Digest != entry.Digest {
				return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tr.Tick, tr.Digest, entry.Digest)
			}
		}
		return nil
	})
	return st, err
}
