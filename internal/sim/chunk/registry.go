package chunk

import "voxelsim.ai/internal/sim/spatial"

type Handle = spatial.Handle

type slot struct {
	chunk *Chunk
	gen   uint32
	live  bool
}

// Registry is an arena of chunks addressed by generation-checked handles. Freed slots keep
// their buffers so a later Acquire does not allocate.
type Registry struct {
	edge  int
	slots []slot
	free  []uint32
	live  int
}

func NewRegistry(edge int) *Registry {
	if edge <= 0 {
		edge = DefaultEdge
	}
	return &Registry{edge: edge}
}

func (r *Registry) Edge() int { return r.edge }
func (r *Registry) Len() int  { return r.live }

// Acquire returns a zeroed chunk for coord in a fresh or recycled slot.
func (r *Registry) Acquire(coord spatial.ChunkCoord) (Handle, *Chunk) {
	if n := len(r.free); n > 0 {
		i := r.free[n-1]
		r.free = r.free[:n-1]
		s := &r.slots[i]
		s.gen++
		s.live = true
		s.chunk.reset(coord)
		r.live++
		return Handle{Index: i, Gen: s.gen}, s.chunk
	}
	c := New(coord, r.edge)
	r.slots = append(r.slots, slot{chunk: c, gen: 1, live: true})
	r.live++
	return Handle{Index: uint32(len(r.slots) - 1), Gen: 1}, c
}

// Get returns nil for stale or unknown handles.
func (r *Registry) Get(h Handle) *Chunk {
	if int(h.Index) >= len(r.slots) {
		return nil
	}
	s := &r.slots[h.Index]
	if !s.live || s.gen != h.Gen {
		return nil
	}
	return s.chunk
}

func (r *Registry) Release(h Handle) bool {
	if r.Get(h) == nil {
		return false
	}
	r.slots[h.Index].live = false
	r.free = append(r.free, h.Index)
	r.live--
	return true
}

// Each visits live chunks in slot order.
func (r *Registry) Each(fn func(Handle, *Chunk)) {
	for i := range r.slots {
		s := &r.slots[i]
		if s.live {
			fn(Handle{Index: uint32(i), Gen: s.gen}, s.chunk)
		}
	}
}
