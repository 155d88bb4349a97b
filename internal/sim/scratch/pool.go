package scratch

import (
	"sync"
	"sync/atomic"

	"voxelsim.ai/internal/sim/cell"
)

type Stats struct {
	Allocated uint64
	Reused    uint64
	InUse     int64
}

// Pool hands out cell buffers of one fixed length. It is safe for concurrent use.
type Pool struct {
	size int

	mu   sync.Mutex
	free [][]cell.Cell

	allocated atomic.Uint64
	reused    atomic.Uint64
	inUse     atomic.Int64
}

func New(size, prealloc int) *Pool {
	p := &Pool{size: size}
	for i := 0; i < prealloc; i++ {
		p.free = append(p.free, make([]cell.Cell, size))
		p.allocated.Add(1)
	}
	return p
}

func (p *Pool) Size() int { return p.size }

// Get returns a buffer of Size() cells. Contents are unspecified.
func (p *Pool) Get() []cell.Cell {
	p.inUse.Add(1)
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		buf := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		p.reused.Add(1)
		return buf
	}
	p.mu.Unlock()
	p.allocated.Add(1)
	return make([]cell.Cell, p.size)
}

// Put returns buf to the pool. Buffers of another length are dropped.
func (p *Pool) Put(buf []cell.Cell) {
	if buf == nil {
		return
	}
	p.inUse.Add(-1)
	if len(buf) != p.size {
		return
	}
	p.mu.Lock()
	p.free = append(p.free, buf)
	p.mu.Unlock()
}

func (p *Pool) Stats() Stats {
	return Stats{
		Allocated: p.allocated.Load(),
		Reused:    p.reused.Load(),
		InUse:     p.inUse.Load(),
	}
}
