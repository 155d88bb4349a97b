package chunk

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/spatial"
)

// DefaultEdge is the cell count along one chunk axis.
const DefaultEdge = 32

// Chunk is a dense edge^3 block of cells with a current and a next buffer.
// Only the engine's tick loop mutates it; workers write next during Stepping.
type Chunk struct {
	Coord spatial.ChunkCoord
	Key   spatial.MortonKey

	edge  int
	cur   []cell.Cell
	next  []cell.Cell
	alive int

	// LastTick is the last tick whose swap included this chunk.
	LastTick uint64

	pendingEvict bool
	settled      bool

	dirty bool
	hash  [32]byte
}

func New(coord spatial.ChunkCoord, edge int) *Chunk {
	c := &Chunk{edge: edge}
	c.reset(coord)
	return c
}

func (c *Chunk) reset(coord spatial.ChunkCoord) {
	n := c.edge * c.edge * c.edge
	if len(c.cur) != n {
		c.cur = make([]cell.Cell, n)
		c.next = make([]cell.Cell, n)
	} else {
		clear(c.cur)
		clear(c.next)
	}
	c.Coord = coord
	c.Key = spatial.EncodeMorton(coord)
	c.alive = 0
	c.LastTick = 0
	c.pendingEvict = false
	c.settled = false
	c.dirty = true
}

func (c *Chunk) Edge() int { return c.edge }

// Index is the linear offset of a local cell: x*e*e + y*e + z.
func (c *Chunk) Index(x, y, z int) int {
	return (x*c.edge+y)*c.edge + z
}

func (c *Chunk) InBounds(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < c.edge && y < c.edge && z < c.edge
}

func (c *Chunk) Get(x, y, z int) cell.Cell { return c.cur[c.Index(x, y, z)] }

// Set writes the current buffer and reports whether the cell changed. Between ticks only.
func (c *Chunk) Set(x, y, z int, v cell.Cell) bool {
	i := c.Index(x, y, z)
	old := c.cur[i]
	if old == v {
		return false
	}
	if old.IsAlive() {
		c.alive--
	}
	if v.IsAlive() {
		c.alive++
	}
	c.cur[i] = v
	c.dirty = true
	c.settled = false
	return true
}

// Current is the readable state. Callers must not retain it across ticks.
func (c *Chunk) Current() []cell.Cell { return c.cur }

// Next is the write target for this chunk's own step.
func (c *Chunk) Next() []cell.Cell { return c.next }

// Swap makes next current. After the call Next holds the previous state. changed is false
// when the step reproduced the current buffer exactly.
func (c *Chunk) Swap(alive int, tick uint64, changed bool) {
	c.cur, c.next = c.next, c.cur
	c.alive = alive
	c.LastTick = tick
	if changed {
		c.dirty = true
	}
}

// Load replaces the current buffer with cells, which must hold exactly edge^3 entries.
func (c *Chunk) Load(cells []cell.Cell) error {
	if len(cells) != len(c.cur) {
		return fmt.Errorf("chunk %v: load %d cells, want %d", c.Coord, len(cells), len(c.cur))
	}
	copy(c.cur, cells)
	c.alive = cell.CountAlive(c.cur)
	c.dirty = true
	c.settled = false
	return nil
}

func (c *Chunk) Alive() int { return c.alive }

// IsActive is the overlay activation predicate.
func (c *Chunk) IsActive() bool { return c.alive > 0 }

func (c *Chunk) MarkEvict()         { c.pendingEvict = true }
func (c *Chunk) PendingEvict() bool { return c.pendingEvict }

// Settled is true once a step left the chunk unchanged with no alive cells. Any write clears it.
func (c *Chunk) Settled() bool      { return c.settled }
func (c *Chunk) SetSettled(ok bool) { c.settled = ok }

// Mass sums weight(material) over every solid cell.
func (c *Chunk) Mass(weight func(material uint8) float64) float64 {
	m := 0.0
	for _, v := range c.cur {
		if v.IsSolid() {
			m += weight(v.Material())
		}
	}
	return m
}

func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		h := sha256.New()
		var tmp [2]byte
		for _, v := range c.cur {
			binary.LittleEndian.PutUint16(tmp[:], uint16(v))
			h.Write(tmp[:])
		}
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}
