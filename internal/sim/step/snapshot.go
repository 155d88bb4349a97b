package step

import (
	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/chunk"
	"voxelsim.ai/internal/sim/scratch"
	"voxelsim.ai/internal/sim/spatial"
)

// PaddedLen is the scratch buffer length Capture needs for a given chunk edge.
func PaddedLen(edge int) int {
	p := edge + 2
	return p * p * p
}

// Snapshot is a tick-local copy of a chunk's current buffer padded with a depth-1 layer
// taken from its 26 neighbours.
type Snapshot struct {
	Chunk *chunk.Chunk
	edge  int
	pad   []cell.Cell
}

func (s *Snapshot) Edge() int { return s.edge }

func (s *Snapshot) index(x, y, z int) int {
	p := s.edge + 2
	return ((x+1)*p+(y+1))*p + (z + 1)
}

// At reads a cell for x, y, z in [-1, edge].
func (s *Snapshot) At(x, y, z int) cell.Cell {
	return s.pad[s.index(x, y, z)]
}

// Release returns the padded buffer. The snapshot must not be used afterwards.
func (s *Snapshot) Release(pool *scratch.Pool) {
	if s.pad != nil {
		pool.Put(s.pad)
		s.pad = nil
	}
}

// Capture snapshots every chunk before any next buffer is written. Missing neighbours read
// as inert.
func Capture(chunks []*chunk.Chunk, lookup func(spatial.ChunkCoord) *chunk.Chunk, edge int, inert cell.Cell, pool *scratch.Pool) []*Snapshot {
	out := make([]*Snapshot, len(chunks))
	var nbr [27]*chunk.Chunk
	p := edge + 2
	for i, c := range chunks {
		for dx := int32(-1); dx <= 1; dx++ {
			for dy := int32(-1); dy <= 1; dy++ {
				for dz := int32(-1); dz <= 1; dz++ {
					k := (dx+1)*9 + (dy+1)*3 + (dz + 1)
					if k == 13 {
						nbr[k] = c
						continue
					}
					nbr[k] = lookup(c.Coord.Add(dx, dy, dz))
				}
			}
		}
		s := &Snapshot{Chunk: c, edge: edge, pad: pool.Get()}
		cur := c.Current()
		for x := 0; x < edge; x++ {
			for y := 0; y < edge; y++ {
				dst := s.index(x, y, 0)
				src := (x*edge + y) * edge
				copy(s.pad[dst:dst+edge], cur[src:src+edge])
			}
		}
		for x := -1; x <= edge; x++ {
			for y := -1; y <= edge; y++ {
				for z := -1; z <= edge; z++ {
					ax, ay, az := side(x, edge), side(y, edge), side(z, edge)
					if ax == 0 && ay == 0 && az == 0 {
						z = edge - 1
						continue
					}
					v := inert
					if n := nbr[(ax+1)*9+(ay+1)*3+(az+1)]; n != nil {
						v = n.Current()[n.Index(wrap(x, edge), wrap(y, edge), wrap(z, edge))]
					}
					s.pad[((x+1)*p+(y+1))*p+(z+1)] = v
				}
			}
		}
		out[i] = s
	}
	return out
}

func side(v, edge int) int {
	switch {
	case v < 0:
		return -1
	case v >= edge:
		return 1
	default:
		return 0
	}
}

func wrap(v, edge int) int {
	switch {
	case v < 0:
		return v + edge
	case v >= edge:
		return v - edge
	default:
		return v
	}
}
