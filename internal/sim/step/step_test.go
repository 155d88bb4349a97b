package step

import (
	"math/rand"
	"testing"

	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/chunk"
	"voxelsim.ai/internal/sim/scratch"
	"voxelsim.ai/internal/sim/spatial"
)

const testEdge = 4

// world is a 2x1x1 pair of chunks with random alive cells.
func world(t *testing.T, seed int64) (map[spatial.ChunkCoord]*chunk.Chunk, []*chunk.Chunk) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	m := map[spatial.ChunkCoord]*chunk.Chunk{}
	var list []*chunk.Chunk
	for x := int32(0); x < 2; x++ {
		c := chunk.New(spatial.ChunkCoord{X: x}, testEdge)
		for i := 0; i < testEdge*testEdge*testEdge; i++ {
			if rng.Intn(3) == 0 {
				c.Current()[i] = cell.New(1, cell.FlagAutomata)
			}
		}
		if err := c.Load(c.Current()); err != nil {
			t.Fatalf("Load: %v", err)
		}
		m[c.Coord] = c
		list = append(list, c)
	}
	return m, list
}

func denseAt(m map[spatial.ChunkCoord]*chunk.Chunk, gx, gy, gz int) cell.Cell {
	cc := spatial.ChunkCoord{X: int32(floorDiv(gx)), Y: int32(floorDiv(gy)), Z: int32(floorDiv(gz))}
	c := m[cc]
	if c == nil {
		return 0
	}
	return c.Get(gx-floorDiv(gx)*testEdge, gy-floorDiv(gy)*testEdge, gz-floorDiv(gz)*testEdge)
}

func floorDiv(v int) int {
	if v < 0 {
		return (v - testEdge + 1) / testEdge
	}
	return v / testEdge
}

func TestCaptureHalo(t *testing.T) {
	m, list := world(t, 1)
	pool := scratch.New(PaddedLen(testEdge), 0)
	lookup := func(c spatial.ChunkCoord) *chunk.Chunk { return m[c] }
	inert := cell.New(9, 0)
	snaps := Capture(list, lookup, testEdge, inert, pool)
	s := snaps[0]
	for x := -1; x <= testEdge; x++ {
		for y := -1; y <= testEdge; y++ {
			for z := -1; z <= testEdge; z++ {
				want := denseAt(m, x, y, z)
				if _, ok := m[spatial.ChunkCoord{X: int32(floorDiv(x)), Y: int32(floorDiv(y)), Z: int32(floorDiv(z))}]; !ok {
					want = inert
				}
				if got := s.At(x, y, z); got != want {
					t.Fatalf("At(%d,%d,%d)=%#x want %#x", x, y, z, got, want)
				}
			}
		}
	}
	for _, s := range snaps {
		s.Release(pool)
	}
	if st := pool.Stats(); st.InUse != 0 {
		t.Fatalf("snapshots leaked buffers: %+v", st)
	}
}

func TestStepperMatchesDenseReference(t *testing.T) {
	m, list := world(t, 2)
	rule := cell.DefaultRule()

	want := map[spatial.ChunkCoord][]cell.Cell{}
	for _, c := range list {
		out := make([]cell.Cell, len(c.Current()))
		i := 0
		for x := 0; x < testEdge; x++ {
			for y := 0; y < testEdge; y++ {
				for z := 0; z < testEdge; z++ {
					gx, gy, gz := int(c.Coord.X)*testEdge+x, y, z
					n := 0
					for dx := -1; dx <= 1; dx++ {
						for dy := -1; dy <= 1; dy++ {
							for dz := -1; dz <= 1; dz++ {
								if (dx != 0 || dy != 0 || dz != 0) && denseAt(m, gx+dx, gy+dy, gz+dz).IsAlive() {
									n++
								}
							}
						}
					}
					out[i] = rule.Next(c.Get(x, y, z), n)
					i++
				}
			}
		}
		want[c.Coord] = out
	}

	pool := scratch.New(PaddedLen(testEdge), len(list))
	snaps := Capture(list, func(c spatial.ChunkCoord) *chunk.Chunk { return m[c] }, testEdge, 0, pool)
	alive, err := NewStepper(2).Run(snaps, rule)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, c := range list {
		got := c.Next()
		exp := want[c.Coord]
		for j := range exp {
			if got[j] != exp[j] {
				t.Fatalf("chunk %v cell %d: got %#x want %#x", c.Coord, j, got[j], exp[j])
			}
		}
		if alive[i] != cell.CountAlive(exp) {
			t.Fatalf("alive[%d]=%d want %d", i, alive[i], cell.CountAlive(exp))
		}
	}
}

func TestStepperRecoversPanic(t *testing.T) {
	c := chunk.New(spatial.ChunkCoord{}, testEdge)
	snap := &Snapshot{Chunk: c, edge: testEdge}
	if _, err := NewStepper(1).Run([]*Snapshot{snap}, cell.DefaultRule()); err == nil {
		t.Fatalf("expected error from panicking worker")
	}
}
