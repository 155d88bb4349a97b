package chunk

import (
	"math"

	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/mathx"
)

// Generator fills a freshly acquired chunk's current buffer.
type Generator interface {
	Generate(c *Chunk)
}

// EmptyGen leaves chunks empty.
type EmptyGen struct{}

func (EmptyGen) Generate(*Chunk) {}

// PlanetGen builds a spherical planet: a static core, a rock crust, and a band of automata
// seeds just above the surface. Output depends only on the fields and the chunk coordinate.
type PlanetGen struct {
	Seed int64

	// Center and radii are absolute cell coordinates.
	Center     [3]int64
	Radius     int64
	CrustDepth int64
	SeedBand   int64

	SeedPermille int

	CoreMaterial uint8
	RockMaterial uint8
	SeedMaterial uint8
}

func (g PlanetGen) Generate(c *Chunk) {
	e := int64(c.Edge())
	ox := int64(c.Coord.X) * e
	oy := int64(c.Coord.Y) * e
	oz := int64(c.Coord.Z) * e

	// Skip chunks whose bounding sphere misses the shell entirely.
	half := float64(e) / 2
	dcx := float64(ox) + half - float64(g.Center[0])
	dcy := float64(oy) + half - float64(g.Center[1])
	dcz := float64(oz) + half - float64(g.Center[2])
	centreDist := math.Sqrt(dcx*dcx + dcy*dcy + dcz*dcz)
	reach := half * math.Sqrt(3)
	if centreDist-reach > float64(g.Radius+g.SeedBand) {
		return
	}

	core := cell.New(g.CoreMaterial, 0)
	rock := cell.New(g.RockMaterial, 0)
	seed := cell.New(g.SeedMaterial, cell.FlagAutomata)
	permille := uint64(clampPermille(g.SeedPermille))

	r := g.Radius
	inner := r - g.CrustDepth
	outer := r + g.SeedBand
	for x := int64(0); x < e; x++ {
		for y := int64(0); y < e; y++ {
			for z := int64(0); z < e; z++ {
				ax, ay, az := ox+x, oy+y, oz+z
				dx, dy, dz := ax-g.Center[0], ay-g.Center[1], az-g.Center[2]
				d2 := dx*dx + dy*dy + dz*dz
				var v cell.Cell
				switch {
				case d2 <= inner*inner && g.CoreMaterial != 0:
					v = core
				case d2 <= r*r:
					v = rock
				case d2 <= outer*outer && permille > 0:
					if mathx.Hash3(g.Seed, ax, ay, az)%1000 < permille {
						v = seed
					}
				}
				if v != 0 {
					c.Set(int(x), int(y), int(z), v)
				}
			}
		}
	}
}

func clampPermille(v int) int {
	if v < 0 {
		return 0
	}
	if v > 1000 {
		return 1000
	}
	return v
}
