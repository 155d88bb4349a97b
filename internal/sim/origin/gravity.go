package origin

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"

	"voxelsim.ai/internal/sim/spatial"
)

// Gravity configures the pull toward the planet centre plus an optional local mass bias.
type Gravity struct {
	Center    [3]int64
	ChunkEdge int
	// MassRadius is the Chebyshev radius in chunks sampled for local mass.
	MassRadius int32
	// MassWeight scales the local mass term against the unit planet pull.
	MassWeight float64
}

// GravityDirection returns a unit vector for a body at abs. Work is done in float64 so
// planet-scale offsets keep their precision. A zero vector is returned at the exact centre.
func GravityDirection(abs [3]int64, g Gravity, mass func(spatial.ChunkCoord) float64) mgl32.Vec3 {
	pos := mgl64.Vec3{float64(abs[0]) + 0.5, float64(abs[1]) + 0.5, float64(abs[2]) + 0.5}
	toCentre := mgl64.Vec3{float64(g.Center[0]), float64(g.Center[1]), float64(g.Center[2])}.Sub(pos)

	var pull mgl64.Vec3
	if l := toCentre.Len(); l > 0 {
		pull = toCentre.Mul(1 / l)
	}
	if mass != nil && g.MassWeight != 0 && g.ChunkEdge > 0 {
		edge := float64(g.ChunkEdge)
		home := ChunkOf(abs, g.ChunkEdge)
		var local mgl64.Vec3
		r := g.MassRadius
		for dx := -r; dx <= r; dx++ {
			for dy := -r; dy <= r; dy++ {
				for dz := -r; dz <= r; dz++ {
					c := home.Add(dx, dy, dz)
					w := mass(c)
					if w == 0 {
						continue
					}
					centre := mgl64.Vec3{
						(float64(c.X) + 0.5) * edge,
						(float64(c.Y) + 0.5) * edge,
						(float64(c.Z) + 0.5) * edge,
					}
					d := centre.Sub(pos)
					l := d.Len()
					if l < 1 {
						continue
					}
					local = local.Add(d.Mul(w / (l * l * l)))
				}
			}
		}
		pull = pull.Add(local.Mul(g.MassWeight))
	}
	if pull.Len() == 0 {
		return mgl32.Vec3{}
	}
	n := pull.Normalize()
	return mgl32.Vec3{float32(n[0]), float32(n[1]), float32(n[2])}
}
