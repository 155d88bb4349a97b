package budget

import (
	"voxelsim.ai/internal/sim/mathx"
	"voxelsim.ai/internal/sim/spatial"
)

type ShellPolicy string

const (
	// ShellParity assigns (x+y+z) mod K; K=2 is a checkerboard.
	ShellParity ShellPolicy = "parity"
	// ShellLatitude assigns floor(y/band) mod K.
	ShellLatitude ShellPolicy = "latitude"
)

// ShellOf returns the shell of coord in [0, k).
func ShellOf(policy ShellPolicy, coord spatial.ChunkCoord, k int, band int32) int {
	if k <= 1 {
		return 0
	}
	kk := int64(k)
	switch policy {
	case ShellLatitude:
		if band <= 0 {
			band = 1
		}
		return int(mathx.Mod(int64(mathx.FloorDiv(coord.Y, band)), kk))
	default:
		return int(mathx.Mod(int64(coord.X)+int64(coord.Y)+int64(coord.Z), kk))
	}
}

// Scheduled reports whether coord steps on tick. It depends only on its arguments, so a
// logged K per tick reproduces the schedule on replay.
func Scheduled(policy ShellPolicy, tick uint64, coord spatial.ChunkCoord, k int, band int32) bool {
	if k <= 1 {
		return true
	}
	return ShellOf(policy, coord, k, band) == int(tick%uint64(k))
}

// Scheduled applies the controller's policy and current shell count.
func (c *Controller) Scheduled(tick uint64, coord spatial.ChunkCoord) bool {
	return Scheduled(c.cfg.ShellPolicy, tick, coord, c.Shells(), c.cfg.LatitudeBand)
}
