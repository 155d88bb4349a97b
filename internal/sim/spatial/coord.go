package spatial

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfRange   = errors.New("spatial: coordinate out of range")
	ErrInvalidQuery = errors.New("spatial: invalid query")
)

// ChunkCoord is an integer chunk-grid coordinate. Chunk c covers [c, c+1) in chunk units.
type ChunkCoord struct {
	X, Y, Z int32
}

func (c ChunkCoord) String() string { return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z) }

func (c ChunkCoord) Add(dx, dy, dz int32) ChunkCoord {
	return ChunkCoord{X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz}
}

// Chebyshev returns the L-infinity distance between two coordinates.
func Chebyshev(a, b ChunkCoord) int64 {
	d := absDiff(a.X, b.X)
	if v := absDiff(a.Y, b.Y); v > d {
		d = v
	}
	if v := absDiff(a.Z, b.Z); v > d {
		d = v
	}
	return d
}

func absDiff(a, b int32) int64 {
	d := int64(a) - int64(b)
	if d < 0 {
		return -d
	}
	return d
}

// Handle addresses a slot in an index-based arena. Gen is bumped each time the slot is reused.
type Handle struct {
	Index uint32
	Gen   uint32
}

func (h Handle) String() string { return fmt.Sprintf("%d@%d", h.Index, h.Gen) }
