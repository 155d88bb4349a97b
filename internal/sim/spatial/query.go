package spatial

import (
	"fmt"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

// Box is an inclusive range of chunk coordinates.
type Box struct {
	Min, Max ChunkCoord
}

func (b Box) Validate() error {
	if !InRange(b.Min) || !InRange(b.Max) {
		return fmt.Errorf("%w: box %v..%v outside [%d,%d]", ErrInvalidQuery, b.Min, b.Max, MinCoord, MaxCoord)
	}
	if b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z {
		return fmt.Errorf("%w: inverted box %v..%v", ErrInvalidQuery, b.Min, b.Max)
	}
	return nil
}

func (b Box) Contains(c ChunkCoord) bool {
	return c.X >= b.Min.X && c.X <= b.Max.X &&
		c.Y >= b.Min.Y && c.Y <= b.Max.Y &&
		c.Z >= b.Min.Z && c.Z <= b.Max.Z
}

func (b Box) overlaps(n *Node) bool {
	return overlap1(n.Min.X, n.Size, b.Min.X, b.Max.X) &&
		overlap1(n.Min.Y, n.Size, b.Min.Y, b.Max.Y) &&
		overlap1(n.Min.Z, n.Size, b.Min.Z, b.Max.Z)
}

func overlap1(min, size, lo, hi int32) bool {
	return int64(min) <= int64(hi) && int64(min)+int64(size)-1 >= int64(lo)
}

// Sphere is measured in chunk units; chunk c occupies the cube [c, c+1).
type Sphere struct {
	Center mgl64.Vec3
	Radius float64
}

func (s Sphere) Validate() error {
	if !finiteVec(s.Center) || !inRangeVec(s.Center) {
		return fmt.Errorf("%w: sphere centre %v out of range", ErrInvalidQuery, s.Center)
	}
	if math.IsNaN(s.Radius) || math.IsInf(s.Radius, 0) || s.Radius <= 0 {
		return fmt.Errorf("%w: sphere radius %v", ErrInvalidQuery, s.Radius)
	}
	return nil
}

// Intersects reports whether the sphere touches chunk c's cube.
func (s Sphere) Intersects(c ChunkCoord) bool {
	return s.touches(c, 1)
}

func (s Sphere) touches(min ChunkCoord, size int32) bool {
	d2 := 0.0
	lo := [3]float64{float64(min.X), float64(min.Y), float64(min.Z)}
	for i := 0; i < 3; i++ {
		hi := lo[i] + float64(size)
		v := s.Center[i]
		if v < lo[i] {
			d2 += (lo[i] - v) * (lo[i] - v)
		} else if v > hi {
			d2 += (v - hi) * (v - hi)
		}
	}
	return d2 <= s.Radius*s.Radius
}

// Ray starts at Origin and travels at most MaxDist along Dir, in chunk units.
type Ray struct {
	Origin  mgl64.Vec3
	Dir     mgl64.Vec3
	MaxDist float64
}

func (r Ray) Validate() error {
	if !finiteVec(r.Origin) || !inRangeVec(r.Origin) {
		return fmt.Errorf("%w: ray origin %v out of range", ErrInvalidQuery, r.Origin)
	}
	if !finiteVec(r.Dir) || r.Dir.Len() == 0 {
		return fmt.Errorf("%w: ray direction %v", ErrInvalidQuery, r.Dir)
	}
	if math.IsNaN(r.MaxDist) || math.IsInf(r.MaxDist, 0) || r.MaxDist <= 0 {
		return fmt.Errorf("%w: ray max distance %v", ErrInvalidQuery, r.MaxDist)
	}
	return nil
}

// Enter returns the distance at which the ray enters chunk c's cube.
func (r Ray) Enter(c ChunkCoord) (float64, bool) {
	return r.slab(c, 1, r.Dir.Normalize())
}

func (r Ray) slab(min ChunkCoord, size int32, dir mgl64.Vec3) (float64, bool) {
	tmin, tmax := 0.0, r.MaxDist
	lo := [3]float64{float64(min.X), float64(min.Y), float64(min.Z)}
	for i := 0; i < 3; i++ {
		hi := lo[i] + float64(size)
		o := r.Origin[i]
		if dir[i] == 0 {
			if o < lo[i] || o > hi {
				return 0, false
			}
			continue
		}
		t1 := (lo[i] - o) / dir[i]
		t2 := (hi - o) / dir[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tmin {
			tmin = t1
		}
		if t2 < tmax {
			tmax = t2
		}
		if tmin > tmax {
			return 0, false
		}
	}
	return tmin, true
}

type RayHit struct {
	Coord    ChunkCoord
	Key      MortonKey
	Distance float64
}

func finiteVec(v mgl64.Vec3) bool {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func inRangeVec(v mgl64.Vec3) bool {
	for _, f := range v {
		if f < MinCoord || f > MaxCoord+1 {
			return false
		}
	}
	return true
}

// QueryPoint returns the active chunk containing p, if any.
func (o *Overlay) QueryPoint(p mgl64.Vec3) ([]ChunkCoord, error) {
	if !finiteVec(p) || !inRangeVec(p) {
		return nil, fmt.Errorf("%w: point %v out of range", ErrInvalidQuery, p)
	}
	c := ChunkCoord{
		X: int32(math.Floor(p[0])),
		Y: int32(math.Floor(p[1])),
		Z: int32(math.Floor(p[2])),
	}
	if !InRange(c) || !o.Active(c) {
		return nil, nil
	}
	return []ChunkCoord{c}, nil
}

// QueryBox returns active chunks inside b in ascending Morton order.
func (o *Overlay) QueryBox(b Box) ([]ChunkCoord, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	var out []ChunkCoord
	o.descend(0, b.overlaps, func(c ChunkCoord) bool {
		out = append(out, c)
		return true
	})
	return out, nil
}

// QuerySphere returns active chunks touched by s in ascending Morton order.
func (o *Overlay) QuerySphere(s Sphere) ([]ChunkCoord, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	var out []ChunkCoord
	o.descend(0, func(n *Node) bool { return s.touches(n.Min, n.Size) }, func(c ChunkCoord) bool {
		out = append(out, c)
		return true
	})
	return out, nil
}

// QueryRay returns active chunks crossed by r ordered by entry distance, then Morton key.
func (o *Overlay) QueryRay(r Ray) ([]RayHit, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	dir := r.Dir.Normalize()
	var hits []RayHit
	o.descend(0, func(n *Node) bool {
		_, ok := r.slab(n.Min, n.Size, dir)
		return ok
	}, func(c ChunkCoord) bool {
		t, _ := r.slab(c, 1, dir)
		hits = append(hits, RayHit{Coord: c, Key: EncodeMorton(c), Distance: t})
		return true
	})
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Key < hits[j].Key
	})
	return hits, nil
}
