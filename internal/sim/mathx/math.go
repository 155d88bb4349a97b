package mathx

import "math"

// Integer covers the signed index types used for grid and chunk addressing.
type Integer interface {
	~int | ~int32 | ~int64
}

// FloorDiv rounds toward negative infinity. b must be > 0.
func FloorDiv[T Integer](a, b T) T {
	q := a / b
	if r := a % b; r < 0 {
		q--
	}
	return q
}

// Mod returns a non-negative remainder. b must be > 0.
func Mod[T Integer](a, b T) T {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func Abs[T Integer](x T) T {
	if x < 0 {
		return -x
	}
	return x
}

func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Hash3 is a stateless deterministic hash of a seeded 3D cell address.
func Hash3(seed int64, x, y, z int64) uint64 {
	v := uint64(seed) ^ (uint64(x) * 0x9e3779b97f4a7c15) ^ (uint64(y) * 0xc2b2ae3d27d4eb4f) ^ (uint64(z) * 0xbf58476d1ce4e5b9)
	return mix64(v)
}
