package spatial

// MortonKey interleaves the biased x, y and z bits of a ChunkCoord (x lowest).
type MortonKey uint64

const (
	AxisBits = 21
	Bias     = 1 << (AxisBits - 1)

	MinCoord = -Bias
	MaxCoord = Bias - 1

	axisMask = 1<<AxisBits - 1
)

// InRange reports whether every axis of c lies in [MinCoord, MaxCoord].
func InRange(c ChunkCoord) bool {
	return inAxis(c.X) && inAxis(c.Y) && inAxis(c.Z)
}

func inAxis(v int32) bool { return v >= MinCoord && v <= MaxCoord }

// EncodeMorton is a bijection over the supported range. Out-of-range axes are masked, so
// callers must check InRange first.
func EncodeMorton(c ChunkCoord) MortonKey {
	x := uint64(int64(c.X)+Bias) & axisMask
	y := uint64(int64(c.Y)+Bias) & axisMask
	z := uint64(int64(c.Z)+Bias) & axisMask
	return MortonKey(expand3(x) | expand3(y)<<1 | expand3(z)<<2)
}

func DecodeMorton(k MortonKey) ChunkCoord {
	v := uint64(k)
	return ChunkCoord{
		X: int32(int64(compact3(v)) - Bias),
		Y: int32(int64(compact3(v>>1)) - Bias),
		Z: int32(int64(compact3(v>>2)) - Bias),
	}
}

func expand3(n uint64) uint64 {
	n &= axisMask
	n = (n | n<<32) & 0x001f00000000ffff
	n = (n | n<<16) & 0x001f0000ff0000ff
	n = (n | n<<8) & 0x100f00f00f00f00f
	n = (n | n<<4) & 0x10c30c30c30c30c3
	n = (n | n<<2) & 0x1249249249249249
	return n
}

func compact3(n uint64) uint64 {
	n &= 0x1249249249249249
	n = (n ^ n>>2) & 0x10c30c30c30c30c3
	n = (n ^ n>>4) & 0x100f00f00f00f00f
	n = (n ^ n>>8) & 0x001f0000ff0000ff
	n = (n ^ n>>16) & 0x001f00000000ffff
	n = (n ^ n>>32) & axisMask
	return n
}
