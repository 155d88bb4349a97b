package cell

// Cell packs a palette material (low byte) and flag bits (high byte).
type Cell uint16

// Flag bits stored in the high byte.
const (
	FlagAutomata uint8 = 0x01
)

func New(material, flags uint8) Cell {
	return Cell(uint16(flags)<<8 | uint16(material))
}

func (c Cell) Material() uint8 { return uint8(c & 0x00FF) }
func (c Cell) Flags() uint8    { return uint8(c >> 8) }
func (c Cell) IsEmpty() bool   { return c == 0 }
func (c Cell) IsSolid() bool   { return c.Material() != 0 }

// IsAlive reports whether the cell participates in the automaton.
func (c Cell) IsAlive() bool {
	return c.Flags()&FlagAutomata != 0 && c.IsSolid()
}

// IsStatic reports solid geometry the rule never touches.
func (c Cell) IsStatic() bool {
	return c.IsSolid() && !c.IsAlive()
}

func (c Cell) WithMaterial(material uint8) Cell { return New(material, c.Flags()) }
func (c Cell) WithFlags(flags uint8) Cell       { return New(c.Material(), flags) }

// Packed returns the raw 16-bit representation handed to renderers and persistence.
func (c Cell) Packed() uint16 { return uint16(c) }

func FromPacked(v uint16) Cell { return Cell(v) }

// Pack converts a cell slice into its packed form. dst is reused when large enough.
func Pack(dst []uint16, src []Cell) []uint16 {
	if cap(dst) < len(src) {
		dst = make([]uint16, len(src))
	}
	dst = dst[:len(src)]
	for i, c := range src {
		dst[i] = uint16(c)
	}
	return dst
}

// Unpack is the inverse of Pack.
func Unpack(dst []Cell, src []uint16) []Cell {
	if cap(dst) < len(src) {
		dst = make([]Cell, len(src))
	}
	dst = dst[:len(src)]
	for i, v := range src {
		dst[i] = Cell(v)
	}
	return dst
}

// CountAlive returns the number of alive cells in buf.
func CountAlive(buf []Cell) int {
	n := 0
	for _, c := range buf {
		if c.IsAlive() {
			n++
		}
	}
	return n
}
