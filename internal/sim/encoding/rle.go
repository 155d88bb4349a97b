package encoding

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"voxelsim.ai/internal/sim/cell"
)

// ErrLength is returned when a decoded run sequence does not cover the expected cell count.
var ErrLength = errors.New("rle: length mismatch")

// AppendRLE appends varint pairs (packed_cell, run_len) for cells to dst.
func AppendRLE(dst []byte, cells []cell.Cell) []byte {
	var tmp [binary.MaxVarintLen64]byte
	for i := 0; i < len(cells); {
		c := cells[i]
		run := 1
		for j := i + 1; j < len(cells) && cells[j] == c; j++ {
			run++
		}
		n := binary.PutUvarint(tmp[:], uint64(c))
		dst = append(dst, tmp[:n]...)
		n = binary.PutUvarint(tmp[:], uint64(run))
		dst = append(dst, tmp[:n]...)
		i += run
	}
	return dst
}

// DecodeRLE expands varint pairs into dst. When want > 0 the total run length must equal want.
func DecodeRLE(dst []cell.Cell, raw []byte, want int) ([]cell.Cell, error) {
	dst = dst[:0]
	for i := 0; i < len(raw); {
		v, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if v > 0xFFFF {
			return nil, fmt.Errorf("cell value too large: %d", v)
		}
		if run == 0 {
			return nil, fmt.Errorf("zero run at %d", i)
		}
		if want > 0 && uint64(len(dst))+run > uint64(want) {
			return nil, fmt.Errorf("%w: runs exceed %d cells", ErrLength, want)
		}
		for k := uint64(0); k < run; k++ {
			dst = append(dst, cell.Cell(v))
		}
	}
	if want > 0 && len(dst) != want {
		return nil, fmt.Errorf("%w: got %d cells want %d", ErrLength, len(dst), want)
	}
	return dst, nil
}

// EncodeRLEString is the base64 form used in JSON messages.
func EncodeRLEString(cells []cell.Cell) string {
	return base64.StdEncoding.EncodeToString(AppendRLE(nil, cells))
}

func DecodeRLEString(b64 string, want int) ([]cell.Cell, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	return DecodeRLE(nil, raw, want)
}
