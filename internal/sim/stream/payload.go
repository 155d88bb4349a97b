package stream

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/encoding"
	"voxelsim.ai/internal/sim/spatial"
)

var (
	ErrNotFound       = errors.New("stream: chunk not found")
	ErrCorruptPayload = errors.New("stream: corrupt chunk payload")
)

const payloadVersion = 1

// MaxEdge bounds the chunk edge a payload may declare.
const MaxEdge = 256

// Largest decompressed payload: header plus a body of one varint pair per cell.
const maxDecodedBytes = 8*MaxEdge*MaxEdge*MaxEdge + 64<<10

// Payload is everything needed to restore an evicted chunk.
type Payload struct {
	Coord       spatial.ChunkCoord
	Tick        uint64
	Accumulator time.Duration
	Edge        int
	Cells       []cell.Cell
}

type header struct {
	Version     int      `json:"version"`
	Coord       [3]int32 `json:"coord"`
	Tick        uint64   `json:"tick"`
	Accumulator int64    `json:"accumulator_ns"`
	Edge        int      `json:"edge"`
	Cells       int      `json:"cells"`
	Digest      string   `json:"digest"`
}

func cellsDigest(cells []cell.Cell) string {
	h := sha256.New()
	var tmp [2]byte
	for _, v := range cells {
		binary.LittleEndian.PutUint16(tmp[:], uint16(v))
		h.Write(tmp[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptPayload, fmt.Sprintf(format, args...))
}

// Encode writes p as a zstd stream: one JSON header line followed by the RLE cell body.
func Encode(w io.Writer, p Payload) error {
	if p.Edge <= 0 || p.Edge > MaxEdge || len(p.Cells) != p.Edge*p.Edge*p.Edge {
		return fmt.Errorf("encode chunk %v: %d cells for edge %d", p.Coord, len(p.Cells), p.Edge)
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(header{
		Version:     payloadVersion,
		Coord:       [3]int32{p.Coord.X, p.Coord.Y, p.Coord.Z},
		Tick:        p.Tick,
		Accumulator: int64(p.Accumulator),
		Edge:        p.Edge,
		Cells:       len(p.Cells),
		Digest:      cellsDigest(p.Cells),
	})
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(encoding.AppendRLE(nil, p.Cells)); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// Decode reads a payload written by Encode. Any structural problem yields ErrCorruptPayload.
func Decode(r io.Reader) (Payload, error) {
	var p Payload
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(maxDecodedBytes))
	if err != nil {
		return p, corrupt("zstd: %v", err)
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return p, corrupt("header: %v", err)
	}
	var h header
	if err := json.Unmarshal(line, &h); err != nil {
		return p, corrupt("header: %v", err)
	}
	if h.Version != payloadVersion {
		return p, corrupt("unsupported version %d", h.Version)
	}
	if h.Edge <= 0 || h.Edge > MaxEdge || h.Cells != h.Edge*h.Edge*h.Edge {
		return p, corrupt("edge %d with %d cells", h.Edge, h.Cells)
	}
	body, err := io.ReadAll(io.LimitReader(br, maxDecodedBytes))
	if err != nil {
		return p, corrupt("body: %v", err)
	}
	// Every run costs at least two body bytes; grow past that only as runs are decoded.
	capHint := h.Cells
	if n := len(body) / 2; n < capHint {
		capHint = n
	}
	cells, err := encoding.DecodeRLE(make([]cell.Cell, 0, capHint), body, h.Cells)
	if err != nil {
		return p, corrupt("body: %v", err)
	}
	if d := cellsDigest(cells); d != h.Digest {
		return p, corrupt("digest mismatch")
	}
	p = Payload{
		Coord:       spatial.ChunkCoord{X: h.Coord[0], Y: h.Coord[1], Z: h.Coord[2]},
		Tick:        h.Tick,
		Accumulator: time.Duration(h.Accumulator),
		Edge:        h.Edge,
		Cells:       cells,
	}
	return p, nil
}

func Marshal(p Payload) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unmarshal(b []byte) (Payload, error) {
	return Decode(bytes.NewReader(b))
}
