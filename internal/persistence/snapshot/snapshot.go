package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

// WorldSnapshotV1 captures everything needed to resume or replay a simulation.
type WorldSnapshotV1 struct {
	Header Header `json:"header"`

	Seed        int64  `json:"seed"`
	Edge        int    `json:"edge"`
	Rule        string `json:"rule"`
	StepNS      int64  `json:"step_ns"`
	Accumulator int64  `json:"accumulator_ns"`

	Budget BudgetV1  `json:"budget"`
	Origin OriginV1  `json:"origin"`
	Focus  *[3]int32 `json:"focus,omitempty"`

	Chunks []ChunkV1 `json:"chunks"`
}

type BudgetV1 struct {
	EWMA   float64 `json:"ewma_ns"`
	Seeded bool    `json:"seeded"`
	Factor float64 `json:"factor"`
}

type OriginV1 struct {
	Origin  [3]int64   `json:"origin"`
	Epoch   uint64     `json:"epoch"`
	Ref     string     `json:"ref,omitempty"`
	Objects []ObjectV1 `json:"objects,omitempty"`
}

type ObjectV1 struct {
	ID   string     `json:"id"`
	Abs  [3]int64   `json:"abs"`
	Frac [3]float32 `json:"frac"`
}

type ChunkV1 struct {
	Coord    [3]int32 `json:"coord"`
	LastTick uint64   `json:"last_tick"`
	Settled  bool     `json:"settled,omitempty"`
	Cells    []uint16 `json:"cells"`
}

func WriteSnapshot(path string, snap WorldSnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := write(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func write(f *os.File, snap WorldSnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (WorldSnapshotV1, error) {
	var snap WorldSnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line is a convenience for tools; gob carries it too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot version %d unsupported", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader reads only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, err
	}
	err = json.Unmarshal(line, &h)
	return h, err
}

// FileName is the snapshot file name for tick.
func FileName(tick uint64) string {
	return fmt.Sprintf("%d.snap.zst", tick)
}

// Latest returns the path of the highest-tick snapshot in dir.
func Latest(dir string) (string, uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, err
	}
	var ticks []uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		t, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		ticks = append(ticks, t)
	}
	if len(ticks) == 0 {
		return "", 0, errors.New("no snapshots")
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	t := ticks[len(ticks)-1]
	return filepath.Join(dir, FileName(t)), t, nil
}
