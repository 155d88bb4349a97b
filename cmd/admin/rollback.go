package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"voxelsim.ai/internal/persistence/snapshot"
	"voxelsim.ai/internal/sim/spatial"
)

// rollbackCmd restores the chunks inside a chunk-coordinate box from an older snapshot
// into a newer one and writes the result as a new snapshot. The server picks it up as
// the latest snapshot on its next start.
func rollbackCmd(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	fromPath := fs.String("from", "", "older snapshot holding the chunks to restore (required)")
	intoPath := fs.String("into", "", "snapshot to patch (optional; defaults to latest)")
	box := fs.String("box", "", "chunk box filter: x1,y1,z1:x2,y2,z2 (required)")
	outPath := fs.String("out", "", "output snapshot path (optional; defaults to <snapshots>/<tick+1>.snap.zst)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*fromPath) == "" {
		fmt.Fprintln(os.Stderr, "missing -from")
		os.Exit(2)
	}
	if strings.TrimSpace(*box) == "" {
		fmt.Fprintln(os.Stderr, "missing -box")
		os.Exit(2)
	}
	min, max, err := parseBox(*box)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -box:", err)
		os.Exit(2)
	}

	into, err := resolveSnapshot(*dataDir, *worldID, *intoPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	dst, err := snapshot.ReadSnapshot(into)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	src, err := snapshot.ReadSnapshot(*fromPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read -from snapshot:", err)
		os.Exit(1)
	}
	if src.Header.WorldID != dst.Header.WorldID || src.Edge != dst.Edge {
		fmt.Fprintf(os.Stderr, "snapshots differ: world %s/%s edge %d/%d\n", src.Header.WorldID, dst.Header.WorldID, src.Edge, dst.Edge)
		os.Exit(2)
	}
	if src.Header.Tick > dst.Header.Tick {
		fmt.Fprintf(os.Stderr, "-from tick %d is newer than target tick %d\n", src.Header.Tick, dst.Header.Tick)
		os.Exit(2)
	}

	res := rollbackChunks(&dst, src, min, max)
	// A distinct tick keeps the patched snapshot from overwriting the original.
	dst.Header.Tick++

	out := strings.TrimSpace(*outPath)
	if out == "" {
		out = filepath.Join(filepath.Dir(into), snapshot.FileName(dst.Header.Tick))
	}
	if err := snapshot.WriteSnapshot(out, dst); err != nil {
		fmt.Fprintln(os.Stderr, "write snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("rollback ok: replaced=%d added=%d removed=%d out=%s\n", res.Replaced, res.Added, res.Removed, out)
}

type rollbackResult struct {
	Replaced int
	Added    int
	Removed  int
}

func inBox(c [3]int32, min, max [3]int32) bool {
	for i := 0; i < 3; i++ {
		if c[i] < min[i] || c[i] > max[i] {
			return false
		}
	}
	return true
}

// rollbackChunks makes the chunk set of dst inside [min,max] equal to that of src. Restored
// chunks are marked unsettled so the engine re-examines their neighbourhood.
func rollbackChunks(dst *snapshot.WorldSnapshotV1, src snapshot.WorldSnapshotV1, min, max [3]int32) rollbackResult {
	var res rollbackResult
	old := map[[3]int32]snapshot.ChunkV1{}
	for _, c := range src.Chunks {
		if inBox(c.Coord, min, max) {
			old[c.Coord] = c
		}
	}

	kept := dst.Chunks[:0]
	for _, c := range dst.Chunks {
		if !inBox(c.Coord, min, max) {
			kept = append(kept, c)
			continue
		}
		o, ok := old[c.Coord]
		if !ok {
			res.Removed++
			continue
		}
		o.Cells = append([]uint16(nil), o.Cells...)
		o.Settled = false
		kept = append(kept, o)
		delete(old, c.Coord)
		res.Replaced++
	}
	for _, o := range old {
		o.Cells = append([]uint16(nil), o.Cells...)
		o.Settled = false
		kept = append(kept, o)
		res.Added++
	}
	sort.Slice(kept, func(i, j int) bool {
		a, b := kept[i].Coord, kept[j].Coord
		return spatial.EncodeMorton(spatial.ChunkCoord{X: a[0], Y: a[1], Z: a[2]}) <
			spatial.EncodeMorton(spatial.ChunkCoord{X: b[0], Y: b[1], Z: b[2]})
	})
	dst.Chunks = kept

	// Chunks near the box may have settled against the replaced state.
	for i := range dst.Chunks {
		c := dst.Chunks[i].Coord
		if inBox(c, [3]int32{min[0] - 1, min[1] - 1, min[2] - 1}, [3]int32{max[0] + 1, max[1] + 1, max[2] + 1}) {
			dst.Chunks[i].Settled = false
		}
	}
	return res
}

func parseBox(s string) (min, max [3]int32, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return min, max, fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	a, err := parseChunk(parts[0])
	if err != nil {
		return min, max, err
	}
	b, err := parseChunk(parts[1])
	if err != nil {
		return min, max, err
	}
	for i := 0; i < 3; i++ {
		min[i], max[i] = a[i], b[i]
		if min[i] > max[i] {
			min[i], max[i] = max[i], min[i]
		}
	}
	return min, max, nil
}
