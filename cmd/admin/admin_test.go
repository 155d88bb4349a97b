package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"voxelsim.ai/internal/persistence/indexdb"
	"voxelsim.ai/internal/persistence/snapshot"
	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/engine"
	"voxelsim.ai/internal/sim/spatial"
)

func chunkV1(x, y, z int32, fill uint16) snapshot.ChunkV1 {
	cells := make([]uint16, 8)
	for i := range cells {
		cells[i] = fill
	}
	return snapshot.ChunkV1{Coord: [3]int32{x, y, z}, Cells: cells, Settled: true}
}

func TestRollbackChunks(t *testing.T) {
	src := snapshot.WorldSnapshotV1{Chunks: []snapshot.ChunkV1{
		chunkV1(0, 0, 0, 1),
		chunkV1(1, 0, 0, 1),
		chunkV1(5, 5, 5, 1),
	}}
	dst := snapshot.WorldSnapshotV1{Chunks: []snapshot.ChunkV1{
		chunkV1(0, 0, 0, 2),
		chunkV1(0, 1, 0, 2),
		chunkV1(9, 9, 9, 2),
	}}
	res := rollbackChunks(&dst, src, [3]int32{0, 0, 0}, [3]int32{1, 1, 1})
	if res != (rollbackResult{Replaced: 1, Added: 1, Removed: 1}) {
		t.Fatalf("res=%+v", res)
	}
	got := map[[3]int32]snapshot.ChunkV1{}
	for _, c := range dst.Chunks {
		got[c.Coord] = c
	}
	if len(got) != 3 {
		t.Fatalf("chunks=%v", dst.Chunks)
	}
	if c := got[[3]int32{0, 0, 0}]; c.Cells[0] != 1 || c.Settled {
		t.Fatalf("origin chunk=%+v", c)
	}
	if _, ok := got[[3]int32{1, 0, 0}]; !ok {
		t.Fatalf("chunk missing from target was not added")
	}
	if c := got[[3]int32{9, 9, 9}]; c.Cells[0] != 2 || !c.Settled {
		t.Fatalf("chunk outside box modified: %+v", c)
	}
	if _, ok := got[[3]int32{5, 5, 5}]; ok {
		t.Fatalf("chunk outside box copied from source")
	}
	for i := 1; i < len(dst.Chunks); i++ {
		a, b := dst.Chunks[i-1].Coord, dst.Chunks[i].Coord
		if spatial.EncodeMorton(spatial.ChunkCoord{X: a[0], Y: a[1], Z: a[2]}) >= spatial.EncodeMorton(spatial.ChunkCoord{X: b[0], Y: b[1], Z: b[2]}) {
			t.Fatalf("chunks not in Morton order: %v", dst.Chunks)
		}
	}
	src.Chunks[0].Cells[0] = 7
	if got[[3]int32{0, 0, 0}].Cells[0] != 1 {
		t.Fatalf("restored cells alias the source")
	}
}

func TestParseBox(t *testing.T) {
	min, max, err := parseBox("3,-1,0:1,2,0")
	if err != nil {
		t.Fatal(err)
	}
	if min != [3]int32{1, -1, 0} || max != [3]int32{3, 2, 0} {
		t.Fatalf("min=%v max=%v", min, max)
	}
	for _, bad := range []string{"", "1,2,3", "1,2:3,4,5", "a,b,c:1,2,3"} {
		if _, _, err := parseBox(bad); err == nil {
			t.Fatalf("parseBox(%q) accepted", bad)
		}
	}
}

func TestSummarize(t *testing.T) {
	alive := cell.New(1, cell.FlagAutomata).Packed()
	rock := cell.New(2, 0).Packed()
	snap := snapshot.WorldSnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, WorldID: "w", Tick: 9},
		Chunks: []snapshot.ChunkV1{
			{Coord: [3]int32{0, 0, 0}, Cells: []uint16{alive, rock, 0, 0}, Settled: true},
			{Coord: [3]int32{1, 0, 0}, Cells: []uint16{alive, alive, 0, 0}},
		},
	}
	s := summarize("p", snap)
	if s.Chunks != 2 || s.Settled != 1 || s.Alive != 3 || s.Solid != 4 {
		t.Fatalf("summary=%+v", s)
	}
}

func TestRunQuery(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "world.sqlite")
	idx, err := indexdb.OpenSQLite(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	c := spatial.ChunkCoord{X: 2, Y: 0, Z: -1}
	for tick := uint64(1); tick <= 3; tick++ {
		e := engine.TickLogEntry{Tick: tick, Digest: "d", Shells: 1, Factor: 1}
		if tick == 2 {
			e.Boundaries = []engine.Boundary{{
				Loads: []spatial.ChunkCoord{c, {X: 7}},
				Edits: []engine.Edit{{Coord: c, Local: [3]int{1, 1, 1}, Cell: cell.New(1, cell.FlagAutomata)}},
			}}
		}
		_ = idx.WriteTick(e)
	}
	idx.RecordSnapshot("/s/3.snap.zst", snapshot.WorldSnapshotV1{
		Header: snapshot.Header{Tick: 3}, Edge: 32, Rule: "B5/S45",
	})
	if err := idx.UpsertConfig("sim", map[string]any{"chunk_edge": 32}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	lines := func(q dbQuery) []string {
		t.Helper()
		var buf bytes.Buffer
		if err := runQuery(db, q, &buf); err != nil {
			t.Fatalf("runQuery(%s): %v", q.Name, err)
		}
		out := strings.TrimSpace(buf.String())
		if out == "" {
			return nil
		}
		return strings.Split(out, "\n")
	}

	if got := lines(dbQuery{Name: "ticks", Since: 2}); len(got) != 2 {
		t.Fatalf("ticks=%v", got)
	}
	if got := lines(dbQuery{Name: "ops"}); len(got) != 2 {
		t.Fatalf("ops=%v", got)
	}
	if got := lines(dbQuery{Name: "ops", Coord: &[3]int32{2, 0, -1}}); len(got) != 1 || !strings.Contains(got[0], `"op":"load"`) {
		t.Fatalf("filtered ops=%v", got)
	}
	edits := lines(dbQuery{Name: "edits"})
	if len(edits) != 1 {
		t.Fatalf("edits=%v", edits)
	}
	var ed struct {
		Chunk [3]int32 `json:"chunk"`
		Cell  uint16   `json:"cell"`
	}
	if err := json.Unmarshal([]byte(edits[0]), &ed); err != nil || ed.Chunk != [3]int32{2, 0, -1} || ed.Cell != cell.New(1, cell.FlagAutomata).Packed() {
		t.Fatalf("edit=%+v err=%v", ed, err)
	}
	if got := lines(dbQuery{Name: "snapshots"}); len(got) != 1 || !strings.Contains(got[0], `"rule":"B5/S45"`) {
		t.Fatalf("snapshots=%v", got)
	}
	if got := lines(dbQuery{Name: "configs"}); len(got) != 1 || !strings.Contains(got[0], `"chunk_edge":32`) {
		t.Fatalf("configs=%v", got)
	}
	if err := runQuery(db, dbQuery{Name: "nope"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("unknown query accepted")
	}
}
