package main

import (
	"strings"
	"sync/atomic"
	"testing"

	persistlog "voxelsim.ai/internal/persistence/log"
	"voxelsim.ai/internal/sim/budget"
	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/chunk"
	"voxelsim.ai/internal/sim/engine"
	"voxelsim.ai/internal/sim/spatial"
	"voxelsim.ai/internal/sim/stream"
)

func replayConfig() engine.Config {
	return engine.Config{
		WorldID: "replay",
		Edge:    4,
		Workers: 2,
		Budget:  budget.Config{MinFactor: 1, MaxFactor: 1},
		Gen: chunk.PlanetGen{
			Seed:         3,
			Radius:       5,
			CrustDepth:   2,
			SeedBand:     3,
			SeedPermille: 300,
			CoreMaterial: 3,
			RockMaterial: 2,
			SeedMaterial: 1,
		},
	}
}

// record runs a short session with loads, edits and an evict-reload cycle and returns
// the starting snapshot's engine state plus the tick log directory.
func record(t *testing.T) (snapEngine func(store stream.Store) *engine.Engine, worldDir string, last uint64) {
	t.Helper()
	worldDir = t.TempDir()
	a := engine.New(replayConfig(), stream.NewMemStore(), nil)
	t.Cleanup(a.Close)
	start := a.ExportSnapshot()

	tl := persistlog.NewTickLogger(worldDir)
	a.SetTickLogger(tl)

	for x := int32(-2); x <= 1; x++ {
		for y := int32(-2); y <= 1; y++ {
			for z := int32(-2); z <= 1; z++ {
				if err := a.LoadChunk(spatial.ChunkCoord{X: x, Y: y, Z: z}); err != nil {
					t.Fatal(err)
				}
			}
		}
	}
	for i := 0; i < 10; i++ {
		switch i {
		case 2:
			if err := a.Edit(spatial.ChunkCoord{}, [3]int{0, 0, 0}, cell.New(1, cell.FlagAutomata)); err != nil {
				t.Fatal(err)
			}
		case 4:
			a.EvictChunk(spatial.ChunkCoord{X: 0, Y: 1, Z: 0})
		case 6:
			if err := a.LoadChunk(spatial.ChunkCoord{X: 0, Y: 1, Z: 0}); err != nil {
				t.Fatal(err)
			}
		}
		shells := 1
		if i%3 == 2 {
			shells = 2
		}
		if _, err := a.StepScheduled(shells); err != nil {
			t.Fatal(err)
		}
	}
	if err := tl.Close(); err != nil {
		t.Fatal(err)
	}
	last = a.Tick()

	snapEngine = func(store stream.Store) *engine.Engine {
		b := engine.New(replayConfig(), store, nil)
		t.Cleanup(b.Close)
		if err := b.ImportSnapshot(start); err != nil {
			t.Fatalf("ImportSnapshot: %v", err)
		}
		b.ClearFocus()
		return b
	}
	return snapEngine, worldDir, last
}

func TestReplayReproducesDigests(t *testing.T) {
	newEngine, worldDir, last := record(t)
	files, err := persistlog.ListTickFiles(persistlog.TickDir(worldDir))
	if err != nil || len(files) == 0 {
		t.Fatalf("files=%v err=%v", files, err)
	}

	var tick atomic.Uint64
	guard := &asOfStore{Store: stream.NewMemStore(), tick: &tick}
	b := newEngine(stream.Overlay{Top: stream.NewMemStore(), Base: guard})
	st, err := replayTicks(b, files, replayOpts{Tick: &tick})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if st.Applied != last || st.Checked != last || st.Last != last {
		t.Fatalf("stats=%+v want %d ticks", st, last)
	}
	if len(guard.Future()) != 0 {
		t.Fatalf("unexpected future loads %v", guard.Future())
	}

	b2 := newEngine(stream.Overlay{Top: stream.NewMemStore(), Base: stream.NewMemStore()})
	st, err = replayTicks(b2, files, replayOpts{VerifyFrom: 5, ToTick: 7})
	if err != nil {
		t.Fatalf("partial replay: %v", err)
	}
	if st.Applied != 7 || st.Checked != 3 {
		t.Fatalf("partial stats=%+v", st)
	}
}

func TestReplayDetectsDivergence(t *testing.T) {
	newEngine, worldDir, _ := record(t)
	files, err := persistlog.ListTickFiles(persistlog.TickDir(worldDir))
	if err != nil {
		t.Fatal(err)
	}

	// Re-log the session with one edit dropped.
	tamperedDir := t.TempDir()
	tl := persistlog.NewTickLogger(tamperedDir)
	err = persistlog.ReadTicks(files, func(e engine.TickLogEntry) error {
		for i := range e.Boundaries {
			e.Boundaries[i].Edits = nil
		}
		return tl.WriteTick(e)
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := tl.Close(); err != nil {
		t.Fatal(err)
	}
	tampered, err := persistlog.ListTickFiles(persistlog.TickDir(tamperedDir))
	if err != nil {
		t.Fatal(err)
	}

	b := newEngine(stream.Overlay{Top: stream.NewMemStore(), Base: stream.NewMemStore()})
	_, err = replayTicks(b, tampered, replayOpts{})
	if err == nil || !strings.Contains(err.Error(), "digest mismatch at tick 3") {
		t.Fatalf("err=%v, want digest mismatch at tick 3", err)
	}
}
