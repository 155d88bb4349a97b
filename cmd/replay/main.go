package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"voxelsim.ai/internal/persistence/indexdb"
	persistlog "voxelsim.ai/internal/persistence/log"
	"voxelsim.ai/internal/persistence/snapshot"
	"voxelsim.ai/internal/sim/engine"
	"voxelsim.ai/internal/sim/stream"
	"voxelsim.ai/internal/sim/tuning"
)

func main() {
	var (
		dataDir    = flag.String("data", "./data", "runtime data directory")
		worldFlag  = flag.String("world", "", "world id (default: world_id from config)")
		configPath = flag.String("config", "./configs/sim.yaml", "simulation config path")
		snapPath   = flag.String("snapshot", "", "path to .snap.zst (default: latest)")
		ticksDir   = flag.String("ticks", "", "tick log dir (default: <world>/ticks)")
		chunksPath = flag.String("chunks", "", "chunk store: .sqlite file or directory (default: <world>/chunks)")
		fromTick   = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
		verbose    = flag.Bool("v", false, "log engine output")
	)
	flag.Parse()

	tune, err := tuning.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	if w := strings.TrimSpace(*worldFlag); w != "" {
		tune.WorldID = w
	}
	cfg, err := tune.EngineConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "engine config:", err)
		os.Exit(1)
	}
	worldDir := filepath.Join(*dataDir, "worlds", cfg.WorldID)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		path, _, err = snapshot.Latest(filepath.Join(worldDir, "snapshots"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "find snapshot:", err)
			os.Exit(2)
		}
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d world=%s tick=%d seed=%d edge=%d rule=%s chunks=%d objects=%d\n",
		snap.Header.Version, snap.Header.WorldID, snap.Header.Tick, snap.Seed, snap.Edge, snap.Rule,
		len(snap.Chunks), len(snap.Origin.Objects))

	base, closeBase, err := openBase(worldDir, *chunksPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open chunk store:", err)
		os.Exit(1)
	}
	defer closeBase()

	var tick atomic.Uint64
	guard := &asOfStore{Store: base, tick: &tick}
	var logger *log.Logger
	if *verbose {
		logger = log.New(os.Stderr, "[replay] ", log.LstdFlags|log.Lmicroseconds)
	}
	eng := engine.New(cfg, stream.Overlay{Top: stream.NewMemStore(), Base: guard}, logger)
	defer eng.Close()
	if err := eng.ImportSnapshot(snap); err != nil {
		fmt.Fprintln(os.Stderr, "import snapshot:", err)
		os.Exit(1)
	}
	eng.ClearFocus()

	dir := strings.TrimSpace(*ticksDir)
	if dir == "" {
		dir = persistlog.TickDir(worldDir)
	}
	files, err := persistlog.ListTickFiles(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list tick files:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no tick files found in", dir)
		os.Exit(1)
	}

	st, err := replayTicks(eng, files, replayOpts{VerifyFrom: *fromTick, ToTick: *toTick, Tick: &tick})
	if future := guard.Future(); len(future) > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d chunk(s) loaded from payloads newer than the replay tick, first=%v\n", len(future), future[0])
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: applied=%d checked=%d last_tick=%d (from snapshot tick=%d)\n", st.Applied, st.Checked, st.Last, snap.Header.Tick)
}

func openBase(worldDir, p string) (stream.Store, func(), error) {
	if p == "" {
		p = filepath.Join(worldDir, "chunks", "chunks.sqlite")
		if _, err := os.Stat(p); err != nil {
			p = filepath.Join(worldDir, "chunks")
		}
	}
	if strings.HasSuffix(p, ".sqlite") {
		cs, err := indexdb.OpenChunkStore(p)
		if err != nil {
			return nil, nil, err
		}
		return cs, func() { _ = cs.Close() }, nil
	}
	fs, err := stream.NewFileStore(p)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}
