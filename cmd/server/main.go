package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/sync/errgroup"

	"voxelsim.ai/internal/persistence/indexdb"
	persistlog "voxelsim.ai/internal/persistence/log"
	"voxelsim.ai/internal/persistence/snapshot"
	"voxelsim.ai/internal/sim/engine"
	"voxelsim.ai/internal/sim/origin"
	"voxelsim.ai/internal/sim/tuning"
	"voxelsim.ai/internal/transport/observer"
	"voxelsim.ai/internal/transport/queryhttp"
)

const spawnID = "spawn"

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldFlag  = flag.String("world", "", "world id (default: world_id from config)")
		configPath = flag.String("config", "./configs/sim.yaml", "simulation config path")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read-model index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load config: %v", err)
		}
		logger.Printf("config not found (%s); using defaults", *configPath)
		tune = tuning.Defaults()
	}
	if w := strings.TrimSpace(*worldFlag); w != "" {
		tune.WorldID = w
	}
	cfg, err := tune.EngineConfig()
	if err != nil {
		logger.Fatalf("engine config: %v", err)
	}

	worldDir := filepath.Join(*dataDir, "worlds", cfg.WorldID)
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	chunks, err := openChunkStore(worldDir)
	if err != nil {
		logger.Fatalf("open chunk store: %v", err)
	}
	defer chunks.Close()

	idx, err := openRuntimeIndex(worldDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertConfig("sim", tune); err != nil {
			logger.Printf("index config: %v", err)
		}
	}

	eng := engine.New(cfg, chunks.store, log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lmicroseconds))
	defer eng.Close()

	snapDir := filepath.Join(worldDir, "snapshots")
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		if p, _, err := snapshot.Latest(snapDir); err == nil {
			snapshotToLoad = p
		}
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.WorldID != cfg.WorldID {
			logger.Fatalf("snapshot world id mismatch: config=%s snap=%s", cfg.WorldID, snap.Header.WorldID)
		}
		if err := eng.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d chunks=%d", filepath.Base(snapshotToLoad), eng.Tick(), len(snap.Chunks))
	}
	if _, ok := eng.FocusCoord(); !ok {
		spawn := spawnCell(tune)
		eng.Origin().Track(spawnID, spawn, mgl32.Vec3{})
		_ = eng.Origin().SetReference(spawnID)
		eng.Focus(origin.ChunkOf(spawn, cfg.Edge))
		logger.Printf("fresh world=%s seed=%d spawn=%v", cfg.WorldID, cfg.Seed, spawn)
	}

	tickLog := persistlog.NewTickLogger(worldDir)
	defer tickLog.Close()
	if idx != nil {
		eng.SetTickLogger(persistlog.Multi{tickLog, idx})
	} else {
		eng.SetTickLogger(tickLog)
	}

	snapCh := make(chan snapshot.WorldSnapshotV1, 2)
	eng.SetSnapshotSink(snapCh)

	ctx, cancel := signalContext()
	defer cancel()

	hub := observer.NewHub(eng, envInt("VC_OBSERVER_RING", 4096), logger)
	obsSrv := observer.NewServer(hub, logger)
	obsSrv.AllowRemote = envBool("VC_OBSERVER_ALLOW_REMOTE", false)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		s := metricsSnapshot{
			WorldID: cfg.WorldID,
			Engine:  eng.Metrics(),
			Hub:     hub.Stats(),
			Index:   idx.Stats(),
		}
		if chunks.sqlite != nil {
			if st, err := chunks.sqlite.Stats(r.Context()); err == nil {
				s.Chunks = &st
			}
		}
		writeMetrics(rw, s)
	})
	mux.HandleFunc("/observer/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/observer/ws", obsSrv.WSHandler())
	queryhttp.NewServer(eng, logger).Register(mux)

	if envBool("VC_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		registerAdmin(mux, eng)
	} else {
		logger.Printf("admin endpoints disabled (VC_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("VC_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case snap := <-snapCh:
				writeSnapshot(logger, idx, snapDir, snap)
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	g.Go(func() error {
		logger.Printf("listening on %s world=%s edge=%d rule=%s", *addr, cfg.WorldID, cfg.Edge, cfg.Rule)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("shutdown: %v", err)
	}

	// Final snapshot so a restart resumes where this run stopped.
	writeSnapshot(logger, idx, snapDir, eng.ExportSnapshot())
	eng.Streamer().Flush()
	logger.Printf("stopped at tick=%d", eng.Tick())
}

func writeSnapshot(logger *log.Logger, idx *indexdb.SQLiteIndex, dir string, snap snapshot.WorldSnapshotV1) {
	path := filepath.Join(dir, snapshot.FileName(snap.Header.Tick))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		logger.Printf("snapshot write: %v", err)
		return
	}
	idx.RecordSnapshot(path, snap)
	logger.Printf("snapshot tick=%d chunks=%d", snap.Header.Tick, len(snap.Chunks))
}

// spawnCell is the surface cell above the planet centre, or the world origin when the
// planet generator is off.
func spawnCell(t tuning.Sim) [3]int64 {
	if !t.Planet.Enabled {
		return [3]int64{}
	}
	c := t.Planet.Center
	return [3]int64{c[0], c[1] + t.Planet.Radius, c[2]}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
