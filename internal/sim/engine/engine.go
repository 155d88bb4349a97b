package engine

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"voxelsim.ai/internal/persistence/snapshot"
	"voxelsim.ai/internal/sim/budget"
	"voxelsim.ai/internal/sim/cell"
	"voxelsim.ai/internal/sim/chunk"
	"voxelsim.ai/internal/sim/clock"
	"voxelsim.ai/internal/sim/origin"
	"voxelsim.ai/internal/sim/scratch"
	"voxelsim.ai/internal/sim/spatial"
	"voxelsim.ai/internal/sim/step"
	"voxelsim.ai/internal/sim/stream"
)

type Config struct {
	WorldID string
	Seed    int64

	Edge  int
	Rule  cell.Rule
	Inert cell.Cell

	Step             time.Duration
	MaxStepsPerFrame int
	TickRateHz       int
	Workers          int

	Budget budget.Config
	Stream stream.Config

	Gen      chunk.Generator
	CellSize float32
	Gravity  origin.Gravity
	// MaterialMass weights solid cells for ChunkMass. Nil counts every solid cell as 1.
	MaterialMass func(material uint8) float64

	EventBuffer        int
	SnapshotEveryTicks int
}

func (c *Config) applyDefaults() {
	if c.Edge <= 0 {
		c.Edge = chunk.DefaultEdge
	}
	if c.Rule.Birth() == nil && c.Rule.Survive() == nil {
		c.Rule = cell.DefaultRule()
	}
	if c.Step <= 0 {
		c.Step = clock.FixedStep
	}
	if c.MaxStepsPerFrame <= 0 {
		c.MaxStepsPerFrame = clock.DefaultMaxStepsPerFrame
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 60
	}
	if c.Gen == nil {
		c.Gen = chunk.EmptyGen{}
	}
	if c.CellSize <= 0 {
		c.CellSize = 1
	}
	if c.Gravity.ChunkEdge <= 0 {
		c.Gravity.ChunkEdge = c.Edge
	}
	if c.MaterialMass == nil {
		c.MaterialMass = func(uint8) float64 { return 1 }
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 1024
	}
}

// TickLogger receives one entry per committed tick.
type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// Engine owns all simulation state. Frame, StepOnce and the boundary operations must be
// called from one goroutine; read accessors are safe from any goroutine.
type Engine struct {
	cfg    Config
	logger *log.Logger

	clock    *clock.Clock
	ctrl     *budget.Controller
	index    *spatial.Index
	reg      *chunk.Registry
	origin   *origin.Manager
	streamer *stream.Streamer
	stepper  *step.Stepper
	pool     *scratch.Pool

	phase atomic.Uint32

	// state guards chunk buffers and the registry against readers during swaps and
	// boundary work.
	state sync.RWMutex

	mu         sync.Mutex
	edits      []Edit
	loadReq    []spatial.ChunkCoord
	evictReq   []spatial.ChunkCoord
	focus      *spatial.ChunkCoord
	boundaries []Boundary
	snapReq    []chan uint64
	stopOnce   sync.Once
	stop       chan struct{}

	events events

	tickLogger   TickLogger
	snapshotSink chan<- snapshot.WorldSnapshotV1

	metrics       atomic.Value // Metrics
	lastFrameCost time.Duration
}

func New(cfg Config, store stream.Store, logger *log.Logger) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		clock:    clock.New(cfg.Step),
		ctrl:     budget.New(cfg.Budget),
		index:    spatial.NewIndex(logger),
		reg:      chunk.NewRegistry(cfg.Edge),
		origin:   origin.NewManager(cfg.CellSize),
		streamer: stream.NewStreamer(cfg.Stream, store, logger),
		stepper:  step.NewStepper(cfg.Workers),
		pool:     scratch.New(step.PaddedLen(cfg.Edge), 0),
		stop:     make(chan struct{}),
	}
	e.clock.MaxStepsPerFrame = cfg.MaxStepsPerFrame
	e.events.init(cfg.EventBuffer)
	e.metrics.Store(Metrics{})
	return e
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

func (e *Engine) Config() Config                 { return e.cfg }
func (e *Engine) Rule() cell.Rule                { return e.cfg.Rule }
func (e *Engine) Edge() int                      { return e.cfg.Edge }
func (e *Engine) Origin() *origin.Manager        { return e.origin }
func (e *Engine) Index() *spatial.Index          { return e.index }
func (e *Engine) Streamer() *stream.Streamer     { return e.streamer }
func (e *Engine) Controller() *budget.Controller { return e.ctrl }

func (e *Engine) Phase() clock.Phase { return clock.Phase(e.phase.Load()) }

func (e *Engine) setPhase(p clock.Phase) {
	e.phase.Store(uint32(p))
	e.index.SetPhase(p)
}

// Tick is the number of committed ticks.
func (e *Engine) Tick() uint64 {
	e.state.RLock()
	defer e.state.RUnlock()
	return e.clock.Tick()
}

func (e *Engine) SetTickLogger(l TickLogger) { e.tickLogger = l }

// SetSnapshotSink enables periodic world snapshots. Sends never block the tick loop.
func (e *Engine) SetSnapshotSink(ch chan<- snapshot.WorldSnapshotV1) { e.snapshotSink = ch }

// Reset drops every chunk and returns clock and controller to their initial state.
func (e *Engine) Reset() {
	e.state.Lock()
	defer e.state.Unlock()
	coords, _ := e.index.Coords()
	for _, c := range coords {
		if h, ok := e.index.Remove(c); ok {
			e.reg.Release(h)
		}
	}
	e.clock.Reset()
	e.ctrl.Reset()
	e.mu.Lock()
	e.edits = nil
	e.loadReq = nil
	e.evictReq = nil
	e.boundaries = nil
	e.mu.Unlock()
}

// Close waits for background streaming work.
func (e *Engine) Close() {
	e.streamer.Close()
}

func (e *Engine) chunkAt(c spatial.ChunkCoord) *chunk.Chunk {
	h, ok := e.index.Lookup(c)
	if !ok {
		return nil
	}
	return e.reg.Get(h)
}
