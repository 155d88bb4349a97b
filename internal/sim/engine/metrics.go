package engine

import (
	"voxelsim.ai/internal/sim/scratch"
	"voxelsim.ai/internal/sim/stream"
)

type Metrics struct {
	Tick    uint64
	StepMS  float64
	EWMAMS  float64
	Factor  float64
	Shells  int
	Stepped int
	Skipped int
	Changed int

	ResidentChunks int
	ActiveChunks   int
	OverlayNodes   int
	IndexVersion   uint64

	DroppedMS     float64
	EventsDropped uint64

	Pool   scratch.Stats
	Stream stream.Stats
}

func (e *Engine) updateMetrics(tr TickResult) {
	ov := e.index.OverlayStats()
	e.metrics.Store(Metrics{
		Tick:           tr.Tick,
		StepMS:         float64(tr.Cost.Microseconds()) / 1000.0,
		EWMAMS:         float64(e.ctrl.EWMA().Microseconds()) / 1000.0,
		Factor:         e.ctrl.Factor(),
		Shells:         tr.Shells,
		Stepped:        tr.Stepped,
		Skipped:        tr.Skipped,
		Changed:        tr.Changed,
		ResidentChunks: e.index.Len(),
		ActiveChunks:   ov.Leaves,
		OverlayNodes:   ov.Nodes,
		IndexVersion:   e.index.Version(),
		DroppedMS:      float64(e.clock.Dropped().Microseconds()) / 1000.0,
		EventsDropped:  e.events.dropped.Load(),
		Pool:           e.pool.Stats(),
		Stream:         e.streamer.Stats(),
	})
}

func (e *Engine) Metrics() Metrics {
	if v := e.metrics.Load(); v != nil {
		if m, ok := v.(Metrics); ok {
			return m
		}
	}
	return Metrics{}
}
