package main

import (
	"fmt"
	"io"

	"voxelsim.ai/internal/persistence/indexdb"
	"voxelsim.ai/internal/sim/engine"
	"voxelsim.ai/internal/transport/observer"
)

type metricsSnapshot struct {
	WorldID string
	Engine  engine.Metrics
	Hub     observer.HubStats
	Index   indexdb.Stats
	// Chunks is nil when the chunk store is not sqlite-backed.
	Chunks *indexdb.ChunkStoreStats
}

func gauge(w io.Writer, name, help string) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s gauge\n", name)
}

func counter(w io.Writer, name, help string) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
}

// writeMetrics renders a minimal Prometheus exposition.
func writeMetrics(w io.Writer, s metricsSnapshot) {
	m := s.Engine
	id := s.WorldID

	gauge(w, "voxelsim_world_tick", "Committed ticks.")
	fmt.Fprintf(w, "voxelsim_world_tick{world=%q} %d\n", id, m.Tick)

	gauge(w, "voxelsim_step_ms", "Last tick step duration in milliseconds.")
	fmt.Fprintf(w, "voxelsim_step_ms{world=%q} %.3f\n", id, m.StepMS)
	gauge(w, "voxelsim_step_ewma_ms", "Smoothed step cost in milliseconds.")
	fmt.Fprintf(w, "voxelsim_step_ewma_ms{world=%q} %.3f\n", id, m.EWMAMS)
	gauge(w, "voxelsim_budget_factor", "Budget controller factor.")
	fmt.Fprintf(w, "voxelsim_budget_factor{world=%q} %.6f\n", id, m.Factor)
	gauge(w, "voxelsim_shells", "Shell count of the last tick.")
	fmt.Fprintf(w, "voxelsim_shells{world=%q} %d\n", id, m.Shells)

	gauge(w, "voxelsim_tick_chunks", "Per-tick chunk counts.")
	fmt.Fprintf(w, "voxelsim_tick_chunks{world=%q,kind=%q} %d\n", id, "stepped", m.Stepped)
	fmt.Fprintf(w, "voxelsim_tick_chunks{world=%q,kind=%q} %d\n", id, "skipped", m.Skipped)
	fmt.Fprintf(w, "voxelsim_tick_chunks{world=%q,kind=%q} %d\n", id, "changed", m.Changed)

	gauge(w, "voxelsim_chunks", "Chunk population.")
	fmt.Fprintf(w, "voxelsim_chunks{world=%q,state=%q} %d\n", id, "resident", m.ResidentChunks)
	fmt.Fprintf(w, "voxelsim_chunks{world=%q,state=%q} %d\n", id, "active", m.ActiveChunks)
	gauge(w, "voxelsim_overlay_nodes", "Activation overlay node count.")
	fmt.Fprintf(w, "voxelsim_overlay_nodes{world=%q} %d\n", id, m.OverlayNodes)

	counter(w, "voxelsim_dropped_ms_total", "Simulated time dropped by the frame cap, in milliseconds.")
	fmt.Fprintf(w, "voxelsim_dropped_ms_total{world=%q} %.3f\n", id, m.DroppedMS)
	counter(w, "voxelsim_events_dropped_total", "Events dropped on full subscriber queues.")
	fmt.Fprintf(w, "voxelsim_events_dropped_total{world=%q} %d\n", id, m.EventsDropped)

	counter(w, "voxelsim_scratch_buffers_total", "Scratch buffer acquisitions.")
	fmt.Fprintf(w, "voxelsim_scratch_buffers_total{world=%q,kind=%q} %d\n", id, "allocated", m.Pool.Allocated)
	fmt.Fprintf(w, "voxelsim_scratch_buffers_total{world=%q,kind=%q} %d\n", id, "reused", m.Pool.Reused)

	gauge(w, "voxelsim_stream_queue", "Streaming queue depth.")
	fmt.Fprintf(w, "voxelsim_stream_queue{world=%q,queue=%q} %d\n", id, "requested", m.Stream.Requested)
	fmt.Fprintf(w, "voxelsim_stream_queue{world=%q,queue=%q} %d\n", id, "ready", m.Stream.Ready)
	fmt.Fprintf(w, "voxelsim_stream_queue{world=%q,queue=%q} %d\n", id, "in_flight", m.Stream.InFlight)
	counter(w, "voxelsim_stream_saves_total", "Chunk saves by outcome.")
	fmt.Fprintf(w, "voxelsim_stream_saves_total{world=%q,result=%q} %d\n", id, "ok", m.Stream.Saved)
	fmt.Fprintf(w, "voxelsim_stream_saves_total{world=%q,result=%q} %d\n", id, "failed", m.Stream.Failed)

	gauge(w, "voxelsim_observer_sessions", "Connected observer sessions.")
	fmt.Fprintf(w, "voxelsim_observer_sessions{world=%q} %d\n", id, s.Hub.Sessions)
	gauge(w, "voxelsim_observer_cursor", "Observer feed cursor.")
	fmt.Fprintf(w, "voxelsim_observer_cursor{world=%q} %d\n", id, s.Hub.Cursor)
	counter(w, "voxelsim_observer_dropped_total", "Observer messages dropped on slow sessions.")
	fmt.Fprintf(w, "voxelsim_observer_dropped_total{world=%q} %d\n", id, s.Hub.Dropped)

	gauge(w, "voxelsim_index_queue_depth", "Index writer queue depth.")
	fmt.Fprintf(w, "voxelsim_index_queue_depth{world=%q} %d\n", id, s.Index.QueueDepth)
	counter(w, "voxelsim_index_dropped_total", "Index writes dropped on a full queue.")
	fmt.Fprintf(w, "voxelsim_index_dropped_total{world=%q,kind=%q} %d\n", id, "tick", s.Index.DropTickTotal)
	fmt.Fprintf(w, "voxelsim_index_dropped_total{world=%q,kind=%q} %d\n", id, "snapshot", s.Index.DropSnapshotTotal)

	if s.Chunks != nil {
		gauge(w, "voxelsim_chunk_store", "Persisted chunk store size.")
		fmt.Fprintf(w, "voxelsim_chunk_store{world=%q,unit=%q} %d\n", id, "chunks", s.Chunks.Chunks)
		fmt.Fprintf(w, "voxelsim_chunk_store{world=%q,unit=%q} %d\n", id, "bytes", s.Chunks.Bytes)
	}
}
